package audit

import "time"

// TimelineFilters menampung filter dasar untuk audit timeline.
type TimelineFilters struct {
	From       time.Time
	To         time.Time
	ActorID    int64
	TenantID   int64
	EntityType string
	Action     string
	Page       int
	PageSize   int
}

// TimelineRow mewakili satu baris audit timeline.
type TimelineRow struct {
	At         time.Time
	ActorID    int64
	Action     string
	EntityType string
	EntityID   string
	TenantID   string
	ProgramID  string
	Diff       string
}

// PagingInfo menyimpan metadata pagination sederhana.
type PagingInfo struct {
	Page     int
	HasNext  bool
	PageSize int
	PrevPage int
	NextPage int
}

// Result membungkus hasil timeline dengan informasi paging.
type Result struct {
	Rows   []TimelineRow
	Paging PagingInfo
}
