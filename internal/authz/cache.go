package authz

import (
	"context"
	"strconv"
)

// Snapshot is the cached result of resolving a subject's grants at one
// scope: the matching roles and the union of their permissions. Decisions
// are derived from the snapshot so that HasPermission, HasAny and HasAll
// share one cache entry per (subject, scope) tuple.
type Snapshot struct {
	Roles []SnapshotRole `json:"roles"`
}

// SnapshotRole records one matching role and what it contributes.
type SnapshotRole struct {
	Name        string   `json:"name"`
	IsSuperuser bool     `json:"is_superuser"`
	Permissions []string `json:"permissions"`
}

// CacheKey is the full (subject, tenant?, program?, project?) tuple. Missing
// components keep a distinct marker: different request granularities can
// legitimately produce different permission sets, so keys never collapse.
type CacheKey struct {
	SubjectID int64
	Scope     Scope
}

func (k CacheKey) String() string {
	return "authz:" + strconv.FormatInt(k.SubjectID, 10) + ":" + k.Scope.String()
}

// Cache memoises resolver results. It is never a source of truth: on any
// failure the resolver recomputes against the store, and unavailability
// must never change an evaluation's outcome.
type Cache interface {
	// Get returns the snapshot for the key, or (nil, nil) on a miss.
	Get(ctx context.Context, key CacheKey) (*Snapshot, error)
	// Set stores the snapshot under the cache's TTL.
	Set(ctx context.Context, key CacheKey, snap Snapshot) error
	// InvalidateSubject drops every entry for the subject. Called
	// synchronously after any grant/revoke/expire affecting the subject.
	InvalidateSubject(ctx context.Context, subjectID int64) error
	// InvalidateAll drops everything. Used only when role -> permission
	// mappings themselves change.
	InvalidateAll(ctx context.Context) error
}

// NopCache disables memoisation; every evaluation recomputes.
type NopCache struct{}

func (NopCache) Get(context.Context, CacheKey) (*Snapshot, error) { return nil, nil }
func (NopCache) Set(context.Context, CacheKey, Snapshot) error    { return nil }
func (NopCache) InvalidateSubject(context.Context, int64) error   { return nil }
func (NopCache) InvalidateAll(context.Context) error              { return nil }
