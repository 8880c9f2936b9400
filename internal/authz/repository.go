package authz

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the durable record of role grants and the source of truth the
// resolver falls back to whenever the cache cannot answer.
type Store interface {
	// CreateAssignment persists the assignment and its grant audit event
	// atomically. Returns ErrDuplicateAssignment when an identical active
	// grant already exists for the (subject, role, scope) triple.
	CreateAssignment(ctx context.Context, a Assignment) error
	// GetAssignment fetches an assignment by ID, active or not.
	GetAssignment(ctx context.Context, id uuid.UUID) (Assignment, error)
	// ListActiveGrants returns every is_active assignment of the subject
	// joined with its role. Time-window filtering is the resolver's job so
	// that "in force" is decided against a single evaluation instant.
	ListActiveGrants(ctx context.Context, subjectID int64) ([]Grant, error)
	// DeactivateAssignment revokes the assignment and writes its audit event
	// in one transaction. Deactivating an already-inactive assignment is a
	// no-op and must not produce a second audit event.
	DeactivateAssignment(ctx context.Context, id uuid.UUID, actorID int64, at time.Time, reason string) error
	// ListDueAssignments returns up to limit active assignments whose
	// ends_at has passed.
	ListDueAssignments(ctx context.Context, now time.Time, limit int) ([]Assignment, error)
	// ExpireAssignment deactivates a past-due assignment with
	// revoke_reason "expired", committing the state change and the audit
	// event together or not at all.
	ExpireAssignment(ctx context.Context, id uuid.UUID, now time.Time) error
}

// RoleCatalog resolves role names against the static role -> permission
// mapping. Tenant-owned roles shadow system roles of the same name.
type RoleCatalog interface {
	RoleByName(ctx context.Context, tenantID int64, name string) (Role, error)
}

// SubjectDirectory looks up subjects by ID. Backed by the platform's user
// store; this engine only needs the home tenant and the active flag.
type SubjectDirectory interface {
	Subject(ctx context.Context, id int64) (Subject, error)
}
