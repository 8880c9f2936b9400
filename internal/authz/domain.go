package authz

import (
	"time"

	"github.com/google/uuid"
)

// Subject is the actor a decision is made for. Supplied by the
// authentication layer; this engine never verifies credentials.
type Subject struct {
	ID       int64
	TenantID int64
	IsActive bool
}

// Role is a named bundle of permissions. TenantID is nil for system-defined
// roles available to every tenant.
type Role struct {
	ID          int64
	TenantID    *int64
	Name        string
	Level       int
	IsSuperuser bool
	Permissions []Code
}

// Assignment grants one role to one subject at one scope, optionally
// time-bounded. Assignments are never hard-deleted and never change scope;
// a scope change is revoke-then-recreate.
type Assignment struct {
	ID           uuid.UUID
	SubjectID    int64
	RoleID       int64
	Scope        Scope
	StartsAt     *time.Time
	EndsAt       *time.Time
	IsActive     bool
	GrantedBy    int64
	GrantedAt    time.Time
	RevokedAt    *time.Time
	RevokeReason string
}

// InForce reports whether the assignment participates in evaluation at the
// given instant: active and inside the half-open [starts_at, ends_at) window.
func (a Assignment) InForce(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	if a.StartsAt != nil && now.Before(*a.StartsAt) {
		return false
	}
	if a.EndsAt != nil && !now.Before(*a.EndsAt) {
		return false
	}
	return true
}

// Grant pairs an assignment with the role it confers. This is the shape the
// store hands to the resolver.
type Grant struct {
	Assignment Assignment
	Role       Role
}

// Reason explains a decision without re-deriving the computation from logs.
type Reason string

const (
	// ReasonSuperuser means a matching role carried the superuser flag.
	ReasonSuperuser Reason = "superuser"
	// ReasonRoleGrant means a matching role granted the permission.
	ReasonRoleGrant Reason = "role_grant"
	// ReasonDenyDefault means no matching role granted the permission.
	// This is a normal outcome, not a failure.
	ReasonDenyDefault Reason = "deny_by_default"
)

// Decision is the structured outcome of Evaluate.
type Decision struct {
	Allowed      bool
	Reason       Reason
	Permission   Code
	MatchedRoles []string
}

// RevokeReasonExpired marks assignments deactivated by the expiry sweeper.
const RevokeReasonExpired = "expired"
