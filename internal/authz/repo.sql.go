package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sherpa-saas/sherpa/internal/platform/db"
	"github.com/sherpa-saas/sherpa/internal/shared"
)

// Partial unique index over active rows; concurrent duplicate grants for the
// same (subject, role, scope) triple lose on this constraint.
const activeAssignmentConstraint = "uq_authz_assignments_active"

// Repository provides PostgreSQL backed persistence for assignments, roles
// and subjects. Every mutation writes its audit event in the same
// transaction as the state change.
type Repository struct {
	pool  *pgxpool.Pool
	audit *shared.AuditLogger
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, audit *shared.AuditLogger) *Repository {
	return &Repository{pool: pool, audit: audit}
}

var (
	_ Store            = (*Repository)(nil)
	_ RoleCatalog      = (*Repository)(nil)
	_ SubjectDirectory = (*Repository)(nil)
)

// CreateAssignment inserts the assignment row and its grant audit event.
func (r *Repository) CreateAssignment(ctx context.Context, a Assignment) error {
	tenant, program, project := scopeColumns(a.Scope)
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO authz_assignments (id, subject_id, role_id, tenant_id, program_id, project_id, starts_at, ends_at, is_active, granted_by, granted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9, $10)`,
			a.ID, a.SubjectID, a.RoleID, tenant, program, project, a.StartsAt, a.EndsAt, a.GrantedBy, a.GrantedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.ConstraintName == activeAssignmentConstraint {
				return fmt.Errorf("%w: subject %d role %d at %s", ErrDuplicateAssignment, a.SubjectID, a.RoleID, a.Scope)
			}
			return fmt.Errorf("authz: create assignment: %w", err)
		}
		return r.audit.RecordTx(ctx, tx, shared.AuditEvent{
			EntityType: "assignment",
			EntityID:   a.ID.String(),
			Action:     "grant",
			ActorID:    a.GrantedBy,
			Diff: map[string]any{
				"subject_id": a.SubjectID,
				"role_id":    a.RoleID,
				"scope":      a.Scope.String(),
				"starts_at":  a.StartsAt,
				"ends_at":    a.EndsAt,
			},
			TenantID:  tenant,
			ProgramID: program,
			At:        a.GrantedAt,
		})
	})
}

const assignmentColumns = `id, subject_id, role_id, tenant_id, program_id, project_id, starts_at, ends_at, is_active, granted_by, granted_at, revoked_at, COALESCE(revoke_reason, '')`

// GetAssignment fetches an assignment by ID, active or not.
func (r *Repository) GetAssignment(ctx context.Context, id uuid.UUID) (Assignment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM authz_assignments WHERE id = $1`, id)
	a, err := scanAssignment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assignment{}, fmt.Errorf("%w: %s", ErrAssignmentNotFound, id)
		}
		return Assignment{}, fmt.Errorf("authz: get assignment: %w", err)
	}
	return a, nil
}

// ListActiveGrants returns every active assignment of the subject joined
// with its role and the role's permission codes.
func (r *Repository) ListActiveGrants(ctx context.Context, subjectID int64) ([]Grant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.subject_id, a.role_id, a.tenant_id, a.program_id, a.project_id,
		       a.starts_at, a.ends_at, a.is_active, a.granted_by, a.granted_at, a.revoked_at, COALESCE(a.revoke_reason, ''),
		       r.id, r.tenant_id, r.name, r.level, r.is_superuser,
		       COALESCE(ARRAY_AGG(rp.code) FILTER (WHERE rp.code IS NOT NULL), '{}')
		FROM authz_assignments a
		JOIN authz_roles r ON r.id = a.role_id
		LEFT JOIN authz_role_permissions rp ON rp.role_id = r.id
		WHERE a.subject_id = $1 AND a.is_active
		GROUP BY a.id, r.id
		ORDER BY a.granted_at`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("authz: list grants: %w", err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		var (
			a                        Assignment
			tenant, program, project *int64
			role                     Role
			codes                    []string
		)
		if err := rows.Scan(&a.ID, &a.SubjectID, &a.RoleID, &tenant, &program, &project,
			&a.StartsAt, &a.EndsAt, &a.IsActive, &a.GrantedBy, &a.GrantedAt, &a.RevokedAt, &a.RevokeReason,
			&role.ID, &role.TenantID, &role.Name, &role.Level, &role.IsSuperuser, &codes); err != nil {
			return nil, fmt.Errorf("authz: scan grant: %w", err)
		}
		scope, err := NewScope(tenant, program, project)
		if err != nil {
			return nil, fmt.Errorf("authz: assignment %s: %w", a.ID, err)
		}
		a.Scope = scope
		role.Permissions = make([]Code, 0, len(codes))
		for _, code := range codes {
			role.Permissions = append(role.Permissions, Code(code))
		}
		grants = append(grants, Grant{Assignment: a, Role: role})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("authz: list grants: %w", err)
	}
	return grants, nil
}

// DeactivateAssignment revokes the assignment and writes the audit event in
// one transaction. A second call on the same assignment is a no-op.
func (r *Repository) DeactivateAssignment(ctx context.Context, id uuid.UUID, actorID int64, at time.Time, reason string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			subjectID       int64
			tenant, program *int64
		)
		err := tx.QueryRow(ctx, `
			UPDATE authz_assignments
			SET is_active = FALSE, revoked_at = $2, revoke_reason = $3
			WHERE id = $1 AND is_active
			RETURNING subject_id, tenant_id, program_id`, id, at, reason).Scan(&subjectID, &tenant, &program)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return r.missingOrInactive(ctx, tx, id)
			}
			return fmt.Errorf("authz: deactivate assignment: %w", err)
		}
		return r.audit.RecordTx(ctx, tx, shared.AuditEvent{
			EntityType: "assignment",
			EntityID:   id.String(),
			Action:     "revoke",
			ActorID:    actorID,
			Diff:       map[string]any{"is_active": false, "revoke_reason": reason},
			TenantID:   tenant,
			ProgramID:  program,
			At:         at,
		})
	})
}

// ListDueAssignments returns up to limit active assignments past their ends_at.
func (r *Repository) ListDueAssignments(ctx context.Context, now time.Time, limit int) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+assignmentColumns+`
		FROM authz_assignments
		WHERE is_active AND ends_at IS NOT NULL AND ends_at < $1
		ORDER BY ends_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("authz: list due: %w", err)
	}
	defer rows.Close()

	var due []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("authz: scan due: %w", err)
		}
		due = append(due, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("authz: list due: %w", err)
	}
	return due, nil
}

// ExpireAssignment deactivates a past-due assignment with reason "expired".
// The due filter is re-checked inside the transaction so a row processed by
// a concurrent sweep is skipped, not double-audited.
func (r *Repository) ExpireAssignment(ctx context.Context, id uuid.UUID, now time.Time) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			subjectID       int64
			tenant, program *int64
		)
		err := tx.QueryRow(ctx, `
			UPDATE authz_assignments
			SET is_active = FALSE, revoked_at = $2, revoke_reason = $3
			WHERE id = $1 AND is_active AND ends_at IS NOT NULL AND ends_at < $2
			RETURNING subject_id, tenant_id, program_id`, id, now, RevokeReasonExpired).Scan(&subjectID, &tenant, &program)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("authz: expire assignment: %w", err)
		}
		return r.audit.RecordTx(ctx, tx, shared.AuditEvent{
			EntityType: "assignment",
			EntityID:   id.String(),
			Action:     "expire",
			ActorID:    0,
			Diff:       map[string]any{"is_active": false, "revoke_reason": RevokeReasonExpired},
			TenantID:   tenant,
			ProgramID:  program,
			At:         now,
		})
	})
}

// RoleByName resolves a role for the tenant; tenant-owned roles shadow
// system roles (NULL tenant) of the same name.
func (r *Repository) RoleByName(ctx context.Context, tenantID int64, name string) (Role, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT r.id, r.tenant_id, r.name, r.level, r.is_superuser,
		       COALESCE(ARRAY_AGG(rp.code) FILTER (WHERE rp.code IS NOT NULL), '{}')
		FROM authz_roles r
		LEFT JOIN authz_role_permissions rp ON rp.role_id = r.id
		WHERE r.name = $2 AND (r.tenant_id = $1 OR r.tenant_id IS NULL)
		GROUP BY r.id
		ORDER BY r.tenant_id NULLS LAST
		LIMIT 1`, tenantID, name)
	if err != nil {
		return Role{}, fmt.Errorf("authz: role by name: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Role{}, fmt.Errorf("authz: role by name: %w", err)
		}
		return Role{}, fmt.Errorf("%w: %q in tenant %d", ErrRoleNotFound, name, tenantID)
	}
	var (
		role  Role
		codes []string
	)
	if err := rows.Scan(&role.ID, &role.TenantID, &role.Name, &role.Level, &role.IsSuperuser, &codes); err != nil {
		return Role{}, fmt.Errorf("authz: scan role: %w", err)
	}
	role.Permissions = make([]Code, 0, len(codes))
	for _, code := range codes {
		role.Permissions = append(role.Permissions, Code(code))
	}
	return role, nil
}

// Subject fetches a subject's home tenant and active flag.
func (r *Repository) Subject(ctx context.Context, id int64) (Subject, error) {
	var s Subject
	err := r.pool.QueryRow(ctx, `SELECT id, tenant_id, is_active FROM users WHERE id = $1`, id).
		Scan(&s.ID, &s.TenantID, &s.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subject{}, fmt.Errorf("%w: %d", ErrSubjectNotFound, id)
		}
		return Subject{}, fmt.Errorf("authz: get subject: %w", err)
	}
	return s, nil
}

func (r *Repository) missingOrInactive(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM authz_assignments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("authz: deactivate assignment: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrAssignmentNotFound, id)
	}
	return nil
}

func scopeColumns(s Scope) (tenant, program, project *int64) {
	if id, ok := s.Tenant(); ok {
		tenant = &id
	}
	if id, ok := s.Program(); ok {
		program = &id
	}
	if id, ok := s.Project(); ok {
		project = &id
	}
	return tenant, program, project
}

func scanAssignment(row pgx.Row) (Assignment, error) {
	var (
		a                        Assignment
		tenant, program, project *int64
	)
	if err := row.Scan(&a.ID, &a.SubjectID, &a.RoleID, &tenant, &program, &project,
		&a.StartsAt, &a.EndsAt, &a.IsActive, &a.GrantedBy, &a.GrantedAt, &a.RevokedAt, &a.RevokeReason); err != nil {
		return Assignment{}, err
	}
	scope, err := NewScope(tenant, program, project)
	if err != nil {
		return Assignment{}, err
	}
	a.Scope = scope
	return a, nil
}
