package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/sherpa-saas/sherpa/internal/observability"
)

// Service orchestrates permission evaluation and the grant lifecycle.
// Evaluate is safe for concurrent use; mutations serialise per
// (subject, role, scope) triple through the store's uniqueness guarantee.
type Service struct {
	store    Store
	roles    RoleCatalog
	subjects SubjectDirectory
	cache    Cache
	registry *Registry
	logger   *slog.Logger
	metrics  *observability.Metrics
	validate *validator.Validate
	now      func() time.Time
	group    singleflight.Group
}

// ServiceConfig carries optional dependencies for NewService.
type ServiceConfig struct {
	Registry *Registry
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	// Now overrides the evaluation clock in tests.
	Now func() time.Time
}

// NewService constructs a Service. A nil cache disables memoisation.
func NewService(store Store, roles RoleCatalog, subjects SubjectDirectory, cache Cache, cfg ServiceConfig) *Service {
	if cache == nil {
		cache = NopCache{}
	}
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:    store,
		roles:    roles,
		subjects: subjects,
		cache:    cache,
		registry: cfg.Registry,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		validate: validator.New(),
		now:      cfg.Now,
	}
}

// Registry exposes the permission catalog the service was built with.
func (s *Service) Registry() *Registry { return s.registry }

// GrantInput collects the parameters of a grant operation.
type GrantInput struct {
	SubjectID int64  `validate:"required,gt=0"`
	RoleName  string `validate:"required"`
	Tenant    *int64
	Program   *int64
	Project   *int64
	StartsAt  *time.Time
	EndsAt    *time.Time
	GrantedBy int64 `validate:"required,gt=0"`
}

// Grant validates the input, persists the assignment together with its audit
// event, and invalidates the subject's cache entries before returning.
//
// A missing tenant resolves to the subject's home tenant and is persisted
// resolved: new tenant-less rows are never created. A tenant that is present
// must equal the subject's home tenant.
func (s *Service) Grant(ctx context.Context, in GrantInput) (Assignment, error) {
	if err := s.validate.Struct(in); err != nil {
		return Assignment{}, fmt.Errorf("authz: grant input: %w", err)
	}
	scope, err := NewScope(in.Tenant, in.Program, in.Project)
	if err != nil {
		return Assignment{}, err
	}
	subject, err := s.subjects.Subject(ctx, in.SubjectID)
	if err != nil {
		return Assignment{}, err
	}
	if !subject.IsActive {
		return Assignment{}, fmt.Errorf("%w: subject %d", ErrSubjectInactive, subject.ID)
	}
	if tenant, ok := scope.Tenant(); ok && tenant != subject.TenantID {
		return Assignment{}, fmt.Errorf("%w: tenant %d, subject home tenant %d", ErrScopeOutOfTenant, tenant, subject.TenantID)
	}
	scope = scope.WithTenant(subject.TenantID)
	role, err := s.roles.RoleByName(ctx, subject.TenantID, strings.TrimSpace(in.RoleName))
	if err != nil {
		return Assignment{}, err
	}
	if in.StartsAt != nil && in.EndsAt != nil && !in.EndsAt.After(*in.StartsAt) {
		return Assignment{}, fmt.Errorf("%w: %s before %s", ErrEndBeforeStart, in.EndsAt.Format(time.RFC3339), in.StartsAt.Format(time.RFC3339))
	}
	assignment := Assignment{
		ID:        uuid.New(),
		SubjectID: subject.ID,
		RoleID:    role.ID,
		Scope:     scope,
		StartsAt:  in.StartsAt,
		EndsAt:    in.EndsAt,
		IsActive:  true,
		GrantedBy: in.GrantedBy,
		GrantedAt: s.now().UTC(),
	}
	if err := s.store.CreateAssignment(ctx, assignment); err != nil {
		return Assignment{}, err
	}
	s.invalidateSubject(ctx, subject.ID)
	return assignment, nil
}

// Revoke deactivates an assignment. Revoking an already-inactive assignment
// is a no-op; unknown assignments fail with ErrAssignmentNotFound.
func (s *Service) Revoke(ctx context.Context, id uuid.UUID, actorID int64, reason string) error {
	assignment, err := s.store.GetAssignment(ctx, id)
	if err != nil {
		return err
	}
	if !assignment.IsActive {
		return nil
	}
	if err := s.store.DeactivateAssignment(ctx, id, actorID, s.now().UTC(), reason); err != nil {
		return err
	}
	s.invalidateSubject(ctx, assignment.SubjectID)
	return nil
}

// InvalidateAll flushes the whole permission cache. Used when role ->
// permission mappings change.
func (s *Service) InvalidateAll(ctx context.Context) error {
	return s.cache.InvalidateAll(ctx)
}

// RoleNames returns the names of roles held by the subject at the scope.
func (s *Service) RoleNames(ctx context.Context, subjectID int64, scope Scope) ([]string, error) {
	snap, err := s.snapshot(ctx, subjectID, scope)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(snap.Roles))
	for _, role := range snap.Roles {
		names = append(names, role.Name)
	}
	return names, nil
}

// Permissions returns the union of permission codenames granted at the scope.
func (s *Service) Permissions(ctx context.Context, subjectID int64, scope Scope) ([]string, error) {
	snap, err := s.snapshot(ctx, subjectID, scope)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, role := range snap.Roles {
		for _, perm := range role.Permissions {
			set[perm] = struct{}{}
		}
	}
	perms := make([]string, 0, len(set))
	for perm := range set {
		perms = append(perms, perm)
	}
	sort.Strings(perms)
	return perms, nil
}

// Evaluate decides whether the subject holds the permission at the scope.
// Absence of permission is not an error: deny-by-default comes back as a
// normal decision with its reason attached.
func (s *Service) Evaluate(ctx context.Context, subjectID int64, permission Code, scope Scope) (Decision, error) {
	snap, err := s.snapshot(ctx, subjectID, scope)
	if err != nil {
		return Decision{}, err
	}
	decision := decide(snap, permission)
	s.metrics.ObserveEvaluation(string(decision.Reason))
	return decision, nil
}

// HasPermission reports whether the subject holds the permission at the scope.
func (s *Service) HasPermission(ctx context.Context, subjectID int64, permission Code, scope Scope) (bool, error) {
	decision, err := s.Evaluate(ctx, subjectID, permission, scope)
	if err != nil {
		return false, err
	}
	return decision.Allowed, nil
}

// HasAny reports whether the subject holds at least one of the permissions.
// A superuser role satisfies the check regardless of the aggregated set.
func (s *Service) HasAny(ctx context.Context, subjectID int64, scope Scope, permissions ...Code) (bool, error) {
	snap, err := s.snapshot(ctx, subjectID, scope)
	if err != nil {
		return false, err
	}
	if len(superuserRoles(snap)) > 0 {
		return true, nil
	}
	granted := grantedSet(snap)
	for _, perm := range permissions {
		if _, ok := granted[string(perm)]; ok {
			return true, nil
		}
	}
	return false, nil
}

// HasAll reports whether the subject holds every one of the permissions.
func (s *Service) HasAll(ctx context.Context, subjectID int64, scope Scope, permissions ...Code) (bool, error) {
	snap, err := s.snapshot(ctx, subjectID, scope)
	if err != nil {
		return false, err
	}
	if len(superuserRoles(snap)) > 0 {
		return true, nil
	}
	granted := grantedSet(snap)
	for _, perm := range permissions {
		if _, ok := granted[string(perm)]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// snapshot resolves the subject's matching roles at the scope, consulting
// the cache first. Cache failures degrade to direct recomputation; the cache
// never changes an evaluation's outcome. Concurrent misses for the same key
// collapse onto one computation.
func (s *Service) snapshot(ctx context.Context, subjectID int64, scope Scope) (Snapshot, error) {
	key := CacheKey{SubjectID: subjectID, Scope: scope}
	cached, err := s.cache.Get(ctx, key)
	if err != nil {
		s.metrics.ObserveCacheLookup("error")
		s.logger.Warn("authz cache read failed, recomputing", slog.String("key", key.String()), slog.Any("error", err))
	} else if cached != nil {
		s.metrics.ObserveCacheLookup("hit")
		return *cached, nil
	} else {
		s.metrics.ObserveCacheLookup("miss")
	}

	result, err, _ := s.group.Do(key.String(), func() (any, error) {
		snap, err := s.resolve(ctx, subjectID, scope)
		if err != nil {
			return Snapshot{}, err
		}
		if err := s.cache.Set(ctx, key, snap); err != nil {
			s.logger.Warn("authz cache write failed", slog.String("key", key.String()), slog.Any("error", err))
		}
		return snap, nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return result.(Snapshot), nil
}

// resolve recomputes the snapshot from the assignment store.
func (s *Service) resolve(ctx context.Context, subjectID int64, scope Scope) (Snapshot, error) {
	subject, err := s.subjects.Subject(ctx, subjectID)
	if err != nil {
		if errors.Is(err, ErrSubjectNotFound) {
			return Snapshot{}, nil
		}
		return Snapshot{}, err
	}
	if !subject.IsActive {
		// Inactive subjects hold no in-force assignments.
		return Snapshot{}, nil
	}
	grants, err := s.store.ListActiveGrants(ctx, subjectID)
	if err != nil {
		return Snapshot{}, err
	}
	now := s.now()
	seen := make(map[string]struct{})
	var snap Snapshot
	for _, grant := range grants {
		if !grant.Assignment.InForce(now) {
			continue
		}
		// Legacy tenant-less rows resolve to the subject's home tenant.
		grantScope := grant.Assignment.Scope.WithTenant(subject.TenantID)
		if !grantScope.Covers(scope) {
			continue
		}
		if _, ok := seen[grant.Role.Name]; ok {
			continue
		}
		seen[grant.Role.Name] = struct{}{}
		perms := make([]string, 0, len(grant.Role.Permissions))
		for _, code := range grant.Role.Permissions {
			perms = append(perms, string(code))
		}
		sort.Strings(perms)
		snap.Roles = append(snap.Roles, SnapshotRole{
			Name:        grant.Role.Name,
			IsSuperuser: grant.Role.IsSuperuser,
			Permissions: perms,
		})
	}
	sort.Slice(snap.Roles, func(i, j int) bool { return snap.Roles[i].Name < snap.Roles[j].Name })
	return snap, nil
}

func (s *Service) invalidateSubject(ctx context.Context, subjectID int64) {
	// The mutation is already durable; a failed invalidation leaves stale
	// entries bounded by one cache TTL.
	if err := s.cache.InvalidateSubject(ctx, subjectID); err != nil {
		s.logger.Warn("authz cache invalidation failed", slog.Int64("subject_id", subjectID), slog.Any("error", err))
	}
}

// decide derives a decision from a snapshot. Superuser bypass precedes the
// aggregated permission set so administrative roles are never blocked by
// incomplete permission seeding.
func decide(snap Snapshot, permission Code) Decision {
	if supers := superuserRoles(snap); len(supers) > 0 {
		return Decision{Allowed: true, Reason: ReasonSuperuser, Permission: permission, MatchedRoles: supers}
	}
	var matched []string
	for _, role := range snap.Roles {
		for _, perm := range role.Permissions {
			if perm == string(permission) {
				matched = append(matched, role.Name)
				break
			}
		}
	}
	if len(matched) > 0 {
		return Decision{Allowed: true, Reason: ReasonRoleGrant, Permission: permission, MatchedRoles: matched}
	}
	return Decision{Allowed: false, Reason: ReasonDenyDefault, Permission: permission}
}

func superuserRoles(snap Snapshot) []string {
	var names []string
	for _, role := range snap.Roles {
		if role.IsSuperuser {
			names = append(names, role.Name)
		}
	}
	return names
}

func grantedSet(snap Snapshot) map[string]struct{} {
	set := make(map[string]struct{})
	for _, role := range snap.Roles {
		for _, perm := range role.Permissions {
			set[perm] = struct{}{}
		}
	}
	return set
}
