package authz

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store, RoleCatalog and SubjectDirectory mirroring
// the transactional semantics of the SQL repository: a mutation and its
// audit record land together or not at all.
type memStore struct {
	mu          sync.Mutex
	assignments map[uuid.UUID]*Assignment
	roles       map[int64]Role
	subjects    map[int64]Subject

	// audits collects "action:assignment_id" entries.
	audits []string

	// Error injection.
	createErr error
	listErr   error
	expireErr map[uuid.UUID]error
}

func newMemStore() *memStore {
	return &memStore{
		assignments: make(map[uuid.UUID]*Assignment),
		roles:       make(map[int64]Role),
		subjects:    make(map[int64]Subject),
		expireErr:   make(map[uuid.UUID]error),
	}
}

func (m *memStore) addSubject(s Subject) { m.subjects[s.ID] = s }

func (m *memStore) addRole(r Role) { m.roles[r.ID] = r }

func (m *memStore) CreateAssignment(_ context.Context, a Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.assignments {
		if existing.IsActive && existing.SubjectID == a.SubjectID && existing.RoleID == a.RoleID && existing.Scope == a.Scope {
			return fmt.Errorf("%w: subject %d role %d at %s", ErrDuplicateAssignment, a.SubjectID, a.RoleID, a.Scope)
		}
	}
	stored := a
	m.assignments[a.ID] = &stored
	m.audits = append(m.audits, "grant:"+a.ID.String())
	return nil
}

func (m *memStore) GetAssignment(_ context.Context, id uuid.UUID) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return Assignment{}, fmt.Errorf("%w: %s", ErrAssignmentNotFound, id)
	}
	return *a, nil
}

func (m *memStore) ListActiveGrants(_ context.Context, subjectID int64) ([]Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var grants []Grant
	for _, a := range m.assignments {
		if !a.IsActive || a.SubjectID != subjectID {
			continue
		}
		role, ok := m.roles[a.RoleID]
		if !ok {
			return nil, fmt.Errorf("%w: id %d", ErrRoleNotFound, a.RoleID)
		}
		grants = append(grants, Grant{Assignment: *a, Role: role})
	}
	sort.Slice(grants, func(i, j int) bool {
		return grants[i].Assignment.GrantedAt.Before(grants[j].Assignment.GrantedAt)
	})
	return grants, nil
}

func (m *memStore) DeactivateAssignment(_ context.Context, id uuid.UUID, _ int64, at time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssignmentNotFound, id)
	}
	if !a.IsActive {
		return nil
	}
	a.IsActive = false
	a.RevokedAt = &at
	a.RevokeReason = reason
	m.audits = append(m.audits, "revoke:"+id.String())
	return nil
}

func (m *memStore) ListDueAssignments(_ context.Context, now time.Time, limit int) ([]Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []Assignment
	for _, a := range m.assignments {
		if a.IsActive && a.EndsAt != nil && a.EndsAt.Before(now) {
			due = append(due, *a)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].EndsAt.Before(*due[j].EndsAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memStore) ExpireAssignment(_ context.Context, id uuid.UUID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.expireErr[id]; err != nil {
		return err
	}
	a, ok := m.assignments[id]
	if !ok || !a.IsActive || a.EndsAt == nil || !a.EndsAt.Before(now) {
		return nil
	}
	a.IsActive = false
	a.RevokedAt = &now
	a.RevokeReason = RevokeReasonExpired
	m.audits = append(m.audits, "expire:"+id.String())
	return nil
}

func (m *memStore) RoleByName(_ context.Context, tenantID int64, name string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var system *Role
	for id := range m.roles {
		role := m.roles[id]
		if role.Name != name {
			continue
		}
		if role.TenantID == nil {
			r := role
			system = &r
			continue
		}
		if *role.TenantID == tenantID {
			return role, nil
		}
	}
	if system != nil {
		return *system, nil
	}
	return Role{}, fmt.Errorf("%w: %q in tenant %d", ErrRoleNotFound, name, tenantID)
}

func (m *memStore) Subject(_ context.Context, id int64) (Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subjects[id]
	if !ok {
		return Subject{}, fmt.Errorf("%w: %d", ErrSubjectNotFound, id)
	}
	return s, nil
}

func (m *memStore) auditActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.audits))
	copy(out, m.audits)
	return out
}

// faultyCache fails every operation; the resolver must degrade to direct
// recomputation without changing outcomes.
type faultyCache struct {
	err error
}

func (c faultyCache) Get(context.Context, CacheKey) (*Snapshot, error) { return nil, c.err }
func (c faultyCache) Set(context.Context, CacheKey, Snapshot) error   { return c.err }
func (c faultyCache) InvalidateSubject(context.Context, int64) error  { return c.err }
func (c faultyCache) InvalidateAll(context.Context) error             { return c.err }
