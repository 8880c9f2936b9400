package authz

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Code identifies an atomic capability as category.action.
type Code string

// ParseCode normalises and validates a permission codename. Shape only; the
// registry decides whether the codename is part of the platform catalog.
func ParseCode(raw string) (Code, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	category, action, ok := strings.Cut(raw, ".")
	if !ok || category == "" || action == "" {
		return "", fmt.Errorf("%w: %q", ErrPermissionInvalid, raw)
	}
	return Code(raw), nil
}

// Category returns the part before the dot.
func (c Code) Category() string {
	category, _, _ := strings.Cut(string(c), ".")
	return category
}

func (c Code) String() string { return string(c) }

// Permission describes a registered capability.
type Permission struct {
	Code        Code
	Description string
}

// Registry is the closed set of permission codenames loaded at startup.
// Callers never invent codenames ad hoc; route guards reference the
// constants below and administrative tooling lists the registry.
type Registry struct {
	mu    sync.RWMutex
	perms map[Code]Permission
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{perms: make(map[Code]Permission)}
}

// Register adds a permission. It panics on a malformed codename so that a
// bad catalog entry fails at startup rather than at evaluation time.
func (r *Registry) Register(code, description string) Permission {
	parsed, err := ParseCode(code)
	if err != nil {
		panic(err)
	}
	perm := Permission{Code: parsed, Description: description}
	r.mu.Lock()
	r.perms[parsed] = perm
	r.mu.Unlock()
	return perm
}

// Lookup reports whether the codename is part of the catalog.
func (r *Registry) Lookup(code Code) (Permission, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	perm, ok := r.perms[code]
	return perm, ok
}

// List returns all registered permissions ordered by codename.
func (r *Registry) List() []Permission {
	r.mu.RLock()
	defer r.mu.RUnlock()
	perms := make([]Permission, 0, len(r.perms))
	for _, p := range r.perms {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Code < perms[j].Code })
	return perms
}

// Platform permissions, grouped by module.
const (
	PermRequirementsView   = "requirements.view"
	PermRequirementsCreate = "requirements.create"
	PermRequirementsEdit   = "requirements.edit"
	PermRequirementsImport = "requirements.import"

	PermTestCasesView    = "testcases.view"
	PermTestCasesCreate  = "testcases.create"
	PermTestCasesEdit    = "testcases.edit"
	PermTestCasesExecute = "testcases.execute"

	PermBacklogView   = "backlog.view"
	PermBacklogCreate = "backlog.create"
	PermBacklogEdit   = "backlog.edit"

	PermCutoverView   = "cutover.view"
	PermCutoverCreate = "cutover.create"
	PermCutoverEdit   = "cutover.edit"

	PermRaidView   = "raid.view"
	PermRaidCreate = "raid.create"
	PermRaidEdit   = "raid.edit"

	PermReportsView   = "reports.view"
	PermReportsExport = "reports.export"

	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermRolesView  = "roles.view"
	PermRolesGrant = "roles.grant"

	PermPermissionsView = "permissions.view"

	PermProvisioningManage = "provisioning.manage"
)

// DefaultRegistry returns the registry seeded with the platform catalog.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(PermRequirementsView, "View requirements")
	r.Register(PermRequirementsCreate, "Create requirements")
	r.Register(PermRequirementsEdit, "Edit requirements")
	r.Register(PermRequirementsImport, "Import requirements from CSV")
	r.Register(PermTestCasesView, "View test cases")
	r.Register(PermTestCasesCreate, "Create test cases")
	r.Register(PermTestCasesEdit, "Edit test cases")
	r.Register(PermTestCasesExecute, "Record test case executions")
	r.Register(PermBacklogView, "View backlog items")
	r.Register(PermBacklogCreate, "Create backlog items")
	r.Register(PermBacklogEdit, "Edit backlog items")
	r.Register(PermCutoverView, "View cutover plans")
	r.Register(PermCutoverCreate, "Create cutover plans")
	r.Register(PermCutoverEdit, "Edit cutover plans")
	r.Register(PermRaidView, "View RAID log")
	r.Register(PermRaidCreate, "Create RAID entries")
	r.Register(PermRaidEdit, "Edit RAID entries")
	r.Register(PermReportsView, "View reports")
	r.Register(PermReportsExport, "Export reports")
	r.Register(PermUsersView, "View users")
	r.Register(PermUsersEdit, "Manage users")
	r.Register(PermRolesView, "View roles")
	r.Register(PermRolesGrant, "Grant and revoke role assignments")
	r.Register(PermPermissionsView, "View the permission catalog")
	r.Register(PermProvisioningManage, "Manage SSO/SCIM provisioning")
	return r
}
