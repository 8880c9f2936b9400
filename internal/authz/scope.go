package authz

import (
	"fmt"
	"strconv"
	"strings"
)

// Level identifies how deep in the tenant hierarchy a scope points.
// Fewer levels mean a broader scope.
type Level int

const (
	// LevelGlobal matches every assignment of a subject regardless of
	// granularity. Kept for pre-multi-tenant callers.
	LevelGlobal Level = iota
	// LevelTenant anchors at a tenant.
	LevelTenant
	// LevelProgram anchors at a program within a tenant.
	LevelProgram
	// LevelProject anchors at a project within a program.
	LevelProject
)

// String returns the level name used in logs and cache keys.
func (l Level) String() string {
	switch l {
	case LevelGlobal:
		return "global"
	case LevelTenant:
		return "tenant"
	case LevelProgram:
		return "program"
	case LevelProject:
		return "project"
	}
	return "unknown"
}

// Scope is a coordinate in the tenant > program > project hierarchy.
// The zero value is the global scope.
type Scope struct {
	level   Level
	tenant  int64
	program int64
	project int64
}

// GlobalScope returns the broadest scope.
func GlobalScope() Scope {
	return Scope{}
}

// TenantScope anchors at a tenant.
func TenantScope(tenant int64) Scope {
	return Scope{level: LevelTenant, tenant: tenant}
}

// ProgramScope anchors at a program within a tenant.
func ProgramScope(tenant, program int64) Scope {
	return Scope{level: LevelProgram, tenant: tenant, program: program}
}

// ProjectScope anchors at a project within a program.
func ProjectScope(tenant, program, project int64) Scope {
	return Scope{level: LevelProject, tenant: tenant, program: program, project: project}
}

// NewScope builds a scope from optional identifiers, enforcing the hierarchy
// rule in one place for both the grant and evaluate paths: a project requires
// a program, a program requires a tenant.
func NewScope(tenant, program, project *int64) (Scope, error) {
	if project != nil && program == nil {
		return Scope{}, fmt.Errorf("%w: project %d requires a program", ErrScopeInvalid, *project)
	}
	if program != nil && tenant == nil {
		return Scope{}, fmt.Errorf("%w: program %d requires a tenant", ErrScopeInvalid, *program)
	}
	switch {
	case project != nil:
		return ProjectScope(*tenant, *program, *project), nil
	case program != nil:
		return ProgramScope(*tenant, *program), nil
	case tenant != nil:
		return TenantScope(*tenant), nil
	}
	return GlobalScope(), nil
}

// Level reports the scope's granularity.
func (s Scope) Level() Level { return s.level }

// Tenant returns the tenant identifier when one is set.
func (s Scope) Tenant() (int64, bool) {
	return s.tenant, s.level >= LevelTenant
}

// Program returns the program identifier when one is set.
func (s Scope) Program() (int64, bool) {
	return s.program, s.level >= LevelProgram
}

// Project returns the project identifier when one is set.
func (s Scope) Project() (int64, bool) {
	return s.project, s.level >= LevelProject
}

// IsGlobal reports whether the scope carries no coordinates at all.
func (s Scope) IsGlobal() bool { return s.level == LevelGlobal }

// WithTenant returns the scope with its tenant filled in. Used to resolve
// legacy tenant-less assignments against the subject's home tenant before
// matching; a scope that already has a tenant is returned unchanged.
func (s Scope) WithTenant(tenant int64) Scope {
	if s.level >= LevelTenant {
		return s
	}
	return TenantScope(tenant)
}

// Covers reports whether an assignment held at scope s satisfies a request
// at scope req. The relation is a covering relation on the hierarchy: a
// grant with fewer coordinates covers every request underneath it, a grant
// pinned to a project covers only that exact project.
//
// A tenant mismatch is always exclusionary and is checked before any other
// rule; it is the cross-tenant isolation boundary.
func (s Scope) Covers(req Scope) bool {
	if req.level == LevelGlobal {
		// Legacy mode: every grant of the subject participates.
		return true
	}
	if s.level >= LevelTenant && s.tenant != req.tenant {
		return false
	}
	switch req.level {
	case LevelTenant:
		// Only tenant-wide or broader grants cover a tenant-level request.
		return s.level <= LevelTenant
	case LevelProgram:
		if s.level == LevelProject {
			return false
		}
		return s.level <= LevelTenant || s.program == req.program
	case LevelProject:
		if s.level == LevelProject {
			return s.project == req.project
		}
		return s.level <= LevelTenant || s.program == req.program
	}
	return false
}

// String renders the scope for logs and cache keys. Missing coordinates keep
// a distinct marker so that request granularities never collapse onto the
// same key.
func (s Scope) String() string {
	parts := []string{"t:" + scopeToken(s.tenant, s.level >= LevelTenant),
		"p:" + scopeToken(s.program, s.level >= LevelProgram),
		"j:" + scopeToken(s.project, s.level >= LevelProject)}
	return strings.Join(parts, ":")
}

func scopeToken(id int64, set bool) string {
	if !set {
		return "-"
	}
	return strconv.FormatInt(id, 10)
}
