package authz

import "errors"

var (
	// ErrScopeInvalid indicates a malformed scope coordinate (a level was
	// skipped, e.g. project without program).
	ErrScopeInvalid = errors.New("authz: invalid scope")
	// ErrScopeOutOfTenant indicates a grant attempt outside the subject's home tenant.
	ErrScopeOutOfTenant = errors.New("authz: scope outside subject tenant")
	// ErrDuplicateAssignment indicates an identical active grant already exists.
	ErrDuplicateAssignment = errors.New("authz: duplicate assignment")
	// ErrRoleNotFound indicates the requested role does not exist for the tenant.
	ErrRoleNotFound = errors.New("authz: role not found")
	// ErrAssignmentNotFound indicates the assignment does not exist.
	ErrAssignmentNotFound = errors.New("authz: assignment not found")
	// ErrSubjectNotFound indicates the subject does not exist.
	ErrSubjectNotFound = errors.New("authz: subject not found")
	// ErrSubjectInactive indicates the subject is deactivated and cannot hold grants.
	ErrSubjectInactive = errors.New("authz: subject inactive")
	// ErrEndBeforeStart indicates an activation window that ends before it starts.
	ErrEndBeforeStart = errors.New("authz: ends_at before starts_at")
	// ErrPermissionInvalid indicates a permission codename that is not of the
	// form category.action.
	ErrPermissionInvalid = errors.New("authz: invalid permission codename")
)
