package shared

import "context"

// Principal identifies the authenticated actor for the current request.
// It is populated by the authentication middleware; this engine never
// verifies credentials itself.
type Principal struct {
	SubjectID int64
	TenantID  int64
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
