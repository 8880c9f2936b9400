package authz

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sherpa-saas/sherpa/internal/shared"
)

func newGuardedHandler(t *testing.T, guard func(http.Handler) http.Handler) http.Handler {
	t.Helper()
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return guard(next)
}

func guardRequest(target string, principal *shared.Principal) *http.Request {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	if principal != nil {
		r = r.WithContext(shared.ContextWithPrincipal(r.Context(), *principal))
	}
	return r
}

func TestRequireAnyAllowsAndDenies(t *testing.T) {
	store := seedStore()
	svc, _ := newTestService(store, NewMemoryCache(time.Minute))
	mustGrant(t, svc, GrantInput{
		SubjectID: subjectAna, RoleName: "project_member",
		Tenant: ptr(tenantOne), Program: ptr(programAlpha), Project: ptr(projectX),
	})
	mw := Middleware{Service: svc}
	handler := newGuardedHandler(t, mw.RequireAny(PermRequirementsView))
	principal := &shared.Principal{SubjectID: subjectAna, TenantID: tenantOne}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, guardRequest("/requirements?tenant=1&program=10&project=100", principal))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Sibling project.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, guardRequest("/requirements?tenant=1&program=10&project=101", principal))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var body struct {
		Error    string   `json:"error"`
		Required []string `json:"required_permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "forbidden", body.Error)
	assert.Equal(t, []string{PermRequirementsView}, body.Required)
}

func TestRequireAllNeedsEveryPermission(t *testing.T) {
	store := seedStore()
	svc, _ := newTestService(store, NewMemoryCache(time.Minute))
	mustGrant(t, svc, GrantInput{SubjectID: subjectAna, RoleName: "project_member", Tenant: ptr(tenantOne)})
	mw := Middleware{Service: svc}
	principal := &shared.Principal{SubjectID: subjectAna, TenantID: tenantOne}

	handler := newGuardedHandler(t, mw.RequireAll(PermRequirementsView, PermTestCasesView))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, guardRequest("/requirements?tenant=1", principal))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	handler = newGuardedHandler(t, mw.RequireAll(PermRequirementsView, PermCutoverEdit))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, guardRequest("/requirements?tenant=1", principal))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGuardWithoutPrincipalDenies(t *testing.T) {
	store := seedStore()
	svc, _ := newTestService(store, NewMemoryCache(time.Minute))
	mw := Middleware{Service: svc}

	handler := newGuardedHandler(t, mw.RequireAny(PermRequirementsView))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, guardRequest("/requirements?tenant=1", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGuardRejectsMalformedScope(t *testing.T) {
	store := seedStore()
	svc, _ := newTestService(store, NewMemoryCache(time.Minute))
	mw := Middleware{Service: svc}
	handler := newGuardedHandler(t, mw.RequireAny(PermRequirementsView))
	principal := &shared.Principal{SubjectID: subjectAna, TenantID: tenantOne}

	// Non-numeric identifier.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, guardRequest("/requirements?tenant=acme", principal))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Project without its program skips a level.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, guardRequest("/requirements?tenant=1&project=100", principal))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScopeFromQueryBuildsEachGranularity(t *testing.T) {
	tests := []struct {
		query string
		want  Scope
	}{
		{"", GlobalScope()},
		{"tenant=1", TenantScope(1)},
		{"tenant=1&program=10", ProgramScope(1, 10)},
		{"tenant=1&program=10&project=100", ProjectScope(1, 10, 100)},
	}
	for _, tc := range tests {
		r := httptest.NewRequest(http.MethodGet, "/x?"+tc.query, nil)
		scope, err := ScopeFromQuery(r.URL.Query())
		require.NoError(t, err, tc.query)
		assert.Equal(t, tc.want, scope, tc.query)
	}
}

func TestGuardSurfacesCheckErrors(t *testing.T) {
	store := seedStore()
	store.listErr = context.DeadlineExceeded
	svc, _ := newTestService(store, NopCache{})
	mw := Middleware{Service: svc}
	handler := newGuardedHandler(t, mw.RequireAny(PermRequirementsView))
	principal := &shared.Principal{SubjectID: subjectAna, TenantID: tenantOne}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, guardRequest("/requirements?tenant=1", principal))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
