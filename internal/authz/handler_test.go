package authz

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sherpa-saas/sherpa/internal/shared"
)

// newAdminAPI wires the handler behind its own guards with an administrator
// holding the grant and introspection permissions at tenant one.
func newAdminAPI(t *testing.T) (*memStore, *Service, http.Handler) {
	t.Helper()
	store := seedStore()
	t1 := tenantOne
	store.addRole(Role{ID: 5, TenantID: &t1, Name: "tenant_admin", Level: 80, Permissions: []Code{
		PermRolesGrant, PermRolesView, PermPermissionsView,
	}})
	svc, _ := newTestService(store, NewMemoryCache(time.Minute))
	mustGrant(t, svc, GrantInput{SubjectID: adminActor, RoleName: "tenant_admin", Tenant: ptr(tenantOne)})

	guard := Middleware{Service: svc}
	handler := NewHandler(nil, svc, guard)
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := shared.Principal{SubjectID: adminActor, TenantID: tenantOne}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
		})
	})
	handler.MountRoutes(router)
	return store, svc, router
}

func postJSON(t *testing.T, router http.Handler, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, r)
	return rec
}

func TestHandlerGrantCreatesAssignment(t *testing.T) {
	_, svc, router := newAdminAPI(t)

	rec := postJSON(t, router, "/assignments?tenant=1",
		`{"subject_id":1,"role_name":"project_member","tenant_id":1,"program_id":10}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body struct {
		ID        string `json:"id"`
		SubjectID int64  `json:"subject_id"`
		Scope     string `json:"scope"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.ID)
	assert.Equal(t, subjectAna, body.SubjectID)
	assert.Equal(t, ProgramScope(tenantOne, programAlpha).String(), body.Scope)

	allowed, err := svc.HasPermission(context.Background(), subjectAna, PermRequirementsView,
		ProgramScope(tenantOne, programAlpha))
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestHandlerGrantErrorMapping(t *testing.T) {
	_, _, router := newAdminAPI(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown role", `{"subject_id":1,"role_name":"warp_captain"}`, http.StatusNotFound},
		{"unknown subject", `{"subject_id":404,"role_name":"project_member"}`, http.StatusNotFound},
		{"project without program", `{"subject_id":1,"role_name":"project_member","tenant_id":1,"project_id":100}`, http.StatusBadRequest},
		{"cross tenant", `{"subject_id":1,"role_name":"project_member","tenant_id":2}`, http.StatusUnprocessableEntity},
		{"inactive subject", `{"subject_id":3,"role_name":"project_member"}`, http.StatusUnprocessableEntity},
		{"missing subject id", `{"role_name":"project_member"}`, http.StatusBadRequest},
		{"malformed body", `{"subject_id":`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, router, "/assignments?tenant=1", tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHandlerGrantDuplicateConflicts(t *testing.T) {
	_, _, router := newAdminAPI(t)
	body := `{"subject_id":1,"role_name":"project_member","tenant_id":1}`

	rec := postJSON(t, router, "/assignments?tenant=1", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = postJSON(t, router, "/assignments?tenant=1", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerRevoke(t *testing.T) {
	_, svc, router := newAdminAPI(t)
	assignment := mustGrant(t, svc, GrantInput{SubjectID: subjectAna, RoleName: "project_member", Tenant: ptr(tenantOne)})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/assignments/"+assignment.ID.String()+"?tenant=1", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Idempotent on repeat.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/assignments/"+assignment.ID.String()+"?tenant=1", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/assignments/not-a-uuid?tenant=1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/assignments/9f3b2a10-0000-4000-8000-000000000000?tenant=1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerListPermissions(t *testing.T) {
	_, _, router := newAdminAPI(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/permissions?tenant=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Permissions []struct {
			Code     string `json:"code"`
			Category string `json:"category"`
		} `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Permissions)
	codes := make(map[string]string)
	for _, p := range body.Permissions {
		codes[p.Code] = p.Category
	}
	assert.Equal(t, "requirements", codes[PermRequirementsView])
	assert.Equal(t, "cutover", codes[PermCutoverEdit])
}

func TestHandlerSubjectIntrospection(t *testing.T) {
	_, svc, router := newAdminAPI(t)
	mustGrant(t, svc, GrantInput{
		SubjectID: subjectAna, RoleName: "project_member",
		Tenant: ptr(tenantOne), Program: ptr(programAlpha),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subjects/1/permissions?tenant=1&program=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var permsBody struct {
		SubjectID   int64    `json:"subject_id"`
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &permsBody))
	assert.Equal(t, subjectAna, permsBody.SubjectID)
	assert.Contains(t, permsBody.Permissions, PermRequirementsView)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subjects/1/roles?tenant=1&program=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var rolesBody struct {
		Roles []string `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rolesBody))
	assert.Equal(t, []string{"project_member"}, rolesBody.Roles)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subjects/abc/roles?tenant=1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerGuardDeniesNonAdmin(t *testing.T) {
	store := seedStore()
	svc, _ := newTestService(store, NewMemoryCache(time.Minute))
	guard := Middleware{Service: svc}
	handler := NewHandler(nil, svc, guard)
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := shared.Principal{SubjectID: subjectAna, TenantID: tenantOne}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
		})
	})
	handler.MountRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/permissions?tenant=1", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = postJSON(t, router, "/assignments?tenant=1", `{"subject_id":1,"role_name":"project_member"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
