package authz

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sherpa-saas/sherpa/internal/shared"
)

// Middleware wires authorization guards for HTTP handlers. The principal is
// supplied by the authentication middleware upstream; guards only decide.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// RequireAny ensures the current subject holds at least one of the required
// permissions at the request's scope.
func (m Middleware) RequireAny(perms ...Code) func(http.Handler) http.Handler {
	return m.require(perms, func(r *http.Request, principal shared.Principal, scope Scope) (bool, error) {
		return m.Service.HasAny(r.Context(), principal.SubjectID, scope, perms...)
	})
}

// RequireAll ensures the current subject holds every required permission at
// the request's scope.
func (m Middleware) RequireAll(perms ...Code) func(http.Handler) http.Handler {
	return m.require(perms, func(r *http.Request, principal shared.Principal, scope Scope) (bool, error) {
		return m.Service.HasAll(r.Context(), principal.SubjectID, scope, perms...)
	})
}

func (m Middleware) require(perms []Code, check func(*http.Request, shared.Principal, Scope) (bool, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(perms) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			principal, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				writeDenied(w, perms)
				return
			}
			scope, err := ScopeFromQuery(r.URL.Query())
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
			allowed, err := check(r, principal, scope)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("authz guard", slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if !allowed {
				writeDenied(w, perms)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ScopeFromQuery builds the evaluation scope from tenant/program/project
// query parameters. Absent parameters keep the request broad; a skipped
// level fails with ErrScopeInvalid exactly like the grant path.
func ScopeFromQuery(values url.Values) (Scope, error) {
	tenant, err := queryID(values, "tenant")
	if err != nil {
		return Scope{}, err
	}
	program, err := queryID(values, "program")
	if err != nil {
		return Scope{}, err
	}
	project, err := queryID(values, "project")
	if err != nil {
		return Scope{}, err
	}
	return NewScope(tenant, program, project)
}

func queryID(values url.Values, name string) (*int64, error) {
	raw := values.Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, errors.Join(ErrScopeInvalid, errors.New("parameter "+name+" must be an integer"))
	}
	return &id, nil
}

func writeDenied(w http.ResponseWriter, perms []Code) {
	required := make([]string, 0, len(perms))
	for _, p := range perms {
		required = append(required, string(p))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":                "forbidden",
		"required_permissions": required,
	})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
