package authz

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sherpa-saas/sherpa/internal/shared"
)

// Handler exposes the engine over JSON for administrative tooling: the
// permission catalog, effective-permission introspection, and the
// grant/revoke contract consumed by the admin CRUD layer.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard Middleware) *Handler {
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers authorization routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(PermPermissionsView))
		r.Get("/permissions", h.listPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(PermRolesView))
		r.Get("/subjects/{subjectID}/permissions", h.subjectPermissions)
		r.Get("/subjects/{subjectID}/roles", h.subjectRoles)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(PermRolesGrant))
		r.Post("/assignments", h.grant)
		r.Delete("/assignments/{assignmentID}", h.revoke)
	})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms := h.service.Registry().List()
	out := make([]map[string]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, map[string]string{
			"code":        p.Code.String(),
			"category":    p.Code.Category(),
			"description": p.Description,
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"permissions": out})
}

func (h *Handler) subjectPermissions(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subjectParam(w, r)
	if !ok {
		return
	}
	scope, err := ScopeFromQuery(r.URL.Query())
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	perms, err := h.service.Permissions(r.Context(), subjectID, scope)
	if err != nil {
		h.serverError(w, "subject permissions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"subject_id":  subjectID,
		"scope":       scope.String(),
		"permissions": perms,
	})
}

func (h *Handler) subjectRoles(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subjectParam(w, r)
	if !ok {
		return
	}
	scope, err := ScopeFromQuery(r.URL.Query())
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	roles, err := h.service.RoleNames(r.Context(), subjectID, scope)
	if err != nil {
		h.serverError(w, "subject roles", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"subject_id": subjectID,
		"scope":      scope.String(),
		"roles":      roles,
	})
}

type grantRequest struct {
	SubjectID int64      `json:"subject_id"`
	RoleName  string     `json:"role_name"`
	Tenant    *int64     `json:"tenant_id,omitempty"`
	Program   *int64     `json:"program_id,omitempty"`
	Project   *int64     `json:"project_id,omitempty"`
	StartsAt  *time.Time `json:"starts_at,omitempty"`
	EndsAt    *time.Time `json:"ends_at,omitempty"`
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	assignment, err := h.service.Grant(r.Context(), GrantInput{
		SubjectID: req.SubjectID,
		RoleName:  req.RoleName,
		Tenant:    req.Tenant,
		Program:   req.Program,
		Project:   req.Project,
		StartsAt:  req.StartsAt,
		EndsAt:    req.EndsAt,
		GrantedBy: principal.SubjectID,
	})
	if err != nil {
		h.writeGrantError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"id":         assignment.ID.String(),
		"subject_id": assignment.SubjectID,
		"role_id":    assignment.RoleID,
		"scope":      assignment.Scope.String(),
		"granted_at": assignment.GrantedAt,
	})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "assignmentID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid assignment id")
		return
	}
	if err := h.service.Revoke(r.Context(), id, principal.SubjectID, "revoked by administrator"); err != nil {
		if errors.Is(err, ErrAssignmentNotFound) {
			writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		h.serverError(w, "revoke assignment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeGrantError(w http.ResponseWriter, err error) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrScopeInvalid), errors.Is(err, ErrEndBeforeStart):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrScopeOutOfTenant), errors.Is(err, ErrSubjectInactive):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrRoleNotFound), errors.Is(err, ErrSubjectNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateAssignment):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		h.serverError(w, "grant assignment", err)
	}
}

func (h *Handler) subjectParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "subjectID"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid subject id")
		return 0, false
	}
	return id, true
}

func (h *Handler) serverError(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && h.logger != nil {
		h.logger.Error("encode response", slog.Any("error", err))
	}
}
