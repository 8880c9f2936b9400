package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/sherpa-saas/sherpa/internal/shared"
)

// Middleware resolves the request principal from the Authorization header.
// Requests without a credential pass through anonymous; the authorization
// guards downstream deny them. A present but invalid credential is a 401.
type Middleware struct {
	logger  *slog.Logger
	service *Service
}

// NewMiddleware constructs the authentication middleware.
func NewMiddleware(logger *slog.Logger, service *Service) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{logger: logger, service: service}
}

// Handler returns the chi-compatible middleware function.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential, ok := bearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		principal, err := m.service.Authenticate(r.Context(), credential)
		if err != nil {
			m.logger.Warn("token authentication failed",
				slog.String("path", r.URL.Path),
				slog.String("remote", r.RemoteAddr))
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	scheme, credential, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(credential), true
}
