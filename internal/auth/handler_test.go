package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sherpa-saas/sherpa/internal/auth"
	"github.com/sherpa-saas/sherpa/internal/shared"
)

type stubRepo struct {
	token   *auth.ServiceToken
	touched int
}

func (s *stubRepo) FindToken(_ context.Context, id int64) (*auth.ServiceToken, error) {
	if s.token == nil || s.token.ID != id {
		return nil, shared.ErrNotFound
	}
	return s.token, nil
}

func (s *stubRepo) TouchToken(context.Context, int64) error {
	s.touched++
	return nil
}

func hashSecret(t *testing.T, secret string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	return string(hash)
}

func activeToken(t *testing.T) *auth.ServiceToken {
	return &auth.ServiceToken{
		ID:         42,
		SubjectID:  7,
		TenantID:   1,
		Name:       "provisioning-bot",
		SecretHash: hashSecret(t, "s3cret"),
		IsActive:   true,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestAuthenticate(t *testing.T) {
	repo := &stubRepo{token: activeToken(t)}
	svc := auth.NewService(repo)

	principal, err := svc.Authenticate(context.Background(), "42.s3cret")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if principal.SubjectID != 7 || principal.TenantID != 1 {
		t.Fatalf("unexpected principal: %+v", principal)
	}
	if repo.touched != 1 {
		t.Fatalf("expected touch, got %d", repo.touched)
	}
}

func TestAuthenticateRejections(t *testing.T) {
	expired := activeToken(t)
	past := time.Now().Add(-time.Hour)
	expired.ExpiresAt = &past

	inactive := activeToken(t)
	inactive.IsActive = false

	tests := []struct {
		name       string
		token      *auth.ServiceToken
		credential string
	}{
		{"wrong secret", activeToken(t), "42.nope"},
		{"unknown id", activeToken(t), "41.s3cret"},
		{"malformed credential", activeToken(t), "s3cret"},
		{"non-numeric id", activeToken(t), "abc.s3cret"},
		{"expired token", expired, "42.s3cret"},
		{"inactive token", inactive, "42.s3cret"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := auth.NewService(&stubRepo{token: tc.token})
			if _, err := svc.Authenticate(context.Background(), tc.credential); err != auth.ErrInvalidToken {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestMiddlewareInjectsPrincipal(t *testing.T) {
	svc := auth.NewService(&stubRepo{token: activeToken(t)})
	mw := auth.NewMiddleware(nil, svc)

	var seen *shared.Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if principal, ok := shared.PrincipalFromContext(r.Context()); ok {
			seen = &principal
		}
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/authz/permissions", nil)
	req.Header.Set("Authorization", "Bearer 42.s3cret")
	rec := httptest.NewRecorder()
	mw.Handler(next).ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if seen == nil || seen.SubjectID != 7 {
		t.Fatalf("expected principal injected, got %+v", seen)
	}
}

func TestMiddlewarePassesAnonymousThrough(t *testing.T) {
	svc := auth.NewService(&stubRepo{})
	mw := auth.NewMiddleware(nil, svc)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shared.PrincipalFromContext(r.Context()); ok {
			t.Fatal("expected no principal")
		}
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	mw.Handler(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestMiddlewareRejectsBadCredential(t *testing.T) {
	svc := auth.NewService(&stubRepo{token: activeToken(t)})
	mw := auth.NewMiddleware(nil, svc)

	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("next must not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/authz/permissions", nil)
	req.Header.Set("Authorization", "Bearer 42.wrong")
	rec := httptest.NewRecorder()
	mw.Handler(next).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
