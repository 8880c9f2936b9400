package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sherpa-saas/sherpa/internal/shared"
)

// ErrInvalidToken covers every authentication failure. The caller never
// learns whether the identifier, the secret, or the token state was wrong.
var ErrInvalidToken = errors.New("auth: invalid token")

// Service wraps authentication business rules.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Authenticate validates a "<id>.<secret>" credential and resolves it to the
// owning principal.
func (s *Service) Authenticate(ctx context.Context, credential string) (shared.Principal, error) {
	idPart, secret, ok := strings.Cut(strings.TrimSpace(credential), ".")
	if !ok || secret == "" {
		return shared.Principal{}, ErrInvalidToken
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return shared.Principal{}, ErrInvalidToken
	}
	token, err := s.repo.FindToken(ctx, id)
	if err != nil {
		return shared.Principal{}, ErrInvalidToken
	}
	if !token.IsActive {
		return shared.Principal{}, ErrInvalidToken
	}
	if token.ExpiresAt != nil && !token.ExpiresAt.After(s.now()) {
		return shared.Principal{}, ErrInvalidToken
	}
	if err := bcrypt.CompareHashAndPassword([]byte(token.SecretHash), []byte(secret)); err != nil {
		return shared.Principal{}, ErrInvalidToken
	}
	// Last-use stamping is advisory; a failure never blocks authentication.
	_ = s.repo.TouchToken(ctx, token.ID)
	return shared.Principal{SubjectID: token.SubjectID, TenantID: token.TenantID}, nil
}
