package auth

import "time"

// ServiceToken is an API credential issued to a subject. The secret travels
// as "<id>.<secret>" and is stored as a bcrypt hash.
type ServiceToken struct {
	ID         int64
	SubjectID  int64
	TenantID   int64
	Name       string
	SecretHash string
	IsActive   bool
	ExpiresAt  *time.Time
	CreatedAt  time.Time
}
