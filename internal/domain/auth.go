package domain

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidCredentials is returned when an ops API key does not match.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Token audiences.
const (
	AudienceOps         = "ops"
	AudienceUnsubscribe = "unsubscribe"
)

// TokenIssuer issues signed tokens for a subject and audience.
type TokenIssuer interface {
	Issue(subject, audience string, expiry time.Duration) (string, error)
}

// TokenVerifier verifies a token for an audience and returns its subject.
type TokenVerifier interface {
	Verify(token, audience string) (subject string, err error)
}

// KeyHasher hashes and compares ops API keys.
type KeyHasher interface {
	Hash(key string) (string, error)
	Compare(hash, key string) error
}

// OpsAuthService exchanges the ops API key for a bearer token.
type OpsAuthService interface {
	IssueToken(ctx context.Context, apiKey string) (string, error)
}

// SubscriptionService handles alert opt-outs.
type SubscriptionService interface {
	Unsubscribe(ctx context.Context, token string) (email string, err error)
}
