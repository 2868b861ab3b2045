package domain

import (
	"context"
	"time"
)

// Claimer grants a key to the first caller until the TTL expires.
// It backs alert deduplication and the single-runner cycle lock.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
