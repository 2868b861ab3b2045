package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vaccinealert/internal/domain"
)

// opsSubject is the token subject for holders of the ops API key.
const opsSubject = "ops"

type opsAuthService struct {
	hasher  domain.KeyHasher
	issuer  domain.TokenIssuer
	keyHash string
	expiry  time.Duration
}

// NewOpsAuthService returns an OpsAuthService that checks API keys against
// keyHash. An empty keyHash rejects every key.
func NewOpsAuthService(hasher domain.KeyHasher, issuer domain.TokenIssuer, keyHash string, expiry time.Duration) domain.OpsAuthService {
	return &opsAuthService{
		hasher:  hasher,
		issuer:  issuer,
		keyHash: keyHash,
		expiry:  expiry,
	}
}

func (s *opsAuthService) IssueToken(ctx context.Context, apiKey string) (string, error) {
	apiKey = strings.TrimSpace(apiKey)
	if s.keyHash == "" || apiKey == "" {
		return "", domain.ErrInvalidCredentials
	}
	if err := s.hasher.Compare(s.keyHash, apiKey); err != nil {
		return "", domain.ErrInvalidCredentials
	}
	token, err := s.issuer.Issue(opsSubject, domain.AudienceOps, s.expiry)
	if err != nil {
		return "", fmt.Errorf("issue ops token: %w", err)
	}
	return token, nil
}
