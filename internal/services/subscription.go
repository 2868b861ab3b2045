package services

import (
	"context"
	"fmt"
	"log/slog"

	"vaccinealert/internal/domain"
)

type subscriptionService struct {
	logger   *slog.Logger
	verifier domain.TokenVerifier
	registry domain.Registry
}

// NewSubscriptionService returns a SubscriptionService backed by the registry.
func NewSubscriptionService(logger *slog.Logger, verifier domain.TokenVerifier, registry domain.Registry) domain.SubscriptionService {
	return &subscriptionService{logger: logger, verifier: verifier, registry: registry}
}

// Unsubscribe deactivates the user named by an unsubscribe token.
func (s *subscriptionService) Unsubscribe(ctx context.Context, token string) (string, error) {
	email, err := s.verifier.Verify(token, domain.AudienceUnsubscribe)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidCredentials, err)
	}
	if err := s.registry.Deactivate(ctx, email); err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "user unsubscribed", "recipient", email)
	return email, nil
}
