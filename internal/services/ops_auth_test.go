package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaccinealert/internal/domain"
)

func TestOpsAuthService_IssueToken(t *testing.T) {
	tests := []struct {
		name    string
		keyHash string
		apiKey  string
		issuer  domain.TokenIssuer
		assert  func(t *testing.T, token string, err error)
	}{
		{
			name:    "valid key",
			keyHash: "hashed:s3cret",
			apiKey:  " s3cret ",
			issuer:  fakeTokens{},
			assert: func(t *testing.T, token string, err error) {
				require.NoError(t, err)
				assert.Equal(t, "ops|ops", token)
			},
		},
		{
			name:    "wrong key",
			keyHash: "hashed:s3cret",
			apiKey:  "guess",
			issuer:  fakeTokens{},
			assert: func(t *testing.T, token string, err error) {
				assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
				assert.Empty(t, token)
			},
		},
		{
			name:    "no configured hash rejects everything",
			keyHash: "",
			apiKey:  "anything",
			issuer:  fakeTokens{},
			assert: func(t *testing.T, token string, err error) {
				assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
			},
		},
		{
			name:    "empty key",
			keyHash: "hashed:",
			apiKey:  "",
			issuer:  fakeTokens{},
			assert: func(t *testing.T, token string, err error) {
				assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
			},
		},
		{
			name:    "issuer failure",
			keyHash: "hashed:s3cret",
			apiKey:  "s3cret",
			issuer:  fakeTokens{err: errors.New("sign failed")},
			assert: func(t *testing.T, token string, err error) {
				require.Error(t, err)
				assert.NotErrorIs(t, err, domain.ErrInvalidCredentials)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewOpsAuthService(fakeHasher{}, tt.issuer, tt.keyHash, time.Hour)
			token, err := svc.IssueToken(context.Background(), tt.apiKey)
			tt.assert(t, token, err)
		})
	}
}
