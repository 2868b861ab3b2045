package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"vaccinealert/internal/domain"
)

type bcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a KeyHasher that bcrypts the SHA256 of the key, so
// keys longer than bcrypt's 72 byte limit are compared in full.
func NewBcryptHasher(cost int) domain.KeyHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &bcryptHasher{cost: cost}
}

func (h *bcryptHasher) Hash(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(prehash(key), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}
	return string(hash), nil
}

func (h *bcryptHasher) Compare(hash, key string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), prehash(key))
}

func prehash(key string) []byte {
	sum := sha256.Sum256([]byte(key))
	return []byte(hex.EncodeToString(sum[:]))
}
