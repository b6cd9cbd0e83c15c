package hash

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher abstracts secret hashing for components that verify stored tokens.
type Hasher interface {
	Hash(secret string) (string, error)
	Compare(hashed, secret string) error
}

// ErrMismatch indicates the secret does not match the stored hash.
var ErrMismatch = errors.New("secret mismatch")

// BcryptHasher implements Hasher using golang.org/x/crypto/bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher validates cost and returns a bcrypt-backed hasher.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BcryptHasher{cost: cost}, nil
}

// Hash produces the bcrypt hash of the secret.
func (h *BcryptHasher) Hash(secret string) (string, error) {
	if h == nil {
		return "", fmt.Errorf("bcrypt hasher is required")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hashed), nil
}

// Compare checks a plaintext secret against a stored hash.
func (h *BcryptHasher) Compare(hashed, secret string) error {
	if h == nil {
		return fmt.Errorf("bcrypt hasher is required")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatch
		}
		return fmt.Errorf("compare hash: %w", err)
	}
	return nil
}
