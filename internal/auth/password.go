package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MinBcryptCost is the lowest work factor the server accepts. Costs
// below this are a misconfiguration, not a tuning choice.
const MinBcryptCost = 10

// ErrCorruptDigest is returned when a stored password digest cannot
// be parsed. Authentication against such a record cannot proceed.
var ErrCorruptDigest = errors.New("corrupt password digest")

// Hasher wraps bcrypt with an explicit work factor.
type Hasher struct {
	cost int
}

// NewHasher validates the work factor up front so a bad value fails
// at startup rather than on the first registration.
func NewHasher(cost int) (*Hasher, error) {
	if cost < MinBcryptCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, MinBcryptCost, bcrypt.MaxCost)
	}
	return &Hasher{cost: cost}, nil
}

// Hash produces a salted digest. bcrypt generates a fresh random salt
// per call, so identical passwords never share a digest.
func (h *Hasher) Hash(password string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Verify reports whether password matches digest. bcrypt's comparison
// is constant-time over the derived key. A digest that cannot be
// parsed yields ErrCorruptDigest.
func (h *Hasher) Verify(password, digest string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("%w: %v", ErrCorruptDigest, err)
}
