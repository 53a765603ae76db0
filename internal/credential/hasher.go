// Package credential hashes staff passwords and reporter PINs with bcrypt.
package credential

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/whistleline/platform/internal/shared/errors"
)

const (
	DefaultCost = 12
	PINLength   = 6
)

// ErrInvalidPIN is returned when a PIN is not exactly six ASCII digits. It is
// a validation failure, never a verification result.
var ErrInvalidPIN = apperrors.Validation("PIN must be exactly 6 digits", map[string]string{"pin": "format"})

// Hasher hashes and verifies secrets at a fixed bcrypt cost.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher, falling back to DefaultCost for an out-of-range
// cost.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Hasher{Cost: cost}
}

// HashSecret returns a salted bcrypt hash. Two calls with the same input
// return different hashes; compare with Verify.
func (h *Hasher) HashSecret(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.Cost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(b), nil
}

// Verify reports whether plain matches hash. Any malformed hash is a mismatch.
func (h *Hasher) Verify(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

func (h *Hasher) HashPIN(pin string) (string, error) {
	if !ValidPIN(pin) {
		return "", ErrInvalidPIN
	}
	return h.HashSecret(pin)
}

// VerifyPIN returns ErrInvalidPIN for a malformed PIN and otherwise the
// verification result.
func (h *Hasher) VerifyPIN(pin, hash string) (bool, error) {
	if !ValidPIN(pin) {
		return false, ErrInvalidPIN
	}
	return h.Verify(pin, hash), nil
}

// NeedsUpgrade reports whether hash should be recomputed on the next
// successful login: it is unreadable or was made with a lower cost.
func (h *Hasher) NeedsUpgrade(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost < h.Cost
}

// ValidPIN reports whether pin is exactly six ASCII digits.
func ValidPIN(pin string) bool {
	if len(pin) != PINLength {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}

// GeneratePIN returns a uniformly random six digit PIN, leading zeros kept.
func GeneratePIN() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate pin: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
