package credential

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/whistleline/platform/internal/shared/errors"
)

// Tests run at the minimum cost; NeedsUpgrade cases build their own hashers.
func testHasher() *Hasher {
	return &Hasher{Cost: bcrypt.MinCost}
}

func TestHashSecretIsSalted(t *testing.T) {
	h := testHasher()

	a, err := h.HashSecret("correct horse")
	require.NoError(t, err)
	b, err := h.HashSecret("correct horse")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, h.Verify("correct horse", a))
	assert.True(t, h.Verify("correct horse", b))
	assert.False(t, h.Verify("wrong horse", a))
}

func TestVerifyFailsClosed(t *testing.T) {
	h := testHasher()
	for _, hash := range []string{"", "plain", "$2a$", "$2a$04$tooshort"} {
		assert.False(t, h.Verify("secret", hash), hash)
	}
}

func TestPINRoundTrip(t *testing.T) {
	h := testHasher()

	hash, err := h.HashPIN("123456")
	require.NoError(t, err)

	ok, err := h.VerifyPIN("123456", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.VerifyPIN("654321", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPINFormatRejected(t *testing.T) {
	h := testHasher()
	hash, err := h.HashPIN("000000")
	require.NoError(t, err)

	for _, pin := range []string{"12345", "1234567", "abcdef", "12 456", "", "１２３４５６"} {
		t.Run(pin, func(t *testing.T) {
			_, err := h.HashPIN(pin)
			assert.True(t, errors.Is(err, ErrInvalidPIN))
			assert.True(t, errors.Is(err, apperrors.ErrValidation))

			ok, err := h.VerifyPIN(pin, hash)
			assert.False(t, ok)
			assert.True(t, errors.Is(err, ErrInvalidPIN))
		})
	}
}

func TestNeedsUpgrade(t *testing.T) {
	low := &Hasher{Cost: bcrypt.MinCost}
	hash, err := low.HashSecret("pw")
	require.NoError(t, err)

	tests := []struct {
		name string
		cost int
		hash string
		want bool
	}{
		{"same cost", bcrypt.MinCost, hash, false},
		{"higher configured cost", bcrypt.MinCost + 1, hash, true},
		{"malformed", bcrypt.MinCost, "not-a-hash", true},
		{"empty", bcrypt.MinCost, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Hasher{Cost: tt.cost}
			assert.Equal(t, tt.want, h.NeedsUpgrade(tt.hash))
		})
	}
}

func TestNewHasherClampsCost(t *testing.T) {
	assert.Equal(t, DefaultCost, NewHasher(0).Cost)
	assert.Equal(t, DefaultCost, NewHasher(99).Cost)
	assert.Equal(t, 10, NewHasher(10).Cost)
}

func TestGeneratePIN(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		pin, err := GeneratePIN()
		require.NoError(t, err)
		assert.True(t, ValidPIN(pin), pin)
		seen[pin] = true
	}
	assert.Greater(t, len(seen), 190)
}
