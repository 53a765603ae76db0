// Package crypto holds the field-level encryption primitives: AES-256-CBC with
// PKCS#7 padding over hex keys and IVs, SHA-256 one-way hashing and random
// token generation.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"unicode/utf8"

	apperrors "github.com/whistleline/platform/internal/shared/errors"
)

const (
	KeySize = 32
	IVSize  = aes.BlockSize

	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// ErrCrypto matches every error returned by this package.
var ErrCrypto = apperrors.ErrCrypto

// Error describes a failed encryption or decryption. It never carries key
// material or plaintext.
type Error struct {
	Op     string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("crypto: %s: %s", e.Op, e.Reason)
}

func (e *Error) Unwrap() error {
	return ErrCrypto
}

func fail(op, reason string) error {
	return &Error{Op: op, Reason: reason}
}

// GenerateKey returns a fresh 256-bit key, hex encoded.
func GenerateKey() (string, error) {
	return randomHex(KeySize)
}

// GenerateIV returns a fresh 128-bit IV, hex encoded.
func GenerateIV() (string, error) {
	return randomHex(IVSize)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto: read random: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Encrypt encrypts plaintext with AES-256-CBC and returns base64 ciphertext.
// The same plaintext, key and IV always produce the same ciphertext.
func Encrypt(plaintext, keyHex, ivHex string) (string, error) {
	block, iv, err := cipherFor("encrypt", keyHex, ivHex)
	if err != nil {
		return "", err
	}

	padded := pad([]byte(plaintext))
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. A wrong key or IV is detected by padding and
// UTF-8 validation; CBC carries no authentication tag, so a small chance
// remains that a wrong key yields valid-looking output.
func Decrypt(ciphertext, keyHex, ivHex string) (string, error) {
	block, iv, err := cipherFor("decrypt", keyHex, ivHex)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fail("decrypt", "ciphertext is not valid base64")
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", fail("decrypt", "ciphertext is not a whole number of blocks")
	}

	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, raw)

	plain, ok := unpad(out)
	if !ok {
		return "", fail("decrypt", "invalid padding")
	}
	if !utf8.Valid(plain) {
		return "", fail("decrypt", "plaintext is not valid UTF-8")
	}
	return string(plain), nil
}

// EncryptJSON marshals v and encrypts the result.
func EncryptJSON(v any, keyHex, ivHex string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fail("encrypt", "value is not JSON serializable")
	}
	return Encrypt(string(data), keyHex, ivHex)
}

// DecryptJSON decrypts ciphertext and unmarshals it into v.
func DecryptJSON(ciphertext, keyHex, ivHex string, v any) error {
	plain, err := Decrypt(ciphertext, keyHex, ivHex)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(plain), v); err != nil {
		return fail("decrypt", "plaintext is not valid JSON")
	}
	return nil
}

// HashOneWay returns the hex SHA-256 digest of data.
func HashOneWay(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// SecureToken returns a uniformly random alphanumeric string.
func SecureToken(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("crypto: token length must be positive, got %d", length)
	}
	max := big.NewInt(int64(len(tokenAlphabet)))
	out := make([]byte, length)
	for i := range out {
		// rand.Int rejects out-of-range samples, so there is no modulo bias.
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("crypto: read random: %w", err)
		}
		out[i] = tokenAlphabet[n.Int64()]
	}
	return string(out), nil
}

func cipherFor(op, keyHex, ivHex string) (cipher.Block, []byte, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != KeySize {
		return nil, nil, fail(op, "key must be 64 hex characters")
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != IVSize {
		return nil, nil, fail(op, "iv must be 32 hex characters")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fail(op, "cipher init failed")
	}
	return block, iv, nil
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, bool) {
	if len(b) == 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, false
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}
