package accounts

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	DefaultIterations = 100000
	saltBytes         = 16
	keyBytes          = 32
)

// Hasher derives password hashes.
type Hasher struct {
	iterations int
}

// NewHasher creates a hasher. iterations <= 0 selects DefaultIterations.
func NewHasher(iterations int) *Hasher {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &Hasher{iterations: iterations}
}

// Iterations returns the work factor used for new hashes.
func (h *Hasher) Iterations() int {
	return h.iterations
}

// Hash returns the hex-encoded hash and salt for password.
func (h *Hasher) Hash(password string) (hash, salt string, err error) {
	s := make([]byte, saltBytes)
	if _, err := rand.Read(s); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}
	dk := pbkdf2.Key([]byte(password), s, h.iterations, keyBytes, sha256.New)
	return hex.EncodeToString(dk), hex.EncodeToString(s), nil
}

// Verify reports whether password matches the stored hash. The stored
// iteration count wins over the hasher's so older hashes keep working.
func (h *Hasher) Verify(password, hash, salt string, iterations int) bool {
	want, err := hex.DecodeString(hash)
	if err != nil || len(want) == 0 {
		return false
	}
	s, err := hex.DecodeString(salt)
	if err != nil {
		return false
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	got := pbkdf2.Key([]byte(password), s, iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
