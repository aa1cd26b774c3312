package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	hashAlgorithm     = "pbkdf2"
	DefaultIterations = 100_000
	saltLength        = 16
	keyLength         = 32
	// maxIterations bounds the work a stored hash can demand from Verify.
	maxIterations = 10_000_000
)

// Hasher derives PIN and password hashes with PBKDF2-HMAC-SHA256. The encoded
// form is pbkdf2$<iterations>$<salt hex>$<key hex>, so Verify always uses the
// parameters a hash was created with.
type Hasher struct {
	Iterations int
}

func NewHasher(iterations int) *Hasher {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &Hasher{Iterations: iterations}
}

func (h *Hasher) Hash(secret string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(secret), salt, h.Iterations, keyLength, sha256.New)
	return fmt.Sprintf("%s$%d$%s$%s", hashAlgorithm, h.Iterations, hex.EncodeToString(salt), hex.EncodeToString(key)), nil
}

// Verify reports whether secret matches encoded. Malformed hashes fail closed.
func (h *Hasher) Verify(secret, encoded string) bool {
	iterations, salt, stored, ok := parseEncoded(encoded)
	if !ok {
		return false
	}

	computed := pbkdf2.Key([]byte(secret), salt, iterations, len(stored), sha256.New)
	return subtle.ConstantTimeCompare(stored, computed) == 1
}

// NeedsRehash reports whether encoded was produced with weaker parameters
// than the hasher's current ones.
func (h *Hasher) NeedsRehash(encoded string) bool {
	iterations, _, stored, ok := parseEncoded(encoded)
	if !ok {
		return true
	}
	return iterations < h.Iterations || len(stored) != keyLength
}

func parseEncoded(encoded string) (int, []byte, []byte, bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != hashAlgorithm {
		return 0, nil, nil, false
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 || iterations > maxIterations {
		return 0, nil, nil, false
	}

	salt, err := hex.DecodeString(parts[2])
	if err != nil || len(salt) == 0 {
		return 0, nil, nil, false
	}
	stored, err := hex.DecodeString(parts[3])
	if err != nil || len(stored) == 0 {
		return 0, nil, nil, false
	}
	return iterations, salt, stored, true
}
