package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// HasherParams tunes the argon2id cost.
type HasherParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
	SaltLength  uint32
}

// DefaultHasherParams are used for every newly stored password.
var DefaultHasherParams = HasherParams{
	Memory:      64 * 1024,
	Iterations:  2,
	Parallelism: 1,
	KeyLength:   32,
	SaltLength:  16,
}

// Hasher produces argon2id hashes in PHC format and verifies both argon2id
// and legacy bcrypt hashes.
type Hasher struct {
	params HasherParams

	dummyOnce sync.Once
	dummy     string
}

// NewHasher returns a hasher with params; zero fields fall back to the defaults.
func NewHasher(params HasherParams) *Hasher {
	if params.Memory == 0 {
		params.Memory = DefaultHasherParams.Memory
	}
	if params.Iterations == 0 {
		params.Iterations = DefaultHasherParams.Iterations
	}
	if params.Parallelism == 0 {
		params.Parallelism = DefaultHasherParams.Parallelism
	}
	if params.KeyLength == 0 {
		params.KeyLength = DefaultHasherParams.KeyLength
	}
	if params.SaltLength == 0 {
		params.SaltLength = DefaultHasherParams.SaltLength
	}
	return &Hasher{params: params}
}

// Hash derives a salted argon2id hash for password.
func (h *Hasher) Hash(password string) (string, error) {
	p := h.params
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("%w: generate salt: %v", ErrCredential, err)
	}
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.Memory,
		p.Iterations,
		p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encoded. Malformed hashes never match.
func (h *Hasher) Verify(password, encoded string) bool {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		return verifyArgon2id(password, encoded)
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password)) == nil
	default:
		return false
	}
}

// Burn performs a verification against a throwaway hash so rejected logins
// cost roughly the same as a real password check.
func (h *Hasher) Burn(password string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = h.Hash("officeflow-dummy-password")
	})
	_ = h.Verify(password, h.dummy)
}

func verifyArgon2id(password, encoded string) bool {
	// $argon2id$v=19$m=65536,t=2,p=1$<salt>$<hash>
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false
	}
	if memory == 0 || iterations == 0 || parallelism == 0 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}
