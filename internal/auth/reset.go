package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	DefaultResetTokenTTL = time.Hour

	resetTokenSize = 32
)

// ResetTokens mints password-reset tokens and derives their lookup hashes.
// Hashes are HMAC-SHA256 under the deployment key.
type ResetTokens struct {
	key []byte
}

// NewResetTokens returns a minter keyed with key.
func NewResetTokens(key []byte) *ResetTokens {
	cp := make([]byte, len(key))
	copy(cp, key)
	return &ResetTokens{key: cp}
}

// New returns a URL-safe plaintext token and its storage hash.
func (r *ResetTokens) New() (token, hash string, err error) {
	raw := make([]byte, resetTokenSize)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("%w: generate reset token: %v", ErrCredential, err)
	}
	token = base64.RawURLEncoding.EncodeToString(raw)
	return token, r.Hash(token), nil
}

// Hash derives the value persisted for token.
func (r *ResetTokens) Hash(token string) string {
	mac := hmac.New(sha256.New, r.key)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
