package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultIssuer   = "officeflow"
	DefaultTokenTTL = 30 * 24 * time.Hour

	minSecretLength = 16
)

var errMissingSecret = errors.New("auth secret is not configured")

// Claims are the session token claims. Subject carries the account id.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 session tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption configures a TokenIssuer.
type TokenOption func(*TokenIssuer)

// WithTokenTTL overrides the session lifetime.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(t *TokenIssuer) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// WithTokenIssuer overrides the iss claim.
func WithTokenIssuer(issuer string) TokenOption {
	return func(t *TokenIssuer) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			t.issuer = issuer
		}
	}
}

// WithTokenClock overrides the time source.
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(t *TokenIssuer) {
		if fn != nil {
			t.now = fn
		}
	}
}

// NewTokenIssuer validates secret and returns an issuer.
func NewTokenIssuer(secret string, opts ...TokenOption) (*TokenIssuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errMissingSecret
	}
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("auth secret must be at least %d characters", minSecretLength)
	}
	t := &TokenIssuer{
		secret: []byte(secret),
		issuer: DefaultIssuer,
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Issue signs a session token bound to accountID.
func (t *TokenIssuer) Issue(accountID string) (string, time.Time, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", time.Time{}, errors.New("account id is required")
	}
	now := t.now().UTC().Truncate(time.Second)
	expires := now.Add(t.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies signature and claims. Every failure maps to ErrInvalidSessionToken.
func (t *TokenIssuer) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidSessionToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidSessionToken
		}
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(t.issuer),
	)
	if err != nil {
		return nil, ErrInvalidSessionToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidSessionToken
	}
	if err := t.validateClaims(claims); err != nil {
		return nil, ErrInvalidSessionToken
	}
	return claims, nil
}

func (t *TokenIssuer) validateClaims(claims *Claims) error {
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := t.now().UTC()
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

func extractSecret(t *TokenIssuer) []byte {
	cp := make([]byte, len(t.secret))
	copy(cp, t.secret)
	return cp
}
