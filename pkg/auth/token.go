package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VaultClaims are the JWT claims carried by API bearer tokens. Subject
// is the caller's account identifier.
type VaultClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// TokenManager issues and validates HS256 bearer tokens for the HTTP
// surface.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  func() time.Time
}

// NewTokenManager creates a manager signing with secret.
func NewTokenManager(secret []byte, issuer string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenManager{secret: secret, issuer: issuer, ttl: ttl, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (m *TokenManager) WithClock(clock func() time.Time) *TokenManager {
	m.clock = clock
	return m
}

// Issue creates a signed token for the account.
func (m *TokenManager) Issue(account string, roles ...string) (string, error) {
	now := m.clock()
	claims := VaultClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Roles: roles,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a token string, returning its claims.
func (m *TokenManager) Validate(tokenStr string) (*VaultClaims, error) {
	claims := &VaultClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.clock))
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
