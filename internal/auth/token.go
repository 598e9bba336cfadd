// Package auth issues and verifies the HS256 tokens services use to call each other.
package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/habitflow/notifier/pkg/config"
)

const (
	RoleService     = "SERVICE"
	defaultTokenTTL = 24 * time.Hour
	// a cached token is replaced this long before it expires
	refreshMargin = time.Minute
)

var ErrNotServiceToken = errors.New("token does not carry the SERVICE role")

// Claims are the registered claims plus the role used for authorization.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Tokens signs outgoing service tokens and validates incoming ones with one shared secret.
type Tokens struct {
	key         []byte
	serviceName string
	ttl         time.Duration
	now         func() time.Time

	mu        sync.Mutex
	cached    string
	expiresAt time.Time
}

func NewTokens(cfg config.AuthConfig) (*Tokens, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: secret is empty")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	return &Tokens{
		key:         signingKey(cfg.Secret),
		serviceName: cfg.ServiceName,
		ttl:         ttl,
		now:         time.Now,
	}, nil
}

// signingKey accepts the base64 secrets the other HabitFlow services are configured with, falling back to raw bytes.
func signingKey(secret string) []byte {
	if decoded, err := base64.StdEncoding.DecodeString(secret); err == nil && len(decoded) >= 32 {
		return decoded
	}
	return []byte(secret)
}

// ServiceToken returns a cached token for this service, minting a new one near expiry.
func (t *Tokens) ServiceToken() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.cached != "" && now.Add(refreshMargin).Before(t.expiresAt) {
		return t.cached, nil
	}

	token, expiresAt, err := t.Issue(t.serviceName, now)
	if err != nil {
		return "", err
	}

	t.cached, t.expiresAt = token, expiresAt
	return token, nil
}

// Issue signs a SERVICE token for subject.
func (t *Tokens) Issue(subject string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(t.ttl)
	claims := Claims{
		Role: RoleService,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign service token: %w", err)
	}

	return signed, expiresAt, nil
}

// Verify parses raw and requires a valid HS256 signature, an unexpired token and the SERVICE role.
func (t *Tokens) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("parse service token: %w", err)
	}

	if claims.Role != RoleService {
		return nil, ErrNotServiceToken
	}

	return claims, nil
}
