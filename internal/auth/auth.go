// Package auth issues and validates the bearer tokens that guard the admin
// endpoints.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// DefaultTTL is the lifetime of an admin token.
const DefaultTTL = time.Hour

const issuer = "tabula"

var (
	// ErrInvalidCredentials is returned by Login for a wrong user or password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken is returned by Validate for any unusable token.
	ErrInvalidToken = errors.New("invalid token")
	// ErrDisabled is returned when no signing secret is configured.
	ErrDisabled = errors.New("admin auth not configured")
)

// Claims are the token claims.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Config configures a Manager.
type Config struct {
	Secret   string
	Username string // default: "admin"
	Password string
	TTL      time.Duration
	Now      func() time.Time
}

// Manager logs admins in and checks their tokens.
type Manager struct {
	secret   []byte
	username string
	password string
	ttl      time.Duration
	now      func() time.Time
}

// NewManager creates a Manager. With an empty secret the manager is
// disabled: Enabled reports false and every operation returns ErrDisabled.
func NewManager(cfg Config) *Manager {
	if cfg.Username == "" {
		cfg.Username = "admin"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		secret:   []byte(cfg.Secret),
		username: cfg.Username,
		password: cfg.Password,
		ttl:      cfg.TTL,
		now:      cfg.Now,
	}
}

// Enabled reports whether admin endpoints are protected.
func (m *Manager) Enabled() bool {
	return m != nil && len(m.secret) > 0
}

// Login checks the admin credentials and returns a signed token.
// The username is compared case-insensitively.
func (m *Manager) Login(username, password string) (string, time.Time, error) {
	if !m.Enabled() {
		return "", time.Time{}, ErrDisabled
	}
	userOK := subtle.ConstantTimeCompare(
		[]byte(strings.ToLower(strings.TrimSpace(username))),
		[]byte(strings.ToLower(m.username))) == 1
	passOK := m.password != "" && subtle.ConstantTimeCompare([]byte(password), []byte(m.password)) == 1
	if !userOK || !passOK {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return m.Issue(m.username)
}

// Issue signs an admin token for subject.
func (m *Manager) Issue(subject string) (string, time.Time, error) {
	if !m.Enabled() {
		return "", time.Time{}, ErrDisabled
	}
	now := m.now()
	expires := now.Add(m.ttl)
	claims := Claims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Validate parses and verifies a token.
func (m *Manager) Validate(token string) (*Claims, error) {
	if !m.Enabled() {
		return nil, ErrDisabled
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	// jwt/v4 checks expiry against the wall clock; check again against the
	// injected one.
	if claims.ExpiresAt == nil || !m.now().Before(claims.ExpiresAt.Time) {
		return nil, fmt.Errorf("%w: expired", ErrInvalidToken)
	}
	if claims.Role != "admin" || claims.Issuer != issuer {
		return nil, fmt.Errorf("%w: wrong role", ErrInvalidToken)
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
