package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scopes granted by access tokens.
const (
	// ScopeControlWrite allows changing camera controls.
	ScopeControlWrite = "control:write"
)

// issuer is the iss claim of every token.
const issuer = "camera-be"

// defaultTokenTTL applies when no lifetime is configured.
const defaultTokenTTL = 24 * time.Hour

var (
	// ErrTokenInvalid is returned for tokens that fail signature, expiry
	// or claim checks.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrSecretRequired is returned when signing or validating without a
	// secret.
	ErrSecretRequired = errors.New("jwt secret is not configured")
)

// Claims extends the registered JWT claims with granted scopes.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
}

// HasScope reports whether the token grants scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// GenerateToken creates a signed access token.
//
// Parameters:
//   - subject: who the token is issued to, recorded in audit logs
//   - scopes: granted scopes, e.g. ScopeControlWrite
//   - secret: HMAC signing secret
//   - ttl: token lifetime; zero or negative uses 24 hours
//
// Returns:
//   - string: the compact serialised token
//   - error: ErrSecretRequired, or a signing failure
func GenerateToken(subject string, scopes []string, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrSecretRequired
	}
	if subject == "" {
		return "", fmt.Errorf("token subject is required")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Scopes: scopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a token and returns its claims.
// It checks the signature, the algorithm, expiry, the issuer and that a
// subject is present.
func ParseToken(tokenString, secret string) (*Claims, error) {
	if secret == "" {
		return nil, ErrSecretRequired
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}
