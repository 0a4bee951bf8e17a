package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"

	"github.com/arklim/identity-link-service/internal/core/domain"
	"github.com/arklim/identity-link-service/internal/core/port"
)

var (
	// ErrSigningKeyMissing indicates the JWT signing key was not configured.
	ErrSigningKeyMissing = errors.New("jwt: signing key not configured")
	// ErrInvalidAccessToken indicates the token failed signature, issuer, audience or expiry checks.
	ErrInvalidAccessToken = errors.New("jwt: invalid access token")
)

const defaultAccessTokenTTL = 60 * time.Minute

// JWTConfig holds the issuer settings read from configuration.
type JWTConfig struct {
	SigningKey     string
	Issuer         string
	Audience       string
	AccessTokenTTL time.Duration
}

// AccessTokenClaims represents the JWT payload issued to authenticated users.
type AccessTokenClaims struct {
	UniqueName  string   `json:"unique_name"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// JWTIssuer signs and parses HS256 access tokens.
type JWTIssuer struct {
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
	clock    port.Clock
}

// NewJWTIssuer builds an issuer. A missing signing key is not rejected here;
// Issue and Parse report ErrSigningKeyMissing so callers can map it to a generic failure.
func NewJWTIssuer(cfg JWTConfig, clock port.Clock) *JWTIssuer {
	if clock == nil {
		clock = SystemClock{}
	}
	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = defaultAccessTokenTTL
	}
	return &JWTIssuer{
		key:      []byte(strings.TrimSpace(cfg.SigningKey)),
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		ttl:      ttl,
		clock:    clock,
	}
}

// Issue signs an access token carrying the user's identity and flattened grants.
func (i *JWTIssuer) Issue(user domain.User, grants domain.AccessGrants) (string, time.Time, error) {
	if len(i.key) == 0 {
		return "", time.Time{}, ErrSigningKeyMissing
	}
	if strings.TrimSpace(user.ID) == "" {
		return "", time.Time{}, fmt.Errorf("jwt: user id is required")
	}

	now := i.clock.Now().UTC()
	expiresAt := now.Add(i.ttl)

	claims := &AccessTokenClaims{
		UniqueName:  user.Username,
		Roles:       normalizeClaimValues(grants.Roles),
		Permissions: normalizeClaimValues(grants.Permissions),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	if i.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// Parse validates signature, issuer, audience and expiry and returns the claims.
func (i *JWTIssuer) Parse(token string) (*AccessTokenClaims, error) {
	if len(i.key) == 0 {
		return nil, ErrSigningKeyMissing
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	if i.audience != "" {
		opts = append(opts, jwt.WithAudience(i.audience))
	}

	claims := &AccessTokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccessToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidAccessToken
	}

	return claims, nil
}

// TTL returns the access token lifetime.
func (i *JWTIssuer) TTL() time.Duration {
	return i.ttl
}

func normalizeClaimValues(input []string) []string {
	if len(input) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(input))
	result := make([]string, 0, len(input))
	for _, value := range input {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}

	if len(result) == 0 {
		return nil
	}

	return result
}

var _ port.AccessTokenIssuer = (*JWTIssuer)(nil)
