package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	uuid "github.com/google/uuid"

	"github.com/arklim/identity-link-service/internal/core/domain"
	"github.com/arklim/identity-link-service/internal/core/port"
)

var (
	// ErrStateKeyMissing indicates the state signing key was not configured.
	ErrStateKeyMissing = errors.New("state: signing key not configured")
	// ErrStateMissing indicates no state was supplied.
	ErrStateMissing = errors.New("state: missing")
	// ErrStateMalformed indicates the state could not be decoded into its parts.
	ErrStateMalformed = errors.New("state: malformed")
	// ErrStateInvalidUser indicates the bound user id is not a valid identifier.
	ErrStateInvalidUser = errors.New("state: invalid user id")
	// ErrStateSignature indicates the signature does not match the payload.
	ErrStateSignature = errors.New("state: signature mismatch")
	// ErrStateExpired indicates the state is older than the configured expiry.
	ErrStateExpired = errors.New("state: expired")
)

const (
	defaultStateExpiry = 15 * time.Minute
	stateNonceBytes    = 16
	stateSeparator     = "|"
	statePartCount     = 5
)

// StateSignerConfig configures the external-link state signer.
type StateSignerConfig struct {
	SigningKey string
	Expiry     time.Duration
}

// StateSigner issues HMAC-SHA256 signed, time-boxed states for the OAuth redirect.
// The token is base64url(userID|provider|issuedAtUnix|nonce|hex(hmac)).
type StateSigner struct {
	key    []byte
	expiry time.Duration
	clock  port.Clock
}

// NewStateSigner validates cfg and returns a signer.
func NewStateSigner(cfg StateSignerConfig, clock port.Clock) (*StateSigner, error) {
	key := strings.TrimSpace(cfg.SigningKey)
	if key == "" {
		return nil, ErrStateKeyMissing
	}
	if clock == nil {
		clock = SystemClock{}
	}
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = defaultStateExpiry
	}
	return &StateSigner{key: []byte(key), expiry: expiry, clock: clock}, nil
}

// TTL returns how long an issued state remains valid.
func (s *StateSigner) TTL() time.Duration {
	return s.expiry
}

// CreateState binds userID and provider into a fresh signed state.
func (s *StateSigner) CreateState(userID string, provider domain.ExternalProvider) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(userID))
	if err != nil {
		return "", ErrStateInvalidUser
	}
	if provider.IsZero() {
		return "", domain.ErrInvalidProvider
	}

	nonce, err := GenerateSecureToken(stateNonceBytes)
	if err != nil {
		return "", fmt.Errorf("state: nonce: %w", err)
	}

	payload := strings.Join([]string{
		parsed.String(),
		provider.String(),
		strconv.FormatInt(s.clock.Now().Unix(), 10),
		nonce,
	}, stateSeparator)

	token := payload + stateSeparator + s.sign(payload)
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

// ValidateState verifies structure and signature before trusting any field, then checks the
// user id format and expiry. It does not record consumption.
func (s *StateSigner) ValidateState(state string) (port.LinkState, error) {
	state = strings.TrimSpace(state)
	if state == "" {
		return port.LinkState{}, ErrStateMissing
	}

	// Strict rejects non-zero trailing bits so each state has exactly one encoding.
	decoded, err := base64.RawURLEncoding.Strict().DecodeString(state)
	if err != nil {
		return port.LinkState{}, ErrStateMalformed
	}

	parts := strings.Split(string(decoded), stateSeparator)
	if len(parts) != statePartCount {
		return port.LinkState{}, ErrStateMalformed
	}

	payload := strings.Join(parts[:statePartCount-1], stateSeparator)
	if !hmac.Equal([]byte(parts[statePartCount-1]), []byte(s.sign(payload))) {
		return port.LinkState{}, ErrStateSignature
	}

	issuedUnix, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return port.LinkState{}, ErrStateMalformed
	}

	userID, err := uuid.Parse(parts[0])
	if err != nil {
		return port.LinkState{}, ErrStateInvalidUser
	}

	issuedAt := time.Unix(issuedUnix, 0).UTC()
	if s.clock.Now().After(issuedAt.Add(s.expiry)) {
		return port.LinkState{}, ErrStateExpired
	}

	return port.LinkState{
		UserID:   userID.String(),
		Provider: parts[1],
		IssuedAt: issuedAt,
		Nonce:    parts[3],
	}, nil
}

func (s *StateSigner) sign(payload string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

var _ port.LinkStateSigner = (*StateSigner)(nil)
