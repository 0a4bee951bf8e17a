package port

import (
	"context"
	"time"

	"github.com/arklim/identity-link-service/internal/core/domain"
)

// ExternalOAuthClient performs the OAuth2 calls against a configured provider.
type ExternalOAuthClient interface {
	AuthorizationURL(provider domain.ExternalProvider, state string) (string, error)
	ExchangeCode(ctx context.Context, provider domain.ExternalProvider, code string) (*domain.ProviderTokens, error)
	RefreshAccessToken(ctx context.Context, provider domain.ExternalProvider, refreshToken string) (*domain.ProviderTokens, error)
	FetchProfile(ctx context.Context, provider domain.ExternalProvider, accessToken string) (*domain.ProviderProfile, error)
}

// LinkState is the payload bound into a signed external-link state.
type LinkState struct {
	UserID   string
	Provider string
	IssuedAt time.Time
	// Nonce is covered by the signature and identifies the state regardless of its encoding.
	Nonce string
}

// LinkStateSigner issues and validates the anti-CSRF state for the OAuth redirect.
type LinkStateSigner interface {
	CreateState(userID string, provider domain.ExternalProvider) (string, error)
	ValidateState(state string) (LinkState, error)
	TTL() time.Duration
}

// StateReplayGuard records consumed states so each one completes a link at most once.
type StateReplayGuard interface {
	// Consume returns false when the state identified by nonce was already consumed.
	Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}
