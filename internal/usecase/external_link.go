package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/arklim/identity-link-service/internal/core/domain"
	"github.com/arklim/identity-link-service/internal/core/port"
	"github.com/arklim/identity-link-service/internal/infra/oauth"
	"github.com/arklim/identity-link-service/internal/infra/security"
	"github.com/arklim/identity-link-service/internal/infra/telemetry"
	"github.com/arklim/identity-link-service/internal/repository"
)

var (
	// ErrInvalidLinkState wraps every state validation failure (missing, malformed, signature, expiry).
	ErrInvalidLinkState = errors.New("invalid link state")
	// ErrStateReplayed indicates the state already completed a link.
	ErrStateReplayed = errors.New("link state already used")
	// ErrStateUserMismatch indicates the state was issued to a different user than the caller.
	ErrStateUserMismatch = errors.New("link state issued to another user")
	// ErrProviderMismatch indicates the request provider differs from the provider bound in the state.
	ErrProviderMismatch = errors.New("provider does not match link state")
	// ErrProviderNotSupported indicates no OAuth settings exist for the provider.
	ErrProviderNotSupported = errors.New("external provider not supported")
	// ErrUserInactive indicates the user is deleted or locked.
	ErrUserInactive = errors.New("user is not active")
	// ErrMissingAccessToken indicates the provider returned no access token.
	ErrMissingAccessToken = errors.New("provider returned no access token")
	// ErrMissingSubject indicates the provider profile carried no stable subject id.
	ErrMissingSubject = errors.New("provider returned no subject identifier")
	// ErrAlreadyLinkedToAnotherUser indicates the provider account belongs to a different user.
	ErrAlreadyLinkedToAnotherUser = errors.New("external account already linked to another user")
	// ErrDifferentAccountLinked indicates the user already linked another account at this provider.
	ErrDifferentAccountLinked = errors.New("a different external account is already linked for this provider")
	// ErrRefreshTokenRequired indicates neither the provider nor storage supplied a refresh token.
	ErrRefreshTokenRequired = errors.New("refresh token required to link external account")
	// ErrLinkNotFound indicates there is nothing to unlink.
	ErrLinkNotFound = errors.New("external link not found")
	// ErrProviderError hides provider failures behind a generic error.
	ErrProviderError = errors.New("external provider error")
)

// StartLinkResult carries the consent redirect for the caller.
type StartLinkResult struct {
	AuthorizationURL string
	State            string
	ExpiresAt        time.Time
}

// CompleteLinkInput is the provider callback. UserID is optional; when set it must match the
// user bound in the state.
type CompleteLinkInput struct {
	UserID   string
	Provider string
	Code     string
	State    string
}

// CompleteLinkResult describes the stored link.
type CompleteLinkResult struct {
	Identity domain.ExternalIdentity
	Relinked bool
}

// ExternalLinkService drives NotLinked -> LinkStarted -> Linked and back via Unlink.
type ExternalLinkService struct {
	users      port.UserRepository
	identities port.ExternalIdentityRepository
	tokens     port.ExternalTokenRepository
	oauth      port.ExternalOAuthClient
	states     port.LinkStateSigner
	protector  port.TokenProtector
	replay     port.StateReplayGuard
	clock      port.Clock
	events     port.EventPublisher
	metrics    AuthMetricsRecorder
	logger     *zap.Logger
}

// NewExternalLinkService constructs an ExternalLinkService.
func NewExternalLinkService(
	users port.UserRepository,
	identities port.ExternalIdentityRepository,
	tokens port.ExternalTokenRepository,
	oauthClient port.ExternalOAuthClient,
	states port.LinkStateSigner,
	protector port.TokenProtector,
	clock port.Clock,
	log *zap.Logger,
) *ExternalLinkService {
	if clock == nil {
		clock = security.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ExternalLinkService{
		users:      users,
		identities: identities,
		tokens:     tokens,
		oauth:      oauthClient,
		states:     states,
		protector:  protector,
		clock:      clock,
		metrics:    noopMetrics{},
		logger:     log,
	}
}

// WithReplayGuard makes every state single use.
func (s *ExternalLinkService) WithReplayGuard(guard port.StateReplayGuard) *ExternalLinkService {
	s.replay = guard
	return s
}

// WithEvents attaches the publisher used for iam.external.linked and iam.external.unlinked.
func (s *ExternalLinkService) WithEvents(events port.EventPublisher) *ExternalLinkService {
	s.events = events
	return s
}

// WithMetrics attaches an outcome recorder.
func (s *ExternalLinkService) WithMetrics(metrics AuthMetricsRecorder) *ExternalLinkService {
	if metrics != nil {
		s.metrics = metrics
	}
	return s
}

// Start issues a signed state for the user and returns the provider consent URL embedding it.
func (s *ExternalLinkService) Start(ctx context.Context, userID, providerName string) (*StartLinkResult, error) {
	provider, err := parseProvider(providerName)
	if err != nil {
		return nil, err
	}

	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	state, err := s.states.CreateState(user.ID, provider)
	if err != nil {
		return nil, fmt.Errorf("create link state: %w", err)
	}

	authURL, err := s.oauth.AuthorizationURL(provider, state)
	if err != nil {
		return nil, providerFailure(err)
	}

	s.logger.Info("external link started", zap.String("user_id", user.ID), zap.String("provider", provider.String()))

	return &StartLinkResult{
		AuthorizationURL: authURL,
		State:            state,
		ExpiresAt:        s.clock.Now().UTC().Add(s.states.TTL()),
	}, nil
}

// Complete validates the state, exchanges the code, and stores the identity and protected tokens.
func (s *ExternalLinkService) Complete(ctx context.Context, input CompleteLinkInput) (result *CompleteLinkResult, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ExternalLinkService.Complete")
	defer span.End()

	provider, err := parseProvider(input.Provider)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("external.provider", provider.String()))

	defer func() {
		if err != nil {
			s.metrics.LinkCompleted(provider.String(), outcomeFailure)
			span.RecordError(err)
			return
		}
		s.metrics.LinkCompleted(provider.String(), outcomeSuccess)
	}()

	code := strings.TrimSpace(input.Code)
	if code == "" {
		return nil, validationError("authorization code is required")
	}

	bound, err := s.states.ValidateState(input.State)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLinkState, err)
	}
	if bound.Provider != provider.String() {
		return nil, ErrProviderMismatch
	}
	if callerID := strings.TrimSpace(input.UserID); callerID != "" && callerID != bound.UserID {
		return nil, ErrStateUserMismatch
	}
	if s.replay != nil {
		fresh, err := s.replay.Consume(ctx, bound.Nonce, s.states.TTL())
		if err != nil {
			return nil, fmt.Errorf("consume link state: %w", err)
		}
		if !fresh {
			return nil, ErrStateReplayed
		}
	}

	user, err := s.activeUser(ctx, bound.UserID)
	if err != nil {
		return nil, err
	}

	issued, err := s.oauth.ExchangeCode(ctx, provider, code)
	if err != nil {
		return nil, providerFailure(err)
	}
	if issued == nil || strings.TrimSpace(issued.AccessToken) == "" {
		return nil, ErrMissingAccessToken
	}

	profile, err := s.oauth.FetchProfile(ctx, provider, issued.AccessToken)
	if err != nil {
		return nil, providerFailure(err)
	}
	if profile == nil {
		return nil, ErrMissingSubject
	}
	subject, err := domain.NewExternalSubjectID(profile.SubjectID)
	if err != nil {
		return nil, ErrMissingSubject
	}

	owner, err := s.identities.GetByProviderSubject(ctx, provider, subject)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup identity by subject: %w", err)
	}
	if owner != nil && owner.UserID != user.ID {
		return nil, ErrAlreadyLinkedToAnotherUser
	}

	current, err := s.identities.GetByUserProvider(ctx, user.ID, provider)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup identity by user: %w", err)
	}
	if current != nil && current.SubjectID != subject {
		return nil, ErrDifferentAccountLinked
	}

	stored, err := s.tokens.GetByUserProvider(ctx, user.ID, provider)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup stored tokens: %w", err)
	}

	refreshToken, err := s.resolveRefreshToken(issued.RefreshToken, stored)
	if err != nil {
		return nil, err
	}

	encryptedAccess, err := s.protector.Protect(issued.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("protect access token: %w", err)
	}
	encryptedRefresh, err := s.protector.Protect(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("protect refresh token: %w", err)
	}

	scopes := issued.Scopes
	if len(scopes) == 0 && stored != nil {
		scopes = stored.Scopes
	}

	now := s.clock.Now().UTC()
	identity, err := s.saveIdentity(ctx, current, user.ID, provider, subject, profile, now)
	if err != nil {
		return nil, err
	}

	token := domain.ExternalToken{
		ID:                    uuid.NewString(),
		UserID:                user.ID,
		Provider:              provider,
		EncryptedAccessToken:  encryptedAccess,
		EncryptedRefreshToken: encryptedRefresh,
		ExpiresAt:             issued.ExpiresAt,
		Scopes:                scopes,
		UpdatedAt:             now,
	}
	if stored != nil && stored.ID != "" {
		token.ID = stored.ID
	}
	if err := s.tokens.Upsert(ctx, token); err != nil {
		return nil, fmt.Errorf("store external tokens: %w", err)
	}

	relinked := current != nil
	s.logger.Info("external account linked",
		zap.String("user_id", user.ID),
		zap.String("provider", provider.String()),
		zap.Bool("relinked", relinked),
	)

	if s.events != nil {
		event := domain.ExternalAccountLinkedEvent{
			EventID:   uuid.NewString(),
			UserID:    user.ID,
			Provider:  provider.String(),
			SubjectID: subject.String(),
			Relinked:  relinked,
			LinkedAt:  now,
		}
		if err := s.events.PublishExternalAccountLinked(ctx, event); err != nil {
			s.logger.Warn("publish external linked event", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	return &CompleteLinkResult{Identity: identity, Relinked: relinked}, nil
}

// Unlink removes the identity and token rows for (user, provider). It fails when neither existed.
func (s *ExternalLinkService) Unlink(ctx context.Context, userID, providerName string) error {
	provider, err := parseProvider(providerName)
	if err != nil {
		return err
	}

	user, err := s.existingUser(ctx, userID)
	if err != nil {
		return err
	}

	identityRemoved, err := s.identities.Delete(ctx, user.ID, provider)
	if err != nil {
		return fmt.Errorf("delete external identity: %w", err)
	}
	tokenRemoved, err := s.tokens.Delete(ctx, user.ID, provider)
	if err != nil {
		return fmt.Errorf("delete external tokens: %w", err)
	}
	if !identityRemoved && !tokenRemoved {
		return ErrLinkNotFound
	}

	s.metrics.Unlinked(provider.String())
	s.logger.Info("external account unlinked", zap.String("user_id", user.ID), zap.String("provider", provider.String()))

	if s.events != nil {
		event := domain.ExternalAccountUnlinkedEvent{
			EventID:    uuid.NewString(),
			UserID:     user.ID,
			Provider:   provider.String(),
			UnlinkedAt: s.clock.Now().UTC(),
		}
		if err := s.events.PublishExternalAccountUnlinked(ctx, event); err != nil {
			s.logger.Warn("publish external unlinked event", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	return nil
}

// ListLinks returns the user's linked provider accounts.
func (s *ExternalLinkService) ListLinks(ctx context.Context, userID string) ([]domain.ExternalIdentity, error) {
	user, err := s.existingUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	links, err := s.identities.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list external identities: %w", err)
	}
	return links, nil
}

func (s *ExternalLinkService) resolveRefreshToken(issued string, stored *domain.ExternalToken) (string, error) {
	if strings.TrimSpace(issued) != "" {
		return issued, nil
	}
	if stored == nil || stored.EncryptedRefreshToken == "" {
		return "", ErrRefreshTokenRequired
	}
	previous, err := s.protector.Unprotect(stored.EncryptedRefreshToken)
	if err != nil {
		return "", fmt.Errorf("unprotect stored refresh token: %w", err)
	}
	return previous, nil
}

func (s *ExternalLinkService) saveIdentity(
	ctx context.Context,
	current *domain.ExternalIdentity,
	userID string,
	provider domain.ExternalProvider,
	subject domain.ExternalSubjectID,
	profile *domain.ProviderProfile,
	now time.Time,
) (domain.ExternalIdentity, error) {
	if current != nil {
		updated := *current
		updated.Email = optionalString(profile.Email)
		updated.DisplayName = optionalString(profile.DisplayName)
		updated.UpdatedAt = now
		if err := s.identities.Update(ctx, updated); err != nil {
			return domain.ExternalIdentity{}, fmt.Errorf("update external identity: %w", err)
		}
		return updated, nil
	}

	identity := domain.ExternalIdentity{
		ID:          uuid.NewString(),
		UserID:      userID,
		Provider:    provider,
		SubjectID:   subject,
		Email:       optionalString(profile.Email),
		DisplayName: optionalString(profile.DisplayName),
		LinkedAt:    now,
		UpdatedAt:   now,
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return domain.ExternalIdentity{}, linkConflict(err)
		}
		return domain.ExternalIdentity{}, fmt.Errorf("create external identity: %w", err)
	}
	return identity, nil
}

func (s *ExternalLinkService) activeUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.existingUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive() {
		return nil, ErrUserInactive
	}
	return user, nil
}

func (s *ExternalLinkService) existingUser(ctx context.Context, userID string) (*domain.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, validationError("user id is required")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user.IsDeleted {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// linkConflict maps a lost race on the identity unique indexes to the matching domain failure.
func linkConflict(err error) error {
	constraint, _ := repository.ConstraintOf(err)
	switch constraint {
	case repository.ConstraintExternalIdentityProviderSubject:
		return ErrAlreadyLinkedToAnotherUser
	case repository.ConstraintExternalIdentityUserProvider:
		return ErrDifferentAccountLinked
	default:
		return fmt.Errorf("create external identity: %w", err)
	}
}

func providerFailure(err error) error {
	if errors.Is(err, oauth.ErrProviderNotConfigured) {
		return ErrProviderNotSupported
	}
	return fmt.Errorf("%w: %v", ErrProviderError, err)
}

func parseProvider(name string) (domain.ExternalProvider, error) {
	provider, err := domain.NewExternalProvider(name)
	if err != nil {
		return domain.ExternalProvider{}, validationError("%v", err)
	}
	return provider, nil
}
