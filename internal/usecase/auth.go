package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/arklim/identity-link-service/internal/core/domain"
	"github.com/arklim/identity-link-service/internal/core/port"
	"github.com/arklim/identity-link-service/internal/infra/logger"
	"github.com/arklim/identity-link-service/internal/infra/security"
	"github.com/arklim/identity-link-service/internal/infra/telemetry"
	"github.com/arklim/identity-link-service/internal/repository"
)

const defaultRefreshTokenTTL = 30 * 24 * time.Hour

// LoginInput carries credentials and client metadata for a login attempt.
type LoginInput struct {
	Identifier string
	Password   string
	IPAddress  string
	UserAgent  string
	DeviceName string
}

// RefreshInput carries a refresh token presented for rotation.
type RefreshInput struct {
	RefreshToken string
	IPAddress    string
	UserAgent    string
}

// AuthResult is returned by successful logins and refreshes. RefreshToken is the raw value
// and is never retrievable again.
type AuthResult struct {
	UserID                string
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}

// AuthService coordinates login, refresh-token rotation and logout.
type AuthService struct {
	users       port.UserRepository
	sessions    port.SessionRepository
	attempts    port.LoginAttemptRepository
	grants      port.AccessGrantResolver
	issuer      port.AccessTokenIssuer
	hasher      port.PasswordHasher
	tokenHasher port.TokenHasher
	clock       port.Clock
	refreshTTL  time.Duration
	events      port.EventPublisher
	metrics     AuthMetricsRecorder
	logger      *zap.Logger
}

// NewAuthService constructs an AuthService. refreshTTL falls back to 30 days when not positive.
func NewAuthService(
	users port.UserRepository,
	sessions port.SessionRepository,
	attempts port.LoginAttemptRepository,
	grants port.AccessGrantResolver,
	issuer port.AccessTokenIssuer,
	hasher port.PasswordHasher,
	tokenHasher port.TokenHasher,
	clock port.Clock,
	refreshTTL time.Duration,
	log *zap.Logger,
) *AuthService {
	if clock == nil {
		clock = security.SystemClock{}
	}
	if tokenHasher == nil {
		tokenHasher = security.SHA256TokenHasher{}
	}
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTokenTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{
		users:       users,
		sessions:    sessions,
		attempts:    attempts,
		grants:      grants,
		issuer:      issuer,
		hasher:      hasher,
		tokenHasher: tokenHasher,
		clock:       clock,
		refreshTTL:  refreshTTL,
		metrics:     noopMetrics{},
		logger:      log,
	}
}

// WithEvents attaches an event publisher for login_failed notifications.
func (s *AuthService) WithEvents(events port.EventPublisher) *AuthService {
	s.events = events
	return s
}

// WithMetrics attaches an outcome recorder.
func (s *AuthService) WithMetrics(metrics AuthMetricsRecorder) *AuthService {
	if metrics != nil {
		s.metrics = metrics
	}
	return s
}

// Login authenticates by username or email. Every rejection returns ErrInvalidCredentials while
// the specific reason is written to the login-attempt log.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "AuthService.Login")
	defer span.End()

	identifier := strings.TrimSpace(input.Identifier)
	if identifier == "" || input.Password == "" {
		return nil, validationError("identifier and password are required")
	}

	user, err := s.users.GetByNormalizedIdentifier(ctx, domain.NormalizeIdentifier(identifier))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, s.rejectLogin(ctx, input, nil, domain.LoginFailureUserNotFound)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	span.SetAttributes(attribute.String("user.id", user.ID))

	if !user.IsActive() {
		return nil, s.rejectLogin(ctx, input, user, domain.LoginFailureUserInactive)
	}
	if !user.HasPassword() {
		return nil, s.rejectLogin(ctx, input, user, domain.LoginFailurePasswordNotSet)
	}

	ok, err := s.hasher.Verify(input.Password, *user.PasswordHash)
	if err != nil {
		s.logger.Error("stored password hash unreadable", zap.String("user_id", user.ID), zap.Error(err))
		return nil, s.rejectLogin(ctx, input, user, domain.LoginFailureInvalidPassword)
	}
	now := s.clock.Now().UTC()
	if !ok {
		count, err := s.users.IncrementAccessFailedCount(ctx, user.ID, now)
		if err != nil {
			return nil, fmt.Errorf("increment failed count: %w", err)
		}
		user.AccessFailedCount = count
		return nil, s.rejectLogin(ctx, input, user, domain.LoginFailureInvalidPassword)
	}

	if user.AccessFailedCount != 0 {
		if err := s.users.UpdateAccessFailedCount(ctx, user.ID, 0, now); err != nil {
			return nil, fmt.Errorf("reset failed count: %w", err)
		}
		user.AccessFailedCount = 0
	}

	accessToken, accessExpiresAt, err := s.issueAccessToken(ctx, *user)
	if err != nil {
		span.SetStatus(codes.Error, "access token issuance failed")
		return nil, err
	}

	rawRefresh, err := security.GenerateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	refreshExpiresAt := now.Add(s.refreshTTL)

	session := domain.Session{
		ID:               uuid.NewString(),
		UserID:           user.ID,
		RefreshTokenHash: s.tokenHasher.Hash(rawRefresh),
		ExpiresAt:        refreshExpiresAt,
		IPAddress:        optionalString(input.IPAddress),
		UserAgent:        optionalString(input.UserAgent),
		DeviceName:       optionalString(input.DeviceName),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.recordAttempt(ctx, input, &user.ID, true, nil)
	s.metrics.LoginSucceeded()

	s.logger.Info("login succeeded",
		zap.String("user_id", user.ID),
		zap.String("session_id", session.ID),
		zap.String("ip", logger.MaskIP(input.IPAddress)),
	)

	return &AuthResult{
		UserID:                user.ID,
		AccessToken:           accessToken,
		AccessTokenExpiresAt:  accessExpiresAt,
		RefreshToken:          rawRefresh,
		RefreshTokenExpiresAt: refreshExpiresAt,
	}, nil
}

// RefreshToken rotates the session owning the presented token and issues a new token pair.
// The previous refresh token stops working immediately.
func (s *AuthService) RefreshToken(ctx context.Context, input RefreshInput) (*AuthResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "AuthService.RefreshToken")
	defer span.End()

	raw := strings.TrimSpace(input.RefreshToken)
	if raw == "" {
		return nil, s.rejectRefresh("missing token")
	}

	previousHash := s.tokenHasher.Hash(raw)
	session, err := s.sessions.GetByTokenHash(ctx, previousHash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, s.rejectRefresh("unknown token")
		}
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	span.SetAttributes(attribute.String("session.id", session.ID))

	now := s.clock.Now().UTC()
	if session.IsRevoked || session.RevokedAt != nil {
		return nil, s.rejectRefresh("session revoked")
	}
	if session.IsExpired(now) {
		if err := s.sessions.Revoke(ctx, session.ID, now); err != nil {
			s.logger.Warn("lazy revocation of expired session failed", zap.String("session_id", session.ID), zap.Error(err))
		}
		return nil, s.rejectRefresh("session expired")
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, s.rejectRefresh("user missing")
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive() {
		return nil, s.rejectRefresh("user inactive")
	}

	accessToken, accessExpiresAt, err := s.issueAccessToken(ctx, *user)
	if err != nil {
		return nil, err
	}

	rawRefresh, err := security.GenerateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	refreshExpiresAt := now.Add(s.refreshTTL)

	session.Rotate(s.tokenHasher.Hash(rawRefresh), refreshExpiresAt, now, optionalString(input.IPAddress), optionalString(input.UserAgent))
	if err := s.sessions.Rotate(ctx, *session, previousHash); err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrConflict) {
			return nil, s.rejectRefresh("concurrent rotation")
		}
		return nil, fmt.Errorf("rotate session: %w", err)
	}

	s.metrics.Refresh(outcomeSuccess)

	return &AuthResult{
		UserID:                user.ID,
		AccessToken:           accessToken,
		AccessTokenExpiresAt:  accessExpiresAt,
		RefreshToken:          rawRefresh,
		RefreshTokenExpiresAt: refreshExpiresAt,
	}, nil
}

// Logout revokes the session owning refreshToken. Unknown or already revoked tokens are a no-op.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	raw := strings.TrimSpace(refreshToken)
	if raw == "" {
		return validationError("refresh token is required")
	}

	session, err := s.sessions.GetByTokenHash(ctx, s.tokenHasher.Hash(raw))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup session: %w", err)
	}
	if session.IsRevoked {
		return nil
	}

	if err := s.sessions.Revoke(ctx, session.ID, s.clock.Now().UTC()); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *AuthService) issueAccessToken(ctx context.Context, user domain.User) (string, time.Time, error) {
	var grants domain.AccessGrants
	if s.grants != nil {
		resolved, err := s.grants.ResolveGrants(ctx, user.ID)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("resolve grants: %w", err)
		}
		grants = resolved
	}

	token, expiresAt, err := s.issuer.Issue(user, grants)
	if err != nil {
		if errors.Is(err, security.ErrSigningKeyMissing) {
			s.logger.Error("jwt signing key is not configured")
			return "", time.Time{}, ErrAuthUnavailable
		}
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrAuthUnavailable, err)
	}
	return token, expiresAt, nil
}

func (s *AuthService) rejectLogin(ctx context.Context, input LoginInput, user *domain.User, reason domain.LoginFailureReason) error {
	var (
		userID      *string
		failedCount int
	)
	if user != nil {
		id := user.ID
		userID = &id
		failedCount = user.AccessFailedCount
	}

	reasonText := string(reason)
	s.recordAttempt(ctx, input, userID, false, &reasonText)
	s.metrics.LoginFailed(reasonText)

	s.logger.Info("login rejected",
		zap.String("identifier", logger.MaskIdentifier(input.Identifier)),
		zap.String("reason", reasonText),
		zap.String("ip", logger.MaskIP(input.IPAddress)),
	)

	if s.events != nil {
		event := domain.LoginFailedEvent{
			EventID:           uuid.NewString(),
			UserID:            userID,
			Reason:            reasonText,
			AccessFailedCount: failedCount,
			IPAddress:         optionalString(input.IPAddress),
			AttemptedAt:       s.clock.Now().UTC(),
		}
		if err := s.events.PublishLoginFailed(ctx, event); err != nil {
			s.logger.Warn("publish login failed event", zap.Error(err))
		}
	}

	return ErrInvalidCredentials
}

func (s *AuthService) rejectRefresh(reason string) error {
	s.metrics.Refresh(outcomeFailure)
	s.logger.Debug("refresh rejected", zap.String("reason", reason))
	return ErrInvalidRefreshToken
}

// recordAttempt never fails the calling flow; the audit row is best effort.
func (s *AuthService) recordAttempt(ctx context.Context, input LoginInput, userID *string, success bool, reason *string) {
	if s.attempts == nil {
		return
	}
	attempt := domain.LoginAttempt{
		ID:            uuid.NewString(),
		UserID:        userID,
		Identifier:    strings.TrimSpace(input.Identifier),
		IsSuccessful:  success,
		FailureReason: reason,
		IPAddress:     optionalString(input.IPAddress),
		UserAgent:     optionalString(input.UserAgent),
		AttemptedAt:   s.clock.Now().UTC(),
	}
	if err := s.attempts.Record(ctx, attempt); err != nil {
		s.logger.Warn("record login attempt", zap.Bool("success", success), zap.Error(err))
	}
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
