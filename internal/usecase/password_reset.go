package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/identity-link-service/internal/core/domain"
	"github.com/arklim/identity-link-service/internal/core/port"
	"github.com/arklim/identity-link-service/internal/infra/logger"
	"github.com/arklim/identity-link-service/internal/infra/security"
	"github.com/arklim/identity-link-service/internal/repository"
)

const (
	defaultResetTTL     = time.Hour
	resetTokenBytes     = 32
	passwordResetReason = "password_reset"
)

// ResetRequestResult is the artifact created by RequestReset. Token is empty when no account
// matched, so callers cannot tell registered emails apart.
type ResetRequestResult struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// ResetPasswordInput completes a reset. ResetToken distinguishes an omitted token from a blank one.
type ResetPasswordInput struct {
	Email       string
	ResetToken  domain.Optional[string]
	NewPassword string
}

// PasswordResetResult summarizes a completed reset.
type PasswordResetResult struct {
	UserID          string
	ChangedAt       time.Time
	SessionsRevoked int
}

// PasswordResetService issues reset tokens and applies new passwords.
type PasswordResetService struct {
	users    port.UserRepository
	sessions port.SessionRepository
	hasher   port.PasswordHasher
	policy   port.PasswordStrengthValidator
	clock    port.Clock
	events   port.EventPublisher
	metrics  AuthMetricsRecorder
	logger   *zap.Logger
	resetTTL time.Duration
}

// NewPasswordResetService constructs a PasswordResetService.
func NewPasswordResetService(users port.UserRepository, sessions port.SessionRepository, hasher port.PasswordHasher, policy port.PasswordStrengthValidator, clock port.Clock, resetTTL time.Duration, log *zap.Logger) *PasswordResetService {
	if policy == nil {
		policy = security.NewPasswordPolicy(security.DefaultPasswordPolicyConfig())
	}
	if clock == nil {
		clock = security.SystemClock{}
	}
	if resetTTL <= 0 {
		resetTTL = defaultResetTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PasswordResetService{
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		policy:   policy,
		clock:    clock,
		metrics:  noopMetrics{},
		logger:   log,
		resetTTL: resetTTL,
	}
}

// WithEvents attaches the publisher used for iam.user.password.changed.
func (s *PasswordResetService) WithEvents(events port.EventPublisher) *PasswordResetService {
	s.events = events
	return s
}

// WithMetrics attaches an outcome recorder.
func (s *PasswordResetService) WithMetrics(metrics AuthMetricsRecorder) *PasswordResetService {
	if metrics != nil {
		s.metrics = metrics
	}
	return s
}

// RequestReset stores a fresh reset token on the account owning email, replacing any earlier one.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) (*ResetRequestResult, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, validationError("email is required")
	}

	user, err := s.users.GetByNormalizedEmail(ctx, domain.NormalizeIdentifier(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Info("password reset requested for unknown email", zap.String("email", logger.MaskEmail(email)))
			return &ResetRequestResult{}, nil
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user.IsDeleted {
		return &ResetRequestResult{}, nil
	}

	token, err := security.GenerateSecureToken(resetTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate reset token: %w", err)
	}

	now := s.clock.Now().UTC()
	expiresAt := now.Add(s.resetTTL)
	if err := s.users.SetPasswordResetToken(ctx, user.ID, &token, &expiresAt, now); err != nil {
		return nil, fmt.Errorf("store reset token: %w", err)
	}

	s.logger.Info("password reset token issued",
		zap.String("user_id", user.ID),
		zap.Time("expires_at", expiresAt),
	)

	return &ResetRequestResult{UserID: user.ID, Token: token, ExpiresAt: expiresAt}, nil
}

// ResetPassword verifies the stored reset token and replaces the password. On success the failed
// counter and lock are cleared, the token is consumed and every session of the user is revoked.
func (s *PasswordResetService) ResetPassword(ctx context.Context, input ResetPasswordInput) (*PasswordResetResult, error) {
	email := strings.TrimSpace(input.Email)
	if email == "" {
		return nil, validationError("email is required")
	}
	presented, ok := input.ResetToken.Get()
	if !ok {
		return nil, validationError("reset token is required")
	}
	if input.NewPassword == "" {
		return nil, validationError("new password is required")
	}

	user, err := s.users.GetByNormalizedEmail(ctx, domain.NormalizeIdentifier(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, s.rejectReset()
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user.IsDeleted {
		return nil, s.rejectReset()
	}

	now := s.clock.Now().UTC()
	if !resetTokenMatches(user, presented, now) {
		return nil, s.rejectReset()
	}

	if err := s.policy.Validate(input.NewPassword, user.Username, user.Email); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPasswordPolicyViolation, err)
	}

	passwordHash, err := s.hasher.Hash(input.NewPassword)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, passwordHash, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, s.rejectReset()
		}
		return nil, fmt.Errorf("update password: %w", err)
	}

	revoked := 0
	if s.sessions != nil {
		count, err := s.sessions.RevokeAllForUser(ctx, user.ID, now)
		if err != nil {
			s.logger.Warn("revoke sessions after password reset", zap.String("user_id", user.ID), zap.Error(err))
		}
		revoked = count
	}

	s.metrics.PasswordReset(outcomeSuccess)
	s.logger.Info("password reset completed", zap.String("user_id", user.ID), zap.Int("sessions_revoked", revoked))

	if s.events != nil {
		event := domain.PasswordChangedEvent{
			EventID:         uuid.NewString(),
			UserID:          user.ID,
			ChangedAt:       now,
			Reason:          passwordResetReason,
			SessionsRevoked: revoked,
		}
		if err := s.events.PublishPasswordChanged(ctx, event); err != nil {
			s.logger.Warn("publish password changed event", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	return &PasswordResetResult{UserID: user.ID, ChangedAt: now, SessionsRevoked: revoked}, nil
}

func (s *PasswordResetService) rejectReset() error {
	s.metrics.PasswordReset(outcomeFailure)
	return ErrPasswordResetTokenInvalid
}

func resetTokenMatches(user *domain.User, presented string, now time.Time) bool {
	if user.PasswordResetToken == nil || *user.PasswordResetToken == "" || presented == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(*user.PasswordResetToken)) != 1 {
		return false
	}
	if expiresAt := user.PasswordResetTokenExpiresAt; expiresAt != nil && now.After(*expiresAt) {
		return false
	}
	return true
}
