package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/identity-link-service/internal/core/domain"
	"github.com/arklim/identity-link-service/internal/core/port"
	"github.com/arklim/identity-link-service/internal/infra/logger"
	"github.com/arklim/identity-link-service/internal/infra/security"
	"github.com/arklim/identity-link-service/internal/repository"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 64
	maxEmailLength    = 254
)

// RegisterInput describes a new local account.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// RegistrationService handles new account onboarding.
type RegistrationService struct {
	users   port.UserRepository
	hasher  port.PasswordHasher
	policy  port.PasswordStrengthValidator
	clock   port.Clock
	events  port.EventPublisher
	metrics AuthMetricsRecorder
	logger  *zap.Logger
}

// NewRegistrationService constructs a registration service.
func NewRegistrationService(users port.UserRepository, hasher port.PasswordHasher, policy port.PasswordStrengthValidator, clock port.Clock, log *zap.Logger) *RegistrationService {
	if policy == nil {
		policy = security.NewPasswordPolicy(security.DefaultPasswordPolicyConfig())
	}
	if clock == nil {
		clock = security.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RegistrationService{
		users:   users,
		hasher:  hasher,
		policy:  policy,
		clock:   clock,
		metrics: noopMetrics{},
		logger:  log,
	}
}

// WithEvents attaches the publisher used for iam.user.registered.
func (s *RegistrationService) WithEvents(events port.EventPublisher) *RegistrationService {
	s.events = events
	return s
}

// WithMetrics attaches an outcome recorder.
func (s *RegistrationService) WithMetrics(metrics AuthMetricsRecorder) *RegistrationService {
	if metrics != nil {
		s.metrics = metrics
	}
	return s
}

// Register creates a user and returns its id. Duplicate usernames and emails are compared in
// normalized form; the storage unique constraints settle concurrent registrations.
func (s *RegistrationService) Register(ctx context.Context, input RegisterInput) (string, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.TrimSpace(input.Email)

	if err := validateUsername(username); err != nil {
		return "", err
	}
	if err := validateEmail(email); err != nil {
		return "", err
	}
	if input.Password == "" {
		return "", validationError("password is required")
	}
	if err := s.policy.Validate(input.Password, username, email); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPasswordPolicyViolation, err)
	}

	normalizedUsername := domain.NormalizeIdentifier(username)
	normalizedEmail := domain.NormalizeIdentifier(email)

	exists, err := s.users.ExistsByNormalizedUsername(ctx, normalizedUsername)
	if err != nil {
		return "", fmt.Errorf("check username: %w", err)
	}
	if exists {
		return "", ErrUsernameTaken
	}
	exists, err = s.users.ExistsByNormalizedEmail(ctx, normalizedEmail)
	if err != nil {
		return "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return "", ErrEmailTaken
	}

	passwordHash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	now := s.clock.Now().UTC()
	user := domain.User{
		ID:                 uuid.NewString(),
		Username:           username,
		NormalizedUsername: normalizedUsername,
		Email:              email,
		NormalizedEmail:    normalizedEmail,
		PasswordHash:       &passwordHash,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return "", registrationConflict(err)
		}
		return "", fmt.Errorf("create user: %w", err)
	}

	s.metrics.Registered()
	s.logger.Info("user registered",
		zap.String("user_id", user.ID),
		zap.String("email", logger.MaskEmail(email)),
	)

	if s.events != nil {
		event := domain.UserRegisteredEvent{
			EventID:      uuid.NewString(),
			UserID:       user.ID,
			Username:     user.Username,
			Email:        user.Email,
			RegisteredAt: now,
		}
		if err := s.events.PublishUserRegistered(ctx, event); err != nil {
			s.logger.Warn("publish user registered event", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	return user.ID, nil
}

func registrationConflict(err error) error {
	constraint, _ := repository.ConstraintOf(err)
	switch constraint {
	case repository.ConstraintUsersNormalizedUsername:
		return ErrUsernameTaken
	case repository.ConstraintUsersNormalizedEmail:
		return ErrEmailTaken
	default:
		return fmt.Errorf("create user: %w", err)
	}
}

func validateUsername(username string) error {
	length := len([]rune(username))
	if length < minUsernameLength || length > maxUsernameLength {
		return validationError("username must be between %d and %d characters", minUsernameLength, maxUsernameLength)
	}
	for _, r := range username {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '@' {
			return validationError("username contains invalid characters")
		}
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return validationError("email is required")
	}
	if len(email) > maxEmailLength {
		return validationError("email is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return validationError("email is invalid")
	}
	return nil
}
