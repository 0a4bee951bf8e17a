package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/identity-link-service/internal/core/domain"
	"github.com/arklim/identity-link-service/internal/core/port"
	"github.com/arklim/identity-link-service/internal/infra/logger"
)

// StubPublisher logs events instead of sending them to Kafka. Used when no brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(log *zap.Logger) *StubPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &StubPublisher{logger: log}
}

func (p *StubPublisher) logEvent(eventType, userID string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	base := []zap.Field{
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
	}
	p.logger.Info("Stub event published", append(base, fields...)...)
}

// PublishUserRegistered logs iam.user.registered events.
func (p *StubPublisher) PublishUserRegistered(_ context.Context, event domain.UserRegisteredEvent) error {
	p.logEvent(EventUserRegistered, event.UserID, event.RegisteredAt,
		zap.String("username", event.Username),
		zap.String("email", logger.MaskEmail(event.Email)),
	)
	return nil
}

// PublishPasswordChanged logs iam.user.password.changed events.
func (p *StubPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	p.logEvent(EventPasswordChanged, event.UserID, event.ChangedAt,
		zap.String("reason", event.Reason),
		zap.Int("sessions_revoked", event.SessionsRevoked),
	)
	return nil
}

// PublishLoginFailed logs iam.auth.login_failed events.
func (p *StubPublisher) PublishLoginFailed(_ context.Context, event domain.LoginFailedEvent) error {
	userID := ""
	if event.UserID != nil {
		userID = *event.UserID
	}
	ip := ""
	if event.IPAddress != nil {
		ip = logger.MaskIP(*event.IPAddress)
	}
	p.logEvent(EventLoginFailed, userID, event.AttemptedAt,
		zap.String("reason", event.Reason),
		zap.Int("access_failed_count", event.AccessFailedCount),
		zap.String("ip_address", ip),
	)
	return nil
}

// PublishExternalAccountLinked logs iam.external.linked events.
func (p *StubPublisher) PublishExternalAccountLinked(_ context.Context, event domain.ExternalAccountLinkedEvent) error {
	p.logEvent(EventExternalAccountLinked, event.UserID, event.LinkedAt,
		zap.String("provider", event.Provider),
		zap.Bool("relinked", event.Relinked),
	)
	return nil
}

// PublishExternalAccountUnlinked logs iam.external.unlinked events.
func (p *StubPublisher) PublishExternalAccountUnlinked(_ context.Context, event domain.ExternalAccountUnlinkedEvent) error {
	p.logEvent(EventExternalAccountUnlinked, event.UserID, event.UnlinkedAt,
		zap.String("provider", event.Provider),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
