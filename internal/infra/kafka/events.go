package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/identity-link-service/internal/core/domain"
	"github.com/arklim/identity-link-service/internal/core/port"
	"github.com/arklim/identity-link-service/internal/infra/config"
)

const schemaVersion = "1.0"

const (
	EventUserRegistered          = "iam.user.registered"
	EventPasswordChanged         = "iam.user.password.changed"
	EventLoginFailed             = "iam.auth.login_failed"
	EventExternalAccountLinked   = "iam.external.linked"
	EventExternalAccountUnlinked = "iam.external.unlinked"
)

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, userID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(eventType)},
			{Key: []byte("event_id"), Value: []byte(id)},
		},
	}
	if userID != "" {
		message.Key = sarama.StringEncoder(userID)
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishUserRegistered publishes iam.user.registered events.
func (p *EventPublisher) PublishUserRegistered(ctx context.Context, event domain.UserRegisteredEvent) error {
	payload := struct {
		UserID       string    `json:"user_id"`
		Username     string    `json:"username"`
		Email        string    `json:"email"`
		RegisteredAt time.Time `json:"registered_at"`
	}{
		UserID:       event.UserID,
		Username:     event.Username,
		Email:        event.Email,
		RegisteredAt: event.RegisteredAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventUserRegistered, event.UserID, event.RegisteredAt, payload)
}

// PublishPasswordChanged publishes iam.user.password.changed events.
func (p *EventPublisher) PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error {
	payload := struct {
		UserID          string    `json:"user_id"`
		ChangedAt       time.Time `json:"changed_at"`
		Reason          string    `json:"reason"`
		SessionsRevoked int       `json:"sessions_revoked"`
	}{
		UserID:          event.UserID,
		ChangedAt:       event.ChangedAt.UTC(),
		Reason:          event.Reason,
		SessionsRevoked: event.SessionsRevoked,
	}

	return p.publish(ctx, event.EventID, EventPasswordChanged, event.UserID, event.ChangedAt, payload)
}

// PublishLoginFailed publishes iam.auth.login_failed events.
func (p *EventPublisher) PublishLoginFailed(ctx context.Context, event domain.LoginFailedEvent) error {
	userID := ""
	if event.UserID != nil {
		userID = *event.UserID
	}

	payload := struct {
		UserID            *string   `json:"user_id,omitempty"`
		Reason            string    `json:"reason"`
		AccessFailedCount int       `json:"access_failed_count"`
		IPAddress         *string   `json:"ip_address,omitempty"`
		AttemptedAt       time.Time `json:"attempted_at"`
	}{
		UserID:            event.UserID,
		Reason:            event.Reason,
		AccessFailedCount: event.AccessFailedCount,
		IPAddress:         event.IPAddress,
		AttemptedAt:       event.AttemptedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventLoginFailed, userID, event.AttemptedAt, payload)
}

// PublishExternalAccountLinked publishes iam.external.linked events.
func (p *EventPublisher) PublishExternalAccountLinked(ctx context.Context, event domain.ExternalAccountLinkedEvent) error {
	payload := struct {
		UserID    string    `json:"user_id"`
		Provider  string    `json:"provider"`
		SubjectID string    `json:"subject_id"`
		Relinked  bool      `json:"relinked"`
		LinkedAt  time.Time `json:"linked_at"`
	}{
		UserID:    event.UserID,
		Provider:  event.Provider,
		SubjectID: event.SubjectID,
		Relinked:  event.Relinked,
		LinkedAt:  event.LinkedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventExternalAccountLinked, event.UserID, event.LinkedAt, payload)
}

// PublishExternalAccountUnlinked publishes iam.external.unlinked events.
func (p *EventPublisher) PublishExternalAccountUnlinked(ctx context.Context, event domain.ExternalAccountUnlinkedEvent) error {
	payload := struct {
		UserID     string    `json:"user_id"`
		Provider   string    `json:"provider"`
		UnlinkedAt time.Time `json:"unlinked_at"`
	}{
		UserID:     event.UserID,
		Provider:   event.Provider,
		UnlinkedAt: event.UnlinkedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventExternalAccountUnlinked, event.UserID, event.UnlinkedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
