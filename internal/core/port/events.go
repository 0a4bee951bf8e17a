package port

import (
	"context"

	"github.com/arklim/identity-link-service/internal/core/domain"
)

// EventPublisher publishes domain events to the message bus.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, event domain.UserRegisteredEvent) error
	PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error
	PublishLoginFailed(ctx context.Context, event domain.LoginFailedEvent) error
	PublishExternalAccountLinked(ctx context.Context, event domain.ExternalAccountLinkedEvent) error
	PublishExternalAccountUnlinked(ctx context.Context, event domain.ExternalAccountUnlinkedEvent) error
}
