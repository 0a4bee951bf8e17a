package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/identity-link-service/internal/infra/logger"
)

// NotificationDispatcher delivers password reset tokens to the account owner.
type NotificationDispatcher interface {
	SendPasswordReset(ctx context.Context, payload PasswordResetNotification) error
}

// PasswordResetNotification captures data needed to deliver a reset token.
type PasswordResetNotification struct {
	UserID  string
	Email   string
	Token   string
	Expires time.Time
}

type noopDispatcher struct{}

func (noopDispatcher) SendPasswordReset(context.Context, PasswordResetNotification) error {
	return nil
}

// LoggingNotificationDispatcher records dispatch events without delivering them.
// The token itself is only logged in development.
type LoggingNotificationDispatcher struct {
	logger     *zap.Logger
	logSecrets bool
}

// NewLoggingNotificationDispatcher constructs a notification dispatcher backed by structured logging.
func NewLoggingNotificationDispatcher(log *zap.Logger, logSecrets bool) NotificationDispatcher {
	if log == nil {
		return noopDispatcher{}
	}
	return &LoggingNotificationDispatcher{logger: log, logSecrets: logSecrets}
}

func (d *LoggingNotificationDispatcher) SendPasswordReset(ctx context.Context, payload PasswordResetNotification) error {
	fields := []zap.Field{
		zap.String("user_id", payload.UserID),
		zap.String("email", logger.MaskEmail(payload.Email)),
		zap.Time("expires_at", payload.Expires),
	}
	if d.logSecrets && payload.Token != "" {
		fields = append(fields, zap.String("dev_token", payload.Token))
	}

	logger.FromContext(ctx, d.logger).Info("dispatch password reset", fields...)
	return nil
}
