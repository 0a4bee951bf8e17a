package domain

import "time"

// UserRegisteredEvent represents the payload for iam.user.registered messages.
type UserRegisteredEvent struct {
	EventID      string
	UserID       string
	Username     string
	Email        string
	RegisteredAt time.Time
}

// PasswordChangedEvent represents the payload for iam.user.password.changed messages.
type PasswordChangedEvent struct {
	EventID         string
	UserID          string
	ChangedAt       time.Time
	Reason          string
	SessionsRevoked int
}

// LoginFailedEvent represents the payload for iam.auth.login_failed messages.
type LoginFailedEvent struct {
	EventID           string
	UserID            *string
	Reason            string
	AccessFailedCount int
	IPAddress         *string
	AttemptedAt       time.Time
}

// ExternalAccountLinkedEvent represents the payload for iam.external.linked messages.
type ExternalAccountLinkedEvent struct {
	EventID   string
	UserID    string
	Provider  string
	SubjectID string
	Relinked  bool
	LinkedAt  time.Time
}

// ExternalAccountUnlinkedEvent represents the payload for iam.external.unlinked messages.
type ExternalAccountUnlinkedEvent struct {
	EventID    string
	UserID     string
	Provider   string
	UnlinkedAt time.Time
}
