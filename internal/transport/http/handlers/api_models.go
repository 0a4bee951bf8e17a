package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/identity-link-service/internal/core/domain"
	"github.com/arklim/identity-link-service/internal/usecase"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// LoginRequest accepts a username or email together with the password.
type LoginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
	DeviceName string `json:"device_name"`
}

// RegistrationRequest describes a new local account.
type RegistrationRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegistrationResponse returns the identifier of the created account.
type RegistrationResponse struct {
	UserID string `json:"user_id"`
}

// TokenRefreshRequest carries the refresh token to rotate.
type TokenRefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// LogoutRequest carries the refresh token whose session should end.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	UserID                string    `json:"user_id"`
	TokenType             string    `json:"token_type"`
	AccessToken           string    `json:"access_token"`
	ExpiresIn             int64     `json:"expires_in"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshToken          string    `json:"refresh_token"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
}

func newTokenResponse(result *usecase.AuthResult, now time.Time) TokenResponse {
	expiresIn := int64(result.AccessTokenExpiresAt.Sub(now).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return TokenResponse{
		UserID:                result.UserID,
		TokenType:             "Bearer",
		AccessToken:           result.AccessToken,
		ExpiresIn:             expiresIn,
		AccessTokenExpiresAt:  result.AccessTokenExpiresAt,
		RefreshToken:          result.RefreshToken,
		RefreshTokenExpiresAt: result.RefreshTokenExpiresAt,
	}
}

// PasswordResetRequest asks for a reset token to be issued for an email.
type PasswordResetRequest struct {
	Email string `json:"email" binding:"required"`
}

// PasswordResetRequestResponse never reveals whether the email is registered.
// DevToken is only populated in development environments.
type PasswordResetRequestResponse struct {
	Message  string  `json:"message"`
	DevToken *string `json:"dev_token,omitempty"`
}

// PasswordResetConfirmRequest applies a new password. ResetToken is a pointer so an omitted
// token can be told apart from a blank one.
type PasswordResetConfirmRequest struct {
	Email       string  `json:"email" binding:"required"`
	ResetToken  *string `json:"reset_token"`
	NewPassword string  `json:"new_password" binding:"required"`
}

// PasswordResetConfirmResponse summarizes a completed reset.
type PasswordResetConfirmResponse struct {
	Message         string `json:"message"`
	SessionsRevoked int    `json:"sessions_revoked"`
}

// StartLinkResponse carries the provider consent redirect.
type StartLinkResponse struct {
	AuthorizationURL string    `json:"authorization_url"`
	State            string    `json:"state"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// CompleteLinkRequest is the provider callback payload.
type CompleteLinkRequest struct {
	Code  string `json:"code" binding:"required"`
	State string `json:"state" binding:"required"`
}

// ExternalLinkResponse describes a stored external identity. No provider tokens are exposed.
type ExternalLinkResponse struct {
	Provider    string    `json:"provider"`
	SubjectID   string    `json:"subject_id"`
	Email       *string   `json:"email,omitempty"`
	DisplayName *string   `json:"display_name,omitempty"`
	LinkedAt    time.Time `json:"linked_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newExternalLinkResponse(identity domain.ExternalIdentity) ExternalLinkResponse {
	return ExternalLinkResponse{
		Provider:    identity.Provider.String(),
		SubjectID:   identity.SubjectID.String(),
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		LinkedAt:    identity.LinkedAt,
		UpdatedAt:   identity.UpdatedAt,
	}
}

// CompleteLinkResponse is returned once the link is stored.
type CompleteLinkResponse struct {
	Link     ExternalLinkResponse `json:"link"`
	Relinked bool                 `json:"relinked"`
}

// ExternalLinksResponse lists a user's external identities.
type ExternalLinksResponse struct {
	Links []ExternalLinkResponse `json:"links"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
