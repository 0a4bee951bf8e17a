package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/identity-link-service/internal/core/domain"
	"github.com/arklim/identity-link-service/internal/infra/logger"
	"github.com/arklim/identity-link-service/internal/usecase"
)

// Authenticator is the subset of usecase.AuthService used by the handlers.
type Authenticator interface {
	Login(ctx context.Context, input usecase.LoginInput) (*usecase.AuthResult, error)
	RefreshToken(ctx context.Context, input usecase.RefreshInput) (*usecase.AuthResult, error)
	Logout(ctx context.Context, refreshToken string) error
}

// Registrar creates local accounts.
type Registrar interface {
	Register(ctx context.Context, input usecase.RegisterInput) (string, error)
}

// PasswordResetter issues reset tokens and applies new passwords.
type PasswordResetter interface {
	RequestReset(ctx context.Context, email string) (*usecase.ResetRequestResult, error)
	ResetPassword(ctx context.Context, input usecase.ResetPasswordInput) (*usecase.PasswordResetResult, error)
}

const passwordResetAcceptedMessage = "if the account exists, a reset token has been sent"

var (
	loginErrorCases = []ErrorCase{
		{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: usecase.ErrInvalidCredentials.Error()},
		{Err: usecase.ErrValidation, Status: http.StatusBadRequest, Message: "invalid login payload"},
		{Err: usecase.ErrAuthUnavailable, Status: http.StatusServiceUnavailable, Message: "authentication temporarily unavailable"},
	}

	refreshErrorCases = []ErrorCase{
		{Err: usecase.ErrInvalidRefreshToken, Status: http.StatusUnauthorized, Message: usecase.ErrInvalidRefreshToken.Error()},
		{Err: usecase.ErrValidation, Status: http.StatusBadRequest, Message: "invalid refresh payload"},
		{Err: usecase.ErrAuthUnavailable, Status: http.StatusServiceUnavailable, Message: "authentication temporarily unavailable"},
	}

	registrationErrorCases = []ErrorCase{
		{Err: usecase.ErrUsernameTaken, Status: http.StatusConflict, Message: usecase.ErrUsernameTaken.Error()},
		{Err: usecase.ErrEmailTaken, Status: http.StatusConflict, Message: usecase.ErrEmailTaken.Error()},
		{Err: usecase.ErrPasswordPolicyViolation, Status: http.StatusBadRequest, Message: "password does not meet requirements"},
		{Err: usecase.ErrValidation, Status: http.StatusBadRequest, Message: "invalid registration payload"},
	}

	resetErrorCases = []ErrorCase{
		{Err: usecase.ErrPasswordResetTokenInvalid, Status: http.StatusBadRequest, Message: "invalid or expired reset token"},
		{Err: usecase.ErrPasswordPolicyViolation, Status: http.StatusBadRequest, Message: "password does not meet requirements"},
		{Err: usecase.ErrValidation, Status: http.StatusBadRequest, Message: "invalid password reset payload"},
	}
)

// AuthHandler exposes authentication endpoints.
type AuthHandler struct {
	auth         Authenticator
	registration Registrar
	reset        PasswordResetter
	dispatcher   NotificationDispatcher
	logger       *zap.Logger
	isDev        bool
	now          func() time.Time
}

// AuthHandlerOption configures optional AuthHandler dependencies.
type AuthHandlerOption func(*AuthHandler)

// WithRegistrationService injects the registration service dependency.
func WithRegistrationService(registration Registrar) AuthHandlerOption {
	return func(h *AuthHandler) {
		h.registration = registration
	}
}

// WithPasswordResetService injects the password reset service dependency.
func WithPasswordResetService(reset PasswordResetter) AuthHandlerOption {
	return func(h *AuthHandler) {
		h.reset = reset
	}
}

// WithNotificationDispatcher injects the dispatcher used to deliver reset tokens.
func WithNotificationDispatcher(dispatcher NotificationDispatcher) AuthHandlerOption {
	return func(h *AuthHandler) {
		if dispatcher == nil {
			dispatcher = noopDispatcher{}
		}
		h.dispatcher = dispatcher
	}
}

// WithDevMode toggles development-only behaviour (e.g. returning reset tokens).
func WithDevMode(isDev bool) AuthHandlerOption {
	return func(h *AuthHandler) {
		h.isDev = isDev
	}
}

// WithLogger sets the handler logger.
func WithLogger(log *zap.Logger) AuthHandlerOption {
	return func(h *AuthHandler) {
		if log != nil {
			h.logger = log
		}
	}
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth Authenticator, opts ...AuthHandlerOption) *AuthHandler {
	handler := &AuthHandler{
		auth:       auth,
		dispatcher: noopDispatcher{},
		logger:     zap.NewNop(),
		now:        time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(handler)
		}
	}

	return handler
}

// RouteLimits holds the middlewares run ahead of the abuse-prone endpoints.
type RouteLimits struct {
	Login         []gin.HandlerFunc
	Register      []gin.HandlerFunc
	Refresh       []gin.HandlerFunc
	PasswordReset []gin.HandlerFunc
}

// RegisterRoutes binds authentication routes under r.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, limits RouteLimits) {
	r.POST("/register", chain(limits.Register, h.register)...)
	r.POST("/login", chain(limits.Login, h.login)...)
	r.POST("/refresh", chain(limits.Refresh, h.refresh)...)
	r.POST("/logout", h.logout)
	r.POST("/reset-password/request", chain(limits.PasswordReset, h.requestPasswordReset)...)
	r.POST("/reset-password", chain(limits.PasswordReset, h.resetPassword)...)
}

func chain(middlewares []gin.HandlerFunc, handler gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(middlewares)+1)
	out = append(out, middlewares...)
	return append(out, handler)
}

func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	result, err := h.auth.Login(c.Request.Context(), usecase.LoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
		DeviceName: strings.TrimSpace(req.DeviceName),
	})
	if err != nil {
		RespondWithMappedError(c, err, loginErrorCases, http.StatusInternalServerError, "failed to login")
		return
	}

	c.JSON(http.StatusOK, newTokenResponse(result, h.now()))
}

func (h *AuthHandler) register(c *gin.Context) {
	if h.registration == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "registration service unavailable"))
		return
	}

	var req RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid registration payload"))
		return
	}

	userID, err := h.registration.Register(c.Request.Context(), usecase.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		RespondWithMappedError(c, err, registrationErrorCases, http.StatusInternalServerError, "failed to register user")
		return
	}

	c.JSON(http.StatusCreated, RegistrationResponse{UserID: userID})
}

func (h *AuthHandler) refresh(c *gin.Context) {
	var req TokenRefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid refresh payload"))
		return
	}

	result, err := h.auth.RefreshToken(c.Request.Context(), usecase.RefreshInput{
		RefreshToken: req.RefreshToken,
		IPAddress:    c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
	})
	if err != nil {
		RespondWithMappedError(c, err, refreshErrorCases, http.StatusInternalServerError, "failed to refresh token")
		return
	}

	c.JSON(http.StatusOK, newTokenResponse(result, h.now()))
}

func (h *AuthHandler) logout(c *gin.Context) {
	var req LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid logout payload"))
		return
	}

	if err := h.auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to logout"))
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) requestPasswordReset(c *gin.Context) {
	if h.reset == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "password reset unavailable"))
		return
	}

	var req PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid password reset payload"))
		return
	}

	result, err := h.reset.RequestReset(c.Request.Context(), req.Email)
	if err != nil {
		RespondWithMappedError(c, err, resetErrorCases, http.StatusInternalServerError, "failed to request password reset")
		return
	}

	resp := PasswordResetRequestResponse{Message: passwordResetAcceptedMessage}
	if result.Token != "" {
		h.dispatchReset(c.Request.Context(), req.Email, result)
		if h.isDev {
			token := result.Token
			resp.DevToken = &token
		}
	}

	c.JSON(http.StatusAccepted, resp)
}

func (h *AuthHandler) resetPassword(c *gin.Context) {
	if h.reset == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "password reset unavailable"))
		return
	}

	var req PasswordResetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid password reset payload"))
		return
	}

	token := domain.None[string]()
	if req.ResetToken != nil {
		token = domain.Some(*req.ResetToken)
	}

	result, err := h.reset.ResetPassword(c.Request.Context(), usecase.ResetPasswordInput{
		Email:       req.Email,
		ResetToken:  token,
		NewPassword: req.NewPassword,
	})
	if err != nil {
		RespondWithMappedError(c, err, resetErrorCases, http.StatusInternalServerError, "failed to reset password")
		return
	}

	c.JSON(http.StatusOK, PasswordResetConfirmResponse{
		Message:         "password updated",
		SessionsRevoked: result.SessionsRevoked,
	})
}

func (h *AuthHandler) dispatchReset(ctx context.Context, email string, result *usecase.ResetRequestResult) {
	err := h.dispatcher.SendPasswordReset(ctx, PasswordResetNotification{
		UserID:  result.UserID,
		Email:   email,
		Token:   result.Token,
		Expires: result.ExpiresAt,
	})
	if err != nil {
		logger.FromContext(ctx, h.logger).Warn("password reset dispatch failed",
			zap.String("user_id", result.UserID),
			zap.Error(err))
	}
}
