package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/identity-link-service/internal/core/domain"
	"github.com/arklim/identity-link-service/internal/transport/http/middleware"
	"github.com/arklim/identity-link-service/internal/usecase"
)

// ExternalLinker is the subset of usecase.ExternalLinkService used by the handlers.
type ExternalLinker interface {
	Start(ctx context.Context, userID, provider string) (*usecase.StartLinkResult, error)
	Complete(ctx context.Context, input usecase.CompleteLinkInput) (*usecase.CompleteLinkResult, error)
	Unlink(ctx context.Context, userID, provider string) error
	ListLinks(ctx context.Context, userID string) ([]domain.ExternalIdentity, error)
}

var externalLinkErrorCases = []ErrorCase{
	{Err: usecase.ErrInvalidLinkState, Status: http.StatusBadRequest, Message: "invalid or expired link state"},
	{Err: usecase.ErrStateReplayed, Status: http.StatusBadRequest, Message: "invalid or expired link state"},
	{Err: usecase.ErrStateUserMismatch, Status: http.StatusBadRequest, Message: "invalid or expired link state"},
	{Err: usecase.ErrProviderMismatch, Status: http.StatusBadRequest, Message: usecase.ErrProviderMismatch.Error()},
	{Err: usecase.ErrProviderNotSupported, Status: http.StatusNotFound, Message: usecase.ErrProviderNotSupported.Error()},
	{Err: usecase.ErrAlreadyLinkedToAnotherUser, Status: http.StatusConflict, Message: usecase.ErrAlreadyLinkedToAnotherUser.Error()},
	{Err: usecase.ErrDifferentAccountLinked, Status: http.StatusConflict, Message: usecase.ErrDifferentAccountLinked.Error()},
	{Err: usecase.ErrRefreshTokenRequired, Status: http.StatusUnprocessableEntity, Message: usecase.ErrRefreshTokenRequired.Error()},
	{Err: usecase.ErrMissingAccessToken, Status: http.StatusBadGateway, Message: usecase.ErrProviderError.Error()},
	{Err: usecase.ErrMissingSubject, Status: http.StatusBadGateway, Message: usecase.ErrProviderError.Error()},
	{Err: usecase.ErrProviderError, Status: http.StatusBadGateway, Message: usecase.ErrProviderError.Error()},
	{Err: usecase.ErrLinkNotFound, Status: http.StatusNotFound, Message: usecase.ErrLinkNotFound.Error()},
	{Err: usecase.ErrUserInactive, Status: http.StatusForbidden, Message: usecase.ErrUserInactive.Error()},
	{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: usecase.ErrUserNotFound.Error()},
	{Err: usecase.ErrValidation, Status: http.StatusBadRequest, Message: "invalid external link request"},
}

// ExternalLinkHandler exposes the external account linking endpoints. Every route expects
// RequireAuth to have run.
type ExternalLinkHandler struct {
	links ExternalLinker
}

// NewExternalLinkHandler constructs ExternalLinkHandler.
func NewExternalLinkHandler(links ExternalLinker) *ExternalLinkHandler {
	return &ExternalLinkHandler{links: links}
}

// RegisterRoutes binds the link routes under r.
func (h *ExternalLinkHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("", h.list)
	r.POST("/:provider/start", h.start)
	r.POST("/:provider/complete", h.complete)
	r.DELETE("/:provider", h.unlink)
}

func (h *ExternalLinkHandler) list(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	identities, err := h.links.ListLinks(c.Request.Context(), userID)
	if err != nil {
		RespondWithMappedError(c, err, externalLinkErrorCases, http.StatusInternalServerError, "failed to list external links")
		return
	}

	resp := ExternalLinksResponse{Links: make([]ExternalLinkResponse, 0, len(identities))}
	for _, identity := range identities {
		resp.Links = append(resp.Links, newExternalLinkResponse(identity))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ExternalLinkHandler) start(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	result, err := h.links.Start(c.Request.Context(), userID, c.Param("provider"))
	if err != nil {
		RespondWithMappedError(c, err, externalLinkErrorCases, http.StatusInternalServerError, "failed to start external link")
		return
	}

	c.JSON(http.StatusOK, StartLinkResponse{
		AuthorizationURL: result.AuthorizationURL,
		State:            result.State,
		ExpiresAt:        result.ExpiresAt,
	})
}

func (h *ExternalLinkHandler) complete(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req CompleteLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid external link payload"))
		return
	}

	result, err := h.links.Complete(c.Request.Context(), usecase.CompleteLinkInput{
		UserID:   userID,
		Provider: c.Param("provider"),
		Code:     req.Code,
		State:    req.State,
	})
	if err != nil {
		RespondWithMappedError(c, err, externalLinkErrorCases, http.StatusInternalServerError, "failed to complete external link")
		return
	}

	c.JSON(http.StatusOK, CompleteLinkResponse{
		Link:     newExternalLinkResponse(result.Identity),
		Relinked: result.Relinked,
	})
}

func (h *ExternalLinkHandler) unlink(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	if err := h.links.Unlink(c.Request.Context(), userID, c.Param("provider")); err != nil {
		RespondWithMappedError(c, err, externalLinkErrorCases, http.StatusInternalServerError, "failed to unlink external account")
		return
	}

	c.Status(http.StatusNoContent)
}

func requireUser(c *gin.Context) (string, bool) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok || userID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return "", false
	}
	return userID, true
}
