package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arklim/identity-link-service/internal/core/domain"
	"github.com/arklim/identity-link-service/internal/infra/security"
)

func newAuthRouter(parser AccessTokenParser) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(EnrichContext())
	router.GET("/me", RequireAuth(parser), func(c *gin.Context) {
		userID, _ := GetAuthenticatedUserID(c)
		c.String(http.StatusOK, userID)
	})
	return router
}

func getMe(router *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestRequireAuthAcceptsValidBearerToken(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	issuer := security.NewJWTIssuer(security.JWTConfig{
		SigningKey: "0123456789abcdef0123456789abcdef",
		Issuer:     "identity-link-service",
		Audience:   "identity-link-clients",
	}, security.FixedClock(now))

	token, _, err := issuer.Issue(domain.User{ID: "user-42", Username: "alice"}, domain.AccessGrants{})
	require.NoError(t, err)

	rr := getMe(newAuthRouter(issuer), "bearer "+token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "user-42", rr.Body.String())
}

func TestRequireAuthRejectsBadHeaders(t *testing.T) {
	issuer := security.NewJWTIssuer(security.JWTConfig{SigningKey: "0123456789abcdef0123456789abcdef"}, nil)
	router := newAuthRouter(issuer)

	cases := map[string]string{
		"missing header":  "",
		"wrong scheme":    "Basic dXNlcjpwYXNz",
		"empty token":     "Bearer   ",
		"garbage token":   "Bearer not-a-jwt",
		"no token at all": "Bearer",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			rr := getMe(router, header)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.NotEmpty(t, rr.Header().Get(TraceIDHeader))
		})
	}
}

func TestRequireAuthRejectsTokenFromAnotherKey(t *testing.T) {
	other := security.NewJWTIssuer(security.JWTConfig{SigningKey: "ffffffffffffffffffffffffffffffff"}, nil)
	token, _, err := other.Issue(domain.User{ID: "user-1"}, domain.AccessGrants{})
	require.NoError(t, err)

	issuer := security.NewJWTIssuer(security.JWTConfig{SigningKey: "0123456789abcdef0123456789abcdef"}, nil)
	rr := getMe(newAuthRouter(issuer), "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequireAuthWithoutSigningKeyIsUnavailable(t *testing.T) {
	issuer := security.NewJWTIssuer(security.JWTConfig{}, nil)
	rr := getMe(newAuthRouter(issuer), "Bearer a.b.c")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
