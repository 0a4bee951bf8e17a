package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	red "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arklim/identity-link-service/internal/core/domain"
	"github.com/arklim/identity-link-service/internal/infra/config"
	"github.com/arklim/identity-link-service/internal/infra/security"
	redisrepo "github.com/arklim/identity-link-service/internal/repository/redis"
	"github.com/arklim/identity-link-service/internal/transport/http/handlers"
	"github.com/arklim/identity-link-service/internal/transport/http/middleware"
	httproutes "github.com/arklim/identity-link-service/internal/transport/http/routes"
	"github.com/arklim/identity-link-service/internal/usecase"
)

const testSigningKey = "routes-test-signing-key-0123456789"

type fakeAuth struct {
	loginErr  error
	loggedOut []string
}

func (f *fakeAuth) Login(_ context.Context, input usecase.LoginInput) (*usecase.AuthResult, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &usecase.AuthResult{
		UserID:                "user-1",
		AccessToken:           "access",
		AccessTokenExpiresAt:  time.Now().Add(time.Hour),
		RefreshToken:          "refresh-" + input.Identifier,
		RefreshTokenExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

func (f *fakeAuth) RefreshToken(context.Context, usecase.RefreshInput) (*usecase.AuthResult, error) {
	return nil, usecase.ErrInvalidRefreshToken
}

func (f *fakeAuth) Logout(_ context.Context, token string) error {
	f.loggedOut = append(f.loggedOut, token)
	return nil
}

type fakeRegistrar struct {
	err error
}

func (f fakeRegistrar) Register(context.Context, usecase.RegisterInput) (string, error) {
	return "user-new", f.err
}

type fakeResetter struct {
	lastInput usecase.ResetPasswordInput
	token     string
}

func (f *fakeResetter) RequestReset(context.Context, string) (*usecase.ResetRequestResult, error) {
	return &usecase.ResetRequestResult{UserID: "user-1", Token: f.token, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeResetter) ResetPassword(_ context.Context, input usecase.ResetPasswordInput) (*usecase.PasswordResetResult, error) {
	f.lastInput = input
	if _, ok := input.ResetToken.Get(); !ok {
		return nil, usecase.ErrValidation
	}
	return &usecase.PasswordResetResult{UserID: "user-1", SessionsRevoked: 2}, nil
}

type fakeLinker struct {
	completeErr error
	startedFor  string
}

func (f *fakeLinker) Start(_ context.Context, userID, provider string) (*usecase.StartLinkResult, error) {
	f.startedFor = userID
	if provider != "google" {
		return nil, usecase.ErrProviderNotSupported
	}
	return &usecase.StartLinkResult{AuthorizationURL: "https://accounts.example.com/auth?state=s", State: "s"}, nil
}

func (f *fakeLinker) Complete(context.Context, usecase.CompleteLinkInput) (*usecase.CompleteLinkResult, error) {
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	provider, _ := domain.NewExternalProvider("google")
	subject, _ := domain.NewExternalSubjectID("sub-1")
	return &usecase.CompleteLinkResult{Identity: domain.ExternalIdentity{Provider: provider, SubjectID: subject}}, nil
}

func (f *fakeLinker) Unlink(context.Context, string, string) error {
	return usecase.ErrLinkNotFound
}

func (f *fakeLinker) ListLinks(context.Context, string) ([]domain.ExternalIdentity, error) {
	return nil, nil
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error {
	return errors.New("connection refused")
}

type testServer struct {
	engine   *gin.Engine
	auth     *fakeAuth
	resetter *fakeResetter
	linker   *fakeLinker
	issuer   *security.JWTIssuer
}

func newTestServer(t *testing.T, mutate func(*httproutes.Dependencies)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)

	issuer := security.NewJWTIssuer(security.JWTConfig{SigningKey: testSigningKey}, nil)
	srv := &testServer{
		auth:     &fakeAuth{},
		resetter: &fakeResetter{token: "reset-token"},
		linker:   &fakeLinker{},
		issuer:   issuer,
	}

	deps := httproutes.Dependencies{
		Config: &config.AppConfig{App: config.AppSettings{Env: "test"}},
		Logger: zap.NewNop(),
		Services: httproutes.ServiceSet{
			Auth:          srv.auth,
			Registration:  fakeRegistrar{},
			PasswordReset: srv.resetter,
			ExternalLinks: srv.linker,
		},
		TokenParser: issuer,
		Metrics:     metrics,
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv.engine = httproutes.Register(deps)
	return srv
}

func (s *testServer) do(t *testing.T, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()

	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.10:40000"
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rr := httptest.NewRecorder()
	s.engine.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) accessToken(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := s.issuer.Issue(domain.User{ID: userID, Username: "alice"}, domain.AccessGrants{})
	require.NoError(t, err)
	return token
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	rr := srv.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(middleware.RequestIDHeader))
}

func TestReadinessReportsFailingDependency(t *testing.T) {
	srv := newTestServer(t, func(d *httproutes.Dependencies) {
		d.Database = failingPinger{}
	})

	rr := srv.do(t, http.MethodGet, "/readyz", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var resp handlers.ReadyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "unavailable", resp.Checks["database"])
}

func TestLoginFailureUsesGenericMessage(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.auth.loginErr = usecase.ErrInvalidCredentials

	rr := srv.do(t, http.MethodPost, "/api/v1/auth/login", handlers.LoginRequest{Identifier: "alice", Password: "nope"}, "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	var resp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "invalid username or password", resp.Error)
	assert.NotEmpty(t, resp.TraceID)
}

func TestLoginSuccessReturnsTokens(t *testing.T) {
	srv := newTestServer(t, nil)

	rr := srv.do(t, http.MethodPost, "/api/v1/auth/login", handlers.LoginRequest{Identifier: "alice", Password: "pw"}, "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp handlers.TokenResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, "refresh-alice", resp.RefreshToken)
	assert.Positive(t, resp.ExpiresIn)
}

func TestRegisterConflictMapsTo409(t *testing.T) {
	srv := newTestServer(t, func(d *httproutes.Dependencies) {
		d.Services.Registration = fakeRegistrar{err: usecase.ErrEmailTaken}
	})

	rr := srv.do(t, http.MethodPost, "/api/v1/auth/register",
		handlers.RegistrationRequest{Username: "bob", Email: "bob@example.com", Password: "Str0ng!pass"}, "")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestResetPasswordDistinguishesMissingToken(t *testing.T) {
	srv := newTestServer(t, nil)

	rr := srv.do(t, http.MethodPost, "/api/v1/auth/reset-password",
		map[string]string{"email": "alice@example.com", "new_password": "N3w!password"}, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.False(t, srv.resetter.lastInput.ResetToken.Set)

	rr = srv.do(t, http.MethodPost, "/api/v1/auth/reset-password",
		map[string]string{"email": "alice@example.com", "reset_token": "", "new_password": "N3w!password"}, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, srv.resetter.lastInput.ResetToken.Set)
}

func TestResetRequestHidesTokenOutsideDevelopment(t *testing.T) {
	srv := newTestServer(t, nil)

	rr := srv.do(t, http.MethodPost, "/api/v1/auth/reset-password/request", handlers.PasswordResetRequest{Email: "alice@example.com"}, "")
	require.Equal(t, http.StatusAccepted, rr.Code)

	var resp handlers.PasswordResetRequestResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Nil(t, resp.DevToken)
}

func TestExternalRoutesRequireBearerToken(t *testing.T) {
	srv := newTestServer(t, nil)

	rr := srv.do(t, http.MethodPost, "/api/v1/external/google/start", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, srv.linker.startedFor)
}

func TestExternalStartUsesAuthenticatedUser(t *testing.T) {
	srv := newTestServer(t, nil)
	token := srv.accessToken(t, "user-77")

	rr := srv.do(t, http.MethodPost, "/api/v1/external/google/start", nil, token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "user-77", srv.linker.startedFor)

	var resp handlers.StartLinkResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "s", resp.State)

	rr = srv.do(t, http.MethodPost, "/api/v1/external/github/start", nil, token)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestExternalCompleteErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{usecase.ErrAlreadyLinkedToAnotherUser, http.StatusConflict},
		{usecase.ErrDifferentAccountLinked, http.StatusConflict},
		{usecase.ErrInvalidLinkState, http.StatusBadRequest},
		{usecase.ErrProviderMismatch, http.StatusBadRequest},
		{usecase.ErrRefreshTokenRequired, http.StatusUnprocessableEntity},
		{usecase.ErrProviderError, http.StatusBadGateway},
		{usecase.ErrUserInactive, http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			srv := newTestServer(t, nil)
			srv.linker.completeErr = tc.err

			rr := srv.do(t, http.MethodPost, "/api/v1/external/google/complete",
				handlers.CompleteLinkRequest{Code: "code", State: "state"}, srv.accessToken(t, "user-1"))
			assert.Equal(t, tc.status, rr.Code)
		})
	}
}

func TestUnlinkWithoutLinkIs404(t *testing.T) {
	srv := newTestServer(t, nil)

	rr := srv.do(t, http.MethodDelete, "/api/v1/external/google", nil, srv.accessToken(t, "user-1"))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestLoginIsRateLimitedPerClientIP(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	client := red.NewClient(&red.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	store := redisrepo.NewRateLimitRepository(client, redisrepo.SlidingWindowConfig{KeyPrefix: "test", TTL: time.Hour})
	srv := newTestServer(t, func(d *httproutes.Dependencies) {
		d.RateLimiter = middleware.NewRateLimiter(store, zap.NewNop())
		d.Config.RateLimit = config.RateLimitSettings{WindowDuration: time.Minute, LoginMaxAttempts: 2}
	})

	body := handlers.LoginRequest{Identifier: "alice", Password: "pw"}
	for i := 0; i < 2; i++ {
		rr := srv.do(t, http.MethodPost, "/api/v1/auth/login", body, "")
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := srv.do(t, http.MethodPost, "/api/v1/auth/login", body, "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	// Refresh has no limit configured.
	rr = srv.do(t, http.MethodPost, "/api/v1/auth/refresh", handlers.TokenRefreshRequest{RefreshToken: "x"}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
