package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/arklim/identity-link-service/internal/core/domain"
	"github.com/arklim/identity-link-service/internal/core/port"
	"github.com/arklim/identity-link-service/internal/infra/config"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxProfileBytes    = 1 << 20
)

var (
	// ErrProviderNotConfigured indicates no settings exist for the requested provider.
	ErrProviderNotConfigured = errors.New("oauth provider not configured")
	// ErrProviderRequestFailed indicates the provider rejected or failed a token or profile call.
	ErrProviderRequestFailed = errors.New("oauth provider request failed")
)

type provider struct {
	oauth       *oauth2.Config
	userInfoURL string
}

// Client talks to OAuth2 providers configured under external_providers.
type Client struct {
	providers  map[string]provider
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a client for every provider with a client id and token endpoint.
// Providers missing either are skipped and reported as not configured on use.
func NewClient(settings map[string]config.ProviderSettings, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	providers := make(map[string]provider, len(settings))
	for name, s := range settings {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || strings.TrimSpace(s.ClientID) == "" || strings.TrimSpace(s.TokenURL) == "" {
			logger.Warn("skipping incomplete oauth provider", zap.String("provider", name))
			continue
		}
		providers[name] = provider{
			oauth: &oauth2.Config{
				ClientID:     strings.TrimSpace(s.ClientID),
				ClientSecret: strings.TrimSpace(s.ClientSecret),
				RedirectURL:  strings.TrimSpace(s.RedirectURI),
				Scopes:       s.Scopes,
				Endpoint: oauth2.Endpoint{
					AuthURL:   strings.TrimSpace(s.AuthURL),
					TokenURL:  strings.TrimSpace(s.TokenURL),
					AuthStyle: oauth2.AuthStyleInParams,
				},
			},
			userInfoURL: strings.TrimSpace(s.UserInfoURL),
		}
	}

	return &Client{providers: providers, httpClient: httpClient, logger: logger}
}

// AuthorizationURL builds the consent redirect. Offline access is always requested
// so the provider returns a refresh token.
func (c *Client) AuthorizationURL(p domain.ExternalProvider, state string) (string, error) {
	cfg, err := c.provider(p)
	if err != nil {
		return "", err
	}
	if cfg.oauth.Endpoint.AuthURL == "" {
		return "", fmt.Errorf("%w: %s has no authorization endpoint", ErrProviderNotConfigured, p)
	}

	return cfg.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent")), nil
}

// ExchangeCode redeems an authorization code at the token endpoint.
func (c *Client) ExchangeCode(ctx context.Context, p domain.ExternalProvider, code string) (*domain.ProviderTokens, error) {
	cfg, err := c.provider(p)
	if err != nil {
		return nil, err
	}

	ctx, recorder := c.tokenContext(ctx)
	token, err := cfg.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, c.tokenError(p, "exchange code", err)
	}
	return toProviderTokens(token, recorder.body), nil
}

// RefreshAccessToken obtains a new access token with the refresh_token grant.
func (c *Client) RefreshAccessToken(ctx context.Context, p domain.ExternalProvider, refreshToken string) (*domain.ProviderTokens, error) {
	cfg, err := c.provider(p)
	if err != nil {
		return nil, err
	}

	ctx, recorder := c.tokenContext(ctx)
	source := cfg.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, c.tokenError(p, "refresh token", err)
	}
	return toProviderTokens(token, recorder.body), nil
}

// FetchProfile reads the user-info endpoint with the bearer access token.
// Field names are matched case-insensitively and the subject is read from "sub", then "id".
func (c *Client) FetchProfile(ctx context.Context, p domain.ExternalProvider, accessToken string) (*domain.ProviderProfile, error) {
	cfg, err := c.provider(p)
	if err != nil {
		return nil, err
	}
	if cfg.userInfoURL == "" {
		return nil, fmt.Errorf("%w: %s has no user info endpoint", ErrProviderNotConfigured, p)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: user info request: %w", ErrProviderRequestFailed, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		c.logger.Warn("oauth user info rejected",
			zap.String("provider", p.String()),
			zap.Int("status", res.StatusCode),
		)
		return nil, fmt.Errorf("%w: user info status %d", ErrProviderRequestFailed, res.StatusCode)
	}

	decoder := json.NewDecoder(io.LimitReader(res.Body, maxProfileBytes))
	decoder.UseNumber()

	var payload map[string]any
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode user info: %v", ErrProviderRequestFailed, err)
	}

	subject := stringField(payload, "sub")
	if subject == "" {
		subject = stringField(payload, "id")
	}

	return &domain.ProviderProfile{
		SubjectID:   subject,
		Email:       stringField(payload, "email"),
		DisplayName: stringField(payload, "name"),
	}, nil
}

// Configured reports whether settings exist for the provider.
func (c *Client) Configured(p domain.ExternalProvider) bool {
	_, ok := c.providers[p.String()]
	return ok
}

func (c *Client) provider(p domain.ExternalProvider) (provider, error) {
	cfg, ok := c.providers[p.String()]
	if !ok {
		return provider{}, fmt.Errorf("%w: %q", ErrProviderNotConfigured, p.String())
	}
	return cfg, nil
}

// tokenContext hands x/oauth2 a copy of the HTTP client whose transport keeps the token
// response body, so fields oauth2.Token does not model can be read case-insensitively.
func (c *Client) tokenContext(ctx context.Context) (context.Context, *bodyRecorder) {
	next := c.httpClient.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	recorder := &bodyRecorder{next: next}
	client := *c.httpClient
	client.Transport = recorder
	return context.WithValue(ctx, oauth2.HTTPClient, &client), recorder
}

type bodyRecorder struct {
	next http.RoundTripper
	body []byte
}

func (r *bodyRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := r.next.RoundTrip(req)
	if err != nil || res.Body == nil {
		return res, err
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, maxProfileBytes))
	res.Body.Close()
	if err != nil {
		return nil, err
	}
	r.body = data
	res.Body = io.NopCloser(bytes.NewReader(data))
	return res, nil
}

func (c *Client) tokenError(p domain.ExternalProvider, op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		c.logger.Warn("oauth token endpoint rejected request",
			zap.String("provider", p.String()),
			zap.String("operation", op),
			zap.Int("status", retrieveErr.Response.StatusCode),
			zap.String("error_code", retrieveErr.ErrorCode),
		)
		return fmt.Errorf("%w: %s: status %d", ErrProviderRequestFailed, op, retrieveErr.Response.StatusCode)
	}
	return fmt.Errorf("%w: %s: %w", ErrProviderRequestFailed, op, err)
}

func toProviderTokens(token *oauth2.Token, body []byte) *domain.ProviderTokens {
	result := &domain.ProviderTokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		result.ExpiresAt = &expiry
	}
	if scope := stringField(tokenFields(body), "scope"); scope != "" {
		result.Scopes = strings.Fields(strings.ReplaceAll(scope, ",", " "))
	}
	return result
}

// tokenFields decodes a token response as JSON, falling back to form encoding.
func tokenFields(body []byte) map[string]any {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err == nil {
		return fields
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil
	}
	fields = make(map[string]any, len(values))
	for key := range values {
		fields[key] = values.Get(key)
	}
	return fields
}

// lookupField prefers an exact key match. Otherwise the first case-insensitive match in
// sorted key order wins, so the result does not depend on map iteration.
func lookupField(fields map[string]any, key string) (any, bool) {
	if value, ok := fields[key]; ok {
		return value, true
	}
	var matches []string
	for candidate := range fields {
		if strings.EqualFold(candidate, key) {
			matches = append(matches, candidate)
		}
	}
	if len(matches) == 0 {
		return nil, false
	}
	sort.Strings(matches)
	return fields[matches[0]], true
}

func stringField(fields map[string]any, key string) string {
	value, _ := lookupField(fields, key)
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

var _ port.ExternalOAuthClient = (*Client)(nil)
