package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/arklim/identity-link-service/internal/infra/config"
	"github.com/arklim/identity-link-service/internal/transport/http/handlers"
	"github.com/arklim/identity-link-service/internal/transport/http/middleware"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Auth          handlers.Authenticator
	Registration  handlers.Registrar
	PasswordReset handlers.PasswordResetter
	ExternalLinks handlers.ExternalLinker
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Services    ServiceSet
	TokenParser middleware.AccessTokenParser
	Dispatcher  handlers.NotificationDispatcher
	Metrics     *middleware.HTTPMetrics
	Gatherer    prometheus.Gatherer
	Database    DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName(deps.Config)))
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(deps.Metrics.Handler())

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)
	r.GET("/metrics", gin.WrapH(metricsHandler(deps.Gatherer)))

	api := r.Group("/api/v1")

	if deps.Services.Auth != nil {
		authHandler := handlers.NewAuthHandler(deps.Services.Auth,
			handlers.WithRegistrationService(deps.Services.Registration),
			handlers.WithPasswordResetService(deps.Services.PasswordReset),
			handlers.WithNotificationDispatcher(deps.Dispatcher),
			handlers.WithDevMode(deps.Config.App.Env == "development"),
			handlers.WithLogger(deps.Logger),
		)
		authHandler.RegisterRoutes(api.Group("/auth"), buildRouteLimits(deps))
	}

	if deps.Services.ExternalLinks != nil && deps.TokenParser != nil {
		externalGroup := api.Group("/external")
		externalGroup.Use(middleware.RequireAuth(deps.TokenParser))
		handlers.NewExternalLinkHandler(deps.Services.ExternalLinks).RegisterRoutes(externalGroup)
	}

	return r
}

func serviceName(cfg *config.AppConfig) string {
	if cfg.Telemetry.ServiceName != "" {
		return cfg.Telemetry.ServiceName
	}
	if cfg.App.Name != "" {
		return cfg.App.Name
	}
	return "identity-link-service"
}

func metricsHandler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func buildRouteLimits(deps Dependencies) handlers.RouteLimits {
	if deps.RateLimiter == nil {
		return handlers.RouteLimits{}
	}

	settings := deps.Config.RateLimit
	window := settings.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	limit := func(name string, max int) []gin.HandlerFunc {
		if max <= 0 {
			return nil
		}
		return []gin.HandlerFunc{deps.RateLimiter.RateLimit(middleware.RateLimitRule{
			Name:       name,
			Limit:      max,
			Window:     window,
			Identifier: middleware.ClientIPIdentifier(),
		})}
	}

	return handlers.RouteLimits{
		Login:         limit("auth_login_ip", settings.LoginMaxAttempts),
		Register:      limit("auth_register_ip", settings.RegisterMaxAttempts),
		Refresh:       limit("auth_refresh_ip", settings.RefreshMaxAttempts),
		PasswordReset: limit("password_reset_ip", settings.PasswordResetMaxAttempts),
	}
}
