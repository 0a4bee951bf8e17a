package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arklim/identity-link-service/internal/core/port"
	"github.com/arklim/identity-link-service/internal/infra/config"
	"github.com/arklim/identity-link-service/internal/infra/database"
	kafkainfra "github.com/arklim/identity-link-service/internal/infra/kafka"
	"github.com/arklim/identity-link-service/internal/infra/logger"
	"github.com/arklim/identity-link-service/internal/infra/oauth"
	redisinfra "github.com/arklim/identity-link-service/internal/infra/redis"
	"github.com/arklim/identity-link-service/internal/infra/security"
	"github.com/arklim/identity-link-service/internal/infra/telemetry"
	postgresrepo "github.com/arklim/identity-link-service/internal/repository/postgres"
	redisrepo "github.com/arklim/identity-link-service/internal/repository/redis"
	"github.com/arklim/identity-link-service/internal/transport/http/handlers"
	"github.com/arklim/identity-link-service/internal/transport/http/middleware"
	"github.com/arklim/identity-link-service/internal/transport/http/routes"
	"github.com/arklim/identity-link-service/internal/usecase"
)

const (
	shutdownTimeout     = 10 * time.Second
	providerHTTPTimeout = 15 * time.Second
)

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	tracer   *telemetry.TracerProvider
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env, cfg.App.Name)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{cfg: cfg, logger: log}
	ok := false
	defer func() {
		if !ok {
			a.close(context.Background())
		}
	}()

	if cfg.Telemetry.Enabled {
		a.tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
	}

	a.pool, err = database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	a.redis, err = redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	repos := postgresrepo.NewRepositories(a.pool)
	events := a.eventPublisher()

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	authMetrics, err := telemetry.NewAuthMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("init auth metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	clock := security.SystemClock{}
	hasher, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}
	policy := security.NewPasswordPolicy(security.PasswordPolicyConfig{
		MinLength:           cfg.PasswordPolicy.MinLength,
		MinCharacterClasses: cfg.PasswordPolicy.MinCharacterClasses,
		MinZxcvbnScore:      cfg.PasswordPolicy.MinZxcvbnScore,
		RequireSymbol:       cfg.PasswordPolicy.RequireSymbol,
	})
	issuer := security.NewJWTIssuer(security.JWTConfig{
		SigningKey:     cfg.JWT.SigningKey,
		Issuer:         cfg.JWT.Issuer,
		Audience:       cfg.JWT.Audience,
		AccessTokenTTL: cfg.JWT.AccessTokenTTL(),
	}, clock)
	if cfg.JWT.SigningKey == "" {
		log.Warn("jwt signing key not configured, logins will be rejected")
	}

	authService := usecase.NewAuthService(
		repos.Users,
		repos.Sessions,
		repos.LoginAttempts,
		usecase.NewAccessGrantService(repos.Roles),
		issuer,
		hasher,
		security.SHA256TokenHasher{},
		clock,
		cfg.JWT.RefreshTokenTTL(),
		log,
	).WithEvents(events).WithMetrics(authMetrics)

	registrationService := usecase.NewRegistrationService(repos.Users, hasher, policy, clock, log).
		WithEvents(events).
		WithMetrics(authMetrics)

	passwordResetService := usecase.NewPasswordResetService(repos.Users, repos.Sessions, hasher, policy, clock, cfg.PasswordReset.TokenTTL, log).
		WithEvents(events).
		WithMetrics(authMetrics)

	services := routes.ServiceSet{
		Auth:          authService,
		Registration:  registrationService,
		PasswordReset: passwordResetService,
	}

	linkService, err := a.externalLinkService(repos, clock, events, authMetrics)
	if err != nil {
		return nil, err
	}
	if linkService != nil {
		services.ExternalLinks = linkService
	}

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(a.redis.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: cfg.Redis.RateLimitPrefix,
		TTL:       rateLimitWindow * 2,
	})

	a.engine = routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: middleware.NewRateLimiter(rateLimitStore, log),
		Services:    services,
		TokenParser: issuer,
		Dispatcher:  handlers.NewLoggingNotificationDispatcher(log, cfg.App.Env == "development"),
		Metrics:     httpMetrics,
		Gatherer:    registry,
		Database:    a.pool,
		Cache:       a.redis,
	})

	ok = true
	return a, nil
}

func (a *Application) eventPublisher() port.EventPublisher {
	if len(a.cfg.Kafka.Brokers) == 0 {
		a.logger.Info("kafka brokers not configured, using stub publisher")
		return kafkainfra.NewStubPublisher(a.logger)
	}

	producer, err := kafkainfra.NewProducer(a.cfg.Kafka, a.logger)
	if err != nil {
		a.logger.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
		return kafkainfra.NewStubPublisher(a.logger)
	}
	a.producer = producer
	a.logger.Info("kafka event publisher initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return kafkainfra.NewEventPublisher(producer, a.cfg.App, a.logger)
}

// externalLinkService returns nil when linking keys are absent; the /external routes are
// then not mounted.
func (a *Application) externalLinkService(repos *postgresrepo.Repositories, clock port.Clock, events port.EventPublisher, metrics usecase.AuthMetricsRecorder) (*usecase.ExternalLinkService, error) {
	linkCfg := a.cfg.ExternalLink

	states, err := security.NewStateSigner(security.StateSignerConfig{
		SigningKey: linkCfg.StateSigningKey,
		Expiry:     linkCfg.StateExpiry(),
	}, clock)
	if errors.Is(err, security.ErrStateKeyMissing) {
		a.logger.Warn("external link state signing key not configured, external linking disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("init state signer: %w", err)
	}

	protector, err := security.NewAESGCMProtector(linkCfg.TokenProtectionKey, linkCfg.TokenProtectionPurpose)
	if errors.Is(err, security.ErrProtectionKeyMissing) {
		a.logger.Warn("external token protection key not configured, external linking disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("init token protector: %w", err)
	}

	oauthClient := oauth.NewClient(a.cfg.ExternalProviders, &http.Client{Timeout: providerHTTPTimeout}, a.logger)

	service := usecase.NewExternalLinkService(
		repos.Users,
		repos.ExternalIdentities,
		repos.ExternalTokens,
		oauthClient,
		states,
		protector,
		clock,
		a.logger,
	).WithEvents(events).WithMetrics(metrics)

	if linkCfg.SingleUseState {
		service.WithReplayGuard(redisrepo.NewStateReplayGuard(a.redis.Client(), a.cfg.Redis.LinkStatePrefix))
	}

	return service, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer a.close(context.Background())

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting identity link API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		a.logger.Info("http server stopped")
		return nil
	case err := <-serverErrCh:
		return err
	}
}

func (a *Application) close(ctx context.Context) {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("shutdown tracer", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
