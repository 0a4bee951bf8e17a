package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App               AppSettings                 `mapstructure:"app"`
	Postgres          PostgresSettings            `mapstructure:"postgres"`
	Redis             RedisSettings               `mapstructure:"redis"`
	Kafka             KafkaSettings               `mapstructure:"kafka"`
	JWT               JWTSettings                 `mapstructure:"jwt"`
	ExternalLink      ExternalLinkSettings        `mapstructure:"external_link"`
	ExternalProviders map[string]ProviderSettings `mapstructure:"external_providers"`
	PasswordReset     PasswordResetSettings       `mapstructure:"password_reset"`
	PasswordPolicy    PasswordPolicySettings      `mapstructure:"password_policy"`
	Telemetry         TelemetrySettings           `mapstructure:"telemetry"`
	RateLimit         RateLimitSettings           `mapstructure:"rate_limit"`
	Argon2            Argon2Settings              `mapstructure:"argon2"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	DB              int    `mapstructure:"db"`
	Password        string `mapstructure:"password"`
	TLSEnabled      bool   `mapstructure:"tls_enabled"`
	RateLimitPrefix string `mapstructure:"rate_limit_prefix"`
	LinkStatePrefix string `mapstructure:"link_state_prefix"`
}

// KafkaSettings configures Kafka producer. An empty broker list selects the logging publisher.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

// RateLimitSettings configures rate limiting windows and max attempts per endpoint
type RateLimitSettings struct {
	WindowDuration           time.Duration `mapstructure:"window_duration"`
	LoginMaxAttempts         int           `mapstructure:"login_max_attempts"`
	RegisterMaxAttempts      int           `mapstructure:"register_max_attempts"`
	RefreshMaxAttempts       int           `mapstructure:"refresh_max_attempts"`
	PasswordResetMaxAttempts int           `mapstructure:"password_reset_max_attempts"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

type JWTSettings struct {
	SigningKey               string `mapstructure:"signing_key"`
	Issuer                   string `mapstructure:"issuer"`
	Audience                 string `mapstructure:"audience"`
	AccessTokenExpiryMinutes int    `mapstructure:"access_token_expiry_minutes"`
	RefreshTokenExpiryDays   int    `mapstructure:"refresh_token_expiry_days"`
}

// AccessTokenTTL converts the configured minutes into a duration.
func (s JWTSettings) AccessTokenTTL() time.Duration {
	return time.Duration(s.AccessTokenExpiryMinutes) * time.Minute
}

// RefreshTokenTTL converts the configured days into a duration.
func (s JWTSettings) RefreshTokenTTL() time.Duration {
	return time.Duration(s.RefreshTokenExpiryDays) * 24 * time.Hour
}

// ExternalLinkSettings configures state signing and provider token protection.
type ExternalLinkSettings struct {
	StateSigningKey        string   `mapstructure:"state_signing_key"`
	StateExpiryMinutes     int      `mapstructure:"state_expiry_minutes"`
	TokenProtectionKey     string   `mapstructure:"token_protection_key"`
	TokenProtectionPurpose string   `mapstructure:"token_protection_purpose"`
	SingleUseState         bool     `mapstructure:"single_use_state"`
	Providers              []string `mapstructure:"providers"`
}

// StateExpiry converts the configured minutes into a duration.
func (s ExternalLinkSettings) StateExpiry() time.Duration {
	return time.Duration(s.StateExpiryMinutes) * time.Minute
}

// ProviderSettings describes one OAuth2 provider.
type ProviderSettings struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURI  string   `mapstructure:"redirect_uri"`
	AuthURL      string   `mapstructure:"auth_url"`
	TokenURL     string   `mapstructure:"token_url"`
	UserInfoURL  string   `mapstructure:"user_info_url"`
	Scopes       []string `mapstructure:"scopes"`
}

type PasswordResetSettings struct {
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type PasswordPolicySettings struct {
	MinLength           int  `mapstructure:"min_length"`
	MinCharacterClasses int  `mapstructure:"min_character_classes"`
	MinZxcvbnScore      int  `mapstructure:"min_zxcvbn_score"`
	RequireSymbol       bool `mapstructure:"require_symbol"`
}

type TelemetrySettings struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
	Enabled      bool    `mapstructure:"enabled"`
}

var providerFields = []string{"client_id", "client_secret", "redirect_uri", "auth_url", "token_url", "user_info_url", "scopes"}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("IAM")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.rate_limit_prefix",
		"redis.link_state_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"jwt.signing_key",
		"jwt.issuer",
		"jwt.audience",
		"jwt.access_token_expiry_minutes",
		"jwt.refresh_token_expiry_days",
		"external_link.state_signing_key",
		"external_link.state_expiry_minutes",
		"external_link.token_protection_key",
		"external_link.token_protection_purpose",
		"external_link.single_use_state",
		"external_link.providers",
		"password_reset.token_ttl",
		"password_policy.min_length",
		"password_policy.min_character_classes",
		"password_policy.min_zxcvbn_score",
		"password_policy.require_symbol",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"telemetry.enabled",
		"rate_limit.window_duration",
		"rate_limit.login_max_attempts",
		"rate_limit.register_max_attempts",
		"rate_limit.refresh_max_attempts",
		"rate_limit.password_reset_max_attempts",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
	}); err != nil {
		return nil, err
	}

	// Provider sections are keyed by name, so their env bindings depend on the provider list.
	if err := bindEnvs(v, providerKeys(v.GetStringSlice("external_link.providers"))); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Provider looks up provider settings by name.
func (c *AppConfig) Provider(name string) (ProviderSettings, bool) {
	settings, ok := c.ExternalProviders[strings.ToLower(strings.TrimSpace(name))]
	return settings, ok
}

func providerKeys(names []string) []string {
	keys := make([]string, 0, len(names)*len(providerFields))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		for _, field := range providerFields {
			keys = append(keys, "external_providers."+name+"."+field)
		}
	}
	return keys
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "identity-link-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "iam")
	v.SetDefault("postgres.password", "iam_password")
	v.SetDefault("postgres.database", "iam")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.rate_limit_prefix", "iam:rate_limit")
	v.SetDefault("redis.link_state_prefix", "iam:link_state")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "iam")
	v.SetDefault("kafka.async", true)

	v.SetDefault("jwt.issuer", "identity-link-service")
	v.SetDefault("jwt.audience", "identity-link-clients")
	v.SetDefault("jwt.access_token_expiry_minutes", 60)
	v.SetDefault("jwt.refresh_token_expiry_days", 30)

	v.SetDefault("external_link.state_expiry_minutes", 15)
	v.SetDefault("external_link.token_protection_purpose", "external-link-tokens")
	v.SetDefault("external_link.single_use_state", false)
	v.SetDefault("external_link.providers", []string{"google"})

	v.SetDefault("external_providers.google.auth_url", "https://accounts.google.com/o/oauth2/v2/auth")
	v.SetDefault("external_providers.google.token_url", "https://oauth2.googleapis.com/token")
	v.SetDefault("external_providers.google.user_info_url", "https://openidconnect.googleapis.com/v1/userinfo")
	v.SetDefault("external_providers.google.scopes", []string{"openid", "email", "profile"})

	v.SetDefault("password_reset.token_ttl", "1h")

	v.SetDefault("password_policy.min_length", 8)
	v.SetDefault("password_policy.min_character_classes", 3)
	v.SetDefault("password_policy.min_zxcvbn_score", 0)
	v.SetDefault("password_policy.require_symbol", false)

	v.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	v.SetDefault("telemetry.service_name", "identity-link-service")
	v.SetDefault("telemetry.sampling_rate", 1.0)
	v.SetDefault("telemetry.enabled", false)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.login_max_attempts", 5)
	v.SetDefault("rate_limit.register_max_attempts", 3)
	v.SetDefault("rate_limit.refresh_max_attempts", 10)
	v.SetDefault("rate_limit.password_reset_max_attempts", 3)

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "IAM_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
