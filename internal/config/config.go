// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// DatabaseURL is the Postgres DSN; required by the repositories and cmd/migrate.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim (e.g. "authguard"); required when tokens are issued.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "authguard-api"); required when tokens are issued.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime and session lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// LockoutThreshold is the number of consecutive failed logins that locks an account.
	LockoutThreshold int `mapstructure:"LOCKOUT_THRESHOLD"`
	// LockoutWindow is the sliding window within which failures accumulate (e.g. "15m").
	LockoutWindow string `mapstructure:"LOCKOUT_WINDOW"`
	// LockoutBaseDuration is the first lockout duration (e.g. "15m").
	LockoutBaseDuration string `mapstructure:"LOCKOUT_BASE_DURATION"`
	// LockoutMultiplier scales the lockout duration per consecutive lock (default 2).
	LockoutMultiplier int `mapstructure:"LOCKOUT_MULTIPLIER"`
	// LockoutMaxLevel caps the progressive backoff exponent.
	LockoutMaxLevel int `mapstructure:"LOCKOUT_MAX_LEVEL"`

	// SessionMaxPerAccount caps concurrent active sessions per account; the least recently
	// rotated session is evicted at the cap.
	SessionMaxPerAccount int `mapstructure:"SESSION_MAX_PER_ACCOUNT"`
	// HijackResponseMode is "log" or "revoke": what to do when a refresh arrives from a
	// mismatched network origin. Refresh-token reuse always revokes regardless of this setting.
	HijackResponseMode string `mapstructure:"HIJACK_RESPONSE_MODE"`
	// HijackPolicyRego optionally overrides the built-in Rego policy for hijack responses
	// (inline Rego or path to a .rego file).
	HijackPolicyRego string `mapstructure:"HIJACK_POLICY_REGO"`

	// RedisAddr enables the read-through session revocation cache when set (e.g. "localhost:6379").
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the optional password for the cache connection.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	// EventsKafkaBrokers is a comma-separated list of Kafka broker addresses; when set,
	// security events are mirrored to Kafka for operational monitoring.
	EventsKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// EventsKafkaTopic is the Kafka topic for security events (default authguard-events).
	EventsKafkaTopic string `mapstructure:"EVENTS_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is the Loki base URL the event worker pushes to (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// OTLPEndpoint is the OTLP gRPC endpoint for telemetry export; empty disables export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_ISSUER", "authguard")
	v.SetDefault("JWT_AUDIENCE", "authguard-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_WINDOW", "15m")
	v.SetDefault("LOCKOUT_BASE_DURATION", "15m")
	v.SetDefault("LOCKOUT_MULTIPLIER", 2)
	v.SetDefault("LOCKOUT_MAX_LEVEL", 6)
	v.SetDefault("SESSION_MAX_PER_ACCOUNT", 5)
	v.SetDefault("HIJACK_RESPONSE_MODE", "log")
	v.SetDefault("HIJACK_POLICY_REGO", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("EVENTS_KAFKA_TOPIC", "authguard-events")
	v.SetDefault("KAFKA_GROUP_ID", "authguard-event-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.LockoutThreshold < 1 {
		return nil, errors.New("config: LOCKOUT_THRESHOLD must be at least 1")
	}
	if cfg.LockoutMultiplier < 1 {
		return nil, errors.New("config: LOCKOUT_MULTIPLIER must be at least 1")
	}
	if cfg.SessionMaxPerAccount < 1 {
		return nil, errors.New("config: SESSION_MAX_PER_ACCOUNT must be at least 1")
	}
	switch cfg.HijackResponseMode {
	case "log", "revoke":
	default:
		return nil, errors.New("config: HIJACK_RESPONSE_MODE must be log or revoke")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTRefreshTTL)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}

// LockoutWindowDuration parses LockoutWindow. Returns 15m if unset or invalid.
func (c *Config) LockoutWindowDuration() time.Duration {
	d, err := time.ParseDuration(c.LockoutWindow)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// LockoutBase parses LockoutBaseDuration. Returns 15m if unset or invalid.
func (c *Config) LockoutBase() time.Duration {
	d, err := time.ParseDuration(c.LockoutBaseDuration)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// EventsKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if event streaming is enabled (non-empty list) and to create the producer.
func (c *Config) EventsKafkaBrokersList() []string {
	if c == nil || c.EventsKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.EventsKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
