// Package auth assembles the authentication engine from configuration: it
// opens the backing stores, builds every collaborator, and hands callers a
// ready AuthService plus a single Close for teardown.
package auth

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	accountrepo "authguard/core/internal/account/repository"
	"authguard/core/internal/auth/service"
	"authguard/core/internal/config"
	"authguard/core/internal/db"
	eventpkg "authguard/core/internal/event"
	"authguard/core/internal/event/producer"
	eventrepo "authguard/core/internal/event/repository"
	"authguard/core/internal/hijack"
	"authguard/core/internal/lockout"
	"authguard/core/internal/security"
	"authguard/core/internal/session/cache"
	"authguard/core/internal/session/registry"
	sessionrepo "authguard/core/internal/session/repository"
	"authguard/core/internal/telemetry"
	otelpkg "authguard/core/internal/telemetry/otel"
)

// Engine is the fully wired authentication subsystem.
type Engine struct {
	Service *service.AuthService

	sqlDB     *sql.DB
	redis     *redis.Client
	producer  *producer.KafkaProducer
	providers *otelpkg.Providers
	logger    *slog.Logger
}

// NewEngine wires the engine from cfg. Redis, Kafka, and OTLP export are each
// optional and enabled by their config entries; Postgres and the JWT key pair
// are required. The caller owns the returned Engine and must Close it.
func NewEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	priv, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	pub, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		return nil, fmt.Errorf("load public key: %w", err)
	}
	tokens := security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL())

	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	providers, err := otelpkg.NewProviders(ctx, cfg.OTLPEndpoint, "authguard-core", false)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	providers.SetGlobal()
	metrics, err := telemetry.NewMetrics(providers.MeterProvider.Meter("authguard/core"))
	if err != nil {
		_ = providers.Shutdown(ctx)
		sqlDB.Close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	var redisClient *redis.Client
	var statusCache *cache.StatusCache
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		statusCache = cache.New(redisClient, logger)
	}

	var kafkaProducer *producer.KafkaProducer
	if brokers := cfg.EventsKafkaBrokersList(); len(brokers) > 0 {
		kafkaProducer = producer.NewKafkaProducer(brokers, cfg.EventsKafkaTopic)
	}

	accounts := accountrepo.NewPostgresRepository(sqlDB)
	sessions := sessionrepo.NewPostgresRepository(sqlDB)
	events := eventrepo.NewPostgresRepository(sqlDB)

	var prod producer.Producer
	if kafkaProducer != nil {
		prod = kafkaProducer
	}
	recorder := eventpkg.NewRecorder(events, prod, logger, metrics.EventAppendFailures)

	policy := lockout.Policy{
		Threshold:    cfg.LockoutThreshold,
		Window:       cfg.LockoutWindowDuration(),
		BaseDuration: cfg.LockoutBase(),
		Multiplier:   cfg.LockoutMultiplier,
		MaxLevel:     cfg.LockoutMaxLevel,
	}
	lockoutEngine := lockout.NewEngine(policy, accounts, recorder, logger)

	rego, err := loadRego(cfg.HijackPolicyRego)
	if err != nil {
		_ = providers.Shutdown(ctx)
		sqlDB.Close()
		return nil, fmt.Errorf("load hijack policy: %w", err)
	}
	evaluator := hijack.NewOPAEvaluator(rego, logger)
	if err := evaluator.HealthCheck(ctx); err != nil {
		_ = providers.Shutdown(ctx)
		sqlDB.Close()
		return nil, err
	}
	detector := hijack.NewDetector(evaluator, cfg.HijackResponseMode)

	reg := registry.New(sessions, statusCache, cfg.SessionMaxPerAccount, logger)

	hasher := security.NewHasher(cfg.BcryptCost)

	svc := service.NewAuthService(accounts, reg, lockoutEngine, detector, hasher, tokens, recorder, events, metrics, logger)

	return &Engine{
		Service:   svc,
		sqlDB:     sqlDB,
		redis:     redisClient,
		producer:  kafkaProducer,
		providers: providers,
		logger:    logger,
	}, nil
}

// Close drains in-flight event emits, then tears down the producer, cache,
// database, and telemetry providers.
func (e *Engine) Close(ctx context.Context) error {
	var firstErr error
	if e.producer != nil {
		// Async emits only exist when a producer does; give them time to land
		// before the writer goes away.
		time.Sleep(eventpkg.ShutdownDrainDuration)
		if err := e.producer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.redis != nil {
		if err := e.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.sqlDB != nil {
		if err := e.sqlDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.providers != nil {
		if err := e.providers.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// loadRego resolves the HIJACK_POLICY_REGO setting: empty means the built-in
// policy, inline Rego is used as-is, anything else is read as a file path.
func loadRego(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if strings.Contains(s, "package ") {
		return s, nil
	}
	b, err := os.ReadFile(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
