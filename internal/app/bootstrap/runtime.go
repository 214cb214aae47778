package bootstrap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/chatrelay/internal/config"
	"github.com/wolfman30/chatrelay/internal/conversation"
	"github.com/wolfman30/chatrelay/pkg/logging"
)

// AWSConfigFunc loads the shared AWS SDK config. Binaries pass
// mainconfig.LoadAWSConfig bound to their config.
type AWSConfigFunc func(ctx context.Context) (aws.Config, error)

// Runtime is the conversation stack shared by every binary.
type Runtime struct {
	Config       *appconfig.Config
	Logger       *logging.Logger
	Redis        *redis.Client
	Postgres     *pgxpool.Pool
	Sessions     *conversation.SessionStore // nil in stateless mode
	Orchestrator *conversation.Orchestrator

	awsConfig func() (aws.Config, error)
	closers   []func()
}

// Build wires the orchestrator and its backends from cfg. Redis and Postgres
// are only dialed when a configured component needs them.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, loadAWS AWSConfigFunc) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rt := &Runtime{Config: cfg, Logger: logger}
	rt.awsConfig = sync.OnceValues(func() (aws.Config, error) {
		if loadAWS == nil {
			return aws.Config{}, errors.New("bootstrap: aws config loader is required")
		}
		awsCfg, err := loadAWS(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		return awsCfg, nil
	})

	if NeedsRedis(cfg) {
		client, err := BuildRedisClient(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		rt.Redis = client
		rt.closers = append(rt.closers, func() { _ = client.Close() })
	}

	if cfg.ConversationMode != conversation.ModeStateless && cfg.SessionBackend == "postgres" {
		pool, err := BuildPostgresPool(ctx, cfg)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Postgres = pool
		rt.closers = append(rt.closers, pool.Close)
	}

	llm, provider, err := BuildLLMClient(ctx, cfg, rt.awsConfig, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if closer, ok := llm.(interface{ Close() error }); ok {
		rt.closers = append(rt.closers, func() { _ = closer.Close() })
	}

	persona, err := BuildPersona(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	prompts := conversation.NewPromptBuilder(persona)

	var locks conversation.SenderLocker
	if cfg.ConversationMode != conversation.ModeStateless {
		backend, err := BuildHistoryBackend(ctx, cfg, rt.Redis, rt.Postgres, rt.awsConfig)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Sessions = conversation.NewSessionStore(backend, prompts.SeedTurns())
		locks = BuildSenderLocker(cfg, rt.Redis)
	}

	rt.Orchestrator = conversation.NewOrchestrator(llm, rt.Sessions, prompts, locks, conversation.OrchestratorConfig{
		Mode:             cfg.ConversationMode,
		Provider:         provider,
		Timeout:          cfg.LLMTimeout,
		MaxTokens:        int32(cfg.LLMMaxTokens),
		Temperature:      float32(cfg.LLMTemperature),
		HistoryWindow:    cfg.HistoryWindow,
		UnavailableReply: cfg.UnavailableReply,
		ApologyReply:     cfg.ApologyReply,
	}, logger)

	logger.Info("conversation runtime ready",
		"mode", rt.Orchestrator.Mode(),
		"llm_provider", provider,
		"session_backend", cfg.SessionBackend,
		"sender_lock", cfg.SenderLock,
	)
	return rt, nil
}

// AWSConfig returns the lazily loaded AWS config.
func (rt *Runtime) AWSConfig() (aws.Config, error) {
	return rt.awsConfig()
}

// Close releases connections in reverse order of creation.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// NeedsRedis reports whether sessions or sender locks live in Redis. Other
// components (WhatsApp dedupe) reuse the client when it exists.
func NeedsRedis(cfg *appconfig.Config) bool {
	if cfg.ConversationMode == conversation.ModeStateless {
		return false
	}
	return cfg.SessionBackend == "redis" || cfg.SenderLock == "redis"
}

// BuildRedisClient returns a pinged Redis client.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*redis.Client, error) {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil, errors.New("bootstrap: REDIS_ADDR is required")
	}
	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("bootstrap: redis not available at %s: %w", cfg.RedisAddr, err)
	}
	logger.Debug("redis connected", "addr", cfg.RedisAddr, "tls", cfg.RedisTLS)
	return client, nil
}

// BuildPostgresPool opens and pings a pgx pool on DATABASE_URL.
func BuildPostgresPool(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errors.New("bootstrap: DATABASE_URL is required for the postgres session backend")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	return pool, nil
}
