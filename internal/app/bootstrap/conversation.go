package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/chatrelay/internal/config"
	"github.com/wolfman30/chatrelay/internal/conversation"
	"github.com/wolfman30/chatrelay/pkg/logging"
)

const (
	ProviderGemini  = "gemini"
	ProviderBedrock = "bedrock"
)

// BuildLLMClient returns the configured provider, wrapped in a fallback when
// LLM_FALLBACK_PROVIDER names a second one. A provider missing credentials
// yields a nil client so the orchestrator answers with the unavailable reply.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, awsConfig func() (aws.Config, error), logger *logging.Logger) (conversation.LLMClient, string, error) {
	primary, err := buildProvider(ctx, cfg.LLMProvider, cfg, awsConfig)
	if err != nil {
		return nil, cfg.LLMProvider, err
	}
	if primary == nil {
		logger.Warn("llm provider not configured; replies will be the unavailable message", "provider", cfg.LLMProvider)
		return nil, cfg.LLMProvider, nil
	}

	fallbackName := cfg.LLMFallbackProvider
	if fallbackName == "" || fallbackName == cfg.LLMProvider {
		return primary, cfg.LLMProvider, nil
	}
	fallback, err := buildProvider(ctx, fallbackName, cfg, awsConfig)
	if err != nil {
		return nil, cfg.LLMProvider, err
	}
	if fallback == nil {
		logger.Warn("fallback llm provider not configured; running without failover", "provider", fallbackName)
		return primary, cfg.LLMProvider, nil
	}
	name := cfg.LLMProvider + "+" + fallbackName
	return conversation.NewFallbackLLMClient(primary, cfg.LLMProvider, fallback, fallbackName, logger), name, nil
}

func buildProvider(ctx context.Context, name string, cfg *appconfig.Config, awsConfig func() (aws.Config, error)) (conversation.LLMClient, error) {
	switch name {
	case ProviderGemini, "google":
		if strings.TrimSpace(cfg.GoogleAPIKey) == "" {
			return nil, nil
		}
		return conversation.NewGeminiLLMClient(ctx, cfg.GoogleAPIKey, cfg.GeminiModelID)
	case ProviderBedrock:
		if strings.TrimSpace(cfg.BedrockModelID) == "" {
			return nil, nil
		}
		awsCfg, err := awsConfig()
		if err != nil {
			return nil, err
		}
		return conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown llm provider %q", name)
	}
}

// BuildPersona resolves PERSONA_FILE, then PERSONA_CONTEXT, then the built-in persona.
func BuildPersona(cfg *appconfig.Config) (conversation.Persona, error) {
	if path := strings.TrimSpace(cfg.PersonaFile); path != "" {
		persona, err := conversation.LoadPersonaFile(path)
		if err != nil {
			return conversation.Persona{}, fmt.Errorf("bootstrap: %w", err)
		}
		return persona, nil
	}
	if text := strings.TrimSpace(cfg.PersonaContext); text != "" {
		return conversation.PersonaFromText(text), nil
	}
	return conversation.DefaultPersona(), nil
}

// BuildHistoryBackend selects session persistence by SESSION_BACKEND.
func BuildHistoryBackend(ctx context.Context, cfg *appconfig.Config, redisClient *redis.Client, pool *pgxpool.Pool, awsConfig func() (aws.Config, error)) (conversation.HistoryBackend, error) {
	switch cfg.SessionBackend {
	case "", "memory":
		return conversation.NewMemoryHistoryBackend(), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("bootstrap: redis session backend requires a redis client")
		}
		return conversation.NewRedisHistoryBackend(redisClient, cfg.SessionTTL), nil
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("bootstrap: postgres session backend requires DATABASE_URL")
		}
		return conversation.NewPostgresHistoryBackend(pool, cfg.SessionsTable), nil
	case "dynamodb", "dynamo":
		awsCfg, err := awsConfig()
		if err != nil {
			return nil, err
		}
		return conversation.NewDynamoHistoryBackend(dynamodb.NewFromConfig(awsCfg), cfg.SessionsTable, cfg.SessionTTL), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown session backend %q", cfg.SessionBackend)
	}
}

// BuildSenderLocker returns the Redis lock when SENDER_LOCK=redis and a
// client exists, else the in-process lock.
func BuildSenderLocker(cfg *appconfig.Config, redisClient *redis.Client) conversation.SenderLocker {
	if cfg.SenderLock == "redis" && redisClient != nil {
		return conversation.NewRedisSenderLock(redisClient, cfg.SenderLockTTL)
	}
	return conversation.NewLocalSenderLocks()
}
