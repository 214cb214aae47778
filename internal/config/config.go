package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string

	// Conversation behaviour
	ConversationMode    string
	LLMProvider         string
	LLMFallbackProvider string
	GoogleAPIKey        string
	GeminiModelID       string
	BedrockModelID      string
	LLMTimeout          time.Duration
	LLMMaxTokens        int
	LLMTemperature      float64
	HistoryWindow       int
	PersonaFile         string
	PersonaContext      string
	UnavailableReply    string
	ApologyReply        string

	// AutoResponder webhook
	WebhookSecret string
	ReplyEnvelope string

	// Session persistence
	SessionBackend string
	SessionTTL     time.Duration
	SenderLock     string
	SenderLockTTL  time.Duration
	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool
	DatabaseURL    string
	SessionsTable  string

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Async pipeline
	QueueBackend         string
	ConversationQueueURL string
	WorkerCount          int

	// WhatsApp Business
	WhatsAppVerifyToken   string
	WhatsAppAppSecret     string
	WhatsAppAccessToken   string
	WhatsAppPhoneNumberID string
	WhatsAppGraphAPIBase  string

	AdminJWTSecret string
	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present; real env vars win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:      getEnv("PORT", "8080"),
		Env:       getEnv("ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		ConversationMode:    strings.ToLower(strings.TrimSpace(getEnv("CONVERSATION_MODE", "stateful"))),
		LLMProvider:         strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "gemini"))),
		LLMFallbackProvider: strings.ToLower(strings.TrimSpace(getEnv("LLM_FALLBACK_PROVIDER", ""))),
		GoogleAPIKey:        getEnv("GOOGLE_API_KEY", getEnv("GEMINI_API_KEY", "")),
		GeminiModelID:       getEnv("GEMINI_MODEL_ID", "gemini-1.5-flash"),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		LLMTimeout:          getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
		LLMMaxTokens:        getEnvAsInt("LLM_MAX_TOKENS", 0),
		LLMTemperature:      getEnvAsFloat("LLM_TEMPERATURE", -1),
		HistoryWindow:       getEnvAsInt("HISTORY_WINDOW", 0),
		PersonaFile:         getEnv("PERSONA_FILE", ""),
		PersonaContext:      getEnv("PERSONA_CONTEXT", ""),
		UnavailableReply:    getEnv("UNAVAILABLE_REPLY", "El modelo de IA no está disponible."),
		ApologyReply:        getEnv("APOLOGY_REPLY", "Lo siento, estoy teniendo un problema técnico para pensar mi respuesta."),

		WebhookSecret: getEnv("WEBHOOK_SECRET", getEnv("VERIFY_TOKEN", "")),
		ReplyEnvelope: strings.ToLower(strings.TrimSpace(getEnv("REPLY_ENVELOPE", "replies"))),

		SessionBackend: strings.ToLower(strings.TrimSpace(getEnv("SESSION_BACKEND", "memory"))),
		SessionTTL:     getEnvAsDuration("SESSION_TTL", 0),
		SenderLock:     strings.ToLower(strings.TrimSpace(getEnv("SENDER_LOCK", "local"))),
		SenderLockTTL:  getEnvAsDuration("SENDER_LOCK_TTL", 90*time.Second),
		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		SessionsTable:  getEnv("SESSIONS_TABLE", "chat_sessions"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		QueueBackend:         strings.ToLower(strings.TrimSpace(getEnv("QUEUE_BACKEND", "memory"))),
		ConversationQueueURL: getEnv("CONVERSATION_QUEUE_URL", ""),
		WorkerCount:          getEnvAsInt("WORKER_COUNT", 2),

		WhatsAppVerifyToken:   getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		WhatsAppAppSecret:     getEnv("WHATSAPP_APP_SECRET", ""),
		WhatsAppAccessToken:   getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppPhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppGraphAPIBase:  getEnv("WHATSAPP_GRAPH_API_BASE", "https://graph.facebook.com/v19.0"),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 20),
	}
}

// WhatsAppEnabled reports whether enough WhatsApp settings exist to mount the channel.
func (c *Config) WhatsAppEnabled() bool {
	return strings.TrimSpace(c.WhatsAppVerifyToken) != "" &&
		strings.TrimSpace(c.WhatsAppAccessToken) != "" &&
		strings.TrimSpace(c.WhatsAppPhoneNumberID) != ""
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
