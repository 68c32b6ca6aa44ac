// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// NATS settings. An empty URL selects the in-memory snapshot store.
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Snapshot persistence
	SnapshotBucket      string
	SnapshotCompression bool

	// JWT settings
	JWTSecret string

	// LLM provider settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	CompatBaseURL   string
	CompatAPIKey    string
	DefaultProvider string
	DefaultModel    string

	// Context budget settings
	MaxContextTokens      int
	SummaryTriggerPercent int
	KeepRecentMessages    int
	SummaryMaxTokens      int
	SummaryTimeout        time.Duration
	CodeContextLimit      int

	// Exchange settings
	ExchangeTimeout time.Duration

	// Repository content settings
	GitHubRawBaseURL   string
	GitHubAPIBaseURL   string
	GitHubToken        string
	FileFetchTimeout   time.Duration
	FileCacheSize      int
	MaxInlineFileChars int
	MaxSnippetsPerFile int

	// Conversation retention
	ConversationTTL time.Duration
	CleanupInterval time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 150*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Snapshots
		SnapshotBucket:      getEnv("SNAPSHOT_BUCKET", "conversations"),
		SnapshotCompression: getBoolEnv("SNAPSHOT_COMPRESSION", false),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Providers
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		CompatBaseURL:   getEnv("COMPAT_BASE_URL", ""),
		CompatAPIKey:    getEnv("COMPAT_API_KEY", ""),
		DefaultProvider: getEnv("DEFAULT_PROVIDER", "anthropic"),
		DefaultModel:    getEnv("DEFAULT_MODEL", ""),

		// Context budget
		MaxContextTokens:      getIntEnv("MAX_CONTEXT_TOKENS", 8000),
		SummaryTriggerPercent: getIntEnv("SUMMARY_TRIGGER_PERCENT", 75),
		KeepRecentMessages:    getIntEnv("KEEP_RECENT_MESSAGES", 5),
		SummaryMaxTokens:      getIntEnv("SUMMARY_MAX_TOKENS", 500),
		SummaryTimeout:        getDurationEnv("SUMMARY_TIMEOUT", 30*time.Second),
		CodeContextLimit:      getIntEnv("CODE_CONTEXT_LIMIT", 20),

		// Exchange
		ExchangeTimeout: getDurationEnv("EXCHANGE_TIMEOUT", 2*time.Minute),

		// Repository content
		GitHubRawBaseURL:   getEnv("GITHUB_RAW_BASE_URL", "https://raw.githubusercontent.com"),
		GitHubAPIBaseURL:   getEnv("GITHUB_API_BASE_URL", "https://api.github.com"),
		GitHubToken:        getEnv("GITHUB_TOKEN", ""),
		FileFetchTimeout:   getDurationEnv("FILE_FETCH_TIMEOUT", 15*time.Second),
		FileCacheSize:      getIntEnv("FILE_CACHE_SIZE", 100),
		MaxInlineFileChars: getIntEnv("MAX_INLINE_FILE_CHARS", 12000),
		MaxSnippetsPerFile: getIntEnv("MAX_SNIPPETS_PER_FILE", 20),

		// Retention
		ConversationTTL: getDurationEnv("CONVERSATION_TTL", 14*24*time.Hour),
		CleanupInterval: getDurationEnv("CLEANUP_INTERVAL", time.Hour),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
