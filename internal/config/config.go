// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// maxNumberedKeys bounds the OPENROUTER_API_KEY_<n> scan.
const maxNumberedKeys = 9

// Config holds all server configuration.
type Config struct {
	Port               string
	FrontendURL        string
	DBPath             string
	LogLevel           slog.Level
	MaxRequestBodySize int64
	MaxImageBodySize   int64
	MaxStateBodySize   int64
	StateRetention     time.Duration
	RetentionInterval  time.Duration
	GRPCHealthPort     string
	TelegramAPIURL     string
	TelegramVerify     bool
	WebDir             string
	OpenRouter         OpenRouterConfig
	RateLimit          RateLimitConfig
	ConversationLog    ConversationLogConfig
}

// OpenRouterConfig describes the upstream LLM provider.
type OpenRouterConfig struct {
	BaseURL      string
	APIKeys      []string
	VisionAPIKey string
	Model        string
	VisionModel  string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
	Referer      string
	Title        string
}

// RateLimitConfig bounds how often one anonymous user may hit the proxy routes.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	keys := loadAPIKeys()
	visionKey := strings.TrimSpace(getEnv("OPENROUTER_API_KEY", ""))
	if visionKey == "" && len(keys) > 0 {
		visionKey = keys[0]
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		DBPath:             getEnv("DB_PATH", "./data/neurobot.db"),
		LogLevel:           ParseLevel(getEnv("LOG_LEVEL", "info")),
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		MaxImageBodySize:   int64(getEnvInt("MAX_IMAGE_BODY_BYTES", 20<<20)),
		MaxStateBodySize:   int64(getEnvInt("MAX_STATE_BODY_BYTES", 8<<20)),
		StateRetention:     getEnvDuration("STATE_RETENTION", 90*24*time.Hour),
		RetentionInterval:  getEnvDuration("RETENTION_INTERVAL", time.Hour),
		GRPCHealthPort:     getEnv("GRPC_HEALTH_PORT", ""),
		TelegramAPIURL:     getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
		TelegramVerify:     getEnvBool("TELEGRAM_VERIFY_TOKEN", true),
		WebDir:             getEnv("WEB_DIR", ""),
		OpenRouter: OpenRouterConfig{
			BaseURL:      strings.TrimSuffix(getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"), "/"),
			APIKeys:      keys,
			VisionAPIKey: visionKey,
			Model:        getEnv("OPENROUTER_MODEL", "openai/gpt-4o-mini"),
			VisionModel:  getEnv("OPENROUTER_VISION_MODEL", "qwen/qwen2.5-vl-72b-instruct:free"),
			Temperature:  getEnvFloat("OPENROUTER_TEMPERATURE", 0.7),
			MaxTokens:    getEnvInt("OPENROUTER_MAX_TOKENS", 2000),
			Timeout:      getEnvDuration("OPENROUTER_TIMEOUT", 60*time.Second),
			Referer:      getEnv("APP_URL", "http://localhost:3000"),
			Title:        getEnv("APP_TITLE", "NEUROBOT"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.OpenRouter.BaseURL == "" {
		return fmt.Errorf("OPENROUTER_BASE_URL cannot be empty")
	}
	if c.OpenRouter.Model == "" {
		return fmt.Errorf("OPENROUTER_MODEL cannot be empty")
	}
	if c.OpenRouter.Temperature < 0 || c.OpenRouter.Temperature > 2 {
		return fmt.Errorf("OPENROUTER_TEMPERATURE must be within [0, 2]")
	}
	if c.OpenRouter.MaxTokens <= 0 {
		return fmt.Errorf("OPENROUTER_MAX_TOKENS must be > 0")
	}
	if c.MaxRequestBodySize <= 0 || c.MaxImageBodySize <= 0 || c.MaxStateBodySize <= 0 {
		return fmt.Errorf("request body limits must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.RetentionInterval <= 0 {
		return fmt.Errorf("RETENTION_INTERVAL must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

// loadAPIKeys collects the key pool from OPENROUTER_API_KEYS and the numbered
// OPENROUTER_API_KEY_<n> variables, dropping blanks and duplicates while keeping order.
func loadAPIKeys() []string {
	var raw []string
	raw = append(raw, strings.Split(getEnv("OPENROUTER_API_KEYS", ""), ",")...)
	for i := 1; i <= maxNumberedKeys; i++ {
		raw = append(raw, getEnv("OPENROUTER_API_KEY_"+strconv.Itoa(i), ""))
	}

	seen := make(map[string]struct{}, len(raw))
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
