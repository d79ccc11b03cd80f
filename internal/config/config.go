// Package config assembles runtime configuration from an optional YAML
// file, a .env file, and the process environment. Environment variables
// always win over file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

const (
	DefaultAddr           = "127.0.0.1:8080"
	DefaultModel          = "gpt-4o"
	DefaultCatalogPath    = "catalog.db"
	DefaultConversationDB = "conversations.db"
	DefaultRetentionKeep  = 50
	DefaultRetentionCron  = "0 3 * * *"
	DefaultTurnTimeout    = 90 * time.Second
)

type Config struct {
	Addr  string `yaml:"addr"`
	Model string `yaml:"model"`

	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`

	CatalogPath     string `yaml:"catalog_path"`
	SeedCatalog     bool   `yaml:"seed_catalog"`
	ConversationDB  string `yaml:"conversation_db"`
	RedisAddr       string `yaml:"redis_addr"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	CheckpointKeep  int    `yaml:"checkpoint_keep"`
	RetentionCron   string `yaml:"retention_cron"`
	TurnTimeoutSecs int    `yaml:"turn_timeout_seconds"`

	TracingEnabled bool `yaml:"tracing_enabled"`
}

// Load reads configuration in precedence order: defaults, then the YAML
// file at path (skipped when path is empty or missing), then .env, then
// the live environment.
func Load(path string) (Config, error) {
	cfg := Config{
		Addr:            DefaultAddr,
		Model:           DefaultModel,
		CatalogPath:     DefaultCatalogPath,
		ConversationDB:  DefaultConversationDB,
		CheckpointKeep:  DefaultRetentionKeep,
		RetentionCron:   DefaultRetentionCron,
		TurnTimeoutSecs: int(DefaultTurnTimeout / time.Second),
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Missing .env is fine; explicit env vars still apply.
	_ = godotenv.Load()

	cfg.Addr = stringEnv("ASSISTANT_ADDR", cfg.Addr)
	cfg.Model = stringEnv("ASSISTANT_MODEL", cfg.Model)
	cfg.OpenAIAPIKey = stringEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = stringEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.CatalogPath = stringEnv("ASSISTANT_CATALOG_PATH", cfg.CatalogPath)
	cfg.SeedCatalog = boolEnv("ASSISTANT_SEED_CATALOG", cfg.SeedCatalog)
	cfg.ConversationDB = stringEnv("ASSISTANT_CONVERSATION_DB", cfg.ConversationDB)
	cfg.RedisAddr = stringEnv("ASSISTANT_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = stringEnv("ASSISTANT_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = intEnv("ASSISTANT_REDIS_DB", cfg.RedisDB)
	cfg.CheckpointKeep = intEnv("ASSISTANT_CHECKPOINT_KEEP", cfg.CheckpointKeep)
	cfg.RetentionCron = stringEnv("ASSISTANT_RETENTION_CRON", cfg.RetentionCron)
	cfg.TurnTimeoutSecs = intEnv("ASSISTANT_TURN_TIMEOUT_SECONDS", cfg.TurnTimeoutSecs)
	cfg.TracingEnabled = boolEnv("ASSISTANT_TRACING", cfg.TracingEnabled)

	if cfg.CheckpointKeep < 1 {
		return Config{}, fmt.Errorf("checkpoint_keep must be at least 1, got %d", cfg.CheckpointKeep)
	}
	if cfg.TurnTimeoutSecs < 1 {
		return Config{}, fmt.Errorf("turn_timeout_seconds must be at least 1, got %d", cfg.TurnTimeoutSecs)
	}
	return cfg, nil
}

// UseRedis reports whether checkpoints should live in Redis instead of
// the SQLite file.
func (c Config) UseRedis() bool {
	return strings.TrimSpace(c.RedisAddr) != ""
}

func (c Config) TurnTimeout() time.Duration {
	return time.Duration(c.TurnTimeoutSecs) * time.Second
}

func stringEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func boolEnv(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
