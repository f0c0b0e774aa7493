// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml), with ${VAR} expansion
//  2. Environment variables (fallback), optionally seeded from a .env file
//
// Example usage:
//
//	cfg := config.LoadOrEnv()
//	dbPath := cfg.Storage.DatabasePath
//	threshold := cfg.Reconciliation.AutoConfirmThreshold
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the entire application configuration
type Config struct {
	Storage        StorageConfig        `yaml:"storage"`
	OpenAI         OpenAIConfig         `yaml:"openai"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	Locking        LockingConfig        `yaml:"locking"`
	API            APIConfig            `yaml:"api"`
	Observability  ObservabilityConfig  `yaml:"observability"`
}

// StorageConfig holds database configuration
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	// MaxRetries bounds transport retries of rate-limited and 5xx responses.
	// Defaults to 0: a failed match is reported to the pass, which counts it.
	MaxRetries int `yaml:"max_retries"`
}

// ReconciliationConfig holds matching and settlement settings
type ReconciliationConfig struct {
	// Workers bounds concurrent matcher calls within one pass. 1 is strictly sequential.
	Workers              int     `yaml:"workers"`
	AutoConfirmThreshold float64 `yaml:"auto_confirm_threshold"`
	SettleRetries        int     `yaml:"settle_retries"`
}

// LockingConfig selects the per-invoice lock backend. Empty RedisAddress means in-process.
type LockingConfig struct {
	RedisAddress  string        `yaml:"redis_address"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
}

// APIConfig holds HTTP server settings
type APIConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig toggles the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses the config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${OPENAI_API_KEY})
	expanded := os.ExpandEnv(string(data))

	// Seed values whose zero is meaningful so an omitted key keeps the default.
	cfg := Config{
		OpenAI:        OpenAIConfig{Temperature: 0.3},
		Observability: ObservabilityConfig{Metrics: MetricsConfig{Enabled: true}},
	}
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() *Config {
	cfg := &Config{
		Storage: StorageConfig{
			DatabasePath: getEnv("RECONCILER_DB_PATH", "reconciler.db"),
		},
		OpenAI: OpenAIConfig{
			APIKey:      os.Getenv("OPENAI_API_KEY"),
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL:     getEnv("OPENAI_BASE_URL", ""),
			MaxTokens:   getEnvInt("OPENAI_MAX_TOKENS", 1000),
			Temperature: getEnvFloat("OPENAI_TEMPERATURE", 0.3),
			Timeout:     getEnvDuration("OPENAI_TIMEOUT", 30*time.Second),
			MaxRetries:  getEnvInt("OPENAI_MAX_RETRIES", 0),
		},
		Reconciliation: ReconciliationConfig{
			Workers:              getEnvInt("RECONCILE_WORKERS", 1),
			AutoConfirmThreshold: getEnvFloat("AUTO_CONFIRM_THRESHOLD", 0.90),
			SettleRetries:        getEnvInt("SETTLE_RETRIES", 3),
		},
		Locking: LockingConfig{
			RedisAddress:  getEnv("REDIS_ADDRESS", ""),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			LockTTL:       getEnvDuration("LOCK_TTL", 10*time.Second),
		},
		API: APIConfig{
			Port:           getEnvInt("API_PORT", 8080),
			AllowedOrigins: splitList(getEnv("API_ALLOWED_ORIGINS", "")),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "text"),
			},
			Metrics: MetricsConfig{
				Enabled: getEnvBool("METRICS_ENABLED", true),
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// LoadOrEnv tries to load from config.yaml, falls back to environment variables
func LoadOrEnv() *Config {
	return LoadOrEnv_WithPath("config.yaml")
}

// LoadOrEnv_WithPath tries to load from specified path, falls back to environment variables.
// A .env file in the working directory, when present, is loaded first.
func LoadOrEnv_WithPath(path string) *Config {
	_ = LoadDotEnv()
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

// LoadDotEnv loads variables from the given .env files (default ".env") without
// overriding variables already set. Missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "reconciler.db"
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}
	if c.OpenAI.MaxTokens <= 0 {
		c.OpenAI.MaxTokens = 1000
	}
	if c.OpenAI.Timeout <= 0 {
		c.OpenAI.Timeout = 30 * time.Second
	}
	if c.Reconciliation.Workers <= 0 {
		c.Reconciliation.Workers = 1
	}
	if c.Reconciliation.AutoConfirmThreshold <= 0 {
		c.Reconciliation.AutoConfirmThreshold = 0.90
	}
	if c.Reconciliation.SettleRetries <= 0 {
		c.Reconciliation.SettleRetries = 3
	}
	if c.Locking.LockTTL <= 0 {
		c.Locking.LockTTL = 10 * time.Second
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "text"
	}
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback default
func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if result, err := strconv.Atoi(val); err == nil {
			return result
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if result, err := strconv.ParseFloat(val, 64); err == nil {
			return result
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if result, err := strconv.ParseBool(val); err == nil {
			return result
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if result, err := time.ParseDuration(val); err == nil {
			return result
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetAPIKey retrieves an API key from config first, then tries multiple environment variable names
// Usage: GetAPIKey(cfg.OpenAI.APIKey, "OPENAI_API_KEY", "OPENAI_APIKEY")
func (c *Config) GetAPIKey(configValue string, envVarNames ...string) string {
	if configValue != "" {
		return configValue
	}
	for _, envVar := range envVarNames {
		if val := os.Getenv(envVar); val != "" {
			return val
		}
	}
	return ""
}
