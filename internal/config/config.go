// Copyright 2024 Shop Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrInvalidConfigValue wraps every validation failure
var ErrInvalidConfigValue = errors.New("invalid configuration value")

// Config represents the complete application configuration
type Config struct {
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Services  ServicesConfig  `mapstructure:"services"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Router    RouterConfig    `mapstructure:"router"`
	Session   SessionConfig   `mapstructure:"session"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// OpenAIConfig contains OpenAI API configuration
type OpenAIConfig struct {
	APIKey   string `mapstructure:"apikey"`
	Endpoint string `mapstructure:"endpoint"`
}

// ServicesConfig contains the collaborator service locations
type ServicesConfig struct {
	StructuredQueryURL  string        `mapstructure:"structured_query_url"`
	StructuredQueryPath string        `mapstructure:"structured_query_path"`
	StructuredTimeout   time.Duration `mapstructure:"structured_timeout"`
	SemanticSearchURL   string        `mapstructure:"semantic_search_url"`
	SemanticSearchPath  string        `mapstructure:"semantic_search_path"`
	SemanticTimeout     time.Duration `mapstructure:"semantic_timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
}

// PipelineConfig contains turn pipeline settings
type PipelineConfig struct {
	Model          string        `mapstructure:"model"`
	HistoryWindow  int           `mapstructure:"history_window"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Temperature    float64       `mapstructure:"temperature"`
	StageTimeout   time.Duration `mapstructure:"stage_timeout"`
	StoreName      string        `mapstructure:"store_name"`
	TurnTimeout    time.Duration `mapstructure:"turn_timeout"`
	SynthesisModel string        `mapstructure:"synthesis_model"`
}

// RouterConfig selects the intent classifier implementation
type RouterConfig struct {
	Mode string `mapstructure:"mode"`
}

// SessionConfig contains transcript storage settings
type SessionConfig struct {
	StorageType string `mapstructure:"storage_type"`
	RedisURL    string `mapstructure:"redis_url"`
	KeyPrefix   string `mapstructure:"key_prefix"`
	MaxSessions int    `mapstructure:"max_sessions"`
}

// InventoryConfig contains the product/order store settings
type InventoryConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// AuthConfig contains bearer token settings
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// ValidationError names one invalid setting
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// LoadOptions controls LoadWithOptions
type LoadOptions struct {
	// ConfigPath is the YAML file; CONFIG_PATH in the environment wins
	ConfigPath string
	// EnvFile is a dotenv file loaded before anything else. Empty means
	// ./.env when present.
	EnvFile string
	// ValidateRequired rejects configurations the server cannot start with
	ValidateRequired bool
}

// Load reads and validates the configuration. Precedence, highest first:
// environment, config file, defaults.
func Load(configPath string) (*Config, error) {
	return LoadWithOptions(LoadOptions{ConfigPath: configPath, ValidateRequired: true})
}

// LoadWithOptions reads the configuration as Load does
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	v, err := newViper(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if opts.ValidateRequired {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	return godotenv.Load(path)
}

var defaults = map[string]any{
	"openai.endpoint": "https://api.openai.com/v1",

	"services.structured_query_url":  "http://localhost:8000",
	"services.structured_query_path": "/db/graph/query",
	"services.structured_timeout":    "120s",
	"services.semantic_search_url":   "http://localhost:8000",
	"services.semantic_search_path":  "/db/vector/search",
	"services.semantic_timeout":      "60s",
	"services.max_retries":           1,

	"pipeline.model":           "gpt-4o-mini",
	"pipeline.synthesis_model": "gpt-4o-mini",
	"pipeline.history_window":  6,
	"pipeline.max_tokens":      800,
	"pipeline.temperature":     0.0,
	"pipeline.stage_timeout":   "30s",
	"pipeline.turn_timeout":    "4m",
	"pipeline.store_name":      "SLT Lifestore",

	"router.mode": "llm",

	"session.storage_type": "memory",
	"session.key_prefix":   "shop:session:",
	"session.max_sessions": 0,

	"inventory.db_path": "./inventory.db",
	"auth.token_ttl":    "24h",

	"server.port":             8080,
	"server.shutdown_timeout": "10s",

	"logging.level":        "info",
	"logging.format":       "json",
	"logging.output":       "stdout",
	"logging.file_path":    "./logs/shop-assistant.log",
	"logging.max_size_mb":  10,
	"logging.max_backups":  5,
	"logging.max_age_days": 30,
}

// envBindings maps conventional variable names onto config keys. Any key
// can also be set as SHOP_ASSISTANT_<SECTION>_<KEY>.
var envBindings = map[string]string{
	"openai.apikey":                 "OPENAI_API_KEY",
	"openai.endpoint":               "OPENAI_ENDPOINT",
	"services.structured_query_url": "STRUCTURED_QUERY_URL",
	"services.semantic_search_url":  "SEMANTIC_SEARCH_URL",
	"session.redis_url":             "REDIS_URL",
	"session.storage_type":          "SESSION_STORAGE",
	"inventory.db_path":             "INVENTORY_DB_PATH",
	"auth.jwt_secret":               "JWT_SECRET",
	"router.mode":                   "ROUTER_MODE",
	"logging.level":                 "LOG_LEVEL",
	"logging.format":                "LOG_FORMAT",
	"logging.output":                "LOG_OUTPUT",
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("SHOP_ASSISTANT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if configPath == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		return v, nil
	}
	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}
	v.SetConfigFile(configPath)
	return v, nil
}

type problems []error

func (p *problems) check(ok bool, field, format string, args ...any) {
	if !ok {
		*p = append(*p, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}
}

func (p *problems) oneOf(value, field string, allowed ...string) {
	p.check(slices.Contains(allowed, value), field, "must be one of: %s", strings.Join(allowed, ", "))
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var p problems

	p.check(c.OpenAI.APIKey != "", "openai.apikey", "required, set it in the config file or OPENAI_API_KEY")
	p.check(c.Services.StructuredQueryURL != "", "services.structured_query_url", "required")
	p.check(c.Services.SemanticSearchURL != "", "services.semantic_search_url", "required")
	p.check(c.Services.StructuredTimeout > 0 && c.Services.SemanticTimeout > 0, "services.timeouts", "must be positive")
	p.check(c.Services.MaxRetries >= 0, "services.max_retries", "must not be negative")

	p.check(c.Pipeline.HistoryWindow > 0, "pipeline.history_window", "must be positive")
	p.check(c.Pipeline.MaxTokens > 0, "pipeline.max_tokens", "must be positive")
	p.check(c.Pipeline.Temperature >= 0 && c.Pipeline.Temperature <= 2, "pipeline.temperature", "must be between 0 and 2")
	p.check(c.Pipeline.StageTimeout > 0, "pipeline.stage_timeout", "must be positive")

	p.oneOf(c.Router.Mode, "router.mode", "llm", "rules")
	p.oneOf(c.Session.StorageType, "session.storage_type", "memory", "redis")
	p.check(c.Session.StorageType != "redis" || c.Session.RedisURL != "", "session.redis_url",
		"required for redis storage, set it in the config file or REDIS_URL")
	p.check(c.Session.MaxSessions >= 0, "session.max_sessions", "must not be negative")

	p.check(c.Server.Port > 0 && c.Server.Port <= 65535, "server.port", "must be between 1 and 65535")

	p.oneOf(c.Logging.Level, "logging.level", "debug", "info", "warn", "error")
	p.oneOf(c.Logging.Format, "logging.format", "json", "text")
	p.oneOf(c.Logging.Output, "logging.output", "stdout", "file")

	dir := filepath.Dir(c.Inventory.DBPath)
	p.check(c.Inventory.DBPath != "", "inventory.db_path", "required")
	p.check(c.Inventory.DBPath == "" || isDir(dir), "inventory.db_path", "directory %s does not exist", dir)

	if len(p) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfigValue, errors.Join(p...))
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// MaskSensitiveValues returns a copy safe to log
func (c *Config) MaskSensitiveValues() *Config {
	masked := *c
	masked.OpenAI.APIKey = maskValue(masked.OpenAI.APIKey)
	masked.Auth.JWTSecret = maskValue(masked.Auth.JWTSecret)
	masked.Session.RedisURL = maskValue(masked.Session.RedisURL)
	return &masked
}

// maskValue keeps at most the first 8 characters
func maskValue(value string) string {
	keep := min(len(value), 8)
	if len(value) <= 8 {
		keep = 0
	}
	return value[:keep] + strings.Repeat("*", len(value)-keep)
}

// WatchConfig calls onChange with the revalidated configuration each time
// the config file is written. Invalid edits go to onError and are skipped.
func WatchConfig(configPath string, onChange func(*Config), onError func(error)) error {
	v, err := newViper(configPath)
	if err != nil {
		return err
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file for watching: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := LoadWithOptions(LoadOptions{ConfigPath: v.ConfigFileUsed(), ValidateRequired: true})
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("failed to reload config %s: %w", e.Name, err))
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}
