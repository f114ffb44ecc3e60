// Package config loads application configuration with multi-source
// priority:
//
//  1. Environment variables (PARLEY_* plus DATABASE_URL)
//  2. Config file (~/.parley/config.yaml or ./config.yaml)
//  3. Defaults
//
// Validation is fail-fast: Load returns an error instead of running
// with a half-usable configuration. Sensitive values never appear in
// logs.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel errors, checked with errors.Is().
var (
	ErrConfigNil               = errors.New("configuration is nil")
	ErrMissingAPIKey           = errors.New("missing API key")
	ErrInvalidProvider         = errors.New("invalid provider")
	ErrInvalidModelName        = errors.New("invalid model name")
	ErrInvalidTemperature      = errors.New("invalid temperature")
	ErrInvalidStorage          = errors.New("invalid storage backend")
	ErrInvalidEmbedderModel    = errors.New("invalid embedder model")
	ErrInvalidPostgresHost     = errors.New("invalid PostgreSQL host")
	ErrInvalidPostgresPort     = errors.New("invalid PostgreSQL port")
	ErrInvalidPostgresDBName   = errors.New("invalid PostgreSQL database name")
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")
	ErrInvalidPostgresSSLMode  = errors.New("invalid PostgreSQL SSL mode")
	ErrInvalidOllamaHost       = errors.New("invalid Ollama host")
	ErrInvalidHistoryTurns     = errors.New("invalid max history turns")
	ErrInvalidTimeout          = errors.New("invalid timeout")
)

// Provider identifiers.
const (
	ProviderGoogleAI = "googleai"
	ProviderOllama   = "ollama"
)

// Storage backend identifiers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// DefaultEmbedderModel truncates to the 768 dimensions the documents
// schema uses.
const DefaultEmbedderModel = "gemini-embedding-001"

// MCPServer configures one external MCP tool server, launched over
// stdio.
type MCPServer struct {
	Name    string            `mapstructure:"name"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
}

// Observability configures OTLP trace export.
type Observability struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
}

// Config stores application configuration.
type Config struct {
	// Model configuration
	Provider     string  `mapstructure:"provider"`
	ModelName    string  `mapstructure:"model_name"`
	Temperature  float32 `mapstructure:"temperature"`
	SystemPrompt string  `mapstructure:"system_prompt"`
	MaxTurns     int     `mapstructure:"max_turns"`
	UseTools     bool    `mapstructure:"use_tools"`
	OllamaHost   string  `mapstructure:"ollama_host"`

	// Conversation configuration
	MaxHistoryTurns int `mapstructure:"max_history_turns"`
	TimeoutSeconds  int `mapstructure:"timeout_seconds"`

	// Storage
	Storage          string `mapstructure:"storage"`
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE: never logged
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Knowledge base
	EmbedderModel  string   `mapstructure:"embedder_model"`
	AllowedSources []string `mapstructure:"allowed_sources"`

	// Tools
	MCPServers []MCPServer `mapstructure:"mcp_servers"`

	// HTTP server
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst"`
	IsDev       bool     `mapstructure:"dev"`

	// Observability
	Observability Observability `mapstructure:"observability"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Load reads configuration with the documented priority and validates
// it.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".parley")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides the individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("provider", ProviderGoogleAI)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_turns", 5)
	viper.SetDefault("use_tools", true)
	viper.SetDefault("ollama_host", "http://localhost:11434")

	viper.SetDefault("max_history_turns", 100)
	viper.SetDefault("timeout_seconds", 60)

	viper.SetDefault("storage", StoragePostgres)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "parley")
	viper.SetDefault("postgres_password", "parley_dev_password")
	viper.SetDefault("postgres_db_name", "parley")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("embedder_model", DefaultEmbedderModel)

	viper.SetDefault("host", "127.0.0.1")
	viper.SetDefault("port", 8080)
	viper.SetDefault("cors_origins", []string{"http://localhost:5173"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 60)
	viper.SetDefault("dev", false)

	viper.SetDefault("observability.enabled", false)
	viper.SetDefault("observability.endpoint", "localhost:4318")
	viper.SetDefault("observability.service_name", "parley")
	viper.SetDefault("observability.environment", "dev")

	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)
}

// bindEnvVariables binds runtime overrides. GEMINI_API_KEY is read
// directly by genkit, not through viper; Validate only checks its
// presence.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "PARLEY_PROVIDER")
	mustBind("model_name", "PARLEY_MODEL_NAME")
	mustBind("system_prompt", "PARLEY_SYSTEM_PROMPT")
	mustBind("ollama_host", "PARLEY_OLLAMA_HOST")
	mustBind("use_tools", "PARLEY_USE_TOOLS")
	mustBind("storage", "PARLEY_STORAGE")
	mustBind("host", "PARLEY_HOST")
	mustBind("port", "PARLEY_PORT")
	mustBind("cors_origins", "PARLEY_CORS_ORIGINS")
	mustBind("trust_proxy", "PARLEY_TRUST_PROXY")
	mustBind("log_level", "PARLEY_LOG_LEVEL")
	mustBind("log_json", "PARLEY_LOG_JSON")
	mustBind("observability.enabled", "PARLEY_TRACING_ENABLED")
	mustBind("observability.endpoint", "PARLEY_OTLP_ENDPOINT")
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3". A name
// that already contains "/" is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	return c.Provider + "/" + c.ModelName
}
