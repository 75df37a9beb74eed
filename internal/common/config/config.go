// Package config provides configuration management for the orchestration plane.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the plane.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Docker    DockerConfig    `mapstructure:"docker"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Git       GitConfig       `mapstructure:"git"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// StorageConfig holds the filesystem layout for project trees.
type StorageConfig struct {
	// Root is the directory holding one subtree per project id. All core
	// file writes are confined to Root.
	Root string `mapstructure:"root"`
}

// DatabaseConfig holds persistence configuration. Driver selects the store
// implementation: "memory", "sqlite", or "postgres".
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlitePath"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	DBName     string `mapstructure:"dbName"`
	SSLMode    string `mapstructure:"sslMode"`
	MaxConns   int    `mapstructure:"maxConns"`
	MinConns   int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration. An empty URL selects the
// in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// DockerConfig holds container runtime configuration.
type DockerConfig struct {
	// Enabled controls whether the container backend is attempted at all.
	// When false, or when the daemon is unreachable, sandboxes fall back
	// to the local PTY backend.
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	APIVersion     string `mapstructure:"apiVersion"`
	DefaultNetwork string `mapstructure:"defaultNetwork"`
}

// LLMConfig holds LLM backend and batching configuration.
type LLMConfig struct {
	BaseURL       string `mapstructure:"baseUrl"`
	PrimaryModel  string `mapstructure:"primaryModel"`
	Tier          string `mapstructure:"tier"` // MINIMAL, BALANCED, FULL, ULTRA
	APIKey        string `mapstructure:"apiKey"`
	BatchWindowMs int    `mapstructure:"batchWindowMs"`
	MaxBatch      int    `mapstructure:"maxBatch"`
	CallTimeout   int    `mapstructure:"callTimeout"` // in seconds
}

// WorkflowConfig holds workflow scheduler configuration.
type WorkflowConfig struct {
	// MaxConcurrency bounds how many workflows run in parallel per node.
	MaxConcurrency int `mapstructure:"maxConcurrency"`
}

// SandboxConfig holds sandbox supervisor configuration.
type SandboxConfig struct {
	// GraceMs is how long a stop waits after polite termination before
	// force-killing.
	GraceMs int `mapstructure:"graceMs"`
	// InternalPort is the fixed port applications are expected to listen
	// on inside a container sandbox.
	InternalPort int `mapstructure:"internalPort"`
	// StacksFile optionally points at a YAML file overriding the built-in
	// stack-to-image table.
	StacksFile string `mapstructure:"stacksFile"`
}

// GitConfig holds the commit identity and provider access configuration.
type GitConfig struct {
	AuthorName  string `mapstructure:"authorName"`
	AuthorEmail string `mapstructure:"authorEmail"`
}

// AuthConfig holds secrets handed to the auth/crypto collaborators. The
// core never derives policy from them.
type AuthConfig struct {
	JWTSecret      string `mapstructure:"jwtSecret"`
	VaultMasterKey string `mapstructure:"vaultMasterKey"`
	TokenDuration  int    `mapstructure:"tokenDuration"` // in seconds
}

// TelemetryConfig holds OpenTelemetry exporter configuration.
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlpEndpoint"`
	ServiceName  string `mapstructure:"serviceName"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// BatchWindow returns the batch window as a time.Duration.
func (l *LLMConfig) BatchWindow() time.Duration {
	return time.Duration(l.BatchWindowMs) * time.Millisecond
}

// CallTimeoutDuration returns the single-call timeout as a time.Duration.
func (l *LLMConfig) CallTimeoutDuration() time.Duration {
	return time.Duration(l.CallTimeout) * time.Second
}

// Grace returns the stop grace period as a time.Duration.
func (s *SandboxConfig) Grace() time.Duration {
	return time.Duration(s.GraceMs) * time.Millisecond
}

// TokenDurationTime returns the token duration as a time.Duration.
func (a *AuthConfig) TokenDurationTime() time.Duration {
	return time.Duration(a.TokenDuration) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("DEVPLANE_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

func defaultStorageRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/devplane/projects"
	}
	return filepath.Join(home, ".devplane", "projects")
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Storage defaults
	v.SetDefault("storage.root", defaultStorageRoot())

	// Database defaults - sqlite keeps single-node deployments dependency-free
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlitePath", "devplane.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "devplane")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "devplane")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "devplane-core")
	v.SetDefault("nats.maxReconnects", 10)

	// Docker defaults
	v.SetDefault("docker.enabled", true)
	v.SetDefault("docker.host", "unix:///var/run/docker.sock")
	v.SetDefault("docker.apiVersion", "1.41")
	v.SetDefault("docker.defaultNetwork", "bridge")

	// LLM defaults - an Ollama-style endpoint serves both the
	// OpenAI-compatible routes and the tag/pull routes
	v.SetDefault("llm.baseUrl", "http://localhost:11434")
	v.SetDefault("llm.primaryModel", "")
	v.SetDefault("llm.tier", "BALANCED")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.batchWindowMs", 50)
	v.SetDefault("llm.maxBatch", 5)
	v.SetDefault("llm.callTimeout", 120)

	// Workflow defaults
	v.SetDefault("workflow.maxConcurrency", 8)

	// Sandbox defaults
	v.SetDefault("sandbox.graceMs", 5000)
	v.SetDefault("sandbox.internalPort", 3000)
	v.SetDefault("sandbox.stacksFile", "")

	// Git identity defaults
	v.SetDefault("git.authorName", "devplane")
	v.SetDefault("git.authorEmail", "devplane@localhost")

	// Auth defaults
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.vaultMasterKey", "")
	v.SetDefault("auth.tokenDuration", 3600) // 1 hour

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlpEndpoint", "")
	v.SetDefault("telemetry.serviceName", "devplane")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix DEVPLANE_ with snake_case naming; a
// small set of well-known unprefixed variables is also honored.
// Config file should be named config.yaml and placed in the current directory or /etc/devplane/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("DEVPLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Well-known unprefixed environment variables. These are the names
	// operators and deployment tooling already use; each also accepts the
	// prefixed form.
	_ = v.BindEnv("storage.root", "STORAGE_ROOT", "DEVPLANE_STORAGE_ROOT")
	_ = v.BindEnv("llm.baseUrl", "LLM_BASE_URL", "DEVPLANE_LLM_BASE_URL")
	_ = v.BindEnv("llm.primaryModel", "LLM_PRIMARY_MODEL", "DEVPLANE_LLM_PRIMARY_MODEL")
	_ = v.BindEnv("llm.tier", "LLM_TIER", "DEVPLANE_LLM_TIER")
	_ = v.BindEnv("llm.batchWindowMs", "BATCH_WINDOW_MS", "DEVPLANE_LLM_BATCH_WINDOW_MS")
	_ = v.BindEnv("llm.maxBatch", "MAX_BATCH", "DEVPLANE_LLM_MAX_BATCH")
	_ = v.BindEnv("llm.apiKey", "LLM_API_KEY", "DEVPLANE_LLM_API_KEY")
	_ = v.BindEnv("workflow.maxConcurrency", "MAX_WF_CONCURRENCY", "DEVPLANE_WORKFLOW_MAX_CONCURRENCY")
	_ = v.BindEnv("sandbox.graceMs", "GRACE_MS", "DEVPLANE_SANDBOX_GRACE_MS")
	_ = v.BindEnv("auth.jwtSecret", "JWT_SECRET", "DEVPLANE_AUTH_JWT_SECRET")
	_ = v.BindEnv("auth.vaultMasterKey", "VAULT_MASTER_KEY", "DEVPLANE_AUTH_VAULT_MASTER_KEY")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/devplane/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
// In development mode (default), most fields are optional.
func validate(cfg *Config) error {
	var errs []string

	// Server validation - always required
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Storage.Root == "" {
		errs = append(errs, "storage.root is required")
	}

	switch cfg.Database.Driver {
	case "memory", "sqlite":
	case "postgres":
		if cfg.Database.Host == "" {
			errs = append(errs, "database.host is required for the postgres driver")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for the postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: memory, sqlite, postgres")
	}

	switch strings.ToUpper(cfg.LLM.Tier) {
	case "MINIMAL", "BALANCED", "FULL", "ULTRA":
	default:
		errs = append(errs, "llm.tier must be one of: MINIMAL, BALANCED, FULL, ULTRA")
	}
	if cfg.LLM.BatchWindowMs <= 0 {
		errs = append(errs, "llm.batchWindowMs must be positive")
	}
	if cfg.LLM.MaxBatch <= 0 {
		errs = append(errs, "llm.maxBatch must be positive")
	}

	if cfg.Workflow.MaxConcurrency <= 0 {
		errs = append(errs, "workflow.maxConcurrency must be positive")
	}

	if cfg.Sandbox.GraceMs <= 0 {
		errs = append(errs, "sandbox.graceMs must be positive")
	}
	if cfg.Sandbox.InternalPort <= 0 || cfg.Sandbox.InternalPort > 65535 {
		errs = append(errs, "sandbox.internalPort must be between 1 and 65535")
	}

	// Auth validation - generate random secret if not set (dev mode)
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = generateDevSecret()
	}
	if cfg.Auth.TokenDuration <= 0 {
		errs = append(errs, "auth.tokenDuration must be positive")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// generateDevSecret generates a random secret for development mode.
func generateDevSecret() string {
	// Use a fixed dev secret with a warning prefix
	// In production, users should set JWT_SECRET
	return "dev-secret-change-in-production-" + fmt.Sprintf("%d", time.Now().UnixNano())
}
