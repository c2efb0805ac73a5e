package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Environment represents different deployment environments.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the omnireply service.
// Environment variables are parsed from the OMNIREPLY_ prefix, e.g.
// OMNIREPLY_HTTP_PORT, OMNIREPLY_POSTGRES_DSN.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Store configuration. DBDriver "auto" resolves to postgres when a DSN is
	// present and memory otherwise.
	DBDriver    string `envconfig:"DB_DRIVER" default:"auto"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// Embedding / semantic search configuration
	EmbedProvider  string `envconfig:"EMBED_PROVIDER" default:"ollama"`
	EmbedModel     string `envconfig:"EMBED_MODEL" default:"mxbai-embed-large"`
	SearchIndexURL string `envconfig:"SEARCH_INDEX_URL" default:"weaviate:8080"`

	// Completion provider credentials
	OpenAIAPIKey    string `envconfig:"OPENAI_API_KEY" default:""`
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY" default:""`

	// Outbound CRM channel API
	CRMBaseURL string `envconfig:"CRM_BASE_URL" default:"https://services.leadconnectorhq.com"`
	CRMAPIKey  string `envconfig:"CRM_API_KEY" default:""`

	// AI completion calls are aborted after this many seconds; a timeout is a
	// terminal failure for that inbound message, same as empty content.
	AICompletionTimeoutSeconds int `envconfig:"AI_COMPLETION_TIMEOUT_SECONDS" default:"60"`

	// Conversation archive sweeper
	ArchiveIdleDays int    `envconfig:"ARCHIVE_IDLE_DAYS" default:"90"`
	ArchiveCronSpec string `envconfig:"ARCHIVE_CRON_SPEC" default:"0 3 * * *"`

	// Health checking
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"2"`
}

// ResolveDefaults validates driver selection and derives DBDriver when "auto".
func (c *Config) ResolveDefaults() error {
	if c.DBDriver == "" || c.DBDriver == "auto" {
		if c.PostgresDSN != "" {
			c.DBDriver = "postgres"
		} else {
			c.DBDriver = "memory"
		}
	}
	switch c.DBDriver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.DBDriver == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("DB_DRIVER=postgres requires POSTGRES_DSN")
	}
	if c.AICompletionTimeoutSeconds <= 0 {
		return fmt.Errorf("AI_COMPLETION_TIMEOUT_SECONDS must be positive")
	}
	if c.ArchiveIdleDays <= 0 {
		return fmt.Errorf("ARCHIVE_IDLE_DAYS must be positive")
	}
	return nil
}

// New creates a Config by parsing OMNIREPLY_-prefixed environment variables.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("OMNIREPLY", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewForTesting creates a config for tests: in-memory store, no credentials.
func NewForTesting() *Config {
	return &Config{
		Environment:                EnvTesting,
		HTTPPort:                   8080,
		DBDriver:                   "memory",
		EmbedProvider:              "ollama",
		EmbedModel:                 "mxbai-embed-large",
		SearchIndexURL:             "localhost:8082",
		AICompletionTimeoutSeconds: 5,
		ArchiveIdleDays:            90,
		ArchiveCronSpec:            "@daily",
		HealthIntervalSeconds:      30,
		HealthProbeTimeoutSeconds:  2,
	}
}

// IsTesting returns true if the environment is set to testing.
func (c *Config) IsTesting() bool { return c.Environment == EnvTesting }

// IsProduction returns true if the environment is set to production.
func (c *Config) IsProduction() bool { return c.Environment == EnvProduction }

// GetHTTPAddr returns the HTTP server listen address.
func (c *Config) GetHTTPAddr() string { return fmt.Sprintf(":%d", c.HTTPPort) }
