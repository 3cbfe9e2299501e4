// Package container provides dependency injection and lifecycle management
// for the RCM workflow service.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// OpenAI configuration
	OpenAI OpenAIConfig

	// Workflow driver and session configuration
	Workflow WorkflowConfig

	// Mock payer gateway configuration
	Payer PayerConfig

	// Server configuration
	Server ServerConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file, or ":memory:"
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// MigrationsDir is the path to migration files. Empty uses the embedded schema.
	MigrationsDir string
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key
	APIKey string

	// BaseURL overrides the API endpoint
	BaseURL string

	// Model is the model to use (e.g., "gpt-4o-mini")
	Model string

	// PromptsPath is a YAML prompt file. Empty uses the built-in prompts.
	PromptsPath string
}

// WorkflowConfig holds the workflow settings.
type WorkflowConfig struct {
	MaxIterations   int
	ReviewThreshold float64
	CodingThreshold float64
	OracleTimeout   time.Duration
	GatewayTimeout  time.Duration
	SessionTTL      time.Duration

	// IdleTimeout closes open sessions with no activity for this long.
	// Zero disables the reaper.
	IdleTimeout  time.Duration
	ReapInterval time.Duration
}

// PayerConfig holds the mock payer settings.
type PayerConfig struct {
	// Seed makes payer outcomes reproducible. Zero seeds from the clock.
	Seed            int64
	EligibilityRate float64
	AcceptanceRate  float64
	Latency         time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind to
	Host string

	// Port to listen on
	Port int

	// ReadTimeout for HTTP server
	ReadTimeout time.Duration

	// WriteTimeout for HTTP server
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/rcm.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Workflow: WorkflowConfig{
			MaxIterations:   5,
			ReviewThreshold: 0.7,
			CodingThreshold: 0.8,
			OracleTimeout:   30 * time.Second,
			GatewayTimeout:  10 * time.Second,
			SessionTTL:      30 * time.Minute,
			IdleTimeout:     24 * time.Hour,
			ReapInterval:    5 * time.Minute,
		},
		Payer: PayerConfig{
			EligibilityRate: 0.9,
			AcceptanceRate:  0.8,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 90 * time.Second,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// Validate OpenAI configuration
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}

	if c.Workflow.MaxIterations < 1 {
		return fmt.Errorf("workflow.max_iterations must be at least 1")
	}

	return nil
}
