package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// EnvPrefix prefixes environment overrides, e.g. RCM_SERVER_PORT
const EnvPrefix = "RCM"

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Payer    PayerConfig    `mapstructure:"payer"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"` // empty uses the embedded schema
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	Model       string `mapstructure:"model"`
	PromptsPath string `mapstructure:"prompts_path"` // empty uses the built-in prompts
}

// WorkflowConfig holds the workflow driver and session settings
type WorkflowConfig struct {
	MaxIterations   int           `mapstructure:"max_iterations"`
	ReviewThreshold float64       `mapstructure:"review_threshold"`
	CodingThreshold float64       `mapstructure:"coding_threshold"`
	OracleTimeout   time.Duration `mapstructure:"oracle_timeout"`
	GatewayTimeout  time.Duration `mapstructure:"gateway_timeout"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`  // 0 disables the idle-session reaper
	ReapInterval    time.Duration `mapstructure:"reap_interval"`
}

// PayerConfig holds the mock payer gateway settings
type PayerConfig struct {
	Seed            int64         `mapstructure:"seed"` // 0 seeds from the clock
	EligibilityRate float64       `mapstructure:"eligibility_rate"`
	AcceptanceRate  float64       `mapstructure:"acceptance_rate"`
	Latency         time.Duration `mapstructure:"latency"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from an optional .env file, the config file and
// environment variables
func Load(configPath string) (*Config, error) {
	return LoadWithEnv(configPath, ".env")
}

// LoadWithEnv is Load with an explicit .env path. A missing .env file is ignored.
func LoadWithEnv(configPath, envFile string) (*Config, error) {
	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 90*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/rcm.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrations_dir", "")

	// OpenAI defaults
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.prompts_path", "")

	// Workflow defaults
	v.SetDefault("workflow.max_iterations", 5)
	v.SetDefault("workflow.review_threshold", 0.7)
	v.SetDefault("workflow.coding_threshold", 0.8)
	v.SetDefault("workflow.oracle_timeout", 30*time.Second)
	v.SetDefault("workflow.gateway_timeout", 10*time.Second)
	v.SetDefault("workflow.session_ttl", 30*time.Minute)
	v.SetDefault("workflow.idle_timeout", 24*time.Hour)
	v.SetDefault("workflow.reap_interval", 5*time.Minute)

	// Payer defaults
	v.SetDefault("payer.seed", 0)
	v.SetDefault("payer.eligibility_rate", 0.9)
	v.SetDefault("payer.acceptance_rate", 0.8)
	v.SetDefault("payer.latency", 0)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) error {
	// Sensitive credentials from environment
	if err := v.BindEnv("openai.api_key", "OPENAI_API_KEY", EnvPrefix+"_OPENAI_API_KEY"); err != nil {
		return err
	}
	return v.BindEnv("openai.base_url", "OPENAI_BASE_URL", EnvPrefix+"_OPENAI_BASE_URL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// Validate OpenAI credentials
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}

	// Validate workflow settings
	if c.Workflow.MaxIterations < 1 {
		return fmt.Errorf("workflow.max_iterations must be at least 1")
	}
	if err := unitRange("workflow.review_threshold", c.Workflow.ReviewThreshold); err != nil {
		return err
	}
	if err := unitRange("workflow.coding_threshold", c.Workflow.CodingThreshold); err != nil {
		return err
	}
	if c.Workflow.OracleTimeout <= 0 || c.Workflow.GatewayTimeout <= 0 {
		return fmt.Errorf("workflow timeouts must be positive")
	}
	if c.Workflow.SessionTTL <= 0 {
		return fmt.Errorf("workflow.session_ttl must be positive")
	}
	if c.Workflow.IdleTimeout < 0 {
		return fmt.Errorf("workflow.idle_timeout must not be negative")
	}
	if c.Workflow.IdleTimeout > 0 && c.Workflow.ReapInterval <= 0 {
		return fmt.Errorf("workflow.reap_interval must be positive when idle_timeout is set")
	}

	// Validate payer settings
	if err := unitRange("payer.eligibility_rate", c.Payer.EligibilityRate); err != nil {
		return err
	}
	if err := unitRange("payer.acceptance_rate", c.Payer.AcceptanceRate); err != nil {
		return err
	}

	return nil
}

func unitRange(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be between 0 and 1, got %g", name, v)
	}
	return nil
}
