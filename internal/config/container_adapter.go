package config

import (
	"github.com/garyjia/rcm-agent/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			MigrationsDir:   c.Database.MigrationsDir,
		},
		OpenAI: container.OpenAIConfig{
			APIKey:      c.OpenAI.APIKey,
			BaseURL:     c.OpenAI.BaseURL,
			Model:       c.OpenAI.Model,
			PromptsPath: c.OpenAI.PromptsPath,
		},
		Workflow: container.WorkflowConfig{
			MaxIterations:   c.Workflow.MaxIterations,
			ReviewThreshold: c.Workflow.ReviewThreshold,
			CodingThreshold: c.Workflow.CodingThreshold,
			OracleTimeout:   c.Workflow.OracleTimeout,
			GatewayTimeout:  c.Workflow.GatewayTimeout,
			SessionTTL:      c.Workflow.SessionTTL,
			IdleTimeout:     c.Workflow.IdleTimeout,
			ReapInterval:    c.Workflow.ReapInterval,
		},
		Payer: container.PayerConfig{
			Seed:            c.Payer.Seed,
			EligibilityRate: c.Payer.EligibilityRate,
			AcceptanceRate:  c.Payer.AcceptanceRate,
			Latency:         c.Payer.Latency,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
	}
}
