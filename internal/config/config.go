// Package config loads the taskpilot service configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level service configuration.
type Config struct {
	Orchestrator  OrchestratorConfig  `mapstructure:"orchestrator"`
	RoleService   RoleServiceConfig   `mapstructure:"role_service"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Streaming     StreamingConfig     `mapstructure:"streaming"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// OrchestratorConfig controls the step loop.
type OrchestratorConfig struct {
	MaxSteps             int     `mapstructure:"max_steps"`
	MaxFailures          int     `mapstructure:"max_failures"`
	MaxValidatorFailures int     `mapstructure:"max_validator_failures"`
	PlannerInterval      float64 `mapstructure:"planner_interval"`
	ValidationEnabled    bool    `mapstructure:"validation_enabled"`
	PausePollMs          int     `mapstructure:"pause_poll_ms"`
	RoleCallsPerMinute   int     `mapstructure:"role_calls_per_minute"`
	HistoryWindow        int     `mapstructure:"history_window"`
}

// RoleServiceConfig locates the external agent service backing the roles.
type RoleServiceConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RedisConfig configures the optional transcript store and event mirror.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StreamingConfig configures lifecycle event delivery.
type StreamingConfig struct {
	RingCapacity int   `mapstructure:"ring_capacity"`
	MirrorMaxLen int64 `mapstructure:"mirror_max_len"`
}

// ObservabilityConfig configures metrics and logging.
type ObservabilityConfig struct {
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

// SetDefaults fills unset fields with safe values.
func (c *Config) SetDefaults() {
	if c.Orchestrator.MaxSteps <= 0 {
		c.Orchestrator.MaxSteps = 50
	}
	if c.Orchestrator.MaxFailures <= 0 {
		c.Orchestrator.MaxFailures = 3
	}
	if c.Orchestrator.MaxValidatorFailures <= 0 {
		c.Orchestrator.MaxValidatorFailures = 3
	}
	if c.Orchestrator.PlannerInterval == 0 {
		c.Orchestrator.PlannerInterval = 3
	}
	if c.Orchestrator.PausePollMs <= 0 {
		c.Orchestrator.PausePollMs = 200
	}
	if c.Orchestrator.HistoryWindow <= 0 {
		c.Orchestrator.HistoryWindow = 20
	}
	if c.RoleService.BaseURL == "" {
		c.RoleService.BaseURL = "http://localhost:8000"
	}
	if c.RoleService.TimeoutSeconds <= 0 {
		c.RoleService.TimeoutSeconds = 60
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Streaming.RingCapacity <= 0 {
		c.Streaming.RingCapacity = 256
	}
	if c.Streaming.MirrorMaxLen <= 0 {
		c.Streaming.MirrorMaxLen = 1024
	}
	if c.Observability.Metrics.Port <= 0 {
		c.Observability.Metrics.Port = 2112
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Orchestrator.MaxSteps < 1 {
		return fmt.Errorf("orchestrator.max_steps must be >= 1, got %d", c.Orchestrator.MaxSteps)
	}
	if c.Orchestrator.MaxFailures < 1 {
		return fmt.Errorf("orchestrator.max_failures must be >= 1, got %d", c.Orchestrator.MaxFailures)
	}
	if c.Orchestrator.MaxValidatorFailures < 1 {
		return fmt.Errorf("orchestrator.max_validator_failures must be >= 1, got %d", c.Orchestrator.MaxValidatorFailures)
	}
	if c.Orchestrator.RoleCallsPerMinute < 0 {
		return fmt.Errorf("orchestrator.role_calls_per_minute must be >= 0, got %d", c.Orchestrator.RoleCallsPerMinute)
	}
	if c.RoleService.BaseURL == "" {
		return fmt.Errorf("role_service.base_url is required")
	}
	return nil
}

// PausePollInterval returns the pause poll cadence as a duration.
func (c *OrchestratorConfig) PausePollInterval() time.Duration {
	return time.Duration(c.PausePollMs) * time.Millisecond
}

// Load reads the config file from TASKPILOT_CONFIG or the given path.
// A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	if env := os.Getenv("TASKPILOT_CONFIG"); env != "" {
		path = env
	}

	var cfg Config
	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			v := viper.New()
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
			if err := v.Unmarshal(&cfg); err != nil {
				return nil, fmt.Errorf("unmarshal config: %w", err)
			}
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
