// Package config loads service configuration from the environment, with an
// optional YAML overlay for dispatch tuning.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"fieldops/internal/model"
)

// Config is the full service configuration.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	MigrateDir  string `env:"DB_MIGRATE_DIR" envDefault:"db/migrations"`

	AuthMode       string `env:"AUTH_MODE" envDefault:"dev"`
	AuthHMACSecret string `env:"AUTH_HMAC_SECRET"`

	// DispatchFile points at the optional YAML tuning overlay.
	DispatchFile string `env:"DISPATCH_CONFIG_FILE"`

	Dispatch Dispatch
}

// Dispatch holds the tunables of the dispatch engine. Env values apply
// first; the YAML file, when present, overrides them.
type Dispatch struct {
	MaxStopsPerTechnician int           `env:"MAX_STOPS_PER_TECHNICIAN" yaml:"maxStopsPerTechnician"`
	FallbackDriveMin      int           `env:"FALLBACK_DRIVE_MIN" yaml:"fallbackDriveMin"`
	WorkDayStart          string        `env:"WORK_DAY_START" yaml:"workDayStart"`
	ConfirmTimeout        time.Duration `env:"CONFIRM_TIMEOUT" yaml:"confirmTimeout"`
	CommitQueueBound      int           `env:"COMMIT_QUEUE_BOUND" yaml:"commitQueueBound"`

	Estimator EstimatorConfig `yaml:"estimator"`
}

// EstimatorConfig selects and tunes the travel estimator.
type EstimatorConfig struct {
	Mode        string  `env:"ESTIMATOR_MODE" yaml:"mode"` // fixed, haversine, http
	AvgSpeedMPH float64 `env:"ESTIMATOR_AVG_SPEED_MPH" yaml:"avgSpeedMph"`
	BaseURL     string  `env:"ESTIMATOR_BASE_URL" yaml:"baseUrl"`
	APIKey      string  `env:"ESTIMATOR_API_KEY" yaml:"apiKey"`
	RPS         float64 `env:"ESTIMATOR_RPS" yaml:"rps"`
}

// Load reads the environment, applies the YAML overlay when configured,
// and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := env.Parse(&cfg.Dispatch); err != nil {
		return Config{}, fmt.Errorf("parse dispatch env: %w", err)
	}
	if err := env.Parse(&cfg.Dispatch.Estimator); err != nil {
		return Config{}, fmt.Errorf("parse estimator env: %w", err)
	}
	if cfg.DispatchFile != "" {
		b, err := os.ReadFile(cfg.DispatchFile)
		if err != nil {
			return Config{}, fmt.Errorf("read dispatch config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg.Dispatch); err != nil {
			return Config{}, fmt.Errorf("parse dispatch config: %w", err)
		}
	}
	if err := cfg.Sanitize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Sanitize fills defaults and rejects unusable values.
func (c *Config) Sanitize() error {
	if c.Dispatch.MaxStopsPerTechnician < 0 {
		return fmt.Errorf("maxStopsPerTechnician must be >= 0")
	}
	if c.Dispatch.FallbackDriveMin < 0 {
		return fmt.Errorf("fallbackDriveMin must be >= 0")
	}
	if c.Dispatch.WorkDayStart != "" {
		if _, err := model.ParseClock(c.Dispatch.WorkDayStart); err != nil {
			return fmt.Errorf("workDayStart: %w", err)
		}
	}
	switch strings.ToLower(c.Dispatch.Estimator.Mode) {
	case "", "fixed", "haversine", "http":
	default:
		return fmt.Errorf("unknown estimator mode %q", c.Dispatch.Estimator.Mode)
	}
	if c.Dispatch.Estimator.Mode == "http" && c.Dispatch.Estimator.BaseURL == "" {
		return fmt.Errorf("estimator baseUrl required in http mode")
	}
	return nil
}

// WorkDayStartMinutes parses the configured day start, falling back to the
// default when unset.
func (c Config) WorkDayStartMinutes() model.ClockMinutes {
	if c.Dispatch.WorkDayStart == "" {
		return model.DefaultWorkDayStart
	}
	m, err := model.ParseClock(c.Dispatch.WorkDayStart)
	if err != nil {
		return model.DefaultWorkDayStart
	}
	return m
}
