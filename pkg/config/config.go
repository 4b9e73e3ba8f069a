package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete geomon configuration
type Config struct {
	Services  []ServiceConfig `mapstructure:"services"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Retention RetentionConfig `mapstructure:"retention"`
	Output    OutputConfig    `mapstructure:"output"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServiceConfig describes one external GIS service to monitor
type ServiceConfig struct {
	Name     string `mapstructure:"name"`
	BaseURL  string `mapstructure:"base_url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Path    string `mapstructure:"path"`
	DataDir string `mapstructure:"data_dir"`
}

// SweepConfig contains sweep execution configuration
type SweepConfig struct {
	Workers      int           `mapstructure:"workers"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxRuntime   time.Duration `mapstructure:"max_runtime"`
	SampleLimit  int           `mapstructure:"sample_limit"`
}

// AlertsConfig contains alert delivery configuration
type AlertsConfig struct {
	WebhookURL    string `mapstructure:"webhook_url"`
	SeverityFloor string `mapstructure:"severity_floor"`
}

// RetentionConfig contains cleanup horizons
type RetentionConfig struct {
	SnapshotDays  int `mapstructure:"snapshot_days"`
	ExecutionDays int `mapstructure:"execution_days"`
	BatchSize     int `mapstructure:"batch_size"`
}

// OutputConfig contains output formatting configuration
type OutputConfig struct {
	Format  string `mapstructure:"format"`
	NoColor bool   `mapstructure:"no_color"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Storage: StorageConfig{
			DataDir: filepath.Join(homeDir, ".geomon"),
		},
		Sweep: SweepConfig{
			Workers:      4,
			PollInterval: 30 * time.Second,
			MaxRuntime:   30 * time.Minute,
			SampleLimit:  1000,
		},
		Alerts: AlertsConfig{
			SeverityFloor: "medium",
		},
		Retention: RetentionConfig{
			SnapshotDays:  90,
			ExecutionDays: 30,
			BatchSize:     500,
		},
		Output: OutputConfig{
			Format: "table",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from file, environment and defaults
func Load() (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".geomon"))
	}
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("GEOMON")
	viper.AutomaticEnv()

	viper.BindEnv("logging.level", "LOG_LEVEL")
	viper.BindEnv("alerts.webhook_url", "GEOMON_WEBHOOK_URL")
	viper.BindEnv("storage.path", "GEOMON_DB_PATH")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// no config file is fine, defaults apply
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Storage.Path == "" && c.Storage.DataDir == "" {
		return fmt.Errorf("storage path or data dir is required")
	}
	if c.Sweep.Workers <= 0 {
		return fmt.Errorf("sweep workers must be positive")
	}
	if c.Sweep.PollInterval <= 0 {
		return fmt.Errorf("sweep poll interval must be positive")
	}
	for i, svc := range c.Services {
		if svc.BaseURL == "" {
			return fmt.Errorf("service %d (%s) is missing a base URL", i, svc.Name)
		}
	}
	return nil
}

// SnapshotRetention returns the snapshot horizon as a duration.
func (c *Config) SnapshotRetention() time.Duration {
	return time.Duration(c.Retention.SnapshotDays) * 24 * time.Hour
}

// ExecutionRetention returns the execution-history horizon as a duration.
func (c *Config) ExecutionRetention() time.Duration {
	return time.Duration(c.Retention.ExecutionDays) * 24 * time.Hour
}

// ExpandPaths expands home directory paths
func (c *Config) ExpandPaths() error {
	var err error
	c.Storage.DataDir, err = expandPath(c.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("failed to expand data dir: %w", err)
	}
	c.Storage.Path, err = expandPath(c.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to expand database path: %w", err)
	}
	return nil
}

// expandPath expands ~ to home directory
func expandPath(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path, err
	}

	if len(path) == 1 {
		return home, nil
	}

	return filepath.Join(home, path[1:]), nil
}
