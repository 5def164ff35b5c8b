package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/twbeatles/dupescan/internal/constants"
)

// Config represents the application configuration
type Config struct {
	DatabasePath string `yaml:"database_path"`

	// Retention
	FingerprintMaxAgeDays int `yaml:"fingerprint_max_age_days"`
	KeepSessions          int `yaml:"keep_sessions"`

	// Database connection pool settings
	DBMaxOpenConns    int           `yaml:"db_max_open_conns"`
	DBMaxIdleConns    int           `yaml:"db_max_idle_conns"`
	DBConnMaxLifetime time.Duration `yaml:"db_conn_max_lifetime"`

	// Defaults applied to scans that do not set their own values
	ScanWorkers int `yaml:"scan_workers"`
}

// Default returns a default configuration
func Default() *Config {
	return &Config{
		DatabasePath:          defaultDatabasePath(),
		FingerprintMaxAgeDays: constants.DefaultFingerprintMaxAgeDays,
		KeepSessions:          constants.DefaultKeepSessions,
		DBMaxOpenConns:        25,
		DBMaxIdleConns:        5,
		DBConnMaxLifetime:     5 * time.Minute,
		ScanWorkers:           constants.DefaultMaxWorkers,
	}
}

// defaultDatabasePath places the store under the user's application-data directory
func defaultDatabasePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "dupescan", "dupescan.db")
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the application configuration for invalid values
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	if c.FingerprintMaxAgeDays < 0 {
		return fmt.Errorf("fingerprint_max_age_days must be non-negative, got %d", c.FingerprintMaxAgeDays)
	}
	if c.KeepSessions < 1 {
		return fmt.Errorf("keep_sessions must be at least 1, got %d", c.KeepSessions)
	}
	if c.ScanWorkers < 1 {
		return fmt.Errorf("scan_workers must be at least 1, got %d", c.ScanWorkers)
	}
	return nil
}
