// Package config provides configuration loading and management for fmriqa.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Batch parameters
	Batch struct {
		// Pattern is the filename glob (without extension) used to
		// discover acquisition files
		Pattern string `yaml:"pattern"`

		// Extension is the image file extension, .nii or .nii.gz
		Extension string `yaml:"extension"`
	} `yaml:"batch"`

	// Mask parameters
	Mask struct {
		// Strategy selects the intensity-cutoff rule:
		// fraction-of-max, percentile, or otsu
		Strategy string `yaml:"strategy"`

		// Fraction is the fraction of maximum intensity for the
		// fraction-of-max strategy
		Fraction float64 `yaml:"fraction"`

		// PercentileLevel is the histogram percentile (0-100) for the
		// percentile strategy
		PercentileLevel float64 `yaml:"percentileLevel"`
	} `yaml:"mask"`

	// Output parameters
	Output struct {
		// SummaryFile is where the batch summary JSON is written;
		// empty disables it
		SummaryFile string `yaml:"summaryFile"`

		// DatabaseFile is the SQLite results database path; empty
		// disables persistence
		DatabaseFile string `yaml:"databaseFile"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default batch parameters
	cfg.Batch.Pattern = "*bold*"
	cfg.Batch.Extension = ".nii.gz"

	// Set default mask parameters
	cfg.Mask.Strategy = "fraction-of-max"
	cfg.Mask.Fraction = 0.05
	cfg.Mask.PercentileLevel = 75

	// Set default output parameters
	cfg.Output.SummaryFile = "qa_summary.json"
	cfg.Output.DatabaseFile = ""
	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
