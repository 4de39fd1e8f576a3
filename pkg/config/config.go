// Package config provides configuration loading and management for colonictransit.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"colonictransit/internal/models"
)

// Patterns hold the volume naming conventions used to assign imported
// volumes to a role
type Patterns struct {
	// CTContains marks CT volumes by substring
	CTContains string `yaml:"ctContains"`

	// SPECTSuffix marks SPECT volumes by suffix
	SPECTSuffix string `yaml:"spectSuffix"`

	// ThresholdSuffix marks threshold volumes by suffix
	ThresholdSuffix string `yaml:"thresholdSuffix"`

	// LabelSuffix marks label volumes by suffix
	LabelSuffix string `yaml:"labelSuffix"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Study layout
	Study struct {
		// Workspace is the directory holding the study volumes
		Workspace string `yaml:"workspace"`

		// Regions is the colon region catalog; entry 0 is background
		Regions models.RegionCatalog `yaml:"regions"`

		// Timepoints lists the imaging sessions with their display colour
		Timepoints []models.Timepoint `yaml:"timepoints"`

		Patterns Patterns `yaml:"patterns"`
	} `yaml:"study"`

	// Threshold calculation parameters
	Threshold struct {
		// Bins is the number of histogram bins
		Bins int `yaml:"bins"`

		// BinIndex selects the bin whose lower edge becomes the threshold
		BinIndex int `yaml:"binIndex"`

		// Mode is "Below" or "Above"
		Mode string `yaml:"mode"`

		// OutsideValue replaces suppressed voxels
		OutsideValue float64 `yaml:"outsideValue"`
	} `yaml:"threshold"`

	// Display parameters
	Display struct {
		// CTWindow and CTLevel are the soft tissue window for the colon
		CTWindow float64 `yaml:"ctWindow"`
		CTLevel  float64 `yaml:"ctLevel"`
	} `yaml:"display"`

	// Report parameters
	Report struct {
		// Columns is the CSV column order
		Columns []string `yaml:"columns"`

		// Summary is "labeled", "legacy" or "none"
		Summary string `yaml:"summary"`

		// SkipEmpty drops regions without voxels from the CSV
		SkipEmpty bool `yaml:"skipEmpty"`
	} `yaml:"report"`

	// Logging parameters
	Logging struct {
		// Level is a logrus level name
		Level string `yaml:"level"`

		// File enables a rotating log file when set
		File string `yaml:"file"`

		MaxSize    int `yaml:"maxSize"`    // megabytes
		MaxAge     int `yaml:"maxAge"`     // days
		MaxBackups int `yaml:"maxBackups"`
	} `yaml:"logging"`

	// Processing parameters
	Processing struct {
		// NumCores bounds the number of files parsed concurrently
		NumCores int `yaml:"numCores"`
	} `yaml:"processing"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Study.Workspace = "workspace"
	cfg.Study.Regions = models.DefaultRegions()
	cfg.Study.Timepoints = []models.Timepoint{
		{Name: "6HRS", Colour: "Red"},
		{Name: "24HRS", Colour: "Green"},
		{Name: "32HRS", Colour: "Blue"},
	}
	cfg.Study.Patterns = Patterns{
		CTContains:      "CTAC",
		SPECTSuffix:     "Transaxials",
		ThresholdSuffix: "Transaxials-threshold",
		LabelSuffix:     "label",
	}

	cfg.Threshold.Bins = 100
	cfg.Threshold.BinIndex = 9
	cfg.Threshold.Mode = "Below"
	cfg.Threshold.OutsideValue = 0

	cfg.Display.CTWindow = 350.0
	cfg.Display.CTLevel = 40.0

	cfg.Report.Columns = []string{"Label", "Voxels", "Volume cc", "Total Counts", "SPECT Mean"}
	cfg.Report.Summary = "labeled"

	cfg.Logging.Level = "info"
	cfg.Logging.MaxSize = 10
	cfg.Logging.MaxAge = 30
	cfg.Logging.MaxBackups = 3

	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default

	return cfg
}

// Validate checks the configuration for values the study cannot work with
func (c *Config) Validate() error {
	if len(c.Study.Regions) < 2 {
		return fmt.Errorf("at least one region besides background is required")
	}
	for i, r := range c.Study.Regions {
		if r.Index != i {
			return fmt.Errorf("region %q has index %d, expected %d", r.Name, r.Index, i)
		}
	}
	if len(c.Study.Timepoints) == 0 {
		return fmt.Errorf("no timepoints configured")
	}
	seen := make(map[string]bool)
	for _, tp := range c.Study.Timepoints {
		if tp.Name == "" {
			return fmt.Errorf("timepoint without a name")
		}
		if seen[tp.Name] {
			return fmt.Errorf("duplicate timepoint %q", tp.Name)
		}
		seen[tp.Name] = true
	}
	if c.Threshold.Bins < 1 || c.Threshold.BinIndex < 0 || c.Threshold.BinIndex >= c.Threshold.Bins {
		return fmt.Errorf("threshold bin index %d outside %d bins", c.Threshold.BinIndex, c.Threshold.Bins)
	}
	if c.Processing.NumCores < 1 {
		return fmt.Errorf("numCores must be at least 1")
	}
	return nil
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

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
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
