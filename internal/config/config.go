// Package config provides configuration loading and validation for the particle
// measurement server. Configuration is read from a YAML file; a missing file
// yields the defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate for out-of-range settings.
var ErrInvalidConfig = errors.New("invalid configuration")

// Pipeline holds the particle measurement constants.
type Pipeline struct {
	// ClipLimit is the CLAHE contrast clip limit.
	ClipLimit float64 `yaml:"clipLimit"`

	// TileGrid is the number of CLAHE tiles along each axis.
	TileGrid int `yaml:"tileGrid"`

	// BlurKernel is the Gaussian kernel size in pixels (odd).
	BlurKernel int `yaml:"blurKernel"`

	// Threshold is the fixed binarization level; darker pixels are particles.
	Threshold float64 `yaml:"threshold"`

	// MinArea is the smallest contour area in square pixels that is measured.
	MinArea float64 `yaml:"minArea"`

	// ExcludeBoundary drops contours touching the image border.
	ExcludeBoundary bool `yaml:"excludeBoundary"`

	// Workers is the number of images processed concurrently.
	Workers int `yaml:"workers"`
}

// Calibration holds the reference-strip detection constants.
type Calibration struct {
	// BlockSize is the adaptive threshold neighbourhood (odd).
	BlockSize int `yaml:"blockSize"`

	// Offset is subtracted from the local mean before comparison.
	Offset float64 `yaml:"offset"`

	// CloseHeight is the height of the vertical closing kernel.
	CloseHeight int `yaml:"closeHeight"`

	MinStripHeight int     `yaml:"minStripHeight"`
	MaxWidthFrac   float64 `yaml:"maxWidthFraction"`
	MinAspect      float64 `yaml:"minAspect"`

	// DivisionPrice is the physical length of one division when none is given.
	DivisionPrice float64 `yaml:"divisionPrice"`
}

// Store selects and configures the record store.
type Store struct {
	// Backend is "memory" or "redis".
	Backend        string `yaml:"backend"`
	RedisAddress   string `yaml:"redisAddress"`
	RedisMaxIdle   int    `yaml:"redisMaxIdle"`
	RedisKeyPrefix string `yaml:"redisKeyPrefix"`
}

// Server holds transport settings.
type Server struct {
	// ArtifactsDir receives intermediate images; empty disables artifacts.
	ArtifactsDir string `yaml:"artifactsDir"`

	// HTTPAddress is the listen address of the HTTP API.
	HTTPAddress string `yaml:"httpAddress"`
}

// Log holds logging settings.
type Log struct {
	Level string `yaml:"level"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	Pipeline    Pipeline    `yaml:"pipeline"`
	Calibration Calibration `yaml:"calibration"`
	Store       Store       `yaml:"store"`
	Server      Server      `yaml:"server"`
	Log         Log         `yaml:"log"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Pipeline.ClipLimit = 2.0
	cfg.Pipeline.TileGrid = 8
	cfg.Pipeline.BlurKernel = 5
	cfg.Pipeline.Threshold = 127
	cfg.Pipeline.MinArea = 100
	cfg.Pipeline.ExcludeBoundary = true
	cfg.Pipeline.Workers = 1

	cfg.Calibration.BlockSize = 51
	cfg.Calibration.Offset = 15
	cfg.Calibration.CloseHeight = 15
	cfg.Calibration.MinStripHeight = 20
	cfg.Calibration.MaxWidthFrac = 0.7
	cfg.Calibration.MinAspect = 6
	cfg.Calibration.DivisionPrice = 1

	cfg.Store.Backend = "memory"
	cfg.Store.RedisAddress = ":6379"
	cfg.Store.RedisMaxIdle = 8
	cfg.Store.RedisKeyPrefix = "particles:"

	cfg.Server.HTTPAddress = ":8081"

	cfg.Log.Level = "info"

	return cfg
}

// Validate checks that every setting is usable by the pipeline.
func (c *Config) Validate() error {
	p := c.Pipeline
	switch {
	case p.ClipLimit <= 0:
		return fmt.Errorf("%w: clipLimit must be positive", ErrInvalidConfig)
	case p.TileGrid < 1:
		return fmt.Errorf("%w: tileGrid must be at least 1", ErrInvalidConfig)
	case p.BlurKernel < 1 || p.BlurKernel%2 == 0:
		return fmt.Errorf("%w: blurKernel must be a positive odd number", ErrInvalidConfig)
	case p.Threshold < 0 || p.Threshold > 255:
		return fmt.Errorf("%w: threshold must be within 0-255", ErrInvalidConfig)
	case p.MinArea < 0:
		return fmt.Errorf("%w: minArea must not be negative", ErrInvalidConfig)
	case p.Workers < 1:
		return fmt.Errorf("%w: workers must be at least 1", ErrInvalidConfig)
	}

	k := c.Calibration
	switch {
	case k.BlockSize < 3 || k.BlockSize%2 == 0:
		return fmt.Errorf("%w: calibration blockSize must be odd and at least 3", ErrInvalidConfig)
	case k.CloseHeight < 1:
		return fmt.Errorf("%w: calibration closeHeight must be at least 1", ErrInvalidConfig)
	case k.MinStripHeight < 0:
		return fmt.Errorf("%w: calibration minStripHeight must not be negative", ErrInvalidConfig)
	case k.MaxWidthFrac <= 0 || k.MaxWidthFrac > 1:
		return fmt.Errorf("%w: calibration maxWidthFraction must be within (0, 1]", ErrInvalidConfig)
	case k.MinAspect < 0:
		return fmt.Errorf("%w: calibration minAspect must not be negative", ErrInvalidConfig)
	case k.DivisionPrice <= 0:
		return fmt.Errorf("%w: calibration divisionPrice must be positive", ErrInvalidConfig)
	}

	switch c.Store.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, c.Store.Backend)
	}

	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
