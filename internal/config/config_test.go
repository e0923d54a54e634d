package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Pipeline.ClipLimit != 2.0 {
		t.Errorf("ClipLimit: got %v, want 2.0", cfg.Pipeline.ClipLimit)
	}
	if cfg.Pipeline.TileGrid != 8 {
		t.Errorf("TileGrid: got %d, want 8", cfg.Pipeline.TileGrid)
	}
	if cfg.Pipeline.MinArea != 100 {
		t.Errorf("MinArea: got %v, want 100", cfg.Pipeline.MinArea)
	}
	if !cfg.Pipeline.ExcludeBoundary {
		t.Error("ExcludeBoundary should default to true")
	}
	if cfg.Calibration.MaxWidthFrac != 0.7 {
		t.Errorf("MaxWidthFrac: got %v, want 0.7", cfg.Calibration.MaxWidthFrac)
	}
	if cfg.Calibration.MinAspect != 6 {
		t.Errorf("MinAspect: got %v, want 6", cfg.Calibration.MinAspect)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative min area", func(c *Config) { c.Pipeline.MinArea = -1 }},
		{"negative threshold", func(c *Config) { c.Pipeline.Threshold = -5 }},
		{"even blur kernel", func(c *Config) { c.Pipeline.BlurKernel = 4 }},
		{"zero tiles", func(c *Config) { c.Pipeline.TileGrid = 0 }},
		{"zero workers", func(c *Config) { c.Pipeline.Workers = 0 }},
		{"even block size", func(c *Config) { c.Calibration.BlockSize = 50 }},
		{"width fraction above one", func(c *Config) { c.Calibration.MaxWidthFrac = 1.5 }},
		{"zero division price", func(c *Config) { c.Calibration.DivisionPrice = 0 }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "sqlite" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate: got %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Pipeline.Threshold != 127 {
		t.Errorf("Threshold: got %v, want 127", cfg.Pipeline.Threshold)
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "particle-mcp.yaml")

	cfg := DefaultConfig()
	cfg.Pipeline.MinArea = 250
	cfg.Store.Backend = "redis"
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Pipeline.MinArea != 250 {
		t.Errorf("MinArea: got %v, want 250", loaded.Pipeline.MinArea)
	}
	if loaded.Store.Backend != "redis" {
		t.Errorf("Backend: got %q, want redis", loaded.Store.Backend)
	}
}

func TestLoadConfig_PartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte("pipeline:\n  minArea: 40\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Pipeline.MinArea != 40 {
		t.Errorf("MinArea: got %v, want 40", cfg.Pipeline.MinArea)
	}
	if cfg.Pipeline.ClipLimit != 2.0 {
		t.Errorf("ClipLimit should keep its default, got %v", cfg.Pipeline.ClipLimit)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte("pipeline:\n  minArea: -3\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadConfig(path); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("LoadConfig: got %v, want ErrInvalidConfig", err)
	}
}
