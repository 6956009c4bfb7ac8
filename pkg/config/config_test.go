package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Batch.Pattern != "*bold*" {
		t.Errorf("default pattern = %q, want *bold*", cfg.Batch.Pattern)
	}
	if cfg.Batch.Extension != ".nii.gz" {
		t.Errorf("default extension = %q, want .nii.gz", cfg.Batch.Extension)
	}
	if cfg.Mask.Strategy != "fraction-of-max" {
		t.Errorf("default mask strategy = %q, want fraction-of-max", cfg.Mask.Strategy)
	}
	if cfg.Mask.Fraction != 0.05 {
		t.Errorf("default mask fraction = %g, want 0.05", cfg.Mask.Fraction)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed for missing file: %v", err)
	}
	if cfg.Batch.Pattern != DefaultConfig().Batch.Pattern {
		t.Error("missing config file must yield defaults")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "fmriqa.yaml")

	cfg := DefaultConfig()
	cfg.Batch.Pattern = "digitmap*"
	cfg.Batch.Extension = ".nii"
	cfg.Mask.Strategy = "otsu"
	cfg.Output.DatabaseFile = "results.db"

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if loaded.Batch.Pattern != "digitmap*" || loaded.Batch.Extension != ".nii" {
		t.Errorf("batch section not preserved: %+v", loaded.Batch)
	}
	if loaded.Mask.Strategy != "otsu" {
		t.Errorf("mask strategy not preserved: %q", loaded.Mask.Strategy)
	}
	if loaded.Output.DatabaseFile != "results.db" {
		t.Errorf("output section not preserved: %+v", loaded.Output)
	}
}

func TestLoadConfigPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	body := "mask:\n  strategy: percentile\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Mask.Strategy != "percentile" {
		t.Errorf("mask strategy = %q, want percentile", cfg.Mask.Strategy)
	}
	// untouched sections keep their defaults
	if cfg.Batch.Pattern != "*bold*" {
		t.Errorf("batch pattern = %q, want default *bold*", cfg.Batch.Pattern)
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fmriqa.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file not created: %v", err)
	}
}
