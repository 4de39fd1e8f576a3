package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config is invalid: %v", err)
	}
	if len(cfg.Study.Regions) != 9 || cfg.Study.Regions[8].Name != "stool" {
		t.Errorf("Unexpected regions %v", cfg.Study.Regions)
	}
	if cfg.Threshold.Bins != 100 || cfg.Threshold.BinIndex != 9 {
		t.Errorf("Unexpected threshold defaults %d/%d", cfg.Threshold.Bins, cfg.Threshold.BinIndex)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Display.CTWindow != 350 {
		t.Errorf("Expected default CT window, got %v", cfg.Display.CTWindow)
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "colonictransit.yaml")
	cfg := DefaultConfig()
	cfg.Threshold.BinIndex = 12
	cfg.Report.Summary = "legacy"

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Threshold.BinIndex != 12 || loaded.Report.Summary != "legacy" {
		t.Errorf("Loaded config lost changes: %+v", loaded.Threshold)
	}
	if len(loaded.Study.Timepoints) != 3 || loaded.Study.Timepoints[1].Colour != "Green" {
		t.Errorf("Unexpected timepoints %v", loaded.Study.Timepoints)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"bad yaml":   "study: [",
		"bin index":  "threshold:\n  bins: 10\n  binIndex: 10\n",
		"no regions": "study:\n  regions:\n    - index: 0\n      name: precolon\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}
