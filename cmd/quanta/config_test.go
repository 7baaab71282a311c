package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`bits: 8
group_size: -1
scheme: sym
providers: [CUDAExecutionProvider]
exclude: [lm_head]
ratios:
  w1: 0.95
log_format: json
server_address: 0.0.0.0:9090
models_dir: /srv/models
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Bits == nil || *cfg.Bits != 8 {
		t.Fatalf("bits = %v, want 8", cfg.Bits)
	}
	if cfg.GroupSize == nil || *cfg.GroupSize != -1 {
		t.Fatalf("group_size = %v, want -1", cfg.GroupSize)
	}
	if cfg.AccuracyLevel != nil {
		t.Fatalf("accuracy_level should be unset")
	}
	if cfg.Scheme != "sym" || cfg.LogFormat != "json" || cfg.ServerAddress != "0.0.0.0:9090" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0] != "CUDAExecutionProvider" {
		t.Fatalf("providers = %v", cfg.Providers)
	}
	if cfg.ModelsDir != "/srv/models" {
		t.Fatalf("models_dir = %q", cfg.ModelsDir)
	}
	if cfg.Ratios["w1"] != 0.95 {
		t.Fatalf("ratios = %v", cfg.Ratios)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.Bits != nil || cfg.Scheme != "" {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("bits: [nope"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
