package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/quanta/internal/algo"
)

// Config represents the quanta configuration file (~/.config/quanta/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	// Quantization defaults
	Bits           *int               `yaml:"bits"`
	GroupSize      *int               `yaml:"group_size"`
	Scheme         string             `yaml:"scheme"`
	AccuracyLevel  *int               `yaml:"accuracy_level"`
	RuntimeVersion string             `yaml:"runtime_version"`
	Providers      []string           `yaml:"providers"`
	Layout         string             `yaml:"layout"`
	Workers        *int               `yaml:"workers"`
	Exclude        []string           `yaml:"exclude"`
	Ratios         map[string]float64 `yaml:"ratios"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
	ModelsDir     string `yaml:"models_dir"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "quanta", "config.yaml")
}

// LoadConfig reads the config file. A missing file yields a zero Config.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyQuantizeConfig fills opts from the config file for every option the
// command line left unset.
func applyQuantizeConfig(c *cli.Command, cfg Config, opts *algo.Options) {
	if cfg.Bits != nil && !c.IsSet("bits") {
		opts.Bits = *cfg.Bits
	}
	if cfg.GroupSize != nil && !c.IsSet("group-size") {
		opts.GroupSize = *cfg.GroupSize
	}
	if cfg.Scheme != "" && !c.IsSet("scheme") {
		opts.Scheme = cfg.Scheme
	}
	if cfg.AccuracyLevel != nil && !c.IsSet("accuracy-level") {
		opts.AccuracyLevel = *cfg.AccuracyLevel
	}
	if cfg.RuntimeVersion != "" && !c.IsSet("runtime-version") {
		opts.Caps.Version = cfg.RuntimeVersion
	}
	if len(cfg.Providers) > 0 && !c.IsSet("providers") {
		opts.Providers = cfg.Providers
	}
	if cfg.Layout != "" && !c.IsSet("layout") {
		opts.Layout = cfg.Layout
	}
	if cfg.Workers != nil && !c.IsSet("workers") {
		opts.Workers = *cfg.Workers
	}
	if len(cfg.Exclude) > 0 && !c.IsSet("exclude") {
		opts.Exclude = cfg.Exclude
	}
	if len(cfg.Ratios) > 0 && !c.IsSet("ratio") {
		opts.Ratios = cfg.Ratios
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr, modelsDir *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.ModelsDir != "" && !c.IsSet("models-dir") {
		*modelsDir = cfg.ModelsDir
	}
}
