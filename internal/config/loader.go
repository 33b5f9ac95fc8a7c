// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath string
}

// NewLoader creates a new configuration loader. An empty path loads
// defaults and environment only.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load loads configuration with precedence: ENV > File > Defaults, then
// validates the result.
func (l *Loader) Load() (Config, error) {
	cfg, err := l.Resolve()
	if err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Resolve merges the layers without validating.
func (l *Loader) Resolve() (Config, error) {
	cfg := defaults()

	if l.configPath != "" {
		fileCfg, err := loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		mergeFileConfig(&cfg, fileCfg)
	}

	mergeEnvConfig(&cfg)
	applyCameraDefaults(&cfg, ParseDuration(EnvFileRotation, DefaultFileRotation))

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = filepath.Join(cfg.DataDir, DefaultJournalFile)
	}
	return cfg, nil
}

// loadFile parses a YAML file strictly: unknown fields, multiple documents
// and trailing content are errors.
func loadFile(path string) (*Config, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &Config{}, nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("strict config parse error: %w: %w", ErrUnknownConfigField, err)
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("config file contains multiple documents or trailing content")
	}

	return &fileCfg, nil
}

func mergeFileConfig(dst *Config, src *Config) {
	if src.Region != "" {
		dst.Region = src.Region
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.API.ListenAddr != "" {
		dst.API.ListenAddr = src.API.ListenAddr
	}
	if src.API.RateLimit != 0 {
		dst.API.RateLimit = src.API.RateLimit
	}
	if src.Metrics.ListenAddr != "" {
		dst.Metrics.ListenAddr = src.Metrics.ListenAddr
	}
	mergeJournal(&dst.Journal, src.Journal)
	mergeTelemetry(&dst.Telemetry, src.Telemetry)
	if len(src.Cameras) > 0 {
		dst.Cameras = append([]Camera(nil), src.Cameras...)
	}
}

func mergeJournal(dst *JournalConfig, src JournalConfig) {
	dst.Disabled = dst.Disabled || src.Disabled
	if src.Path != "" {
		dst.Path = src.Path
	}
	if src.Retention != 0 {
		dst.Retention = src.Retention
	}
}

func mergeTelemetry(dst *TelemetryConfig, src TelemetryConfig) {
	dst.Enabled = dst.Enabled || src.Enabled
	dst.Insecure = dst.Insecure || src.Insecure
	if src.Exporter != "" {
		dst.Exporter = src.Exporter
	}
	if src.Endpoint != "" {
		dst.Endpoint = src.Endpoint
	}
	if src.SamplingRate != 0 {
		dst.SamplingRate = src.SamplingRate
	}
}

// mergeEnvConfig applies environment overrides. KVS_STREAM_REGION wins
// over AWS_REGION.
func mergeEnvConfig(cfg *Config) {
	cfg.Region = ParseString(EnvAWSRegion, cfg.Region)
	cfg.Region = ParseString(EnvStreamRegion, cfg.Region)
	cfg.LogLevel = strings.ToLower(ParseString(EnvLogLevel, cfg.LogLevel))
	cfg.DataDir = ParseString(EnvDataDir, cfg.DataDir)
	cfg.API.ListenAddr = ParseString(EnvAPIListen, cfg.API.ListenAddr)
	cfg.API.RateLimit = ParseInt(EnvAPIRateLimit, cfg.API.RateLimit)
	cfg.Metrics.ListenAddr = ParseString(EnvMetricsListen, cfg.Metrics.ListenAddr)
	cfg.Journal.Path = ParseString(EnvJournalPath, cfg.Journal.Path)
	cfg.Telemetry.Enabled = ParseBool(EnvTracingEnabled, cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = ParseString(EnvOTLPEndpoint, cfg.Telemetry.Endpoint)

	if ParseBool(EnvNoLiveUpload, false) {
		for i := range cfg.Cameras {
			cfg.Cameras[i].LiveUpload = false
		}
	}
}
