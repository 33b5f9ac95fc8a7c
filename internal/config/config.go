// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads the agent configuration with precedence
// ENV > file > defaults.
package config

import (
	"path/filepath"
	"time"
)

const (
	DefaultLogLevel          = "info"
	DefaultDataDir           = "/var/lib/kvsedge"
	DefaultAPIListenAddr     = ":8080"
	DefaultMetricsListenAddr = ":9090"
	DefaultAPIRateLimit      = 60
	DefaultStreamBufferSize  = 100000
	DefaultFileRotation      = 60 * time.Second
	DefaultLatencyMs         = 200
	DefaultJournalFile       = "journal.db"
	DefaultJournalRetention  = 30 * 24 * time.Hour
	DefaultOTLPExporter      = "grpc"
	DefaultOTLPEndpoint      = "localhost:4317"
	DefaultSamplingRate      = 1.0
)

// Config is the effective agent configuration.
type Config struct {
	Region    string          `yaml:"region"`
	LogLevel  string          `yaml:"logLevel"`
	DataDir   string          `yaml:"dataDir"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Journal   JournalConfig   `yaml:"journal"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Cameras   []Camera        `yaml:"cameras"`
}

// APIConfig configures the control API listener.
type APIConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	// RateLimit is the per-client request budget per minute.
	RateLimit int `yaml:"rateLimit"`
}

// MetricsConfig configures the Prometheus listener. An empty address
// serves /metrics on the API listener instead.
type MetricsConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// JournalConfig configures the SQLite upload journal.
type JournalConfig struct {
	Disabled bool `yaml:"disabled"`
	// Path defaults to <dataDir>/journal.db.
	Path string `yaml:"path"`
	// Retention drops finished entries older than this at startup.
	Retention time.Duration `yaml:"retention"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is "grpc" or "http".
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	Insecure     bool    `yaml:"insecure"`
}

// Camera describes one RTSP source and its KVS destination.
type Camera struct {
	Name             string        `yaml:"name"`
	KVSStreamName    string        `yaml:"kvsStreamName"`
	RTSPURL          string        `yaml:"rtspUrl"`
	StreamBufferSize int           `yaml:"streamBufferSize"`
	RecordPath       string        `yaml:"recordPath"`
	FileRotation     time.Duration `yaml:"fileRotation"`
	Record           bool          `yaml:"record"`
	LiveUpload       bool          `yaml:"liveUpload"`
	LatencyMs        int           `yaml:"latencyMs"`
}

// StreamName returns the KVS stream, falling back to the camera name.
func (c Camera) StreamName() string {
	if c.KVSStreamName != "" {
		return c.KVSStreamName
	}
	return c.Name
}

// Camera looks up a camera by name.
func (c Config) Camera(name string) (Camera, bool) {
	for _, cam := range c.Cameras {
		if cam.Name == name {
			return cam, true
		}
	}
	return Camera{}, false
}

func defaults() Config {
	return Config{
		LogLevel: DefaultLogLevel,
		DataDir:  DefaultDataDir,
		API: APIConfig{
			ListenAddr: DefaultAPIListenAddr,
			RateLimit:  DefaultAPIRateLimit,
		},
		Metrics: MetricsConfig{ListenAddr: DefaultMetricsListenAddr},
		Journal: JournalConfig{Retention: DefaultJournalRetention},
		Telemetry: TelemetryConfig{
			Exporter:     DefaultOTLPExporter,
			Endpoint:     DefaultOTLPEndpoint,
			SamplingRate: DefaultSamplingRate,
		},
	}
}

// applyCameraDefaults fills zero-valued camera fields. It runs after the
// file and env layers so per-camera defaults can follow dataDir.
func applyCameraDefaults(cfg *Config, rotation time.Duration) {
	for i := range cfg.Cameras {
		cam := &cfg.Cameras[i]
		if cam.StreamBufferSize == 0 {
			cam.StreamBufferSize = DefaultStreamBufferSize
		}
		if cam.FileRotation == 0 {
			cam.FileRotation = rotation
		}
		if cam.LatencyMs == 0 {
			cam.LatencyMs = DefaultLatencyMs
		}
		if cam.RecordPath == "" && cam.Name != "" {
			cam.RecordPath = filepath.Join(cfg.DataDir, "recordings", cam.Name)
		}
	}
}
