// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/kvsedge/internal/validate"
)

func validConfig(t *testing.T) Config {
	t.Helper()
	cfg := Example()
	cfg.Cameras[0].RecordPath = t.TempDir()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		fields []string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing region", mutate: func(c *Config) { c.Region = "" }, fields: []string{"region"}},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "trace" }, fields: []string{"logLevel"}},
		{name: "bad api addr", mutate: func(c *Config) { c.API.ListenAddr = "8080" }, fields: []string{"api.listenAddr"}},
		{name: "metrics on api addr", mutate: func(c *Config) { c.Metrics.ListenAddr = c.API.ListenAddr }, fields: []string{"metrics.listenAddr"}},
		{name: "metrics on api listener", mutate: func(c *Config) { c.Metrics.ListenAddr = "" }},
		{name: "no cameras", mutate: func(c *Config) { c.Cameras = nil }, fields: []string{"cameras"}},
		{
			name: "duplicate camera",
			mutate: func(c *Config) {
				c.Cameras = append(c.Cameras, c.Cameras[0])
			},
			fields: []string{"cameras[1].name", "cameras[1].kvsStreamName"},
		},
		{
			name: "shared stream",
			mutate: func(c *Config) {
				second := c.Cameras[0]
				second.Name = "back-door"
				c.Cameras = append(c.Cameras, second)
			},
			fields: []string{"cameras[1].kvsStreamName"},
		},
		{name: "rate limit disabled", mutate: func(c *Config) { c.API.RateLimit = 0 }},
		{name: "negative rate limit", mutate: func(c *Config) { c.API.RateLimit = -1 }, fields: []string{"api.rateLimit"}},
		{name: "http source", mutate: func(c *Config) { c.Cameras[0].RTSPURL = "http://cam/stream" }, fields: []string{"cameras[0].rtspUrl"}},
		{name: "bad stream name", mutate: func(c *Config) { c.Cameras[0].KVSStreamName = "front door" }, fields: []string{"cameras[0].kvsStreamName"}},
		{name: "short rotation", mutate: func(c *Config) { c.Cameras[0].FileRotation = 100 * time.Millisecond }, fields: []string{"cameras[0].fileRotation"}},
		{name: "latency", mutate: func(c *Config) { c.Cameras[0].LatencyMs = -1 }, fields: []string{"cameras[0].latencyMs"}},
		{name: "buffer", mutate: func(c *Config) { c.Cameras[0].StreamBufferSize = 0 }, fields: []string{"cameras[0].streamBufferSize"}},
		{name: "journal disabled", mutate: func(c *Config) { c.Journal = JournalConfig{Disabled: true} }},
		{name: "journal without path", mutate: func(c *Config) { c.Journal.Path = "" }, fields: []string{"journal.path"}},
		{name: "short retention", mutate: func(c *Config) { c.Journal.Retention = time.Minute }, fields: []string{"journal.retention"}},
		{name: "tracing", mutate: func(c *Config) { c.Telemetry.Enabled = true }},
		{
			name: "bad tracing",
			mutate: func(c *Config) {
				c.Telemetry = TelemetryConfig{Enabled: true, Exporter: "zipkin", SamplingRate: 1.5}
			},
			fields: []string{"telemetry.exporter", "telemetry.endpoint", "telemetry.samplingRate"},
		},
		{
			name: "nothing enabled",
			mutate: func(c *Config) {
				c.Cameras[0].Record = false
				c.Cameras[0].LiveUpload = false
			},
			fields: []string{"cameras[0].record"},
		},
		{
			name: "collects all",
			mutate: func(c *Config) {
				c.Region = ""
				c.Cameras[0].RTSPURL = ""
				c.Cameras[0].StreamBufferSize = -1
			},
			fields: []string{"region", "cameras[0].rtspUrl", "cameras[0].streamBufferSize"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)
			err := Validate(cfg)
			if len(tt.fields) == 0 {
				require.NoError(t, err)
				return
			}
			var ve validate.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.ErrorIs(t, err, validate.ErrInvalid)
			var got []string
			for _, e := range ve.Errors() {
				got = append(got, e.Field)
			}
			assert.ElementsMatch(t, tt.fields, got)
		})
	}
}
