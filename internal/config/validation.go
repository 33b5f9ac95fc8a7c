// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/ManuGH/kvsedge/internal/validate"
)

var streamNameRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,256}$`)

const (
	minFileRotation     = time.Second
	minJournalRetention = time.Hour
	maxLatencyMs        = 60000
)

// Validate reports every problem in cfg at once.
func Validate(cfg Config) error {
	v := validate.New()

	v.NotEmpty("region", cfg.Region)
	v.OneOf("logLevel", cfg.LogLevel, validate.LogLevels())
	v.ListenAddr("api.listenAddr", cfg.API.ListenAddr)
	v.NonNegative("api.rateLimit", cfg.API.RateLimit)
	if cfg.Metrics.ListenAddr != "" {
		v.ListenAddr("metrics.listenAddr", cfg.Metrics.ListenAddr)
		if cfg.Metrics.ListenAddr == cfg.API.ListenAddr {
			v.AddError("metrics.listenAddr", "must differ from api.listenAddr", cfg.Metrics.ListenAddr)
		}
	}

	if !cfg.Journal.Disabled {
		v.NotEmpty("journal.path", cfg.Journal.Path)
		v.MinDuration("journal.retention", cfg.Journal.Retention, minJournalRetention)
	}
	if t := cfg.Telemetry; t.Enabled {
		v.OneOf("telemetry.exporter", t.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", t.Endpoint)
		if t.SamplingRate < 0 || t.SamplingRate > 1 {
			v.AddError("telemetry.samplingRate", "must be between 0 and 1", t.SamplingRate)
		}
	}

	if len(cfg.Cameras) == 0 {
		v.AddError("cameras", "at least one camera is required", nil)
	}
	for i, cam := range cfg.Cameras {
		field := func(name string) string { return fmt.Sprintf("cameras[%d].%s", i, name) }

		v.NotEmpty(field("name"), cam.Name)
		v.Unique("camera name", field("name"), cam.Name)
		v.Pattern(field("kvsStreamName"), cam.StreamName(), streamNameRe, "[a-zA-Z0-9_.-]{1,256}")
		v.Unique("stream", field("kvsStreamName"), cam.StreamName())
		v.URL(field("rtspUrl"), cam.RTSPURL, []string{"rtsp", "rtsps"})
		v.Positive(field("streamBufferSize"), cam.StreamBufferSize)
		v.Range(field("latencyMs"), cam.LatencyMs, 0, maxLatencyMs)
		v.MinDuration(field("fileRotation"), cam.FileRotation, minFileRotation)
		if cam.Record {
			v.Directory(field("recordPath"), cam.RecordPath, false)
		}
		if !cam.Record && !cam.LiveUpload {
			v.AddError(field("record"), "record or liveUpload must be enabled", cam.Name)
		}
	}

	return v.Err()
}
