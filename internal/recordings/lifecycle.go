// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recordings

import (
	"os"
	"time"
)

// SegmentState is the lifecycle state of a segment on disk.
type SegmentState string

const (
	StateRecording SegmentState = "recording" // still written by the file branch
	StateFinished  SegmentState = "finished"  // closed, not uploaded yet
	StateUploaded  SegmentState = "uploaded"
)

// ClassifierConfig holds classification parameters.
type ClassifierConfig struct {
	StableWindow time.Duration // no writes for this long
	MinSizeBytes int64
}

// DefaultClassifierConfig returns the classifier defaults.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{StableWindow: 5 * time.Second, MinSizeBytes: 1}
}

// Classify determines the state of f from its file info. A segment is
// finished only when it has not been modified for StableWindow and is at
// least MinSizeBytes long.
func Classify(f VideoFile, info os.FileInfo, cfg ClassifierConfig, now time.Time) SegmentState {
	if f.Uploaded {
		return StateUploaded
	}
	if now.Sub(info.ModTime()) < cfg.StableWindow {
		return StateRecording
	}
	if info.Size() < cfg.MinSizeBytes {
		return StateRecording
	}
	return StateFinished
}
