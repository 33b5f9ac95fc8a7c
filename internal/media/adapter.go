// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package media defines the capability surface the recorder needs from a
// multimedia framework. Implementations live in subpackages: gst wraps
// GStreamer through go-gst and mediatest provides an in-memory graph for tests.
package media

import "time"

// Element is an opaque handle to a framework element.
type Element interface {
	Name() string
	Factory() string
}

// Pad is an opaque handle to an element pad.
type Pad interface {
	Name() string
}

// Pipeline is the top-level element that owns the bus and the clock.
type Pipeline interface {
	Element
}

// State mirrors the framework element states.
type State string

const (
	StateNull    State = "NULL"
	StateReady   State = "READY"
	StatePaused  State = "PAUSED"
	StatePlaying State = "PLAYING"
)

// ProbeType selects when a pad probe fires. Only IDLE is needed by the core.
type ProbeType int

const (
	ProbeIdle ProbeType = iota + 1
)

// ProbeReturn tells the framework whether to keep a probe installed.
type ProbeReturn int

const (
	// ProbeOK keeps the probe installed.
	ProbeOK ProbeReturn = iota
	// ProbeRemove uninstalls the probe after this invocation.
	ProbeRemove
)

// ProbeFunc runs on a streaming goroutine while the pad is quiescent.
type ProbeFunc func(pad Pad) ProbeReturn

// StreamInfo describes a newly announced elementary stream.
type StreamInfo struct {
	Media    string // "video" or "audio"
	Encoding string // RTP encoding name, e.g. "H264"
}

// PadAddedFunc is invoked when a source announces a new elementary pad.
type PadAddedFunc func(pad Pad, info StreamInfo)

// StreamCountFunc publishes the number of audio and video streams of a session.
type StreamCountFunc func(audio, video int)

// SampleFunc receives one encoded buffer. The slice is only valid for the
// duration of the call.
type SampleFunc func(buf []byte)

// FormatLocationFunc returns the file path for a rotated fragment.
type FormatLocationFunc func(fragmentID uint) string

// Adapter is the framework capability surface. All methods are safe for
// concurrent use; probe and sample callbacks run on streaming goroutines.
type Adapter interface {
	NewPipeline(name string) (Pipeline, error)
	NewElement(factory string) (Element, error)
	// SetProperty accepts bool, int, int64, uint, uint64, float64, string or Element values.
	SetProperty(e Element, name string, value any) error
	Add(p Pipeline, elems ...Element) error
	LinkMany(elems ...Element) error

	StaticPad(e Element, name string) (Pad, error)
	// RequestPad returns a fresh pad instance for templates such as
	// "src_%u", "video_%u" or "audio_%u".
	RequestPad(e Element, template string) (Pad, error)
	ReleaseRequestPad(e Element, pad Pad) error
	IsLinked(pad Pad) bool
	Peer(pad Pad) (Pad, bool)
	LinkPads(src, sink Pad) error
	UnlinkPads(src, sink Pad) error
	SendEOS(pad Pad) error
	AddProbe(pad Pad, typ ProbeType, fn ProbeFunc) error

	SyncWithParent(e Element) error
	StopElement(e Element) error

	OnPadAdded(e Element, fn PadAddedFunc) error
	OnStreamCount(e Element, fn StreamCountFunc) error
	OnNewSample(e Element, fn SampleFunc) error
	OnFormatLocation(e Element, fn FormatLocationFunc) error

	SetState(p Pipeline, state State) error
	// PopMessage waits up to timeout for the next bus message.
	PopMessage(p Pipeline, timeout time.Duration) (Message, bool)
	// PostEOS sends end-of-stream into the pipeline; an EOS message is
	// posted on the bus once every sink has drained.
	PostEOS(p Pipeline) error
}
