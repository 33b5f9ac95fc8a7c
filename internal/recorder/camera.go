// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recorder

import (
	"fmt"
	"strings"

	"github.com/ManuGH/kvsedge/internal/media"
)

// CameraKind is the closed set of supported sources.
type CameraKind string

const (
	RTSP CameraKind = "rtsp"
)

// ParseCameraKind maps a config or URL scheme string onto a CameraKind.
func ParseCameraKind(s string) (CameraKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rtsp", "rtsps":
		return RTSP, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedCamera, s)
}

// Tee is a capability-tagged fan-out point published by a camera for one
// elementary stream.
type Tee struct {
	Element  media.Element
	Cap      Capability
	Encoding string
}

// TeeFunc is invoked once per newly built elementary stream chain.
type TeeFunc func(t Tee)

// ErrorFunc receives non-fatal source errors such as unsupported codecs.
type ErrorFunc func(err error)

// camera is the source half of a recorder pipeline.
type camera interface {
	// setProperty applies a property to the source element.
	setProperty(name string, value any) error
	onTee(fn TeeFunc)
	onError(fn ErrorFunc)
	// resetSession forgets per-session pad bookkeeping before a restart.
	resetSession()
	streamCounts() (audio, video int)
	tees() []Tee
}

func newCamera(kind CameraKind, a media.Adapter, p media.Pipeline, url string, cfg cameraConfig) (camera, error) {
	switch kind {
	case RTSP:
		return newRTSPCamera(a, p, url, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCamera, kind)
	}
}
