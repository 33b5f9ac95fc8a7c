// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package preset holds the static muxer and codec tables used when building
// recorder pipelines.
package preset

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedContainer is returned for container kinds missing from the muxer table.
	ErrUnsupportedContainer = errors.New("unsupported container")
	// ErrUnsupportedCodec is returned for RTP encodings without a depayloader or parser.
	ErrUnsupportedCodec = errors.New("unsupported codec")
)

// Container is a closed set of output container kinds.
type Container string

const (
	Matroska Container = "matroska"
)

// Muxer describes how to build a muxer for one container kind.
type Muxer struct {
	Factory   string
	Extension string
	General   map[string]any
	File      map[string]any
	App       map[string]any
}

var containers = map[Container]Muxer{
	Matroska: {
		Factory:   "matroskamux",
		Extension: "mkv",
		General: map[string]any{
			"writing-app": "kvsedge",
		},
		File: map[string]any{
			"streamable": false,
		},
		App: map[string]any{
			"streamable":     true,
			"offset-to-zero": true,
		},
	},
}

// Lookup returns the muxer preset for c.
func Lookup(c Container) (Muxer, error) {
	m, ok := containers[c]
	if !ok {
		return Muxer{}, fmt.Errorf("%w: %q", ErrUnsupportedContainer, c)
	}
	return m, nil
}

// Properties returns the merged general and mode-specific properties.
// Mode-specific values win over general ones.
func (m Muxer) Properties(fileMode bool) map[string]any {
	out := make(map[string]any, len(m.General)+len(m.File)+len(m.App))
	for k, v := range m.General {
		out[k] = v
	}
	mode := m.App
	if fileMode {
		mode = m.File
	}
	for k, v := range mode {
		out[k] = v
	}
	return out
}

// ParseContainer maps a config string onto a Container.
func ParseContainer(s string) (Container, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mkv", "matroska":
		return Matroska, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedContainer, s)
	}
}
