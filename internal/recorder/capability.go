// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recorder

import "fmt"

// Capability describes which elementary streams a source produces or a
// branch accepts.
type Capability int

const (
	VideoOnly Capability = iota + 1
	AudioOnly
	VideoAudio
)

func (c Capability) String() string {
	switch c {
	case VideoOnly:
		return "video"
	case AudioOnly:
		return "audio"
	case VideoAudio:
		return "video+audio"
	default:
		return fmt.Sprintf("capability(%d)", int(c))
	}
}

// capabilityFromMedia maps an announced media type to a single-stream capability.
func capabilityFromMedia(media string) (Capability, bool) {
	switch media {
	case "video":
		return VideoOnly, true
	case "audio":
		return AudioOnly, true
	}
	return 0, false
}

// accepts reports whether a branch of capability c can consume a stream
// of capability stream. A stream capability must name exactly one kind.
func (c Capability) accepts(stream Capability) (bool, error) {
	if stream != VideoOnly && stream != AudioOnly {
		return false, fmt.Errorf("%w: stream capability %s", ErrInvalidCapability, stream)
	}
	switch c {
	case VideoAudio:
		return true, nil
	case VideoOnly, AudioOnly:
		return c == stream, nil
	default:
		return false, fmt.Errorf("%w: branch capability %s", ErrInvalidCapability, c)
	}
}
