// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recorder

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/kvsedge/internal/log"
	"github.com/ManuGH/kvsedge/internal/media"
	"github.com/ManuGH/kvsedge/internal/media/preset"
)

// DefaultFileRotation is the default splitmuxsink max-size-time.
const DefaultFileRotation = 60 * time.Second

// FileBranch writes rotating container files named <prefix>_<epochMillis>.<ext>.
type FileBranch struct {
	*branch
	muxer  media.Element
	sink   media.Element
	prefix string
	ext    string
	now    func() time.Time
}

func newFileBranch(a media.Adapter, p media.Pipeline, container preset.Container, prefix string, now func() time.Time, logger zerolog.Logger) (*FileBranch, error) {
	m, err := preset.Lookup(container)
	if err != nil {
		return nil, err
	}
	muxer, err := a.NewElement(m.Factory)
	if err != nil {
		return nil, err
	}
	for name, value := range m.Properties(true) {
		if err := a.SetProperty(muxer, name, value); err != nil {
			return nil, err
		}
	}
	sink, err := a.NewElement("splitmuxsink")
	if err != nil {
		return nil, err
	}

	fb := &FileBranch{
		muxer:  muxer,
		sink:   sink,
		prefix: prefix,
		ext:    m.Extension,
		now:    now,
	}
	for _, prop := range []struct {
		name  string
		value any
	}{
		{"muxer", muxer},
		{"location", fmt.Sprintf("%s_%%d.%s", prefix, m.Extension)},
		{"max-size-time", uint64(DefaultFileRotation.Nanoseconds())},
	} {
		if err := a.SetProperty(sink, prop.name, prop.value); err != nil {
			return nil, err
		}
	}
	if err := a.OnFormatLocation(sink, fb.location); err != nil {
		return nil, err
	}
	// splitmuxsink owns the muxer once it is set as a property.
	if err := a.Add(p, sink); err != nil {
		return nil, err
	}

	fb.branch = newBranch("file", a, p, VideoAudio, true, fb.requestEntryPad, logger)
	return fb, nil
}

func (fb *FileBranch) requestEntryPad(capability Capability) (media.Pad, error) {
	switch capability {
	case VideoOnly:
		return fb.adapter.RequestPad(fb.sink, "video")
	case AudioOnly:
		return fb.adapter.RequestPad(fb.sink, "audio_%u")
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidCapability, capability)
	}
}

// location names a new fragment after the wall clock at rotation time.
func (fb *FileBranch) location(fragmentID uint) string {
	path := fmt.Sprintf("%s_%d.%s", fb.prefix, fb.now().UnixMilli(), fb.ext)
	fb.logger.Info().
		Str(log.FieldEvent, "file.rotated").
		Uint("fragment", fragmentID).
		Str(log.FieldPath, path).
		Msg("opening recording segment")
	return path
}

// SetProperty forwards a property to the file sink, typically max-size-time.
func (fb *FileBranch) SetProperty(name string, value any) error {
	if err := fb.adapter.SetProperty(fb.sink, name, value); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidProperty, name, err)
	}
	return nil
}
