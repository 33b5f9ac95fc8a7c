// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recorder

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/kvsedge/internal/log"
	"github.com/ManuGH/kvsedge/internal/media"
	"github.com/ManuGH/kvsedge/internal/media/preset"
	"github.com/ManuGH/kvsedge/internal/metrics"
)

type appKind string

const (
	appCallback appKind = "callback"
	appStream   appKind = "stream"
)

// flusher is implemented by buffered writers such as bufio.Writer.
type flusher interface {
	Flush() error
}

// AppBranch delivers muxed container bytes to an in-process consumer, either
// a callback or an io.Writer. It starts disabled.
//
// Samples are delivered on streaming goroutines, one at a time per branch.
// Once ToggleEmit(false) returns no further sample reaches the consumer.
type AppBranch struct {
	*branch
	kind   appKind
	camera string
	muxer  media.Element
	sink   media.Element

	toggleMu sync.Mutex

	sampleMu sync.Mutex
	emitting bool
	callback func(buf []byte)
	writer   io.Writer
}

func newAppBranch(kind appKind, camera string, a media.Adapter, p media.Pipeline, container preset.Container, logger zerolog.Logger) (*AppBranch, error) {
	m, err := preset.Lookup(container)
	if err != nil {
		return nil, err
	}
	muxer, err := a.NewElement(m.Factory)
	if err != nil {
		return nil, err
	}
	for name, value := range m.Properties(false) {
		if err := a.SetProperty(muxer, name, value); err != nil {
			return nil, err
		}
	}
	sink, err := a.NewElement("appsink")
	if err != nil {
		return nil, err
	}
	if err := a.SetProperty(sink, "emit-signals", false); err != nil {
		return nil, err
	}
	if err := a.SetProperty(sink, "sync", false); err != nil {
		return nil, err
	}
	if err := a.Add(p, muxer, sink); err != nil {
		return nil, err
	}
	if err := a.LinkMany(muxer, sink); err != nil {
		return nil, err
	}

	ab := &AppBranch{kind: kind, camera: camera, muxer: muxer, sink: sink}
	ab.branch = newBranch(string(kind), a, p, VideoAudio, false, ab.requestEntryPad, logger)
	if err := a.OnNewSample(sink, ab.handleSample); err != nil {
		return nil, err
	}
	return ab, nil
}

func (ab *AppBranch) requestEntryPad(capability Capability) (media.Pad, error) {
	switch capability {
	case VideoOnly:
		return ab.adapter.RequestPad(ab.muxer, "video_%u")
	case AudioOnly:
		return ab.adapter.RequestPad(ab.muxer, "audio_%u")
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidCapability, capability)
	}
}

// handleSample runs on a streaming goroutine.
func (ab *AppBranch) handleSample(buf []byte) {
	var data []byte
	if ab.kind == appStream {
		data = append([]byte(nil), buf...)
	}

	ab.sampleMu.Lock()
	defer ab.sampleMu.Unlock()
	if !ab.emitting {
		return
	}
	metrics.ObserveAppSample(ab.camera, string(ab.kind), len(buf))

	switch ab.kind {
	case appCallback:
		if ab.callback != nil {
			ab.callback(buf)
		}
	case appStream:
		if ab.writer == nil {
			return
		}
		if _, err := ab.writer.Write(data); err != nil {
			ab.writeFailed(err)
			return
		}
		if f, ok := ab.writer.(flusher); ok {
			if err := f.Flush(); err != nil {
				ab.writeFailed(err)
			}
		}
	}
}

func (ab *AppBranch) writeFailed(err error) {
	metrics.IncAppWriteError(ab.camera)
	ev := ab.logger.Warn()
	if errors.Is(err, io.ErrClosedPipe) {
		ev = ab.logger.Debug()
	}
	ev.Err(err).Str(log.FieldEvent, "app.write_failed").Msg("output stream write failed")
}

// ToggleEmit enables or disables sample delivery. It returns false when the
// branch is already in the requested state.
func (ab *AppBranch) ToggleEmit(enable bool) (bool, error) {
	ab.toggleMu.Lock()
	defer ab.toggleMu.Unlock()

	if ab.Enabled() == enable {
		return false, nil
	}

	a := ab.adapter
	if enable {
		if err := a.SetProperty(ab.sink, "emit-signals", true); err != nil {
			return false, err
		}
		if err := a.SyncWithParent(ab.muxer); err != nil {
			return false, err
		}
		if err := a.SyncWithParent(ab.sink); err != nil {
			return false, err
		}
		ab.setEmitting(true)
		if err := ab.Attach(); err != nil {
			if ab.Enabled() {
				return true, err
			}
			ab.setEmitting(false)
			return false, errors.Join(err, a.SetProperty(ab.sink, "emit-signals", false))
		}
	} else {
		ab.setEmitting(false)
		errs := []error{ab.Detach()}
		errs = append(errs,
			a.StopElement(ab.sink),
			a.StopElement(ab.muxer),
			a.SetProperty(ab.sink, "emit-signals", false),
		)
		if err := errors.Join(errs...); err != nil {
			return true, err
		}
	}

	metrics.IncBranchToggle(ab.camera, string(ab.kind), enable)
	ab.logger.Info().Str(log.FieldEvent, "app.toggled").Bool("enabled", enable).Msg("app branch toggled")
	return true, nil
}

func (ab *AppBranch) setEmitting(v bool) {
	ab.sampleMu.Lock()
	ab.emitting = v
	ab.sampleMu.Unlock()
}

// SetCallback replaces the sample callback. Only allowed while disabled.
func (ab *AppBranch) SetCallback(fn func(buf []byte)) (bool, error) {
	if fn == nil {
		return false, fmt.Errorf("%w: callback", ErrNullArgument)
	}
	return ab.replace(func() { ab.callback = fn })
}

// SetWriter replaces the output writer. Only allowed while disabled.
func (ab *AppBranch) SetWriter(w io.Writer) (bool, error) {
	if w == nil {
		return false, fmt.Errorf("%w: writer", ErrNullArgument)
	}
	return ab.replace(func() { ab.writer = w })
}

func (ab *AppBranch) replace(set func()) (bool, error) {
	ab.toggleMu.Lock()
	defer ab.toggleMu.Unlock()
	if ab.Enabled() {
		ab.logger.Warn().Str(log.FieldEvent, "app.replace_rejected").Msg("cannot replace consumer while branch is enabled")
		return false, nil
	}
	ab.sampleMu.Lock()
	set()
	ab.sampleMu.Unlock()
	return true, nil
}
