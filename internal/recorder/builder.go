// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recorder

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/kvsedge/internal/fsm"
	"github.com/ManuGH/kvsedge/internal/log"
	"github.com/ManuGH/kvsedge/internal/media"
	"github.com/ManuGH/kvsedge/internal/media/preset"
)

// Option customises a Builder.
type Option func(*Builder)

// WithName sets the recorder name used in logs and metrics.
func WithName(name string) Option {
	return func(b *Builder) { b.name = name }
}

// WithClock overrides the clock used to name recorded files.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithEOSTimeout bounds how long StopRecording waits for the pipeline to drain.
func WithEOSTimeout(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.eosTimeout = d
		}
	}
}

// WithPollInterval sets the bus poll interval of the run loop.
func WithPollInterval(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

// WithErrorHandler receives non-fatal source errors such as streams with an
// unsupported codec.
func WithErrorHandler(fn ErrorFunc) Option {
	return func(b *Builder) { b.onError = fn }
}

// Builder assembles a Recorder. Elements are created as soon as they are
// registered so that property errors surface at the call site.
type Builder struct {
	name         string
	adapter      media.Adapter
	notify       StatusFunc
	now          func() time.Time
	eosTimeout   time.Duration
	pollInterval time.Duration
	logger       zerolog.Logger

	pipeline        media.Pipeline
	camera          camera
	file            *FileBranch
	callback        *AppBranch
	pendingCallback DataFunc
	stream          *AppBranch
	onError         ErrorFunc
	built           bool
}

// NewBuilder creates a builder bound to adapter. notify may be nil.
func NewBuilder(adapter media.Adapter, notify StatusFunc, opts ...Option) (*Builder, error) {
	if adapter == nil {
		return nil, fmt.Errorf("%w: adapter", ErrNullArgument)
	}
	b := &Builder{
		name:         "recorder",
		adapter:      adapter,
		notify:       notify,
		now:          time.Now,
		eosTimeout:   defaultEOSTimeout,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = log.WithComponent("recorder").With().Str(log.FieldCamera, b.name).Logger()

	p, err := adapter.NewPipeline("")
	if err != nil {
		return nil, err
	}
	b.pipeline = p
	return b, nil
}

func (b *Builder) usable() error {
	if b.built {
		return ErrBuilderConsumed
	}
	return nil
}

func (b *Builder) duplicate(what string) (bool, error) {
	b.logger.Warn().
		Err(ErrDuplicateRegistration).
		Str(log.FieldEvent, "builder.duplicate").
		Str("registration", what).
		Msg("ignoring duplicate registration")
	return false, nil
}

// RegisterCamera creates the source element. A second registration returns false.
func (b *Builder) RegisterCamera(kind CameraKind, url string) (bool, error) {
	if err := b.usable(); err != nil {
		return false, err
	}
	if url == "" {
		return false, fmt.Errorf("%w: camera url", ErrNullArgument)
	}
	if b.camera != nil {
		return b.duplicate("camera")
	}
	c, err := newCamera(kind, b.adapter, b.pipeline, url, cameraConfig{logger: b.logger})
	if err != nil {
		return false, err
	}
	b.camera = c
	return true, nil
}

// SetCameraProperty forwards a property to the source element. It returns
// false when no camera is registered or the property is rejected.
func (b *Builder) SetCameraProperty(name string, value any) bool {
	if b.camera == nil {
		b.logger.Warn().Str(log.FieldEvent, "builder.no_camera").Str("property", name).Msg("camera property set before camera registration")
		return false
	}
	if err := b.camera.setProperty(name, value); err != nil {
		b.logger.Warn().Err(err).Str(log.FieldEvent, "builder.invalid_property").Msg("camera property rejected")
		return false
	}
	return true
}

// RegisterFileSink adds a rotating file branch writing <pathPrefix>_<epochMillis>.<ext>.
func (b *Builder) RegisterFileSink(container preset.Container, pathPrefix string) (bool, error) {
	if err := b.usable(); err != nil {
		return false, err
	}
	if pathPrefix == "" {
		return false, fmt.Errorf("%w: path prefix", ErrNullArgument)
	}
	if b.file != nil {
		return b.duplicate("file sink")
	}
	fb, err := newFileBranch(b.adapter, b.pipeline, container, pathPrefix, b.now, b.logger)
	if err != nil {
		return false, err
	}
	b.file = fb
	return true, nil
}

// SetFilePathProperty forwards a property, such as max-size-time, to the file sink.
func (b *Builder) SetFilePathProperty(name string, value any) bool {
	if b.file == nil {
		b.logger.Warn().Str(log.FieldEvent, "builder.no_file_sink").Str("property", name).Msg("file property set before file sink registration")
		return false
	}
	if err := b.file.SetProperty(name, value); err != nil {
		b.logger.Warn().Err(err).Str(log.FieldEvent, "builder.invalid_property").Msg("file property rejected")
		return false
	}
	return true
}

// RegisterAppDataCallback adds a callback branch. The branch starts disabled.
func (b *Builder) RegisterAppDataCallback(container preset.Container, fn DataFunc) (bool, error) {
	if err := b.usable(); err != nil {
		return false, err
	}
	if fn == nil {
		return false, fmt.Errorf("%w: callback", ErrNullArgument)
	}
	if b.callback != nil {
		return b.duplicate("app callback")
	}
	ab, err := newAppBranch(appCallback, b.name, b.adapter, b.pipeline, container, b.logger)
	if err != nil {
		return false, err
	}
	b.callback = ab
	b.pendingCallback = fn
	return true, nil
}

// RegisterAppDataOutputStream adds an output-stream branch writing to w. The
// branch starts disabled.
func (b *Builder) RegisterAppDataOutputStream(container preset.Container, w io.Writer) (bool, error) {
	if err := b.usable(); err != nil {
		return false, err
	}
	if w == nil {
		return false, fmt.Errorf("%w: output stream", ErrNullArgument)
	}
	if b.stream != nil {
		return b.duplicate("app output stream")
	}
	ab, err := newAppBranch(appStream, b.name, b.adapter, b.pipeline, container, b.logger)
	if err != nil {
		return false, err
	}
	if _, err := ab.SetWriter(w); err != nil {
		return false, err
	}
	b.stream = ab
	return true, nil
}

// Construct returns the recorder in STOPPED state.
func (b *Builder) Construct() (*Recorder, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	if b.camera == nil {
		return nil, ErrBuilderIncomplete
	}
	machine, err := fsm.New(StatusStopped, transitions())
	if err != nil {
		return nil, err
	}
	r := &Recorder{
		name:         b.name,
		adapter:      b.adapter,
		pipeline:     b.pipeline,
		camera:       b.camera,
		file:         b.file,
		callback:     b.callback,
		stream:       b.stream,
		notify:       b.notify,
		logger:       b.logger,
		eosTimeout:   b.eosTimeout,
		pollInterval: b.pollInterval,
		machine:      machine,
	}
	if b.callback != nil {
		if _, err := b.callback.SetCallback(r.bindData(b.pendingCallback)); err != nil {
			return nil, err
		}
	}
	b.camera.onTee(r.bindTee)
	if b.onError != nil {
		b.camera.onError(b.onError)
	}
	b.built = true
	return r, nil
}
