// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package agent runs every configured camera: its recorder, its live
// upload session and its historical uploads.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/kvsedge/internal/config"
	"github.com/ManuGH/kvsedge/internal/journal"
	"github.com/ManuGH/kvsedge/internal/log"
	"github.com/ManuGH/kvsedge/internal/media"
	"github.com/ManuGH/kvsedge/internal/recorder"
	"github.com/ManuGH/kvsedge/internal/uploader"
)

const defaultRestartInterval = 5 * time.Second

// Journal records upload sessions.
type Journal interface {
	Begin(ctx context.Context, e journal.Entry) error
	Finish(ctx context.Context, id string, o journal.Outcome) error
	List(ctx context.Context, camera string, limit int) ([]journal.Entry, error)
}

// Deps are the collaborators shared by every camera. Journal is optional.
type Deps struct {
	Adapter       media.Adapter
	Frontend      uploader.FrontendClient
	NewDataClient uploader.DataClientFactory
	Region        string
	Journal       Journal
}

type options struct {
	restartInterval time.Duration
	now             func() time.Time
	recorderOptions []recorder.Option
}

// Option customises the agent.
type Option func(*options)

// WithRestartInterval sets the minimum spacing between recorder restarts
// and between live sessions.
func WithRestartInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.restartInterval = d
		}
	}
}

// WithClock overrides time.Now for producer timestamps and classification.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRecorderOptions appends options to every recorder builder.
func WithRecorderOptions(opts ...recorder.Option) Option {
	return func(o *options) { o.recorderOptions = append(o.recorderOptions, opts...) }
}

// Agent owns all cameras.
type Agent struct {
	cameras map[string]*Camera
	order   []string
	logger  zerolog.Logger
}

// New builds a camera runtime for every entry of cfg.Cameras.
func New(cfg config.Config, deps Deps, opts ...Option) (*Agent, error) {
	o := options{restartInterval: defaultRestartInterval, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if deps.Region == "" {
		deps.Region = cfg.Region
	}

	a := &Agent{
		cameras: make(map[string]*Camera, len(cfg.Cameras)),
		logger:  log.WithComponent("agent"),
	}
	for _, camCfg := range cfg.Cameras {
		if _, dup := a.cameras[camCfg.Name]; dup {
			return nil, fmt.Errorf("duplicate camera %q", camCfg.Name)
		}
		cam, err := newCamera(camCfg, deps, o)
		if err != nil {
			return nil, fmt.Errorf("camera %s: %w", camCfg.Name, err)
		}
		a.cameras[camCfg.Name] = cam
		a.order = append(a.order, camCfg.Name)
	}
	return a, nil
}

// Run starts every camera and blocks until ctx is cancelled or one camera
// fails fatally.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info().Int("cameras", len(a.order)).Str(log.FieldEvent, "agent.start").Msg("starting cameras")
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range a.order {
		cam := a.cameras[name]
		g.Go(func() error {
			if err := cam.Run(ctx); err != nil {
				return fmt.Errorf("camera %s: %w", cam.Name(), err)
			}
			return nil
		})
	}
	err := g.Wait()
	a.logger.Info().Err(err).Str(log.FieldEvent, "agent.stopped").Msg("cameras stopped")
	return err
}

// Camera returns the named camera.
func (a *Agent) Camera(name string) (*Camera, error) {
	cam, ok := a.cameras[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCamera, name)
	}
	return cam, nil
}

// Statuses returns a snapshot of every camera in configuration order.
func (a *Agent) Statuses() []Status {
	out := make([]Status, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.cameras[name].Status())
	}
	return out
}

// Ready reports whether every recorder is running.
func (a *Agent) Ready() bool {
	for _, cam := range a.cameras {
		if cam.rec.Status() != recorder.StatusStarted {
			return false
		}
	}
	return len(a.cameras) > 0
}

// SetLive switches live upload for the named camera.
func (a *Agent) SetLive(name string, enable bool) (bool, error) {
	cam, err := a.Camera(name)
	if err != nil {
		return false, err
	}
	return cam.SetLive(enable)
}

// UploadHistorical uploads the named camera's recordings inside (start, end).
func (a *Agent) UploadHistorical(ctx context.Context, name string, start, end time.Time) (UploadResult, error) {
	cam, err := a.Camera(name)
	if err != nil {
		return UploadResult{}, err
	}
	return cam.UploadHistorical(ctx, start, end)
}

// CancelUpload stops the named camera's historical upload, if any.
func (a *Agent) CancelUpload(name string) error {
	cam, err := a.Camera(name)
	if err != nil {
		return err
	}
	cam.CancelUpload()
	return nil
}

// Recordings lists the named camera's segments.
func (a *Agent) Recordings(name string) ([]Recording, error) {
	cam, err := a.Camera(name)
	if err != nil {
		return nil, err
	}
	return cam.Recordings()
}

// Uploads returns the named camera's newest upload journal entries.
func (a *Agent) Uploads(ctx context.Context, name string, limit int) ([]journal.Entry, error) {
	cam, err := a.Camera(name)
	if err != nil {
		return nil, err
	}
	return cam.Uploads(ctx, limit)
}
