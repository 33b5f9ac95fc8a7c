// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ManuGH/kvsedge/internal/config"
	"github.com/ManuGH/kvsedge/internal/journal"
	"github.com/ManuGH/kvsedge/internal/log"
	"github.com/ManuGH/kvsedge/internal/media/preset"
	"github.com/ManuGH/kvsedge/internal/metrics"
	"github.com/ManuGH/kvsedge/internal/recorder"
	"github.com/ManuGH/kvsedge/internal/recordings"
	"github.com/ManuGH/kvsedge/internal/uploader"
)

// segmentPrefix is the file-branch location prefix inside a record dir.
const segmentPrefix = "video"

var errLiveOff = errors.New("live upload switched off")

// Camera owns one recorder, its uploaders and the live pipe between them.
type Camera struct {
	cfg     config.Camera
	rec     *recorder.Recorder
	live    *uploader.Uploader
	history *uploader.Uploader
	visitor *recordings.Visitor
	watcher *recordings.Watcher
	journal Journal
	logger  zerolog.Logger
	now     func() time.Time

	restarts   *rate.Limiter
	reconnects *rate.Limiter

	mu            sync.Mutex
	pipe          *pipe
	liveOn        bool
	liveChanged   chan struct{}
	lastFragment  time.Time
	lastError     string
	result        *UploadResult
	histCancel    context.CancelFunc
	histCancelled bool
}

// Status is a point-in-time view of a camera.
type Status struct {
	Name              string     `json:"name"`
	Stream            string     `json:"stream"`
	Recorder          string     `json:"recorder"`
	Record            bool       `json:"record"`
	LiveUpload        bool       `json:"liveUpload"`
	LiveEnabled       bool       `json:"liveEnabled"`
	LiveSession       bool       `json:"liveSession"`
	HistoricalSession bool       `json:"historicalSession"`
	AudioStreams      int        `json:"audioStreams"`
	VideoStreams      int        `json:"videoStreams"`
	BufferedBytes     int        `json:"bufferedBytes"`
	LastSegment       *time.Time `json:"lastSegment,omitempty"`
	LastFragment      *time.Time `json:"lastFragment,omitempty"`
	LastError         string     `json:"lastError,omitempty"`
}

// UploadResult summarises a historical upload.
type UploadResult struct {
	Acks         int       `json:"acks"`
	Persisted    int       `json:"persisted"`
	Errors       int       `json:"errors"`
	Uploaded     []string  `json:"uploaded"`
	LastFragment time.Time `json:"lastFragment,omitzero"`
}

// Recording is one segment in the record directory.
type Recording struct {
	Name      string                  `json:"name"`
	Start     time.Time               `json:"start"`
	SizeBytes int64                   `json:"sizeBytes"`
	State     recordings.SegmentState `json:"state"`
}

func newCamera(cfg config.Camera, deps Deps, opts options) (*Camera, error) {
	c := &Camera{
		cfg:         cfg,
		visitor:     recordings.NewVisitor(cfg.RecordPath),
		journal:     deps.Journal,
		logger:      log.WithComponent("agent").With().Str(log.FieldCamera, cfg.Name).Logger(),
		now:         opts.now,
		restarts:    rate.NewLimiter(rate.Every(opts.restartInterval), 1),
		reconnects:  rate.NewLimiter(rate.Every(opts.restartInterval), 1),
		liveOn:      cfg.LiveUpload,
		liveChanged: make(chan struct{}),
	}

	recOpts := append([]recorder.Option{
		recorder.WithName(cfg.Name),
		recorder.WithErrorHandler(c.sourceError),
	}, opts.recorderOptions...)
	b, err := recorder.NewBuilder(deps.Adapter, c.statusChanged, recOpts...)
	if err != nil {
		return nil, err
	}
	if _, err := b.RegisterCamera(recorder.RTSP, cfg.RTSPURL); err != nil {
		return nil, fmt.Errorf("register camera: %w", err)
	}
	if !b.SetCameraProperty("latency", cfg.LatencyMs) {
		return nil, fmt.Errorf("%w: latency=%d", recorder.ErrInvalidProperty, cfg.LatencyMs)
	}
	if cfg.Record {
		prefix := filepath.Join(cfg.RecordPath, segmentPrefix)
		if _, err := b.RegisterFileSink(preset.Matroska, prefix); err != nil {
			return nil, fmt.Errorf("register file sink: %w", err)
		}
		if !b.SetFilePathProperty("max-size-time", uint64(cfg.FileRotation.Nanoseconds())) {
			return nil, fmt.Errorf("%w: max-size-time=%s", recorder.ErrInvalidProperty, cfg.FileRotation)
		}
		c.watcher = recordings.NewWatcher(cfg.Name, cfg.RecordPath, nil)
	}
	if cfg.LiveUpload {
		// The placeholder writer is replaced before the branch is first enabled.
		if _, err := b.RegisterAppDataOutputStream(preset.Matroska, io.Discard); err != nil {
			return nil, fmt.Errorf("register output stream: %w", err)
		}
	}
	if c.rec, err = b.Construct(); err != nil {
		return nil, err
	}

	base := uploader.Config{
		Frontend:      deps.Frontend,
		NewDataClient: deps.NewDataClient,
		Region:        deps.Region,
		LocalPath:     cfg.RecordPath,
		StreamName:    cfg.StreamName(),
	}
	if cfg.LiveUpload {
		if c.live, err = uploader.New(base); err != nil {
			return nil, fmt.Errorf("live uploader: %w", err)
		}
	}
	hist := base
	hist.MarkUploaded = true
	hist.OnFragment = c.fragmentUploaded
	if c.history, err = uploader.New(hist); err != nil {
		return nil, fmt.Errorf("historical uploader: %w", err)
	}
	return c, nil
}

// Name returns the configured camera name.
func (c *Camera) Name() string { return c.cfg.Name }

// Run drives the recorder, the live session and the segment watcher until
// ctx is cancelled.
func (c *Camera) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(log.ContextWithCamera(ctx, c.cfg.Name))
	g.Go(func() error { return c.runRecorder(ctx) })
	if c.live != nil {
		g.Go(func() error { return c.runLive(ctx) })
		g.Go(func() error {
			<-ctx.Done()
			c.live.Close()
			c.closePipe()
			return nil
		})
	}
	if c.watcher != nil {
		g.Go(func() error { return c.watcher.Run(ctx) })
	}
	err := g.Wait()
	if cerr := c.rec.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close recorder: %w", cerr))
	}
	return err
}

// runRecorder restarts the pipeline after source failures, paced by the
// restart limiter.
func (c *Camera) runRecorder(ctx context.Context) error {
	for {
		err := c.rec.StartRecording(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, recorder.ErrStreamSourceFailure) {
			return err
		}
		c.setError(err)
		metrics.IncRecorderRestart(c.cfg.Name)
		c.logger.Warn().Err(err).Str(log.FieldEvent, "agent.recorder_restart").Msg("restarting recorder after source failure")
		if err := c.restarts.Wait(ctx); err != nil {
			return nil
		}
	}
}

// runLive keeps one live session open while live upload is on. Every new
// session gets a fresh pipe so the stream restarts on a container boundary.
func (c *Camera) runLive(ctx context.Context) error {
	for {
		if !c.waitLive(ctx) {
			return nil
		}
		p, err := c.rotatePipe()
		if errors.Is(err, errLiveOff) {
			continue
		}
		if err != nil {
			return fmt.Errorf("rotate live pipe: %w", err)
		}

		start := c.now()
		c.logger.Info().Str(log.FieldEvent, "agent.live_session").Time("producer_start", start).Msg("starting live session")
		id := c.journalBegin(ctx, journal.Entry{Kind: journal.KindLive, StartedAt: start})
		var acks ackCounter
		err = c.live.UploadStream(ctx, p, start, c.liveAck(start, &acks), nil)
		c.journalFinish(ctx, id, acks.outcome(sessionResult(ctx, err, false), err))
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.setError(err)
			c.logger.Warn().Err(err).Str(log.FieldEvent, "agent.live_session_failed").Msg("live session ended")
		}
		if err := c.reconnects.Wait(ctx); err != nil {
			return nil
		}
	}
}

func (c *Camera) waitLive(ctx context.Context) bool {
	for {
		c.mu.Lock()
		on, changed := c.liveOn, c.liveChanged
		c.mu.Unlock()
		if on {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-changed:
		}
	}
}

// rotatePipe swaps the output branch onto a new pipe. The old reader is
// closed first so a writer blocked on a full pipe lets the detach complete.
func (c *Camera) rotatePipe() (*pipe, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.liveOn {
		return nil, errLiveOff
	}
	if c.pipe != nil {
		c.pipe.CloseRead()
		c.pipe = nil
	}
	if _, err := c.rec.ToggleAppDataOutputStream(false); err != nil {
		return nil, err
	}
	p := newPipe(c.cfg.StreamBufferSize)
	ok, err := c.rec.SetAppDataOutputStream(p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("output stream still enabled")
	}
	if _, err := c.rec.ToggleAppDataOutputStream(true); err != nil {
		return nil, err
	}
	c.pipe = p
	return p, nil
}

func (c *Camera) closePipe() {
	c.mu.Lock()
	p := c.pipe
	c.pipe = nil
	c.mu.Unlock()
	if p != nil {
		p.CloseRead()
	}
}

// SetLive switches live upload on or off and reports whether it changed.
func (c *Camera) SetLive(enable bool) (bool, error) {
	if c.live == nil {
		return false, fmt.Errorf("%w: %s", ErrLiveNotConfigured, c.cfg.Name)
	}
	c.mu.Lock()
	if c.liveOn == enable {
		c.mu.Unlock()
		return false, nil
	}
	c.liveOn = enable
	close(c.liveChanged)
	c.liveChanged = make(chan struct{})
	c.mu.Unlock()

	if enable {
		c.logger.Info().Str(log.FieldEvent, "agent.live_on").Msg("live upload enabled")
		return true, nil
	}

	c.live.Close()
	c.closePipe()
	if _, err := c.rec.ToggleAppDataOutputStream(false); err != nil {
		return true, err
	}
	c.logger.Info().Str(log.FieldEvent, "agent.live_off").Msg("live upload disabled")
	return true, nil
}

// UploadHistorical uploads the recordings inside (start, end) and blocks
// until done. A second call while one runs fails with uploader.ErrBusy.
func (c *Camera) UploadHistorical(ctx context.Context, start, end time.Time) (UploadResult, error) {
	ctx = log.ContextWithCamera(ctx, c.cfg.Name)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	res := &UploadResult{Uploaded: []string{}}
	onStatus := func(ev uploader.AckEvent) {
		c.mu.Lock()
		defer c.mu.Unlock()
		res.Acks++
		switch ev.Type {
		case uploader.AckPersisted:
			res.Persisted++
		case uploader.AckError:
			res.Errors++
		}
	}

	// Claiming the slot and arming the cancel func happen together, so a
	// CancelUpload that returns after this point always reaches the session.
	c.mu.Lock()
	if c.histCancel != nil {
		c.mu.Unlock()
		return UploadResult{}, uploader.ErrBusy
	}
	c.histCancel = cancel
	c.histCancelled = false
	c.result = res
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.histCancel = nil
		c.result = nil
		c.mu.Unlock()
	}()

	var id string
	if !end.Before(start) {
		id = c.journalBegin(ctx, journal.Entry{Kind: journal.KindHistorical, RangeStart: &start, RangeEnd: &end})
	}
	err := c.history.UploadHistoricalVideo(ctx, start, end, onStatus, nil)

	c.mu.Lock()
	out := *res
	out.Uploaded = append([]string(nil), res.Uploaded...)
	cancelled := c.histCancelled
	c.mu.Unlock()

	c.journalFinish(ctx, id, journal.Outcome{
		Result:    sessionResult(ctx, err, cancelled),
		Acks:      out.Acks,
		Persisted: out.Persisted,
		Errors:    out.Errors,
		Files:     len(out.Uploaded),
		Err:       err,
	})
	return out, err
}

// CancelUpload stops a running historical upload. It is a no-op when none
// runs.
func (c *Camera) CancelUpload() {
	c.mu.Lock()
	cancel := c.histCancel
	if cancel != nil {
		c.histCancelled = true
	}
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Uploads returns the newest journal entries of the camera.
func (c *Camera) Uploads(ctx context.Context, limit int) ([]journal.Entry, error) {
	if c.journal == nil {
		return nil, ErrJournalDisabled
	}
	return c.journal.List(ctx, c.cfg.Name, limit)
}

// journalBegin opens a journal entry and returns its id, or "" when there
// is no journal or the write failed.
func (c *Camera) journalBegin(ctx context.Context, e journal.Entry) string {
	if c.journal == nil {
		return ""
	}
	e.ID = uuid.NewString()
	e.Camera = c.cfg.Name
	e.Stream = c.cfg.StreamName()
	if err := c.journal.Begin(ctx, e); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldEvent, "agent.journal_failed").Msg("could not record upload start")
		return ""
	}
	return e.ID
}

func (c *Camera) journalFinish(ctx context.Context, id string, o journal.Outcome) {
	if id == "" {
		return
	}
	// The session may end because ctx was cancelled; the entry is still closed.
	if err := c.journal.Finish(context.WithoutCancel(ctx), id, o); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldEvent, "agent.journal_failed").Msg("could not record upload end")
	}
}

func sessionResult(ctx context.Context, err error, cancelled bool) journal.Result {
	switch {
	case cancelled || ctx.Err() != nil:
		return journal.ResultCancelled
	case err != nil:
		return journal.ResultFailed
	default:
		return journal.ResultCompleted
	}
}

// ackCounter tallies the acknowledgements of a live session.
type ackCounter struct {
	acks, persisted, errors atomic.Int64
}

func (a *ackCounter) outcome(result journal.Result, err error) journal.Outcome {
	return journal.Outcome{
		Result:    result,
		Acks:      int(a.acks.Load()),
		Persisted: int(a.persisted.Load()),
		Errors:    int(a.errors.Load()),
		Err:       err,
	}
}

// Recordings lists the segments on disk with their lifecycle state.
func (c *Camera) Recordings() ([]Recording, error) {
	files, err := c.visitor.List()
	if err != nil {
		return nil, err
	}
	now := c.now()
	cfg := recordings.DefaultClassifierConfig()
	out := make([]Recording, 0, len(files))
	for _, f := range files {
		info, err := os.Stat(f.Path)
		if err != nil {
			continue
		}
		out = append(out, Recording{
			Name:      f.Name(),
			Start:     f.Time,
			SizeBytes: info.Size(),
			State:     recordings.Classify(f, info, cfg, now),
		})
	}
	return out, nil
}

// Status returns a snapshot of the camera.
func (c *Camera) Status() Status {
	audio, video := c.rec.StreamCounts()
	st := Status{
		Name:              c.cfg.Name,
		Stream:            c.cfg.StreamName(),
		Recorder:          string(c.rec.Status()),
		Record:            c.cfg.Record,
		LiveUpload:        c.cfg.LiveUpload,
		HistoricalSession: c.history.IsOpen(),
		AudioStreams:      audio,
		VideoStreams:      video,
	}
	if c.live != nil {
		st.LiveSession = c.live.IsOpen()
	}
	if c.watcher != nil {
		if f, ok := c.watcher.Last(); ok {
			t := f.Time
			st.LastSegment = &t
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st.LiveEnabled = c.live != nil && c.liveOn
	if c.pipe != nil {
		st.BufferedBytes = c.pipe.Buffered()
	}
	if !c.lastFragment.IsZero() {
		t := c.lastFragment
		st.LastFragment = &t
	}
	st.LastError = c.lastError
	return st
}

func (c *Camera) liveAck(start time.Time, counter *ackCounter) uploader.StatusFunc {
	return func(ev uploader.AckEvent) {
		counter.acks.Add(1)
		switch ev.Type {
		case uploader.AckPersisted:
			counter.persisted.Add(1)
			c.mu.Lock()
			c.lastFragment = start.Add(ev.FragmentTimecode)
			c.mu.Unlock()
		case uploader.AckError:
			counter.errors.Add(1)
			c.logger.Warn().Int("error_id", ev.ErrorID).Str("fragment", ev.FragmentNumber).
				Str(log.FieldEvent, "agent.live_ack_error").Msg("stream rejected a fragment")
		}
	}
}

func (c *Camera) fragmentUploaded(last time.Time, f *recordings.VideoFile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last.After(c.lastFragment) {
		c.lastFragment = last
	}
	if c.result != nil {
		c.result.LastFragment = last
		if f != nil {
			c.result.Uploaded = append(c.result.Uploaded, f.Name())
		}
	}
}

func (c *Camera) statusChanged(_ *recorder.Recorder, status recorder.Status, description string) {
	c.logger.Info().Str(log.FieldNewState, string(status)).Str("description", description).
		Str(log.FieldEvent, "agent.recorder_status").Msg("recorder status changed")
}

func (c *Camera) sourceError(err error) {
	c.setError(err)
	c.logger.Warn().Err(err).Str(log.FieldEvent, "agent.source_error").Msg("camera reported a stream error")
}

func (c *Camera) setError(err error) {
	c.mu.Lock()
	c.lastError = err.Error()
	c.mu.Unlock()
}
