// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package uploader streams recordings or a live byte stream to a Kinesis
// Video stream through PutMedia, one session at a time.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/kvsedge/internal/log"
	"github.com/ManuGH/kvsedge/internal/metrics"
	"github.com/ManuGH/kvsedge/internal/recordings"
	"github.com/ManuGH/kvsedge/internal/telemetry"
)

const tracerName = "github.com/ManuGH/kvsedge/internal/uploader"

type state int

const (
	stateIdle state = iota
	stateRunning
	stateTerminating
)

const (
	kindLive       = "live"
	kindHistorical = "historical"
)

// StatusFunc observes every acknowledgement of the running session.
type StatusFunc func(ev AckEvent)

// CompleteFunc runs after every acknowledgement and once more when the
// upload call returns.
type CompleteFunc func()

// FragmentFunc is told about each persisted fragment and, when a historical
// segment was fully persisted, about that segment.
type FragmentFunc func(lastFragment time.Time, uploaded *recordings.VideoFile)

// Config wires an Uploader.
type Config struct {
	Frontend      FrontendClient
	NewDataClient DataClientFactory
	Region        string
	LocalPath     string
	StreamName    string

	// MarkUploaded renames historical segments once their fragments are
	// persisted.
	MarkUploaded bool
	OnFragment   FragmentFunc
}

// Uploader runs at most one PutMedia session at a time. After a session
// completes or is cancelled a new one may start.
type Uploader struct {
	cfg     Config
	visitor *recordings.Visitor
	logger  zerolog.Logger

	clientMu sync.Mutex
	endpoint string
	data     DataClient

	mu    sync.Mutex
	state state
	latch *latch
}

// New validates cfg and returns an idle uploader.
func New(cfg Config) (*Uploader, error) {
	var errs []error
	if cfg.Frontend == nil {
		errs = append(errs, errors.New("frontend client is required"))
	}
	if cfg.NewDataClient == nil {
		errs = append(errs, errors.New("data client factory is required"))
	}
	if cfg.StreamName == "" {
		errs = append(errs, errors.New("stream name is required"))
	}
	if cfg.LocalPath == "" {
		errs = append(errs, errors.New("local path is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &Uploader{
		cfg:     cfg,
		visitor: recordings.NewVisitor(cfg.LocalPath),
		logger: log.WithComponent("uploader").With().
			Str(log.FieldStream, cfg.StreamName).
			Str("region", cfg.Region).
			Logger(),
	}, nil
}

// StreamName returns the target stream.
func (u *Uploader) StreamName() string { return u.cfg.StreamName }

// IsOpen reports whether a session is in flight.
func (u *Uploader) IsOpen() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state != stateIdle
}

// Close requests cancellation of the running session without waiting for
// it. The in-flight upload call returns shortly after. The byte source is
// not closed.
func (u *Uploader) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != stateRunning {
		return
	}
	u.state = stateTerminating
	if u.latch != nil {
		u.latch.release()
	}
	u.logger.Info().Str(log.FieldEvent, "uploader.close").Msg("cancelling upload session")
}

func (u *Uploader) taskStart() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != stateIdle {
		return ErrBusy
	}
	u.state = stateRunning
	return nil
}

func (u *Uploader) taskEnd() {
	u.mu.Lock()
	u.state = stateIdle
	u.latch = nil
	u.mu.Unlock()
}

func (u *Uploader) terminating() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state == stateTerminating
}

// UploadStream uploads r as one session starting at start. It blocks until
// the response ends, Close is called or ctx is cancelled.
func (u *Uploader) UploadStream(ctx context.Context, r io.Reader, start time.Time, onStatus StatusFunc, onComplete CompleteFunc) (err error) {
	if r == nil {
		return fmt.Errorf("%w: nil reader", ErrInvalidConfig)
	}
	if err := u.taskStart(); err != nil {
		return err
	}
	defer u.taskEnd()

	ctx, logger := u.session(ctx, kindLive)
	ctx, span := u.startSpan(ctx, "uploader.stream", kindLive)
	defer func() { telemetry.EndSpan(span, err) }()
	logger.Info().Str(log.FieldEvent, "uploader.stream_start").Time("producer_start", start).Msg("uploading stream")

	res := u.mediaPut(ctx, logger, kindLive, r, start, onStatus, onComplete, nil)
	if onComplete != nil {
		onComplete()
	}
	if res.failure != nil {
		return fmt.Errorf("%w: %w", ErrPutMediaFailure, res.failure)
	}
	return nil
}

// UploadHistoricalVideo uploads every recording whose start time lies
// strictly inside (start, end), oldest first. Consecutive files are sent as
// one concatenated payload. After a failed session it resumes at the file
// that was being read; a session failing before any file was consumed ends
// the upload with ErrPutMediaFailure.
func (u *Uploader) UploadHistoricalVideo(ctx context.Context, start, end time.Time, onStatus StatusFunc, onComplete CompleteFunc) error {
	if end.Before(start) {
		return fmt.Errorf("%w: end %s before start %s", ErrInvalidRange, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	if err := u.taskStart(); err != nil {
		return err
	}
	defer u.taskEnd()

	err := u.uploadHistorical(ctx, start, end, onStatus, onComplete)
	if onComplete != nil {
		onComplete()
	}
	return err
}

func (u *Uploader) uploadHistorical(ctx context.Context, start, end time.Time, onStatus StatusFunc, onComplete CompleteFunc) (err error) {
	ctx, logger := u.session(ctx, kindHistorical)
	ctx, span := u.startSpan(ctx, "uploader.historical", kindHistorical)
	defer func() { telemetry.EndSpan(span, err) }()

	files, err := u.visitor.ListFilesToUpload(start, end)
	if err != nil {
		return err
	}
	span.SetAttributes(telemetry.RangeAttributes(start, end, len(files))...)
	logger.Info().
		Str(log.FieldEvent, "uploader.historical_start").
		Time("start", start).
		Time("end", end).
		Int("files", len(files)).
		Msg("uploading recordings")

	var tr *tracker
	if u.cfg.MarkUploaded || u.cfg.OnFragment != nil {
		tr = newTracker(u.cfg.StreamName, files, u.cfg.MarkUploaded, u.cfg.OnFragment)
	}

	i := 0
	for i < len(files) {
		if u.terminating() || ctx.Err() != nil {
			span.AddEvent("cancelled", trace.WithAttributes(attribute.Int("remaining", len(files)-i)))
			logger.Info().Str(log.FieldEvent, "uploader.historical_cancelled").Int("remaining", len(files)-i).Msg("quit uploading recordings")
			return nil
		}
		batch := files[i:]
		reader := recordings.NewFilesReader(batch)
		first, openErr := reader.Open()
		if openErr != nil {
			_ = reader.Close()
			if !errors.Is(openErr, io.EOF) {
				return openErr
			}
			logger.Warn().Str(log.FieldEvent, "uploader.historical_unreadable").Int("files", len(batch)).Msg("no readable recording left in window")
			break
		}
		// Fragment timecodes are relative to the first segment actually sent.
		producerStart := batch[first].Time
		if tr != nil {
			tr.begin(producerStart)
		}
		res := u.mediaPut(ctx, logger, kindHistorical, reader, producerStart, onStatus, onComplete, tr)
		_ = reader.Close()

		if res.cancelled {
			continue
		}
		if res.failure == nil && reader.Done() {
			if tr != nil {
				tr.complete()
			}
			break
		}
		cur := reader.Current()
		if cur <= first {
			cause := res.failure
			if cause == nil {
				cause = errors.New("response ended before payload was consumed")
			}
			logger.Error().Err(cause).Str(log.FieldEvent, "uploader.historical_failed").Str("file", batch[first].Name()).Msg("giving up on recordings")
			return fmt.Errorf("%w: %w", ErrPutMediaFailure, cause)
		}
		span.AddEvent("resume", trace.WithAttributes(attribute.String("file", batch[cur].Name())))
		logger.Warn().Err(res.failure).
			Str(log.FieldEvent, "uploader.historical_resume").
			Str("file", batch[cur].Name()).
			Msg("session ended early, resuming")
		i += cur
	}
	logger.Info().Str(log.FieldEvent, "uploader.historical_done").Msg("no more recordings to upload")
	return nil
}

func (u *Uploader) session(ctx context.Context, kind string) (context.Context, zerolog.Logger) {
	id := uuid.NewString()
	ctx = log.ContextWithSessionID(ctx, id)
	return ctx, log.WithContext(ctx, u.logger).With().Str("kind", kind).Logger()
}

func (u *Uploader) startSpan(ctx context.Context, name, kind string) (context.Context, trace.Span) {
	attrs := telemetry.UploadAttributes(u.cfg.StreamName, kind, log.SessionIDFromContext(ctx))
	if cam := log.CameraFromContext(ctx); cam != "" {
		attrs = append(attrs, attribute.String(telemetry.CameraKey, cam))
	}
	return telemetry.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

type putResult struct {
	failure   error
	cancelled bool
}

// mediaPut runs one PutMedia call and waits for its latch.
func (u *Uploader) mediaPut(ctx context.Context, logger zerolog.Logger, kind string, payload io.Reader, start time.Time, onStatus StatusFunc, onComplete CompleteFunc, tr *tracker) putResult {
	began := time.Now()
	ctx, span := telemetry.Tracer(tracerName).Start(ctx, "uploader.put_media",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int64(telemetry.ProducerStartKey, start.UnixMilli())))
	finish := func(res putResult) putResult {
		result := "completed"
		switch {
		case res.cancelled:
			result = "cancelled"
		case res.failure != nil:
			result = "failed"
		}
		metrics.ObserveUploadSession(u.cfg.StreamName, kind, result, time.Since(began))
		span.SetAttributes(attribute.String(telemetry.ResultKey, result))
		telemetry.EndSpan(span, res.failure)
		return res
	}

	client, err := u.dataClient(ctx)
	if err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "uploader.endpoint_failed").Msg("could not reach data endpoint")
		return finish(putResult{failure: err})
	}

	l := newLatch()
	u.mu.Lock()
	if u.state == stateTerminating {
		u.mu.Unlock()
		return finish(putResult{cancelled: true})
	}
	u.latch = l
	u.mu.Unlock()

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	h := &sessionHandler{
		stream:     u.cfg.StreamName,
		logger:     logger,
		span:       span,
		latch:      l,
		onStatus:   onStatus,
		onComplete: onComplete,
		tracker:    tr,
	}
	req := PutMediaRequest{
		StreamName:    u.cfg.StreamName,
		TimecodeType:  TimecodeRelative,
		Payload:       &countingReader{r: payload, stream: u.cfg.StreamName},
		ProducerStart: start,
	}
	logger.Info().Str(log.FieldEvent, "uploader.put_media").Int64("producer_start_ms", start.UnixMilli()).Msg("put media")
	if err := client.PutMedia(reqCtx, req, h); err != nil {
		h.detach()
		logger.Error().Err(err).Str(log.FieldEvent, "uploader.put_media_failed").Msg("put media request failed")
		return finish(putResult{failure: err})
	}

	select {
	case <-l.done():
	case <-ctx.Done():
		l.release()
	}
	completed, failure := h.detach()

	if !completed && failure == nil {
		logger.Info().Str(log.FieldEvent, "uploader.put_media_cancelled").Msg("put media cancelled")
		return finish(putResult{cancelled: true})
	}
	if failure != nil {
		logger.Warn().Err(failure).Str(log.FieldEvent, "uploader.put_media_failure").Msg("put media ended with failure")
		return finish(putResult{failure: failure})
	}
	logger.Info().Str(log.FieldEvent, "uploader.put_media_end").Dur("elapsed", time.Since(began)).Msg("put media completed")
	return finish(putResult{})
}

// dataClient resolves and caches the data endpoint and its client.
func (u *Uploader) dataClient(ctx context.Context) (DataClient, error) {
	u.clientMu.Lock()
	defer u.clientMu.Unlock()
	if u.endpoint == "" {
		ep, err := u.cfg.Frontend.GetDataEndpoint(ctx, u.cfg.StreamName)
		if err != nil {
			return nil, fmt.Errorf("get data endpoint: %w", err)
		}
		u.endpoint = ep
		u.logger.Info().Str(log.FieldEvent, "uploader.endpoint").Str(log.FieldEndpoint, ep).Msg("data endpoint resolved")
	}
	if u.data == nil {
		c, err := u.cfg.NewDataClient(u.endpoint)
		if err != nil {
			return nil, fmt.Errorf("create data client: %w", err)
		}
		u.data = c
	}
	return u.data, nil
}

// latch is a count-down latch of one.
type latch struct {
	once sync.Once
	ch   chan struct{}
}

func newLatch() *latch { return &latch{ch: make(chan struct{})} }

func (l *latch) release()              { l.once.Do(func() { close(l.ch) }) }
func (l *latch) done() <-chan struct{} { return l.ch }

// sessionHandler adapts the response of one media-put. Once detached it
// drops every further callback.
type sessionHandler struct {
	stream     string
	logger     zerolog.Logger
	span       trace.Span
	latch      *latch
	onStatus   StatusFunc
	onComplete CompleteFunc
	tracker    *tracker

	mu        sync.Mutex
	detached  bool
	failure   error
	completed bool
}

func (h *sessionHandler) OnAck(ev AckEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.detached {
		return
	}
	metrics.IncAckEvent(h.stream, string(ev.Type))
	h.span.AddEvent("ack", trace.WithAttributes(telemetry.AckAttributes(string(ev.Type), ev.FragmentNumber, ev.ErrorID)...))
	e := h.logger.Debug()
	if ev.Type == AckError {
		e = h.logger.Warn().Int("error_id", ev.ErrorID)
	}
	e.Str(log.FieldEvent, "uploader.ack").
		Str("type", string(ev.Type)).
		Str("fragment", ev.FragmentNumber).
		Dur("timecode", ev.FragmentTimecode).
		Msg("ack event")

	if h.tracker != nil && ev.Type == AckPersisted {
		h.tracker.persisted(ev.FragmentTimecode)
	}
	if h.onStatus != nil {
		h.onStatus(ev)
	}
	if h.onComplete != nil {
		h.onComplete()
	}
}

func (h *sessionHandler) OnFailure(err error) {
	h.mu.Lock()
	if !h.detached && h.failure == nil && !h.completed {
		if err == nil {
			err = errors.New("unknown failure")
		}
		h.failure = err
	}
	h.mu.Unlock()
	h.latch.release()
}

func (h *sessionHandler) OnComplete() {
	h.mu.Lock()
	if !h.detached && h.failure == nil {
		h.completed = true
	}
	h.mu.Unlock()
	h.latch.release()
}

func (h *sessionHandler) detach() (completed bool, failure error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detached = true
	return h.completed, h.failure
}

type countingReader struct {
	r      io.Reader
	stream string
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		metrics.AddUploadedBytes(c.stream, n)
	}
	return n, err
}
