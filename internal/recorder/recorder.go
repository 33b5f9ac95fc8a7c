// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package recorder builds and runs a camera pipeline that fans out to a
// rotating file sink and toggleable in-process branches.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/kvsedge/internal/fsm"
	"github.com/ManuGH/kvsedge/internal/log"
	"github.com/ManuGH/kvsedge/internal/media"
	"github.com/ManuGH/kvsedge/internal/metrics"
)

const (
	defaultEOSTimeout   = 3 * time.Second
	defaultPollInterval = 50 * time.Millisecond
)

// DataFunc receives muxed container bytes from the callback branch. It runs
// on a streaming goroutine; buf is only valid during the call. It must not
// block for long or call back into the recorder's toggle or set methods.
type DataFunc func(r *Recorder, buf []byte)

// Recorder runs one camera pipeline and its branches.
type Recorder struct {
	name     string
	adapter  media.Adapter
	pipeline media.Pipeline
	camera   camera
	file     *FileBranch
	callback *AppBranch
	stream   *AppBranch
	notify   StatusFunc
	logger   zerolog.Logger

	eosTimeout   time.Duration
	pollInterval time.Duration

	machine *fsm.Machine[Status, event]

	runMu sync.Mutex

	ctlMu         sync.Mutex
	running       bool
	stopRequested bool
	stopCh        chan struct{}
}

// Name returns the recorder name used in logs and metrics.
func (r *Recorder) Name() string { return r.name }

// Status returns the current lifecycle state.
func (r *Recorder) Status() Status { return r.machine.State() }

// StreamCounts returns the (audio, video) stream counts announced by the
// camera's last session description.
func (r *Recorder) StreamCounts() (audio, video int) {
	return r.camera.streamCounts()
}

// FileBranch returns the file branch, or nil when none was registered.
func (r *Recorder) FileBranch() *FileBranch { return r.file }

// StartRecording runs the pipeline and blocks until the recorder is STOPPED
// again. It returns nil after StopRecording or ctx cancellation, and an error
// wrapping ErrStreamSourceFailure when the source failed.
func (r *Recorder) StartRecording(ctx context.Context) error {
	if !r.runMu.TryLock() {
		return ErrNotStopped
	}
	defer r.runMu.Unlock()

	if st := r.Status(); st != StatusStopped {
		return fmt.Errorf("%w: status %s", ErrNotStopped, st)
	}

	r.ctlMu.Lock()
	r.running = true
	r.stopRequested = false
	stopCh := make(chan struct{})
	r.stopCh = stopCh
	r.ctlMu.Unlock()
	defer func() {
		r.ctlMu.Lock()
		r.running = false
		r.ctlMu.Unlock()
	}()

	r.drainBus()
	r.camera.resetSession()

	r.logger.Info().Str(log.FieldEvent, "recorder.starting").Msg("starting pipeline")
	if err := r.adapter.SetState(r.pipeline, media.StatePlaying); err != nil {
		r.logger.Error().Err(err).Str(log.FieldEvent, "recorder.start_failed").Msg("pipeline refused PLAYING")
		return r.failRun(ctx, err)
	}
	return r.loop(ctx, stopCh)
}

func (r *Recorder) loop(ctx context.Context, stopCh <-chan struct{}) error {
	done := ctx.Done()
	for {
		select {
		case <-stopCh:
			return r.shutdown(ctx)
		case <-done:
			done = nil
			r.StopRecording()
			continue
		default:
		}

		msg, ok := r.adapter.PopMessage(r.pipeline, r.pollInterval)
		if !ok {
			continue
		}
		switch msg.Type {
		case media.MessageStateChanged:
			if msg.Source != r.pipeline.Name() {
				continue
			}
			r.logger.Debug().
				Str(log.FieldEvent, "recorder.state_changed").
				Str(log.FieldOldState, string(msg.OldState)).
				Str(log.FieldNewState, string(msg.NewState)).
				Msg("pipeline state changed")
			if msg.NewState == media.StatePlaying && r.Status() == StatusStopped {
				r.transition(ctx, evPlaying, "pipeline playing")
			}

		case media.MessageError, media.MessageEOS:
			cause := msg.Err
			if msg.Type == media.MessageEOS {
				cause = errors.New("unexpected end of stream")
			}
			if r.Status() == StatusStopping {
				r.logger.Warn().Err(cause).Str(log.FieldEvent, "recorder.error_while_stopping").Str("source", msg.Source).Msg("ignoring error during stop")
				continue
			}
			r.logger.Error().
				Err(cause).
				Str(log.FieldEvent, "recorder.source_failed").
				Str("source", msg.Source).
				Str("debug", msg.Debug).
				Msg("stream source failure")
			if _, err := r.transition(ctx, evSourceError, cause.Error()); err != nil {
				// lost against a concurrent stop
				continue
			}
			return r.teardown(ctx, cause)

		case media.MessageWarning:
			r.logger.Warn().Err(msg.Err).Str(log.FieldEvent, "recorder.warning").Str("source", msg.Source).Msg("pipeline warning")
		}
	}
}

// failRun handles a failure before the bus loop was entered.
func (r *Recorder) failRun(ctx context.Context, cause error) error {
	if _, err := r.transition(ctx, evSourceError, cause.Error()); err != nil {
		r.logger.Warn().Err(err).Str(log.FieldEvent, "recorder.fail_transition").Msg("could not enter FAILED")
	}
	return r.teardown(ctx, cause)
}

// teardown resets a failed pipeline and returns to STOPPED.
func (r *Recorder) teardown(ctx context.Context, cause error) error {
	if err := r.adapter.SetState(r.pipeline, media.StateNull); err != nil {
		r.logger.Error().Err(err).Str(log.FieldEvent, "recorder.reset_failed").Msg("pipeline reset failed")
	}
	if r.Status() == StatusFailed {
		r.transition(ctx, evTornDown, "teardown complete")
	}
	return fmt.Errorf("%w: %w", ErrStreamSourceFailure, cause)
}

// shutdown drains the pipeline with EOS so open files end on a container
// boundary, then resets it to NULL.
func (r *Recorder) shutdown(ctx context.Context) error {
	if err := r.adapter.PostEOS(r.pipeline); err != nil {
		r.logger.Warn().Err(err).Str(log.FieldEvent, "recorder.eos_failed").Msg("could not post EOS")
	} else {
		r.awaitEOS()
	}
	if err := r.adapter.SetState(r.pipeline, media.StateNull); err != nil {
		r.logger.Error().Err(err).Str(log.FieldEvent, "recorder.reset_failed").Msg("pipeline reset failed")
	}
	r.transition(ctx, evStopped, "pipeline stopped")
	return nil
}

func (r *Recorder) awaitEOS() {
	deadline := time.Now().Add(r.eosTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			r.logger.Warn().Str(log.FieldEvent, "recorder.eos_timeout").Dur("timeout", r.eosTimeout).Msg("EOS not received before timeout")
			return
		}
		msg, ok := r.adapter.PopMessage(r.pipeline, min(remaining, r.pollInterval))
		if !ok {
			continue
		}
		switch msg.Type {
		case media.MessageEOS:
			return
		case media.MessageError:
			r.logger.Warn().Err(msg.Err).Str(log.FieldEvent, "recorder.error_while_draining").Msg("error while draining")
		}
	}
}

func (r *Recorder) drainBus() {
	for {
		if _, ok := r.adapter.PopMessage(r.pipeline, 0); !ok {
			return
		}
	}
}

// StopRecording requests a graceful stop. It is a no-op unless a run is in
// progress and has not failed.
func (r *Recorder) StopRecording() {
	r.ctlMu.Lock()
	if !r.running || r.stopRequested {
		r.ctlMu.Unlock()
		return
	}
	if st := r.Status(); st == StatusFailed || st == StatusStopping {
		r.ctlMu.Unlock()
		return
	}
	from := r.Status()
	to, err := r.machine.Fire(context.Background(), evStop)
	if err != nil {
		r.ctlMu.Unlock()
		r.logger.Debug().Err(err).Str(log.FieldEvent, "recorder.stop_ignored").Msg("stop not applicable")
		return
	}
	r.stopRequested = true
	close(r.stopCh)
	r.ctlMu.Unlock()

	r.notifyStatus(from, to, "stop requested")
}

func (r *Recorder) transition(ctx context.Context, ev event, description string) (Status, error) {
	from := r.Status()
	to, err := r.machine.Fire(ctx, ev)
	if err != nil {
		return to, err
	}
	r.notifyStatus(from, to, description)
	return to, nil
}

func (r *Recorder) notifyStatus(from, to Status, description string) {
	metrics.SetRecorderStatus(r.name, string(to))
	r.logger.Info().
		Str(log.FieldEvent, "recorder.status").
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Str("description", description).
		Msg("recorder status changed")
	if r.notify != nil {
		r.notify(r, to, description)
	}
}

// ToggleAppDataCallback enables or disables the callback branch. It reports
// whether the branch changed state.
func (r *Recorder) ToggleAppDataCallback(enable bool) (bool, error) {
	if r.callback == nil {
		return false, fmt.Errorf("%w: callback", ErrBranchNotRegistered)
	}
	return r.callback.ToggleEmit(enable)
}

// SetAppDataCallback replaces the callback. It returns false while the
// branch is enabled.
func (r *Recorder) SetAppDataCallback(fn DataFunc) (bool, error) {
	if fn == nil {
		return false, fmt.Errorf("%w: callback", ErrNullArgument)
	}
	if r.callback == nil {
		return false, fmt.Errorf("%w: callback", ErrBranchNotRegistered)
	}
	return r.callback.SetCallback(r.bindData(fn))
}

// ToggleAppDataOutputStream enables or disables the output-stream branch.
func (r *Recorder) ToggleAppDataOutputStream(enable bool) (bool, error) {
	if r.stream == nil {
		return false, fmt.Errorf("%w: output stream", ErrBranchNotRegistered)
	}
	return r.stream.ToggleEmit(enable)
}

// SetAppDataOutputStream replaces the output writer. It returns false while
// the branch is enabled; disable, replace, then enable to rotate consumers.
func (r *Recorder) SetAppDataOutputStream(w io.Writer) (bool, error) {
	if w == nil {
		return false, fmt.Errorf("%w: output stream", ErrNullArgument)
	}
	if r.stream == nil {
		return false, fmt.Errorf("%w: output stream", ErrBranchNotRegistered)
	}
	return r.stream.SetWriter(w)
}

// AppDataCallbackEnabled reports whether the callback branch is attached.
func (r *Recorder) AppDataCallbackEnabled() bool {
	return r.callback != nil && r.callback.Enabled()
}

// AppDataOutputStreamEnabled reports whether the output-stream branch is attached.
func (r *Recorder) AppDataOutputStreamEnabled() bool {
	return r.stream != nil && r.stream.Enabled()
}

func (r *Recorder) bindData(fn DataFunc) func([]byte) {
	return func(buf []byte) { fn(r, buf) }
}

// bindTee connects a newly published tee to every registered branch.
func (r *Recorder) bindTee(t Tee) {
	for _, b := range r.branches() {
		if err := b.BindPath(t.Element, t.Cap); err != nil {
			r.logger.Error().Err(err).Str(log.FieldEvent, "recorder.bind_failed").Str(log.FieldBranch, b.name).Str("tee", t.Element.Name()).Msg("could not bind branch")
		}
	}
}

func (r *Recorder) branches() []*branch {
	var out []*branch
	if r.file != nil {
		out = append(out, r.file.branch)
	}
	if r.callback != nil {
		out = append(out, r.callback.branch)
	}
	if r.stream != nil {
		out = append(out, r.stream.branch)
	}
	return out
}

// Close stops any run and releases the pipeline.
func (r *Recorder) Close() error {
	r.StopRecording()
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.adapter.SetState(r.pipeline, media.StateNull)
}
