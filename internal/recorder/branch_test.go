// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recorder

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/kvsedge/internal/media"
	"github.com/ManuGH/kvsedge/internal/media/preset"
)

func TestCapability_Accepts(t *testing.T) {
	tests := []struct {
		name    string
		branch  Capability
		stream  Capability
		want    bool
		wantErr bool
	}{
		{"av takes video", VideoAudio, VideoOnly, true, false},
		{"av takes audio", VideoAudio, AudioOnly, true, false},
		{"video takes video", VideoOnly, VideoOnly, true, false},
		{"video skips audio", VideoOnly, AudioOnly, false, false},
		{"audio skips video", AudioOnly, VideoOnly, false, false},
		{"stream must be single", VideoAudio, VideoAudio, false, true},
		{"unknown branch", Capability(9), VideoOnly, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.branch.accepts(tt.stream)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidCapability)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAppCallback_ToggleStopsDelivery(t *testing.T) {
	var count atomic.Int32
	h := newHarness(t)
	_, err := h.b.RegisterAppDataCallback(preset.Matroska, func(*Recorder, []byte) { count.Add(1) })
	require.NoError(t, err)
	r := h.construct()
	assert.False(t, r.AppDataCallbackEnabled())

	h.start()
	video, _ := h.announce()

	h.push(video, 3)
	assert.Zero(t, count.Load(), "disabled branch must not deliver")

	changed, err := r.ToggleAppDataCallback(true)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = r.ToggleAppDataCallback(true)
	require.NoError(t, err)
	assert.False(t, changed)

	h.push(video, 4)
	assert.Equal(t, int32(4), count.Load())

	changed, err = r.ToggleAppDataCallback(false)
	require.NoError(t, err)
	assert.True(t, changed)
	after := count.Load()
	h.push(video, 4)
	assert.Equal(t, after, count.Load())

	changed, err = r.ToggleAppDataCallback(false)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, h.stop())
	h.a.WaitProbes()
}

func TestAppCallback_NoDeliveryAfterDisableUnderLoad(t *testing.T) {
	var (
		disabled atomic.Bool
		late     atomic.Int32
		total    atomic.Int32
	)
	h := newHarness(t)
	_, err := h.b.RegisterAppDataCallback(preset.Matroska, func(*Recorder, []byte) {
		total.Add(1)
		if disabled.Load() {
			late.Add(1)
		}
	})
	require.NoError(t, err)
	r := h.construct()
	_, err = r.ToggleAppDataCallback(true)
	require.NoError(t, err)

	h.start()
	video, audio := h.announce()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, pad := range []media.Pad{video, audio} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_ = h.a.Push(pad, []byte{1})
			}
		}()
	}

	require.Eventually(t, func() bool { return total.Load() > 10 }, waitTimeout, time.Millisecond)
	_, err = r.ToggleAppDataCallback(false)
	require.NoError(t, err)
	disabled.Store(true)
	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()

	assert.Zero(t, late.Load())
	require.NoError(t, h.stop())
	h.a.WaitProbes()
}

func TestBranch_DetachAttachRestoresTopology(t *testing.T) {
	h := newHarness(t)
	_, err := h.b.RegisterAppDataOutputStream(preset.Matroska, &safeBuffer{})
	require.NoError(t, err)
	r := h.construct()
	_, err = r.ToggleAppDataOutputStream(true)
	require.NoError(t, err)

	h.start()
	h.announce()

	queuesBefore, reqsBefore := r.stream.snapshot()
	require.Len(t, queuesBefore, 2)
	require.Len(t, reqsBefore, 2)
	for req, tee := range reqsBefore {
		assert.Same(t, tee, h.a.Owner(req))
		assert.True(t, h.a.IsLinked(req))
	}

	_, err = r.ToggleAppDataOutputStream(false)
	require.NoError(t, err)
	queuesOff, reqsOff := r.stream.snapshot()
	assert.Empty(t, reqsOff)
	assert.Equal(t, queuesBefore, queuesOff)
	for tee := range queuesBefore {
		assert.Empty(t, h.a.RequestPads(tee), "request pads released on %s", tee.Name())
	}

	_, err = r.ToggleAppDataOutputStream(true)
	require.NoError(t, err)
	queuesAfter, reqsAfter := r.stream.snapshot()
	assert.Equal(t, queuesBefore, queuesAfter, "queues are reused")
	require.Len(t, reqsAfter, 2)
	teesBefore := map[any]int{}
	for _, tee := range reqsBefore {
		teesBefore[tee]++
	}
	teesAfter := map[any]int{}
	for req, tee := range reqsAfter {
		teesAfter[tee]++
		assert.True(t, h.a.IsLinked(req))
	}
	assert.Equal(t, teesBefore, teesAfter)

	require.NoError(t, h.stop())
	h.a.WaitProbes()
}

func TestAppStream_FailedAttachLeavesBranchDisabled(t *testing.T) {
	out := &safeBuffer{}
	h := newHarness(t)
	_, err := h.b.RegisterAppDataOutputStream(preset.Matroska, out)
	require.NoError(t, err)
	r := h.construct()

	h.start()
	video, _ := h.announce()

	h.a.FailLinks(true)
	changed, err := r.ToggleAppDataOutputStream(true)
	require.ErrorIs(t, err, media.ErrAdapter)
	assert.False(t, changed)
	assert.False(t, r.AppDataOutputStreamEnabled())
	queues, reqs := r.stream.snapshot()
	assert.Empty(t, reqs)
	for tee := range queues {
		assert.Empty(t, h.a.RequestPads(tee), "request pad released on %s", tee.Name())
	}
	emit, _ := h.a.Property(r.stream.sink, "emit-signals")
	assert.Equal(t, false, emit)
	h.push(video, 2)
	assert.Zero(t, out.Len())

	h.a.FailLinks(false)
	changed, err = r.ToggleAppDataOutputStream(true)
	require.NoError(t, err)
	assert.True(t, changed)
	_, reqs = r.stream.snapshot()
	assert.Len(t, reqs, 2)
	h.push(video, 2)
	assert.Equal(t, 4, out.Len())

	require.NoError(t, h.stop())
	h.a.WaitProbes()
}

func TestAppStream_ReplaceWriterWhileDisabled(t *testing.T) {
	first, second := &safeBuffer{}, &safeBuffer{}
	h := newHarness(t)
	_, err := h.b.RegisterAppDataOutputStream(preset.Matroska, first)
	require.NoError(t, err)
	r := h.construct()

	h.start()
	video, _ := h.announce()

	_, err = r.ToggleAppDataOutputStream(true)
	require.NoError(t, err)
	h.push(video, 3)
	require.Equal(t, 6, first.Len())

	_, err = r.ToggleAppDataOutputStream(false)
	require.NoError(t, err)
	ok, err := r.SetAppDataOutputStream(second)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = r.ToggleAppDataOutputStream(true)
	require.NoError(t, err)

	h.push(video, 2)
	assert.Equal(t, 6, first.Len(), "old writer untouched after replacement")
	assert.Equal(t, 4, second.Len())

	require.NoError(t, h.stop())
	h.a.WaitProbes()
}

func TestAppStream_ReplaceRejectedWhileEnabled(t *testing.T) {
	first := &safeBuffer{}
	h := newHarness(t)
	_, err := h.b.RegisterAppDataOutputStream(preset.Matroska, first)
	require.NoError(t, err)
	r := h.construct()
	_, err = r.ToggleAppDataOutputStream(true)
	require.NoError(t, err)

	ok, err := r.SetAppDataOutputStream(&safeBuffer{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, r.AppDataOutputStreamEnabled())

	h.start()
	video, _ := h.announce()
	h.push(video, 1)
	assert.Equal(t, 2, first.Len())
	require.NoError(t, h.stop())
	h.a.WaitProbes()
}

type failingWriter struct{ calls atomic.Int32 }

func (w *failingWriter) Write([]byte) (int, error) {
	w.calls.Add(1)
	return 0, io.ErrClosedPipe
}

func TestAppStream_WriteErrorsDoNotStopPipeline(t *testing.T) {
	w := &failingWriter{}
	h := newHarness(t)
	_, err := h.b.RegisterAppDataOutputStream(preset.Matroska, w)
	require.NoError(t, err)
	r := h.construct()
	_, err = r.ToggleAppDataOutputStream(true)
	require.NoError(t, err)

	h.start()
	video, _ := h.announce()
	h.push(video, 3)
	assert.Equal(t, int32(3), w.calls.Load())
	assert.Equal(t, StatusStarted, r.Status())
	require.NoError(t, h.stop())
}

type flushRecorder struct {
	safeBuffer
	flushes atomic.Int32
}

func (f *flushRecorder) Flush() error {
	f.flushes.Add(1)
	return errors.New("flush failed")
}

func TestAppStream_FlushesBufferedWriters(t *testing.T) {
	w := &flushRecorder{}
	h := newHarness(t)
	_, err := h.b.RegisterAppDataOutputStream(preset.Matroska, w)
	require.NoError(t, err)
	r := h.construct()
	_, err = r.ToggleAppDataOutputStream(true)
	require.NoError(t, err)

	h.start()
	video, _ := h.announce()
	h.push(video, 2)
	assert.Equal(t, int32(2), w.flushes.Load())
	assert.Equal(t, 4, w.Len())
	require.NoError(t, h.stop())
}
