// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recorder

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/kvsedge/internal/media"
	"github.com/ManuGH/kvsedge/internal/media/mediatest"
)

const waitTimeout = 2 * time.Second

type harness struct {
	t        *testing.T
	a        *mediatest.Adapter
	b        *Builder
	r        *Recorder
	statuses chan Status
	runErr   chan error
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		a:        mediatest.New(),
		statuses: make(chan Status, 64),
	}
	opts = append([]Option{WithName("cam-test"), WithPollInterval(5 * time.Millisecond), WithEOSTimeout(500 * time.Millisecond)}, opts...)
	b, err := NewBuilder(h.a, func(_ *Recorder, s Status, _ string) { h.statuses <- s }, opts...)
	require.NoError(t, err)
	ok, err := b.RegisterCamera(RTSP, "rtsp://camera.local/stream")
	require.NoError(t, err)
	require.True(t, ok)
	h.b = b
	return h
}

func (h *harness) construct() *Recorder {
	h.t.Helper()
	r, err := h.b.Construct()
	require.NoError(h.t, err)
	h.r = r
	return r
}

func (h *harness) start() {
	h.t.Helper()
	h.runErr = make(chan error, 1)
	go func() { h.runErr <- h.r.StartRecording(context.Background()) }()
	h.waitStatus(StatusStarted)
}

func (h *harness) stop() error {
	h.t.Helper()
	h.r.StopRecording()
	return h.wait()
}

func (h *harness) wait() error {
	h.t.Helper()
	select {
	case err := <-h.runErr:
		return err
	case <-time.After(waitTimeout):
		h.t.Fatal("StartRecording did not return")
		return nil
	}
}

func (h *harness) waitStatus(want Status) {
	h.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case s := <-h.statuses:
			if s == want {
				return
			}
		case <-deadline:
			h.t.Fatalf("status %s not reached; current %s", want, h.r.Status())
		}
	}
}

func (h *harness) drainStatuses() []Status {
	var out []Status
	for {
		select {
		case s := <-h.statuses:
			out = append(out, s)
		default:
			return out
		}
	}
}

func (h *harness) source() media.Element {
	h.t.Helper()
	srcs := h.a.Elements("rtspsrc")
	require.Len(h.t, srcs, 1)
	return srcs[0]
}

// announce publishes one H264 video and one OPUS audio stream.
func (h *harness) announce() (video, audio media.Pad) {
	h.t.Helper()
	src := h.source()
	video, err := h.a.Announce(src, media.StreamInfo{Media: "video", Encoding: "H264"})
	require.NoError(h.t, err)
	audio, err = h.a.Announce(src, media.StreamInfo{Media: "audio", Encoding: "OPUS"})
	require.NoError(h.t, err)
	return video, audio
}

func (h *harness) push(pad media.Pad, n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(h.t, h.a.Push(pad, []byte{byte(i), 0xAA}))
	}
}

// safeBuffer is a goroutine-safe bytes.Buffer.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *safeBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *safeBuffer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}
