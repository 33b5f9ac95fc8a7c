// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package agent

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/kvsedge/internal/config"
	"github.com/ManuGH/kvsedge/internal/journal"
	"github.com/ManuGH/kvsedge/internal/media"
	"github.com/ManuGH/kvsedge/internal/media/mediatest"
	"github.com/ManuGH/kvsedge/internal/recorder"
	"github.com/ManuGH/kvsedge/internal/uploader"
)

const waitTimeout = 3 * time.Second

type fakeFrontend struct{}

func (fakeFrontend) GetDataEndpoint(_ context.Context, stream string) (string, error) {
	return "https://data.example/" + stream, nil
}

// session is one PutMedia call seen by fakeKVS.
type session struct {
	mu    sync.Mutex
	req   uploader.PutMediaRequest
	bytes int
	done  bool
}

func (s *session) received() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

func (s *session) ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// fakeKVS reads every payload to the end, acknowledging each read as a
// persisted fragment.
type fakeKVS struct {
	mu       sync.Mutex
	sessions []*session
	wg       sync.WaitGroup
}

func (f *fakeKVS) factory(string) (uploader.DataClient, error) { return f, nil }

func (f *fakeKVS) PutMedia(ctx context.Context, req uploader.PutMediaRequest, h uploader.AckHandler) error {
	s := &session{req: req}
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer func() {
			s.mu.Lock()
			s.done = true
			s.mu.Unlock()
		}()
		buf := make([]byte, 512)
		var tc time.Duration
		for {
			n, err := req.Payload.Read(buf)
			if n > 0 {
				s.mu.Lock()
				s.bytes += n
				s.mu.Unlock()
				tc += 100 * time.Millisecond
				h.OnAck(uploader.AckEvent{Type: uploader.AckPersisted, FragmentTimecode: tc})
			}
			if err == io.EOF {
				h.OnComplete()
				return
			}
			if err != nil {
				h.OnFailure(err)
				return
			}
			if ctx.Err() != nil {
				h.OnFailure(ctx.Err())
				return
			}
		}
	}()
	return nil
}

func (f *fakeKVS) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeKVS) session(i int) *session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

type fixture struct {
	t     *testing.T
	media *mediatest.Adapter
	kvs     *fakeKVS
	journal *fakeJournal
	agent   *Agent
}

func newFixture(t *testing.T, cams []config.Camera, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{t: t, media: mediatest.New(), kvs: &fakeKVS{}, journal: &fakeJournal{}}
	cfg := config.Config{Region: "eu-west-1", Cameras: cams}
	opts = append([]Option{
		WithRestartInterval(10 * time.Millisecond),
		WithRecorderOptions(recorder.WithPollInterval(5*time.Millisecond), recorder.WithEOSTimeout(200*time.Millisecond)),
	}, opts...)
	a, err := New(cfg, Deps{
		Adapter:       f.media,
		Frontend:      fakeFrontend{},
		NewDataClient: f.kvs.factory,
		Journal:       f.journal,
	}, opts...)
	require.NoError(t, err)
	f.agent = a
	t.Cleanup(f.kvs.wg.Wait)
	return f
}

// run starts the agent and returns a stop function that waits for Run.
func (f *fixture) run() func() error {
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.agent.Run(ctx) }()
	stopped := false
	stop := func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		select {
		case err := <-errc:
			return err
		case <-time.After(waitTimeout):
			f.t.Fatal("agent did not stop")
			return nil
		}
	}
	f.t.Cleanup(func() { _ = stop() })
	return stop
}

func (f *fixture) source(i int) media.Element {
	f.t.Helper()
	srcs := f.media.Elements("rtspsrc")
	require.Greater(f.t, len(srcs), i)
	return srcs[i]
}

func (f *fixture) announceVideo(i int) media.Pad {
	f.t.Helper()
	pad, err := f.media.Announce(f.source(i), media.StreamInfo{Media: "video", Encoding: "H264"})
	require.NoError(f.t, err)
	return pad
}

func (f *fixture) push(pad media.Pad, n int) {
	f.t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(f.t, f.media.Push(pad, []byte{byte(i), 0x55, 0xAA}))
	}
}

func liveCamera(t *testing.T, name string) config.Camera {
	return config.Camera{
		Name:             name,
		RTSPURL:          "rtsp://camera.local/" + name,
		StreamBufferSize: 4096,
		RecordPath:       t.TempDir(),
		FileRotation:     time.Minute,
		LiveUpload:       true,
		LatencyMs:        200,
	}
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (j *fakeJournal) Begin(_ context.Context, e journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e.Result = journal.ResultRunning
	j.entries = append(j.entries, e)
	return nil
}

func (j *fakeJournal) Finish(_ context.Context, id string, o journal.Outcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.entries {
		if j.entries[i].ID == id {
			e := &j.entries[i]
			e.Result, e.Acks, e.Persisted, e.Errors, e.Files = o.Result, o.Acks, o.Persisted, o.Errors, o.Files
			if o.Err != nil {
				e.Error = o.Err.Error()
			}
			return nil
		}
	}
	return journal.ErrNotFound
}

func (j *fakeJournal) List(_ context.Context, camera string, limit int) ([]journal.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := []journal.Entry{}
	for i := len(j.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if j.entries[i].Camera == camera {
			out = append(out, j.entries[i])
		}
	}
	return out, nil
}
