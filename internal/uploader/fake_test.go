// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package uploader

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeFrontend struct {
	calls atomic.Int32
	err   error
}

func (f *fakeFrontend) GetDataEndpoint(_ context.Context, stream string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return "https://data.example/" + stream, nil
}

type putCall struct {
	req     PutMediaRequest
	payload []byte
}

// scriptFunc plays the server side of call n.
type scriptFunc func(n int, ctx context.Context, req PutMediaRequest, h AckHandler) []byte

type fakeData struct {
	script scriptFunc

	mu    sync.Mutex
	calls []putCall
	wg    sync.WaitGroup
}

func (f *fakeData) PutMedia(ctx context.Context, req PutMediaRequest, h AckHandler) error {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, putCall{req: req})
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		payload := f.script(n, ctx, req, h)
		f.mu.Lock()
		f.calls[n].payload = payload
		f.mu.Unlock()
	}()
	return nil
}

func (f *fakeData) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeData) call(i int) putCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

// consume reads the whole payload, acknowledges it and completes.
func consume(acks ...AckEvent) scriptFunc {
	return func(_ int, _ context.Context, req PutMediaRequest, h AckHandler) []byte {
		b, err := io.ReadAll(req.Payload)
		if err != nil {
			h.OnFailure(err)
			return b
		}
		for _, ev := range acks {
			h.OnAck(ev)
		}
		h.OnComplete()
		return b
	}
}

// block waits for the request to be cancelled.
func block(_ int, ctx context.Context, _ PutMediaRequest, h AckHandler) []byte {
	<-ctx.Done()
	h.OnFailure(ctx.Err())
	return nil
}

func failNow(_ int, _ context.Context, _ PutMediaRequest, h AckHandler) []byte {
	h.OnFailure(errors.New("connection refused"))
	return nil
}

type fixture struct {
	front     *fakeFrontend
	data      *fakeData
	factories atomic.Int32
	u         *Uploader
	dir       string
}

func newFixture(t *testing.T, script scriptFunc, mutate ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		front: &fakeFrontend{},
		data:  &fakeData{script: script},
		dir:   t.TempDir(),
	}
	cfg := Config{
		Frontend: f.front,
		NewDataClient: func(endpoint string) (DataClient, error) {
			f.factories.Add(1)
			return f.data, nil
		},
		Region:     "eu-west-1",
		LocalPath:  f.dir,
		StreamName: "cam-1",
	}
	for _, m := range mutate {
		m(&cfg)
	}
	u, err := New(cfg)
	require.NoError(t, err)
	f.u = u
	t.Cleanup(f.data.wg.Wait)
	return f
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("upload did not return")
		return nil
	}
}
