// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/kvsedge/internal/log"
)

func reserveListenAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func waitForListen(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return errors.New("listen timeout")
}

// fakeRunner blocks until cancelled or fails with err once released.
type fakeRunner struct {
	fail    chan error
	started chan struct{}
	mu      sync.Mutex
	stopped bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{fail: make(chan error, 1), started: make(chan struct{})}
}

func (r *fakeRunner) Run(ctx context.Context) error {
	close(r.started)
	defer func() {
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()
	}()
	select {
	case <-ctx.Done():
		return nil
	case err := <-r.fail:
		return err
	}
}

func (r *fakeRunner) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func testDeps(r Runner) Deps {
	return Deps{
		Logger: log.WithComponent("test"),
		Agent:  r,
		APIHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
	}
}

func TestNewManager_InvalidDeps(t *testing.T) {
	deps := testDeps(newFakeRunner())
	deps.Agent = nil
	_, err := NewManager(ServerConfig{}, deps)
	require.ErrorIs(t, err, ErrMissingAgent)

	deps = testDeps(newFakeRunner())
	deps.APIHandler = nil
	_, err = NewManager(ServerConfig{}, deps)
	require.ErrorIs(t, err, ErrMissingAPIHandler)
}

func TestManager_StartAndShutdown(t *testing.T) {
	runner := newFakeRunner()
	addr := reserveListenAddr(t)
	metrics := reserveListenAddr(t)
	deps := testDeps(runner)
	deps.MetricsHandler = http.NotFoundHandler()

	m, err := NewManager(DefaultServerConfig(addr, metrics), deps)
	require.NoError(t, err)

	var order []string
	m.RegisterShutdownHook("first", func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	m.RegisterShutdownHook("second", func(context.Context) error {
		order = append(order, "second")
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Start(ctx) }()

	require.NoError(t, waitForListen(addr, 2*time.Second))
	require.NoError(t, waitForListen(metrics, 2*time.Second))
	<-runner.started

	resp, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not stop")
	}
	assert.True(t, runner.isStopped())
	assert.Equal(t, []string{"second", "first"}, order)

	require.NoError(t, m.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestManager_AgentFailureStopsServers(t *testing.T) {
	runner := newFakeRunner()
	addr := reserveListenAddr(t)
	m, err := NewManager(DefaultServerConfig(addr, ""), testDeps(runner))
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- m.Start(context.Background()) }()
	require.NoError(t, waitForListen(addr, 2*time.Second))

	boom := errors.New("pipeline exploded")
	runner.fail <- boom
	select {
	case err := <-errc:
		require.ErrorIs(t, err, boom)
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not stop")
	}

	_, err = net.DialTimeout("tcp", addr, 100*time.Millisecond)
	assert.Error(t, err)
}

func TestManager_ListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	runner := newFakeRunner()
	m, err := NewManager(DefaultServerConfig(ln.Addr().String(), ""), testDeps(runner))
	require.NoError(t, err)

	err = m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start API server")
	assert.Eventually(t, runner.isStopped, 2*time.Second, 10*time.Millisecond)
}

func TestManager_ShutdownBeforeStart(t *testing.T) {
	m, err := NewManager(ServerConfig{}, testDeps(newFakeRunner()))
	require.NoError(t, err)
	require.ErrorIs(t, m.Shutdown(context.Background()), ErrManagerNotStarted)
}

func TestManager_HookErrorsAreJoined(t *testing.T) {
	addr := reserveListenAddr(t)
	m, err := NewManager(DefaultServerConfig(addr, ""), testDeps(newFakeRunner()))
	require.NoError(t, err)
	hookErr := errors.New("flush failed")
	m.RegisterShutdownHook("flush", func(context.Context) error { return hookErr })

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Start(ctx) }()
	require.NoError(t, waitForListen(addr, 2*time.Second))
	cancel()

	select {
	case err := <-errc:
		require.ErrorIs(t, err, hookErr)
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not stop")
	}
}
