// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recordings

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWatcher_ReportsNewSegments(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := filepath.Join(t.TempDir(), "cam")
	got := make(chan VideoFile, 4)
	w := NewWatcher("cam", dir, func(f VideoFile) { got <- f })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(dir)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	// The watch is registered shortly after the directory exists; retry
	// until the first event lands.
	var seg VideoFile
	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(dir, "ignored.txt"), nil, 0o600)
		name := FileName(time.UnixMilli(time.Now().UnixMilli()))
		_ = os.WriteFile(filepath.Join(dir, name), nil, 0o600)
		select {
		case seg = <-got:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	assert.False(t, seg.Time.IsZero())
	last, ok := w.Last()
	require.True(t, ok)
	assert.Equal(t, filepath.Base(seg.Path), last.Name())

	cancel()
	require.NoError(t, <-done)
}
