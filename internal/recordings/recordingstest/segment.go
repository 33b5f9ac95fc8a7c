// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package recordingstest writes small Matroska segments for tests.
package recordingstest

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/at-wat/ebml-go/webm"
	"github.com/stretchr/testify/require"
)

// notifyCloser signals when the webm marshaller has closed its output.
type notifyCloser struct {
	io.Writer
	closed chan struct{}
}

func (n *notifyCloser) Close() error {
	close(n.closed)
	return nil
}

// Encode returns a valid WebM stream with frames video blocks.
func Encode(t testing.TB, frames int) []byte {
	t.Helper()
	pr, pw := io.Pipe()
	out := make(chan []byte, 1)
	go func() {
		b, _ := io.ReadAll(pr)
		out <- b
	}()

	nc := &notifyCloser{Writer: pw, closed: make(chan struct{})}
	writers, err := webm.NewSimpleBlockWriter(nc, []webm.TrackEntry{{
		Name:        "Video",
		TrackNumber: 1,
		TrackUID:    1,
		CodecID:     "V_MPEG4/ISO/AVC",
		TrackType:   1,
	}})
	require.NoError(t, err)
	for i := 0; i < frames; i++ {
		_, err := writers[0].Write(i == 0, int64(i*33), []byte{0x00, 0x00, 0x01, byte(i)})
		require.NoError(t, err)
	}
	for _, w := range writers {
		require.NoError(t, w.Close())
	}
	select {
	case <-nc.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("webm writer did not finish")
	}
	require.NoError(t, pw.Close())
	return <-out
}

// Write stores payload as video_<ms>.mkv in dir and returns its path.
func Write(t testing.TB, dir string, ms int64, payload []byte) string {
	t.Helper()
	path := filepath.Join(dir, "video_"+strconv.FormatInt(ms, 10)+".mkv")
	require.NoError(t, os.WriteFile(path, payload, 0o600))
	return path
}
