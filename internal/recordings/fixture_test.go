// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recordings

import (
	"testing"
	"time"

	"github.com/ManuGH/kvsedge/internal/recordings/recordingstest"
)

func encodeSegment(t *testing.T, frames int) []byte {
	return recordingstest.Encode(t, frames)
}

// writeSegment stores a segment named after ts in dir and returns it.
func writeSegment(t *testing.T, dir string, ts time.Time, payload []byte) VideoFile {
	t.Helper()
	path := recordingstest.Write(t, dir, ts.UnixMilli(), payload)
	return VideoFile{Path: path, Time: time.UnixMilli(ts.UnixMilli())}
}
