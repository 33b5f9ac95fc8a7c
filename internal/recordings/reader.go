// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recordings

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/kvsedge/internal/log"
)

// FilesReader streams a slice of segments as one byte sequence. Segments
// that cannot be opened or lack a Matroska header are skipped.
//
// Read runs on the transport goroutine while Current and Done are polled by
// the session owner, so all state is guarded by mu.
type FilesReader struct {
	logger zerolog.Logger

	mu      sync.Mutex
	files   []VideoFile
	next    int
	current int
	cur     *os.File
	done    bool
	closed  bool
	n       int64
}

// NewFilesReader returns a reader over files in order.
func NewFilesReader(files []VideoFile) *FilesReader {
	return &FilesReader{
		logger:  log.WithComponent("recordings"),
		files:   files,
		current: -1,
	}
}

// Read implements io.Reader.
func (r *FilesReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		if r.closed {
			return 0, os.ErrClosed
		}
		if r.cur == nil {
			if !r.openNextLocked() {
				r.done = true
				return 0, io.EOF
			}
		}
		n, err := r.cur.Read(p)
		r.n += int64(n)
		if errors.Is(err, io.EOF) {
			_ = r.cur.Close()
			r.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Open positions the reader on the first readable segment and returns its
// index. It returns io.EOF when no segment can be read.
func (r *FilesReader) Open() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return -1, os.ErrClosed
	}
	if r.cur == nil && !r.openNextLocked() {
		r.done = true
		return -1, io.EOF
	}
	return r.current, nil
}

func (r *FilesReader) openNextLocked() bool {
	for r.next < len(r.files) {
		idx := r.next
		r.next++
		f := r.files[idx]
		fh, err := os.Open(f.Path) // #nosec G304 -- path comes from the record directory scan
		if err != nil {
			r.logger.Warn().Err(err).Str(log.FieldEvent, "recordings.open_failed").Str(log.FieldPath, f.Path).Msg("skipping segment")
			continue
		}
		if _, err := ReadHeader(io.NewSectionReader(fh, 0, headerProbeSize)); err != nil {
			_ = fh.Close()
			r.logger.Warn().Err(err).Str(log.FieldEvent, "recordings.invalid_segment").Str(log.FieldPath, f.Path).Msg("skipping segment")
			continue
		}
		r.cur = fh
		r.current = idx
		r.logger.Debug().Str(log.FieldEvent, "recordings.segment_opened").Str(log.FieldPath, f.Path).Msg("streaming segment")
		return true
	}
	return false
}

// Current returns the index of the segment being read, or -1 before the
// first Read.
func (r *FilesReader) Current() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Done reports whether every segment was read to the end.
func (r *FilesReader) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// BytesRead returns the number of payload bytes returned so far.
func (r *FilesReader) BytesRead() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Close releases the open segment. Further reads fail.
func (r *FilesReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.cur != nil {
		err := r.cur.Close()
		r.cur = nil
		return err
	}
	return nil
}
