// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recordings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ManuGH/kvsedge/internal/log"
	"github.com/ManuGH/kvsedge/internal/metrics"
)

// SegmentFunc is called for every new segment that appears in the record
// directory.
type SegmentFunc func(f VideoFile)

// Watcher reports segments as the file branch opens them.
type Watcher struct {
	camera string
	dir    string
	fn     SegmentFunc
	logger zerolog.Logger

	mu   sync.Mutex
	last VideoFile
	seen bool
}

// NewWatcher returns a watcher for dir. fn may be nil.
func NewWatcher(camera, dir string, fn SegmentFunc) *Watcher {
	return &Watcher{
		camera: camera,
		dir:    dir,
		fn:     fn,
		logger: log.WithComponent("recordings").With().Str(log.FieldCamera, camera).Str(log.FieldPath, dir).Logger(),
	}
}

// Last returns the most recently observed segment.
func (w *Watcher) Last() (VideoFile, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last, w.seen
}

// Run watches until ctx is cancelled. The directory is created if needed.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", w.dir, err)
	}
	w.logger.Debug().Str(log.FieldEvent, "recordings.watch_started").Msg("watching record directory")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher channel closed")
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(event.Name)
			t, ok := parseName(pendingRe, name)
			if !ok {
				continue
			}
			f := VideoFile{Path: event.Name, Time: t}
			w.mu.Lock()
			w.last, w.seen = f, true
			w.mu.Unlock()
			metrics.IncSegmentObserved(w.camera)
			w.logger.Info().Str(log.FieldEvent, "recordings.segment_created").Str("segment", name).Msg("new segment")
			if w.fn != nil {
				w.fn(f)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			w.logger.Warn().Err(err).Str(log.FieldEvent, "recordings.watch_error").Msg("fsnotify watcher error")
		}
	}
}
