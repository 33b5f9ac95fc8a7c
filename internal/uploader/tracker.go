// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package uploader

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/kvsedge/internal/log"
	"github.com/ManuGH/kvsedge/internal/metrics"
	"github.com/ManuGH/kvsedge/internal/recordings"
)

// tracker maps persisted fragments back to the recordings of a historical
// upload. A recording counts as uploaded once a fragment of a later
// recording has been persisted. Calls are serialized by the session handler.
type tracker struct {
	stream string
	files  []recordings.VideoFile
	rename bool
	update FragmentFunc
	logger zerolog.Logger

	start     time.Time
	uploading int
	persist   []time.Time
}

func newTracker(stream string, files []recordings.VideoFile, rename bool, update FragmentFunc) *tracker {
	return &tracker{
		stream:    stream,
		files:     append([]recordings.VideoFile(nil), files...),
		rename:    rename,
		update:    update,
		logger:    log.WithComponent("uploader").With().Str(log.FieldStream, stream).Logger(),
		uploading: -1,
	}
}

// begin sets the producer start of the next session.
func (t *tracker) begin(start time.Time) {
	t.start = start
}

// persisted records a fragment timecode relative to the session start.
func (t *tracker) persisted(timecode time.Duration) {
	abs := t.start.Add(timecode)
	t.persist = append(t.persist, abs)

	for i := len(t.files) - 1; i >= 0; i-- {
		if !t.files[i].Time.Before(abs) {
			continue
		}
		if t.uploading >= 0 && t.uploading != i {
			t.mark(t.uploading, abs)
			// recordings without a persisted fragment of their own
			for j := i - 1; j >= 0; j-- {
				t.mark(j, abs)
			}
		}
		t.uploading = i
		break
	}
	t.notify(abs, nil)
}

// complete marks every recording up to the last one as uploaded.
func (t *tracker) complete() {
	last := time.Time{}
	if n := len(t.persist); n > 0 {
		last = t.persist[n-1]
	}
	for i := len(t.files) - 1; i >= 0; i-- {
		if t.files[i].Uploaded {
			break
		}
		t.mark(i, last)
	}
}

func (t *tracker) mark(i int, last time.Time) {
	f := &t.files[i]
	if f.Uploaded {
		return
	}
	if t.rename {
		if err := recordings.MarkUploaded(f); err != nil {
			t.logger.Warn().Err(err).Str(log.FieldEvent, "uploader.mark_failed").Str(log.FieldPath, f.Path).Msg("could not mark recording as uploaded")
		} else {
			metrics.IncFileMarkedUploaded(t.stream)
		}
	}
	f.Uploaded = true
	t.logger.Info().Str(log.FieldEvent, "uploader.file_uploaded").Str(log.FieldPath, f.Path).Msg("recording uploaded")
	t.notify(last, f)
}

func (t *tracker) notify(last time.Time, f *recordings.VideoFile) {
	if t.update == nil {
		return
	}
	if f == nil {
		t.update(last, nil)
		return
	}
	cp := *f
	t.update(last, &cp)
}

// fragments returns the absolute times of persisted fragments.
func (t *tracker) fragments() []time.Time {
	return append([]time.Time(nil), t.persist...)
}
