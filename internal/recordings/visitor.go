// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package recordings discovers, reads and marks the segment files written by
// a recorder's file branch.
package recordings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/kvsedge/internal/log"
)

const (
	filePrefix     = "video_"
	fileExt        = ".mkv"
	uploadedSuffix = "_uploaded"
)

var (
	pendingRe  = regexp.MustCompile(`^video_(\d+)\.mkv$`)
	uploadedRe = regexp.MustCompile(`^video_(\d+)_uploaded\.mkv$`)
)

// VideoFile is one recorded segment. Time is parsed from the file name.
type VideoFile struct {
	Path     string
	Time     time.Time
	Uploaded bool
}

// Name returns the base name of the segment.
func (f VideoFile) Name() string { return filepath.Base(f.Path) }

// FileName returns the segment name for a recording started at t.
func FileName(t time.Time) string {
	return filePrefix + strconv.FormatInt(t.UnixMilli(), 10) + fileExt
}

// DateFromFilename returns the start time encoded in a pending segment
// name, or the zero time when name is not a segment.
func DateFromFilename(name string) time.Time {
	t, _ := parseName(pendingRe, name)
	return t
}

func parseName(re *regexp.Regexp, name string) (time.Time, bool) {
	m := re.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Visitor enumerates segments in a single record directory.
type Visitor struct {
	dir    string
	logger zerolog.Logger
}

// NewVisitor returns a visitor for dir.
func NewVisitor(dir string) *Visitor {
	return &Visitor{
		dir:    dir,
		logger: log.WithComponent("recordings").With().Str(log.FieldPath, dir).Logger(),
	}
}

// Dir returns the record directory.
func (v *Visitor) Dir() string { return v.dir }

// ListFilesToUpload returns the pending segments whose start time t
// satisfies start < t < end, oldest first. The result is empty when end is
// not after start. Names that are not segments are ignored.
func (v *Visitor) ListFilesToUpload(start, end time.Time) ([]VideoFile, error) {
	if !end.After(start) {
		return nil, nil
	}
	all, err := v.scan(false)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, f := range all {
		if f.Time.After(start) && f.Time.Before(end) {
			out = append(out, f)
		}
	}
	return out, nil
}

// List returns every segment, pending and uploaded, oldest first.
func (v *Visitor) List() ([]VideoFile, error) {
	return v.scan(true)
}

func (v *Visitor) scan(withUploaded bool) ([]VideoFile, error) {
	entries, err := os.ReadDir(v.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			v.logger.Debug().Str(log.FieldEvent, "recordings.dir_missing").Msg("record directory does not exist yet")
			return nil, nil
		}
		return nil, fmt.Errorf("read record dir: %w", err)
	}

	var files []VideoFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if t, ok := parseName(pendingRe, name); ok {
			files = append(files, VideoFile{Path: filepath.Join(v.dir, name), Time: t})
			continue
		}
		if !withUploaded {
			continue
		}
		if t, ok := parseName(uploadedRe, name); ok {
			files = append(files, VideoFile{Path: filepath.Join(v.dir, name), Time: t, Uploaded: true})
		}
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Time.Equal(files[j].Time) {
			return files[i].Path < files[j].Path
		}
		return files[i].Time.Before(files[j].Time)
	})
	return files, nil
}

// MarkUploaded renames a pending segment to video_<millis>_uploaded.mkv and
// updates f. Renaming is advisory; callers log and continue on error.
func MarkUploaded(f *VideoFile) error {
	if f.Uploaded {
		return nil
	}
	name := f.Name()
	if !pendingRe.MatchString(name) {
		return fmt.Errorf("mark uploaded: %q is not a pending segment", name)
	}
	base := name[:len(name)-len(fileExt)]
	target := filepath.Join(filepath.Dir(f.Path), base+uploadedSuffix+fileExt)
	if err := os.Rename(f.Path, target); err != nil {
		return fmt.Errorf("mark uploaded: %w", err)
	}
	f.Path = target
	f.Uploaded = true
	return nil
}
