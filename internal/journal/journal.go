// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package journal keeps a local history of upload sessions in SQLite so
// operators can see what was sent to Kinesis Video, and what was cut short
// by a restart.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/kvsedge/internal/log"
)

// Kind tells live sessions from historical uploads.
type Kind string

const (
	KindLive       Kind = "live"
	KindHistorical Kind = "historical"
)

// Result is the final state of an entry.
type Result string

const (
	ResultRunning     Result = "running"
	ResultCompleted   Result = "completed"
	ResultFailed      Result = "failed"
	ResultCancelled   Result = "cancelled"
	ResultInterrupted Result = "interrupted"
)

// DefaultListLimit bounds List when the caller passes no limit.
const DefaultListLimit = 50

// ErrNotFound is returned by Finish for an unknown entry.
var ErrNotFound = errors.New("journal entry not found")

const schema = `
CREATE TABLE IF NOT EXISTS uploads (
	id             TEXT PRIMARY KEY,
	camera         TEXT NOT NULL,
	stream         TEXT NOT NULL,
	kind           TEXT NOT NULL,
	range_start_ms INTEGER,
	range_end_ms   INTEGER,
	started_ms     INTEGER NOT NULL,
	finished_ms    INTEGER,
	result         TEXT NOT NULL,
	acks           INTEGER NOT NULL DEFAULT 0,
	persisted      INTEGER NOT NULL DEFAULT 0,
	errors         INTEGER NOT NULL DEFAULT 0,
	files          INTEGER NOT NULL DEFAULT 0,
	error          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS uploads_camera_started ON uploads (camera, started_ms DESC);
`

// Entry is one upload session.
type Entry struct {
	ID         string     `json:"id"`
	Camera     string     `json:"camera"`
	Stream     string     `json:"stream"`
	Kind       Kind       `json:"kind"`
	RangeStart *time.Time `json:"rangeStart,omitempty"`
	RangeEnd   *time.Time `json:"rangeEnd,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Result     Result     `json:"result"`
	Acks       int        `json:"acks"`
	Persisted  int        `json:"persisted"`
	Errors     int        `json:"errors"`
	Files      int        `json:"files"`
	Error      string     `json:"error,omitempty"`
}

// Outcome closes an entry.
type Outcome struct {
	Result    Result
	Acks      int
	Persisted int
	Errors    int
	Files     int
	Err       error
}

// Option customises a Journal.
type Option func(*Journal)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// WithDBConfig overrides the connection settings.
func WithDBConfig(cfg DBConfig) Option {
	return func(j *Journal) { j.dbCfg = cfg }
}

// Journal records upload sessions. It is safe for concurrent use.
type Journal struct {
	db     *sql.DB
	dbCfg  DBConfig
	now    func() time.Time
	logger zerolog.Logger
}

// Open opens or creates the journal at path. Entries left running by a
// previous process are marked interrupted.
func Open(ctx context.Context, path string, opts ...Option) (*Journal, error) {
	j := &Journal{
		dbCfg:  DefaultDBConfig(),
		now:    time.Now,
		logger: log.WithComponent("journal").With().Str("path", path).Logger(),
	}
	for _, opt := range opts {
		opt(j)
	}

	db, err := openDB(ctx, path, j.dbCfg)
	if err != nil {
		return nil, err
	}
	j.db = db
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}

	res, err := db.ExecContext(ctx,
		`UPDATE uploads SET result = ?, finished_ms = ? WHERE result = ?`,
		ResultInterrupted, j.now().UnixMilli(), ResultRunning)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: recover: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		j.logger.Warn().Int64("entries", n).Str(log.FieldEvent, "journal.interrupted").Msg("marked unfinished uploads as interrupted")
	}
	return j, nil
}

// Begin inserts e as running. StartedAt defaults to now.
func (j *Journal) Begin(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return errors.New("journal: entry id is required")
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = j.now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO uploads (id, camera, stream, kind, range_start_ms, range_end_ms, started_ms, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Camera, e.Stream, e.Kind, nullMillis(e.RangeStart), nullMillis(e.RangeEnd),
		e.StartedAt.UnixMilli(), ResultRunning)
	if err != nil {
		return fmt.Errorf("journal: begin %s: %w", e.ID, err)
	}
	return nil
}

// Finish closes the entry id with o.
func (j *Journal) Finish(ctx context.Context, id string, o Outcome) error {
	msg := ""
	if o.Err != nil {
		msg = o.Err.Error()
	}
	res, err := j.db.ExecContext(ctx,
		`UPDATE uploads SET finished_ms = ?, result = ?, acks = ?, persisted = ?, errors = ?, files = ?, error = ?
		 WHERE id = ?`,
		j.now().UnixMilli(), o.Result, o.Acks, o.Persisted, o.Errors, o.Files, msg, id)
	if err != nil {
		return fmt.Errorf("journal: finish %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// List returns the newest entries of camera first. A non-positive limit
// uses DefaultListLimit.
func (j *Journal) List(ctx context.Context, camera string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, camera, stream, kind, range_start_ms, range_end_ms, started_ms, finished_ms,
		        result, acks, persisted, errors, files, error
		 FROM uploads WHERE camera = ? ORDER BY started_ms DESC, rowid DESC LIMIT ?`,
		camera, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Entry{}
	for rows.Next() {
		var (
			e                            Entry
			rangeStart, rangeEnd, finish sql.NullInt64
			started                      int64
		)
		if err := rows.Scan(&e.ID, &e.Camera, &e.Stream, &e.Kind, &rangeStart, &rangeEnd, &started, &finish,
			&e.Result, &e.Acks, &e.Persisted, &e.Errors, &e.Files, &e.Error); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.StartedAt = time.UnixMilli(started).UTC()
		e.RangeStart = timeFromMillis(rangeStart)
		e.RangeEnd = timeFromMillis(rangeEnd)
		e.FinishedAt = timeFromMillis(finish)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes finished entries that started before cutoff.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM uploads WHERE result != ? AND started_ms < ?`,
		ResultRunning, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		j.logger.Info().Int64("entries", n).Time("cutoff", cutoff).Str(log.FieldEvent, "journal.pruned").Msg("pruned upload journal")
	}
	return n, nil
}

// Ping checks the database connection.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timeFromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
