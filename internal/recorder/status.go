// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recorder

import (
	"github.com/ManuGH/kvsedge/internal/fsm"
)

// Status is the recorder lifecycle state.
type Status string

const (
	StatusStopped  Status = "STOPPED"
	StatusStarted  Status = "STARTED"
	StatusStopping Status = "STOPPING"
	StatusFailed   Status = "FAILED"
)

// StatusFunc is notified on every status transition. It runs on the
// goroutine that caused the transition and must not block.
type StatusFunc func(r *Recorder, status Status, description string)

type event string

const (
	evPlaying     event = "playing"
	evSourceError event = "source-error"
	evStop        event = "stop"
	evStopped     event = "stopped"
	evTornDown    event = "torn-down"
)

// transitions is the recorder state table. STOPPED accepts stop and
// source-error so that a run still connecting can be stopped or fail.
func transitions() []fsm.Transition[Status, event] {
	return []fsm.Transition[Status, event]{
		{From: StatusStopped, Event: evPlaying, To: StatusStarted},
		{From: StatusStopped, Event: evStop, To: StatusStopping},
		{From: StatusStopped, Event: evSourceError, To: StatusFailed},
		{From: StatusStarted, Event: evSourceError, To: StatusFailed},
		{From: StatusStarted, Event: evStop, To: StatusStopping},
		{From: StatusStopping, Event: evStopped, To: StatusStopped},
		{From: StatusFailed, Event: evTornDown, To: StatusStopped},
	}
}
