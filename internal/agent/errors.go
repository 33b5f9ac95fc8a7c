// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package agent

import "errors"

var (
	// ErrUnknownCamera is returned for a camera name that is not configured.
	ErrUnknownCamera = errors.New("unknown camera")
	// ErrLiveNotConfigured is returned when toggling live upload on a camera
	// without liveUpload.
	ErrLiveNotConfigured = errors.New("live upload not configured")
	// ErrJournalDisabled is returned when upload history is requested but
	// no journal is configured.
	ErrJournalDisabled = errors.New("upload journal disabled")
)
