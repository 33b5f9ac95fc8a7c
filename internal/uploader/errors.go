// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package uploader

import "errors"

var (
	// ErrInvalidRange is returned when a historical upload ends before it starts.
	ErrInvalidRange = errors.New("invalid time range")
	// ErrBusy is returned when a session is already in flight.
	ErrBusy = errors.New("upload session in flight")
	// ErrPutMediaFailure reports a media-put that failed without progress.
	ErrPutMediaFailure = errors.New("put media failed")
	// ErrInvalidConfig reports a missing constructor argument.
	ErrInvalidConfig = errors.New("invalid uploader config")
)
