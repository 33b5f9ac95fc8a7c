// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldSessionID = "session_id"
	FieldCamera    = "camera"
	FieldStream    = "stream"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldBranch    = "branch"
	FieldElement   = "element"
	FieldPad       = "pad"

	// Media fields
	FieldMedia    = "media"
	FieldEncoding = "encoding"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath     = "path"
	FieldURL      = "url"
	FieldEndpoint = "endpoint"
)
