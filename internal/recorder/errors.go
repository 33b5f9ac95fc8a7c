// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recorder

import "errors"

var (
	// ErrUnsupportedCamera is returned when registering an unknown camera kind.
	ErrUnsupportedCamera = errors.New("unsupported camera kind")
	// ErrInvalidProperty wraps property assignments the media framework rejected.
	ErrInvalidProperty = errors.New("invalid property")
	// ErrBuilderIncomplete is returned by Construct when no camera is registered.
	ErrBuilderIncomplete = errors.New("recorder builder incomplete: no camera registered")
	// ErrBuilderConsumed is returned when a builder is used after Construct.
	ErrBuilderConsumed = errors.New("recorder builder already constructed")
	// ErrDuplicateRegistration is logged when a sink or camera is registered twice.
	ErrDuplicateRegistration = errors.New("duplicate registration")
	// ErrNullArgument is returned for a nil collaborator.
	ErrNullArgument = errors.New("null argument")
	// ErrStreamSourceFailure is returned by StartRecording after the source failed.
	ErrStreamSourceFailure = errors.New("stream source failure")
	// ErrInvalidCapability is returned when binding a path with a malformed capability.
	ErrInvalidCapability = errors.New("invalid capability")
	// ErrNotStopped is returned by StartRecording unless the recorder is STOPPED.
	ErrNotStopped = errors.New("recorder is not stopped")
	// ErrBranchNotRegistered is returned when operating on an app branch that was never registered.
	ErrBranchNotRegistered = errors.New("branch not registered")
)
