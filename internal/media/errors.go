// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package media

import (
	"errors"
	"fmt"
)

// ErrAdapter is the sentinel wrapped by every AdapterError.
var ErrAdapter = errors.New("media adapter error")

// AdapterError reports a failed framework call.
type AdapterError struct {
	Op     string
	Target string
	Err    error
}

func (e *AdapterError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("media: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("media: %s %s: %v", e.Op, e.Target, e.Err)
}

// Unwrap exposes both ErrAdapter and the underlying cause to errors.Is.
func (e *AdapterError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrAdapter}
	}
	return []error{ErrAdapter, e.Err}
}

// Fail builds an AdapterError with a formatted cause.
func Fail(op, target, format string, args ...any) error {
	return &AdapterError{Op: op, Target: target, Err: fmt.Errorf(format, args...)}
}

// ValidValue reports whether v is a supported property value type.
func ValidValue(v any) bool {
	switch v.(type) {
	case bool, int, int64, uint, uint64, float64, string, Element:
		return true
	default:
		return false
	}
}
