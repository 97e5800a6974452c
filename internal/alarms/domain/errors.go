package alarms

import "errors"

var (
	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("alarm: not found")
	// ErrUnknownSignal indicates an unrecognized signal name.
	ErrUnknownSignal = errors.New("alarm: unknown signal")
	// ErrConflict indicates a compare-and-set that kept losing.
	ErrConflict = errors.New("alarm: concurrent update")
)
