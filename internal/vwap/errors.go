package vwap

import "errors"

var (
	// ErrOutOfSequence is returned when a bar is processed before its
	// predecessor in the current pass, or when a bar older than the most
	// recent one is processed without an Invalidate first.
	ErrOutOfSequence = errors.New("vwap: bar out of sequence")

	// ErrInvalidBar is returned for bars violating the input preconditions
	// (negative volume, high below low, non-positive prices).
	ErrInvalidBar = errors.New("vwap: invalid bar")

	// ErrInvalidTickSize is returned when the tick size is not positive.
	ErrInvalidTickSize = errors.New("vwap: tick size must be positive")

	// ErrInvalidSettings is returned for settings that did not come from
	// DefaultSettings or the setters, such as the zero value.
	ErrInvalidSettings = errors.New("vwap: invalid settings")

	// ErrSnapshotMismatch is returned when a snapshot cannot be restored
	// onto the given instrument.
	ErrSnapshotMismatch = errors.New("vwap: snapshot mismatch")
)
