package model

import "errors"

// Sentinel errors shared across components. Callers match them with
// errors.Is after any amount of %w wrapping.
var (
	ErrHardwareBusy     = errors.New("camera hardware busy")
	ErrHardwareFailure  = errors.New("camera hardware failure")
	ErrNotStreaming     = errors.New("camera not streaming")
	ErrTimeout          = errors.New("operation timed out")
	ErrModelUnavailable = errors.New("detection model unavailable")
	ErrValidation       = errors.New("validation failed")
	ErrPersistence      = errors.New("persistence failure")
	ErrTransport        = errors.New("transport failure")
)
