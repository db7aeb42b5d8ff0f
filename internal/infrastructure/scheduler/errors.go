package scheduler

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrAlreadyRunning is returned when a manual run overlaps a scheduled one
	ErrAlreadyRunning = errors.New("job already running")
)
