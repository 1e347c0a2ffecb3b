package storage

import "errors"

// Storage error constants
var (
	// ErrBatchNotFound is returned when a batch is not in the registry
	ErrBatchNotFound = errors.New("batch not found")

	// ErrRunNotFound is returned when a detection run is not found
	ErrRunNotFound = errors.New("detection run not found")

	// ErrRunConflict is returned when a conditional run insert loses to an
	// existing in_progress run for the same batch
	ErrRunConflict = errors.New("a run is already in progress for this batch")
)
