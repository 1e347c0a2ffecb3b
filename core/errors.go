package core

import "fmt"

// SchemaError is a malformed or unusable input batch: empty input, an
// identifier collision that cannot be resolved, or a non-CSV structure.
// Recoverable by the caller correcting the input; never retried.
type SchemaError struct {
	Reason string
}

// NewSchemaError creates a SchemaError with a formatted reason.
func NewSchemaError(format string, args ...interface{}) *SchemaError {
	return &SchemaError{Reason: fmt.Sprintf(format, args...)}
}

func (e *SchemaError) Error() string {
	return "schema error: " + e.Reason
}

// ScoringError is a failure during baseline retrieval or scoring. It surfaces
// as a failed detection run and is never downgraded to a partial success.
type ScoringError struct {
	BatchID string
	Reason  string
	Err     error
}

// NewScoringError creates a ScoringError for a batch, wrapping an optional cause.
func NewScoringError(batchID, reason string, err error) *ScoringError {
	return &ScoringError{BatchID: batchID, Reason: reason, Err: err}
}

func (e *ScoringError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scoring error for batch %s: %s: %v", e.BatchID, e.Reason, e.Err)
	}
	return fmt.Sprintf("scoring error for batch %s: %s", e.BatchID, e.Reason)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *ScoringError) Unwrap() error {
	return e.Err
}

// ConcurrencyError is returned when a detection run is already in progress
// for the requested batch. Returned immediately; the caller decides whether
// to retry.
type ConcurrencyError struct {
	BatchID string
}

// NewConcurrencyError creates a ConcurrencyError for a batch.
func NewConcurrencyError(batchID string) *ConcurrencyError {
	return &ConcurrencyError{BatchID: batchID}
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("a detection run is already in progress for batch %s", e.BatchID)
}
