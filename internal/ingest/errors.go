package ingest

import (
	"errors"
	"fmt"
)

// Record-level error kinds. Each is recoverable: the row is reported in the
// batch summary and siblings continue. File-level failures are
// *tabular.FormatError and abort the whole call.

// ErrDuplicateFingerprint is returned by Store.Insert when a record with the
// same fingerprint is already stored. It closes the race between a
// duplicate check and the insert: two identical records in flight at once
// both pass CheckDuplicate, so the store itself must refuse the second copy.
var ErrDuplicateFingerprint = errors.New("record with this fingerprint already stored")

// StorageError wraps a failure to persist a record.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %v", e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// SubmissionError wraps a failure to submit a stored record to the
// registry. The record remains stored but unsubmitted.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ProcessingError is the catch-all for unexpected faults inside the
// per-record pipeline. It is reported in the summary's error list but does
// not increment any category counter.
type ProcessingError struct {
	Err error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing: %v", e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }
