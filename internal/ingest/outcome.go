package ingest

import (
	"context"
	"time"

	"github.com/tm2bridge/ingest/internal/record"
)

// Status is the terminal tag of a per-record pipeline run.
type Status string

const (
	StatusValidationError Status = "validation_error"
	StatusDuplicate       Status = "duplicate"
	StatusStorageError    Status = "storage_error"
	StatusSubmitted       Status = "submitted"
	StatusSubmissionError Status = "submission_error"
	StatusProcessingError Status = "processing_error"
)

// Outcome is the immutable result of driving one record through the
// pipeline. It is consumed only by the batch orchestrator's fold.
type Outcome struct {
	RecordID     string
	Status       Status
	StoredID     string
	SubmissionID string
	Fingerprint  string
	Error        string

	// DateFellBack propagates the normalizer's soft date default so the
	// summary can count it as a warning.
	DateFellBack bool

	// BookkeepingError records a failed best-effort mark-submitted or
	// mark-failed call. It never changes Status.
	BookkeepingError string
}

// StoredRecord is what the storage collaborator persists: the canonical
// record plus its dedup fingerprint and the originating batch.
type StoredRecord struct {
	Record       *record.Canonical
	Fingerprint  string
	ProcessingID string
}

// SubmissionResult is returned by the submission collaborator on success.
type SubmissionResult struct {
	SubmissionID    string    `json:"submission_id"`
	Success         bool      `json:"success"`
	PatientUUID     string    `json:"patient_uuid"`
	ConceptUUID     string    `json:"concept_uuid"`
	ObservationUUID string    `json:"observation_uuid"`
	Timestamp       time.Time `json:"timestamp"`
}

// StoreStatistics is the storage collaborator's self-reported state.
type StoreStatistics struct {
	ConnectionStatus string           `json:"connection_status"`
	TotalRecords     int64            `json:"total_records"`
	SubmittedRecords int64            `json:"submitted_records"`
	FailedRecords    int64            `json:"failed_records"`
	PendingRecords   int64            `json:"pending_records"`
	CollectionSize   int64            `json:"collection_size"`
	StatusBreakdown  map[string]int64 `json:"status_breakdown"`
	LastUpdated      time.Time        `json:"last_updated"`
}

// SubmitterStatistics is the submission collaborator's self-reported state.
type SubmitterStatistics struct {
	Initialized           bool      `json:"initialized"`
	BaseURL               string    `json:"base_url"`
	RequestsMade          int64     `json:"requests_made"`
	SuccessfulSubmissions int64     `json:"successful_submissions"`
	FailedSubmissions     int64     `json:"failed_submissions"`
	PatientsCreated       int64     `json:"patients_created"`
	ConceptsCreated       int64     `json:"concepts_created"`
	LastUpdated           time.Time `json:"last_updated"`
}

// Store is the storage collaborator the pipeline depends on. Insert must
// enforce fingerprint uniqueness and return ErrDuplicateFingerprint when a
// record with the same fingerprint is already stored.
type Store interface {
	Insert(ctx context.Context, rec StoredRecord) (string, error)
	CheckDuplicate(ctx context.Context, fingerprint string) (bool, error)
	MarkSubmitted(ctx context.Context, id string, result SubmissionResult) error
	MarkFailed(ctx context.Context, id string, errText string) error
	Statistics(ctx context.Context) (StoreStatistics, error)
}

// Submitter is the clinical registry the pipeline submits stored records to.
type Submitter interface {
	Submit(ctx context.Context, rec *record.Canonical) (SubmissionResult, error)
	Statistics(ctx context.Context) (SubmitterStatistics, error)
}
