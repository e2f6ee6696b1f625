// Package ingest implements the TM2 ingestion pipeline: per-record
// validation, deduplication, storage, registry submission, and the chunked
// batch orchestrator that aggregates outcomes. It depends on its storage
// and submission collaborators only through interfaces.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tm2bridge/ingest/internal/record"
	"github.com/tm2bridge/ingest/internal/tabular"
)

// DefaultChunkSize bounds how many records are in flight at once.
const DefaultChunkSize = 100

// Options configure a Service.
type Options struct {
	// ChunkSize bounds per-chunk concurrency. Zero uses DefaultChunkSize.
	ChunkSize int

	// Normalizer overrides the record normalizer. Nil uses defaults.
	Normalizer *record.Normalizer
}

// Service orchestrates file processing against the two collaborators.
type Service struct {
	store     Store
	submitter Submitter
	pipe      *pipeline
	chunkSize int
	stats     *statsCounter
}

// NewService creates an ingestion service.
func NewService(store Store, submitter Submitter, opts Options) *Service {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	normalizer := opts.Normalizer
	if normalizer == nil {
		normalizer = record.NewNormalizer(record.NormalizerOptions{})
	}
	return &Service{
		store:     store,
		submitter: submitter,
		pipe: &pipeline{
			normalizer: normalizer,
			store:      store,
			submitter:  submitter,
		},
		chunkSize: chunkSize,
		stats:     &statsCounter{},
	}
}

// Result is the top-level outcome of one ProcessFile call. Status is
// "completed" or "failed"; Summary is nil when failed.
type Result struct {
	ProcessingID string          `json:"processing_id"`
	Filename     string          `json:"filename"`
	Status       string          `json:"status"`
	Timestamp    time.Time       `json:"timestamp"`
	Error        string          `json:"error,omitempty"`
	Summary      *Summary        `json:"summary,omitempty"`
	Statistics   CumulativeStats `json:"statistics"`
}

// ProcessFile runs the whole pipeline for one uploaded file. A file-level
// format failure yields a failed result with no summary; record-level
// failures are captured in the summary and never interrupt siblings.
func (s *Service) ProcessFile(ctx context.Context, data []byte, filename string) *Result {
	processingID := uuid.New().String()
	log := slog.Default().With("processing_id", processingID, "filename", filename)

	log.Info("starting file processing", "bytes", len(data))

	rows, err := tabular.Read(data, record.RequiredColumns())
	if err != nil {
		var ferr *tabular.FormatError
		if !errors.As(err, &ferr) {
			log.Error("unexpected read failure", "error", err)
		} else {
			log.Warn("file rejected", "reason", ferr.Reason)
		}
		return &Result{
			ProcessingID: processingID,
			Filename:     filename,
			Status:       "failed",
			Timestamp:    time.Now().UTC(),
			Error:        err.Error(),
			Statistics:   s.stats.snapshot(),
		}
	}

	log.Info("file parsed", "rows", len(rows))

	summary := s.processBatch(ctx, rows, filename, processingID)

	return &Result{
		ProcessingID: processingID,
		Filename:     filename,
		Status:       "completed",
		Timestamp:    time.Now().UTC(),
		Summary:      summary,
		Statistics:   s.stats.snapshot(),
	}
}

// SystemStatus merges the service's cumulative counters with both
// collaborators' statistics. It performs no processing of its own.
type SystemStatus struct {
	ProcessingStatistics CumulativeStats     `json:"processing_statistics"`
	StorageStatistics    StoreStatistics     `json:"storage_statistics"`
	SubmissionStatistics SubmitterStatistics `json:"submission_statistics"`
}

// Status reports current processing, storage, and submission statistics.
// A collaborator failure degrades its section rather than failing the call.
func (s *Service) Status(ctx context.Context) SystemStatus {
	status := SystemStatus{
		ProcessingStatistics: s.stats.snapshot(),
	}

	storeStats, err := s.store.Statistics(ctx)
	if err != nil {
		slog.Warn("storage statistics unavailable", "error", err)
		storeStats = StoreStatistics{ConnectionStatus: "error", LastUpdated: time.Now().UTC()}
	}
	status.StorageStatistics = storeStats

	subStats, err := s.submitter.Statistics(ctx)
	if err != nil {
		slog.Warn("submitter statistics unavailable", "error", err)
		subStats = SubmitterStatistics{LastUpdated: time.Now().UTC()}
	}
	status.SubmissionStatistics = subStats

	return status
}

// Stats returns a snapshot of the cumulative processing counters.
func (s *Service) Stats() CumulativeStats {
	return s.stats.snapshot()
}
