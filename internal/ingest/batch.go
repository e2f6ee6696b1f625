package ingest

import (
	"context"
	"log/slog"

	"github.com/tm2bridge/ingest/internal/tabular"
	"golang.org/x/sync/errgroup"
)

// Summary aggregates the outcomes of one file-processing invocation.
// It is mutated only by the orchestrator's fold and is final once returned.
type Summary struct {
	TotalRecords     int      `json:"total_records"`
	ProcessedRecords int      `json:"processed_records"`
	ValidatedRecords int      `json:"validated_records"`
	StoredRecords    int      `json:"stored_records"`
	SubmittedRecords int      `json:"submitted_records"`
	ValidationErrors int      `json:"validation_errors"`
	StorageErrors    int      `json:"storage_errors"`
	SubmissionErrors int      `json:"submission_errors"`
	DuplicateRecords int      `json:"duplicate_records"`
	DateFallbacks    int      `json:"date_fallbacks"`
	Errors           []string `json:"errors"`
}

// processBatch partitions rows into consecutive chunks and runs the
// per-record pipeline concurrently within each chunk, joining the whole
// chunk before the next one starts. Outcomes within a chunk may complete in
// any order; the fold sees all of them before the orchestrator advances, so
// summary counts are deterministic.
func (s *Service) processBatch(ctx context.Context, rows []tabular.Row, sourceFile, processingID string) *Summary {
	summary := &Summary{TotalRecords: len(rows)}
	log := slog.Default().With("processing_id", processingID)

	var bookkeepingErrors int

	for start := 0; start < len(rows); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		log.Debug("processing chunk", "chunk_start", start, "chunk_size", len(chunk))

		outcomes := make([]Outcome, len(chunk))
		g, gctx := errgroup.WithContext(ctx)
		for i, row := range chunk {
			i, row := i, row
			g.Go(func() error {
				outcomes[i] = s.pipe.process(gctx, row, sourceFile, processingID)
				return nil
			})
		}
		// Pipeline runs never return errors; Wait is purely the join.
		_ = g.Wait()

		for _, out := range outcomes {
			summary.fold(out)
			if out.BookkeepingError != "" {
				bookkeepingErrors++
			}
		}
	}

	s.stats.merge(summary, bookkeepingErrors)

	log.Info("batch processing completed",
		"total_records", summary.TotalRecords,
		"processed_records", summary.ProcessedRecords,
		"stored_records", summary.StoredRecords,
		"submitted_records", summary.SubmittedRecords,
		"duplicate_records", summary.DuplicateRecords,
		"validation_errors", summary.ValidationErrors,
		"storage_errors", summary.StorageErrors,
		"submission_errors", summary.SubmissionErrors,
	)

	return summary
}

// fold accumulates one outcome. Every processed row lands in exactly one of
// {validation_error, duplicate, stored-then-(submitted|submission_error),
// storage_error}; an unexpected fault goes to the error list only.
func (sum *Summary) fold(out Outcome) {
	if out.Status == StatusProcessingError {
		sum.Errors = append(sum.Errors, out.Error)
		return
	}

	sum.ProcessedRecords++
	if out.DateFellBack {
		sum.DateFallbacks++
	}

	switch out.Status {
	case StatusValidationError:
		sum.ValidationErrors++
		sum.Errors = append(sum.Errors, out.Error)
	case StatusDuplicate:
		sum.DuplicateRecords++
	case StatusStorageError:
		sum.ValidatedRecords++
		sum.StorageErrors++
		sum.Errors = append(sum.Errors, out.Error)
	case StatusSubmissionError:
		sum.ValidatedRecords++
		sum.StoredRecords++
		sum.SubmissionErrors++
		sum.Errors = append(sum.Errors, out.Error)
	case StatusSubmitted:
		sum.ValidatedRecords++
		sum.StoredRecords++
		sum.SubmittedRecords++
	}
}
