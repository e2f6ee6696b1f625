package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tm2bridge/ingest/internal/record"
	"github.com/tm2bridge/ingest/internal/tabular"
)

// pipeline drives one record through
// normalize -> dedup-check -> store -> submit, producing a tagged outcome.
// It is the failure containment boundary: nothing escapes as a panic or an
// error, only an Outcome.
type pipeline struct {
	normalizer *record.Normalizer
	store      Store
	submitter  Submitter
}

// process runs one raw row to a terminal outcome. The returned outcome's
// Status is always one of the defined tags.
func (p *pipeline) process(ctx context.Context, row tabular.Row, sourceFile, processingID string) (out Outcome) {
	out.RecordID = uuid.New().String()
	log := slog.Default().With(
		"record_id", out.RecordID,
		"processing_id", processingID,
	)

	// One record's fault never aborts the batch.
	defer func() {
		if r := recover(); r != nil {
			perr := &ProcessingError{Err: fmt.Errorf("panic: %v", r)}
			log.Error("record pipeline panicked", "error", perr)
			out.Status = StatusProcessingError
			out.Error = perr.Error()
		}
	}()

	rec, verr := p.normalizer.Normalize(row, sourceFile)
	if verr != nil {
		out.Status = StatusValidationError
		out.Error = verr.Error()
		return out
	}
	out.DateFellBack = rec.DateFellBack
	if rec.DateFellBack {
		log.Warn("diagnosis date unparsable, substituted current time",
			"patient_id", rec.PatientID,
			"tm2_code", rec.TM2Code,
		)
	}

	fp := record.Fingerprint(rec)
	out.Fingerprint = fp

	dup, err := p.store.CheckDuplicate(ctx, fp)
	if err != nil {
		perr := &ProcessingError{Err: fmt.Errorf("duplicate check: %w", err)}
		log.Error("duplicate check failed", "error", err)
		out.Status = StatusProcessingError
		out.Error = perr.Error()
		return out
	}
	if dup {
		log.Info("duplicate record skipped",
			"patient_id", rec.PatientID,
			"fingerprint", fp[:16],
		)
		out.Status = StatusDuplicate
		return out
	}

	storedID, err := p.store.Insert(ctx, StoredRecord{
		Record:       rec,
		Fingerprint:  fp,
		ProcessingID: processingID,
	})
	if err != nil {
		// An identical record in the same chunk can pass the duplicate
		// check concurrently; the store's uniqueness guarantee catches it.
		if errors.Is(err, ErrDuplicateFingerprint) {
			log.Info("duplicate record skipped",
				"patient_id", rec.PatientID,
				"fingerprint", fp[:16],
			)
			out.Status = StatusDuplicate
			return out
		}
		serr := &StorageError{Err: err}
		log.Error("failed to store record", "patient_id", rec.PatientID, "error", err)
		out.Status = StatusStorageError
		out.Error = serr.Error()
		return out
	}
	out.StoredID = storedID

	result, err := p.submitter.Submit(ctx, rec)
	if err != nil {
		serr := &SubmissionError{Err: err}
		log.Error("failed to submit record",
			"patient_id", rec.PatientID,
			"stored_id", storedID,
			"error", err,
		)
		// Best-effort bookkeeping: the outcome stays submission_error
		// whether or not the mark succeeds.
		if mErr := p.store.MarkFailed(ctx, storedID, serr.Error()); mErr != nil {
			log.Warn("mark-failed bookkeeping failed",
				"stored_id", storedID,
				"error", mErr,
			)
			out.BookkeepingError = mErr.Error()
		}
		out.Status = StatusSubmissionError
		out.Error = serr.Error()
		return out
	}
	out.SubmissionID = result.SubmissionID

	if mErr := p.store.MarkSubmitted(ctx, storedID, result); mErr != nil {
		log.Warn("mark-submitted bookkeeping failed",
			"stored_id", storedID,
			"submission_id", result.SubmissionID,
			"error", mErr,
		)
		out.BookkeepingError = mErr.Error()
	}

	log.Info("record submitted",
		"patient_id", rec.PatientID,
		"stored_id", storedID,
		"submission_id", result.SubmissionID,
	)
	out.Status = StatusSubmitted
	return out
}
