package ingest

import "sync"

// CumulativeStats are process-lifetime counters, one per summary category.
// A snapshot is merged into status responses; the live struct is owned by
// the service and guarded so concurrent uploads cannot race the merge.
type CumulativeStats struct {
	FilesProcessed    int64 `json:"files_processed"`
	RecordsProcessed  int64 `json:"records_processed"`
	RecordsValidated  int64 `json:"records_validated"`
	RecordsStored     int64 `json:"records_stored"`
	RecordsSubmitted  int64 `json:"records_submitted"`
	ValidationErrors  int64 `json:"validation_errors"`
	StorageErrors     int64 `json:"storage_errors"`
	SubmissionErrors  int64 `json:"submission_errors"`
	DuplicateRecords  int64 `json:"duplicate_records"`
	DateFallbacks     int64 `json:"date_fallbacks"`
	BookkeepingErrors int64 `json:"bookkeeping_errors"`
}

// statsCounter is the single-writer home of CumulativeStats. Merges happen
// once per completed batch, after the batch's concurrent phase has joined.
type statsCounter struct {
	mu    sync.Mutex
	stats CumulativeStats
}

func (c *statsCounter) merge(sum *Summary, bookkeepingErrors int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.FilesProcessed++
	c.stats.RecordsProcessed += int64(sum.ProcessedRecords)
	c.stats.RecordsValidated += int64(sum.ValidatedRecords)
	c.stats.RecordsStored += int64(sum.StoredRecords)
	c.stats.RecordsSubmitted += int64(sum.SubmittedRecords)
	c.stats.ValidationErrors += int64(sum.ValidationErrors)
	c.stats.StorageErrors += int64(sum.StorageErrors)
	c.stats.SubmissionErrors += int64(sum.SubmissionErrors)
	c.stats.DuplicateRecords += int64(sum.DuplicateRecords)
	c.stats.DateFallbacks += int64(sum.DateFallbacks)
	c.stats.BookkeepingErrors += int64(bookkeepingErrors)
}

func (c *statsCounter) snapshot() CumulativeStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
