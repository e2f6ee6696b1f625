package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tm2bridge/ingest/internal/record"
)

// fakeStore is an in-memory Store with injectable failures.
type fakeStore struct {
	mu           sync.Mutex
	fingerprints map[string]bool
	inserted     []StoredRecord
	marked       map[string]string // stored ID -> submitted|failed

	failInsert bool
	failCheck  bool
	failMark   bool
	failStats  bool
	checkDelay time.Duration
	nextID     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		fingerprints: make(map[string]bool),
		marked:       make(map[string]string),
	}
}

func (s *fakeStore) Insert(_ context.Context, rec StoredRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsert {
		return "", fmt.Errorf("disk full")
	}
	if s.fingerprints[rec.Fingerprint] {
		return "", ErrDuplicateFingerprint
	}
	s.nextID++
	id := fmt.Sprintf("rec-%d", s.nextID)
	s.fingerprints[rec.Fingerprint] = true
	s.inserted = append(s.inserted, rec)
	return id, nil
}

func (s *fakeStore) CheckDuplicate(_ context.Context, fingerprint string) (bool, error) {
	if d := s.checkDelay; d > 0 {
		time.Sleep(d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCheck {
		return false, fmt.Errorf("connection reset")
	}
	return s.fingerprints[fingerprint], nil
}

func (s *fakeStore) MarkSubmitted(_ context.Context, id string, _ SubmissionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMark {
		return fmt.Errorf("update lost")
	}
	s.marked[id] = "submitted"
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id string, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMark {
		return fmt.Errorf("update lost")
	}
	s.marked[id] = "failed"
	return nil
}

func (s *fakeStore) Statistics(_ context.Context) (StoreStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failStats {
		return StoreStatistics{}, fmt.Errorf("stats unavailable")
	}
	return StoreStatistics{
		ConnectionStatus: "connected",
		TotalRecords:     int64(len(s.inserted)),
	}, nil
}

// fakeSubmitter succeeds unless the record's patient ID is in failFor.
type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []string
	failFor   map[string]bool
	failStats bool
	nextID    int
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{failFor: make(map[string]bool)}
}

func (f *fakeSubmitter) Submit(_ context.Context, rec *record.Canonical) (SubmissionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[rec.PatientID] {
		return SubmissionResult{}, fmt.Errorf("registry rejected %s", rec.PatientID)
	}
	f.nextID++
	f.submitted = append(f.submitted, rec.PatientID)
	return SubmissionResult{
		SubmissionID: fmt.Sprintf("sub-%d", f.nextID),
		Success:      true,
		Timestamp:    time.Now().UTC(),
	}, nil
}

func (f *fakeSubmitter) Statistics(_ context.Context) (SubmitterStatistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStats {
		return SubmitterStatistics{}, fmt.Errorf("stats unavailable")
	}
	return SubmitterStatistics{
		Initialized:           true,
		SuccessfulSubmissions: int64(len(f.submitted)),
	}, nil
}

const csvHeader = "patient_id,tm2_code,condition_name,system_type,severity,diagnosis_date,practitioner_id"

func csvFile(rows ...string) []byte {
	return []byte(csvHeader + "\n" + strings.Join(rows, "\n") + "\n")
}

func validRow(patient, code, date string) string {
	return fmt.Sprintf("%s,%s,Vata imbalance,Ayurveda,Mild,%s,DR1", patient, code, date)
}

func newTestService(store *fakeStore, sub *fakeSubmitter, chunkSize int) *Service {
	return NewService(store, sub, Options{ChunkSize: chunkSize})
}

func TestProcessFile_AllValid(t *testing.T) {
	store := newFakeStore()
	sub := newFakeSubmitter()
	svc := newTestService(store, sub, 0)

	data := csvFile(
		validRow("P001", "TM2.AY.001", "2024-01-15"),
		validRow("P002", "TM2.AY.002", "2024-01-16"),
		validRow("P003", "TM2.AY.003", "2024-01-17"),
	)

	result := svc.ProcessFile(context.Background(), data, "batch.csv")
	if result.Status != "completed" {
		t.Fatalf("status = %q, want completed (error: %s)", result.Status, result.Error)
	}

	sum := result.Summary
	if sum.TotalRecords != 3 || sum.ProcessedRecords != 3 {
		t.Errorf("total/processed = %d/%d, want 3/3", sum.TotalRecords, sum.ProcessedRecords)
	}
	if sum.ValidatedRecords != 3 || sum.StoredRecords != 3 || sum.SubmittedRecords != 3 {
		t.Errorf("validated/stored/submitted = %d/%d/%d, want 3/3/3",
			sum.ValidatedRecords, sum.StoredRecords, sum.SubmittedRecords)
	}
	if len(sum.Errors) != 0 {
		t.Errorf("errors = %v, want none", sum.Errors)
	}
	if len(store.inserted) != 3 {
		t.Errorf("store holds %d records, want 3", len(store.inserted))
	}
	if len(sub.submitted) != 3 {
		t.Errorf("submitter saw %d records, want 3", len(sub.submitted))
	}
}

func TestProcessFile_FormatErrorFailsWholeFile(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeSubmitter(), 0)

	result := svc.ProcessFile(context.Background(), []byte("patient_id\nP001\n"), "bad.csv")
	if result.Status != "failed" {
		t.Fatalf("status = %q, want failed", result.Status)
	}
	if result.Summary != nil {
		t.Error("failed result should carry no summary")
	}
	if result.Error == "" {
		t.Error("failed result should carry the format error")
	}
}

func TestProcessFile_ValidationErrorsDoNotAbortSiblings(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, newFakeSubmitter(), 0)

	data := csvFile(
		validRow("P001", "TM2.AY.001", "2024-01-15"),
		validRow("P002", "BAD.CODE", "2024-01-16"), // wrong prefix
		validRow("P003", "TM2.AY.003", "2024-01-17"),
	)

	sum := svc.ProcessFile(context.Background(), data, "f.csv").Summary
	if sum.ValidationErrors != 1 {
		t.Errorf("validation_errors = %d, want 1", sum.ValidationErrors)
	}
	if sum.SubmittedRecords != 2 {
		t.Errorf("submitted = %d, want 2", sum.SubmittedRecords)
	}
	if len(sum.Errors) != 1 {
		t.Errorf("errors = %v, want one entry", sum.Errors)
	}
}

func TestProcessFile_DuplicateWithinFile(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, newFakeSubmitter(), 1) // sequential: the second row is caught by the duplicate check

	data := csvFile(
		validRow("P001", "TM2.AY.001", "2024-01-15"),
		validRow("P001", "TM2.AY.001", "2024-01-15"),
	)

	sum := svc.ProcessFile(context.Background(), data, "f.csv").Summary
	if sum.DuplicateRecords != 1 {
		t.Errorf("duplicates = %d, want 1", sum.DuplicateRecords)
	}
	if sum.SubmittedRecords != 1 {
		t.Errorf("submitted = %d, want 1", sum.SubmittedRecords)
	}
	if len(store.inserted) != 1 {
		t.Errorf("store holds %d records, want 1", len(store.inserted))
	}
}

func TestProcessFile_ConcurrentDuplicatesStoredOnce(t *testing.T) {
	store := newFakeStore()
	// A slow duplicate check lets identical records in the same chunk all
	// pass it before any insert lands; only the store's uniqueness
	// guarantee keeps the copies out.
	store.checkDelay = 50 * time.Millisecond
	sub := newFakeSubmitter()
	svc := newTestService(store, sub, 0)

	data := csvFile(
		validRow("P001", "TM2.AY.001", "2024-01-15"),
		validRow("P001", "TM2.AY.001", "2024-01-15"),
		validRow("P001", "TM2.AY.001", "2024-01-15"),
	)

	sum := svc.ProcessFile(context.Background(), data, "f.csv").Summary
	if sum.DuplicateRecords != 2 {
		t.Errorf("duplicates = %d, want 2", sum.DuplicateRecords)
	}
	if sum.StoredRecords != 1 || sum.SubmittedRecords != 1 {
		t.Errorf("stored/submitted = %d/%d, want 1/1",
			sum.StoredRecords, sum.SubmittedRecords)
	}
	if len(store.inserted) != 1 {
		t.Errorf("store holds %d records, want 1", len(store.inserted))
	}
	if len(sub.submitted) != 1 {
		t.Errorf("submitter saw %d records, want 1", len(sub.submitted))
	}
}

func TestProcessFile_Idempotent(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, newFakeSubmitter(), 0)

	data := csvFile(
		validRow("P001", "TM2.AY.001", "2024-01-15"),
		validRow("P002", "TM2.AY.002", "2024-01-16"),
	)

	first := svc.ProcessFile(context.Background(), data, "f.csv").Summary
	if first.SubmittedRecords != 2 {
		t.Fatalf("first run submitted = %d, want 2", first.SubmittedRecords)
	}

	second := svc.ProcessFile(context.Background(), data, "f.csv").Summary
	if second.DuplicateRecords != 2 {
		t.Errorf("second run duplicates = %d, want 2", second.DuplicateRecords)
	}
	if second.SubmittedRecords != 0 || second.StoredRecords != 0 {
		t.Errorf("second run submitted/stored = %d/%d, want 0/0",
			second.SubmittedRecords, second.StoredRecords)
	}
	if len(store.inserted) != 2 {
		t.Errorf("store holds %d records, want 2", len(store.inserted))
	}
}

func TestProcessFile_SubmissionErrorKeepsRecordStored(t *testing.T) {
	store := newFakeStore()
	sub := newFakeSubmitter()
	sub.failFor["P002"] = true
	svc := newTestService(store, sub, 0)

	data := csvFile(
		validRow("P001", "TM2.AY.001", "2024-01-15"),
		validRow("P002", "TM2.AY.002", "2024-01-16"),
	)

	sum := svc.ProcessFile(context.Background(), data, "f.csv").Summary
	if sum.SubmissionErrors != 1 {
		t.Errorf("submission_errors = %d, want 1", sum.SubmissionErrors)
	}
	if sum.StoredRecords != 2 {
		t.Errorf("stored = %d, want 2 (failure happens after storage)", sum.StoredRecords)
	}
	if sum.SubmittedRecords != 1 {
		t.Errorf("submitted = %d, want 1", sum.SubmittedRecords)
	}

	// The failed record is marked failed in storage.
	var failed int
	for _, state := range store.marked {
		if state == "failed" {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("marked failed = %d, want 1", failed)
	}
}

func TestProcessFile_StorageError(t *testing.T) {
	store := newFakeStore()
	store.failInsert = true
	sub := newFakeSubmitter()
	svc := newTestService(store, sub, 0)

	sum := svc.ProcessFile(context.Background(),
		csvFile(validRow("P001", "TM2.AY.001", "2024-01-15")), "f.csv").Summary
	if sum.StorageErrors != 1 {
		t.Errorf("storage_errors = %d, want 1", sum.StorageErrors)
	}
	if sum.ValidatedRecords != 1 {
		t.Errorf("validated = %d, want 1 (record passed validation)", sum.ValidatedRecords)
	}
	if len(sub.submitted) != 0 {
		t.Error("nothing should reach the registry when storage fails")
	}
}

func TestProcessFile_DuplicateCheckFaultIsProcessingError(t *testing.T) {
	store := newFakeStore()
	store.failCheck = true
	svc := newTestService(store, newFakeSubmitter(), 0)

	sum := svc.ProcessFile(context.Background(),
		csvFile(validRow("P001", "TM2.AY.001", "2024-01-15")), "f.csv").Summary
	if sum.ProcessedRecords != 0 {
		t.Errorf("processed = %d, want 0 for a processing fault", sum.ProcessedRecords)
	}
	if len(sum.Errors) != 1 {
		t.Errorf("errors = %v, want one entry", sum.Errors)
	}
	// Counter identity: the faulted record lands in no outcome bucket.
	if sum.ValidationErrors+sum.StorageErrors+sum.SubmissionErrors+sum.DuplicateRecords+sum.SubmittedRecords != 0 {
		t.Error("processing fault should not touch outcome counters")
	}
}

func TestProcessFile_DateFallbackCounted(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeSubmitter(), 0)

	data := csvFile(
		validRow("P001", "TM2.AY.001", "someday"),
		validRow("P002", "TM2.AY.002", "2024-01-16"),
	)

	sum := svc.ProcessFile(context.Background(), data, "f.csv").Summary
	if sum.DateFallbacks != 1 {
		t.Errorf("date_fallbacks = %d, want 1", sum.DateFallbacks)
	}
	// Fallback is a warning: the record still flows to submission.
	if sum.SubmittedRecords != 2 {
		t.Errorf("submitted = %d, want 2", sum.SubmittedRecords)
	}
}

func TestProcessFile_ChunkingProcessesAllRows(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, newFakeSubmitter(), 2)

	var rows []string
	for i := 0; i < 7; i++ {
		rows = append(rows, validRow(
			fmt.Sprintf("P%03d", i), fmt.Sprintf("TM2.AY.%03d", i), "2024-01-15"))
	}

	sum := svc.ProcessFile(context.Background(), csvFile(rows...), "f.csv").Summary
	if sum.SubmittedRecords != 7 {
		t.Errorf("submitted = %d, want 7", sum.SubmittedRecords)
	}
	if len(store.inserted) != 7 {
		t.Errorf("store holds %d records, want 7", len(store.inserted))
	}
}

func TestProcessFile_BookkeepingErrorCounted(t *testing.T) {
	store := newFakeStore()
	store.failMark = true
	svc := newTestService(store, newFakeSubmitter(), 0)

	sum := svc.ProcessFile(context.Background(),
		csvFile(validRow("P001", "TM2.AY.001", "2024-01-15")), "f.csv").Summary

	// A failed mark never changes the outcome.
	if sum.SubmittedRecords != 1 {
		t.Errorf("submitted = %d, want 1", sum.SubmittedRecords)
	}
	if got := svc.Stats().BookkeepingErrors; got != 1 {
		t.Errorf("bookkeeping_errors = %d, want 1", got)
	}
}

func TestStats_AccumulateAcrossFiles(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeSubmitter(), 0)

	svc.ProcessFile(context.Background(),
		csvFile(validRow("P001", "TM2.AY.001", "2024-01-15")), "a.csv")
	svc.ProcessFile(context.Background(),
		csvFile(validRow("P002", "TM2.AY.002", "2024-01-16")), "b.csv")

	stats := svc.Stats()
	if stats.FilesProcessed != 2 {
		t.Errorf("files_processed = %d, want 2", stats.FilesProcessed)
	}
	if stats.RecordsSubmitted != 2 {
		t.Errorf("records_submitted = %d, want 2", stats.RecordsSubmitted)
	}
}

func TestStatus_DegradesOnCollaboratorFailure(t *testing.T) {
	store := newFakeStore()
	store.failStats = true
	sub := newFakeSubmitter()
	sub.failStats = true
	svc := newTestService(store, sub, 0)

	status := svc.Status(context.Background())
	if status.StorageStatistics.ConnectionStatus != "error" {
		t.Errorf("storage connection_status = %q, want error",
			status.StorageStatistics.ConnectionStatus)
	}
	if status.SubmissionStatistics.Initialized {
		t.Error("submitter section should degrade to zero value")
	}
}

func TestResult_TimestampAndID(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeSubmitter(), 0)

	result := svc.ProcessFile(context.Background(),
		csvFile(validRow("P001", "TM2.AY.001", "2024-01-15")), "f.csv")
	if result.ProcessingID == "" {
		t.Error("processing ID should be assigned")
	}
	if result.Filename != "f.csv" {
		t.Errorf("filename = %q, want f.csv", result.Filename)
	}
	if result.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}
