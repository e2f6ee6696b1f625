package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tm2bridge/ingest/internal/ingest"
	"github.com/tm2bridge/ingest/internal/record"
)

func testRecord(patient string) ingest.StoredRecord {
	rec := &record.Canonical{
		PatientID:      patient,
		TM2Code:        "TM2.AY.001",
		ConditionName:  "Vata imbalance",
		SystemType:     record.SystemAyurveda,
		Severity:       record.SeverityMild,
		DiagnosisDate:  time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		PractitionerID: "DR1",
		CreatedAt:      time.Now().UTC(),
	}
	return ingest.StoredRecord{
		Record:       rec,
		Fingerprint:  record.Fingerprint(rec),
		ProcessingID: "proc-1",
	}
}

func TestMemStore_InsertAndDuplicate(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	sr := testRecord("P001")

	dup, err := store.CheckDuplicate(ctx, sr.Fingerprint)
	if err != nil || dup {
		t.Fatalf("CheckDuplicate before insert = %v, %v; want false, nil", dup, err)
	}

	id, err := store.Insert(ctx, sr)
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if id == "" {
		t.Fatal("Insert() returned empty ID")
	}

	dup, err = store.CheckDuplicate(ctx, sr.Fingerprint)
	if err != nil || !dup {
		t.Fatalf("CheckDuplicate after insert = %v, %v; want true, nil", dup, err)
	}
}

func TestMemStore_InsertRejectsDuplicateFingerprint(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	sr := testRecord("P001")

	if _, err := store.Insert(ctx, sr); err != nil {
		t.Fatalf("first Insert() error = %v", err)
	}

	_, err := store.Insert(ctx, sr)
	if !errors.Is(err, ingest.ErrDuplicateFingerprint) {
		t.Fatalf("second Insert() error = %v, want ErrDuplicateFingerprint", err)
	}

	stats, _ := store.Statistics(ctx)
	if stats.TotalRecords != 1 {
		t.Errorf("total = %d, want 1", stats.TotalRecords)
	}
}

func TestMemStore_MarkSubmitted(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	id, err := store.Insert(ctx, testRecord("P001"))
	if err != nil {
		t.Fatal(err)
	}

	result := ingest.SubmissionResult{SubmissionID: "sub-1", Success: true}
	if err := store.MarkSubmitted(ctx, id, result); err != nil {
		t.Fatalf("MarkSubmitted() error = %v", err)
	}

	stats, err := store.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics() error = %v", err)
	}
	if stats.SubmittedRecords != 1 || stats.PendingRecords != 0 {
		t.Errorf("submitted/pending = %d/%d, want 1/0",
			stats.SubmittedRecords, stats.PendingRecords)
	}
}

func TestMemStore_MarkFailed(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	id, err := store.Insert(ctx, testRecord("P001"))
	if err != nil {
		t.Fatal(err)
	}

	if err := store.MarkFailed(ctx, id, "registry down"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	stats, _ := store.Statistics(ctx)
	if stats.FailedRecords != 1 {
		t.Errorf("failed = %d, want 1", stats.FailedRecords)
	}
}

func TestMemStore_MarkUnknownID(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	if err := store.MarkSubmitted(ctx, "nope", ingest.SubmissionResult{}); err == nil {
		t.Error("MarkSubmitted() expected error for unknown ID")
	}
	if err := store.MarkFailed(ctx, "nope", "x"); err == nil {
		t.Error("MarkFailed() expected error for unknown ID")
	}
}

func TestMemStore_Statistics(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	for _, p := range []string{"P001", "P002", "P003"} {
		if _, err := store.Insert(ctx, testRecord(p)); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := store.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics() error = %v", err)
	}
	if stats.TotalRecords != 3 || stats.PendingRecords != 3 {
		t.Errorf("total/pending = %d/%d, want 3/3", stats.TotalRecords, stats.PendingRecords)
	}
	if stats.ConnectionStatus != "connected" {
		t.Errorf("connection_status = %q, want connected", stats.ConnectionStatus)
	}
	if stats.StatusBreakdown["pending"] != 3 {
		t.Errorf("breakdown[pending] = %d, want 3", stats.StatusBreakdown["pending"])
	}
}
