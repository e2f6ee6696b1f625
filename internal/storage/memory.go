package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tm2bridge/ingest/internal/ingest"
)

// memRecord is a stored record with its bookkeeping state.
type memRecord struct {
	stored    ingest.StoredRecord
	status    string
	attempts  int
	result    ingest.SubmissionResult
	errText   string
	createdAt time.Time
	updatedAt time.Time
}

// MemStore is an in-memory storage collaborator for development and tests.
// It preserves the same operation semantics as the Postgres store,
// including fingerprint-based duplicate detection across calls.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]*memRecord
	byPrint map[string]string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		records: make(map[string]*memRecord),
		byPrint: make(map[string]string),
	}
}

func (s *MemStore) Insert(_ context.Context, sr ingest.StoredRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byPrint[sr.Fingerprint]; ok {
		return "", ingest.ErrDuplicateFingerprint
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	s.records[id] = &memRecord{
		stored:    sr,
		status:    statusPending,
		createdAt: now,
		updatedAt: now,
	}
	s.byPrint[sr.Fingerprint] = id
	return id, nil
}

func (s *MemStore) CheckDuplicate(_ context.Context, fingerprint string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byPrint[fingerprint]
	return ok, nil
}

func (s *MemStore) MarkSubmitted(_ context.Context, id string, result ingest.SubmissionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("mark submitted: record %s not found", id)
	}
	rec.status = statusSubmitted
	rec.result = result
	rec.attempts++
	rec.updatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) MarkFailed(_ context.Context, id string, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("mark failed: record %s not found", id)
	}
	rec.status = statusFailed
	rec.errText = errText
	rec.attempts++
	rec.updatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) Statistics(_ context.Context) (ingest.StoreStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := ingest.StoreStatistics{
		ConnectionStatus: "connected",
		StatusBreakdown:  make(map[string]int64),
		LastUpdated:      time.Now().UTC(),
	}
	for _, rec := range s.records {
		stats.StatusBreakdown[rec.status]++
		stats.TotalRecords++
		switch rec.status {
		case statusSubmitted:
			stats.SubmittedRecords++
		case statusFailed:
			stats.FailedRecords++
		case statusPending:
			stats.PendingRecords++
		}
	}
	stats.CollectionSize = stats.TotalRecords
	return stats, nil
}
