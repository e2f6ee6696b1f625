// Package storage provides the record stores the ingestion pipeline
// persists through: a Postgres store for production and an in-memory store
// for development and tests.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tm2bridge/ingest/internal/ingest"
)

// Record status values as stored.
const (
	statusPending   = "pending"
	statusSubmitted = "submitted"
	statusFailed    = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS tm2_records (
	id                  UUID PRIMARY KEY,
	patient_id          TEXT NOT NULL,
	tm2_code            TEXT NOT NULL,
	condition_name      TEXT NOT NULL,
	system_type         TEXT NOT NULL,
	severity            TEXT NOT NULL,
	diagnosis_date      TIMESTAMPTZ NOT NULL,
	practitioner_id     TEXT NOT NULL,
	source_file         TEXT,
	fingerprint         TEXT NOT NULL,
	processing_id       UUID NOT NULL,
	status              TEXT NOT NULL DEFAULT 'pending',
	submission_attempts INT NOT NULL DEFAULT 0,
	submission_result   JSONB,
	error_message       TEXT,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL,
	submitted_at        TIMESTAMPTZ,
	failed_at           TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS tm2_records_fingerprint_uq ON tm2_records (fingerprint);
CREATE INDEX IF NOT EXISTS tm2_records_status_idx ON tm2_records (status);
`

// PGStore is the Postgres-backed storage collaborator.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates the store and ensures the schema exists.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool) (*PGStore, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// Insert persists a canonical record and returns the storage-assigned ID.
func (s *PGStore) Insert(ctx context.Context, sr ingest.StoredRecord) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	rec := sr.Record

	_, err := s.pool.Exec(ctx, `
		INSERT INTO tm2_records (
			id, patient_id, tm2_code, condition_name, system_type, severity,
			diagnosis_date, practitioner_id, source_file, fingerprint,
			processing_id, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		id, rec.PatientID, rec.TM2Code, rec.ConditionName,
		string(rec.SystemType), string(rec.Severity),
		rec.DiagnosisDate, rec.PractitionerID, rec.SourceFile,
		sr.Fingerprint, sr.ProcessingID, statusPending, rec.CreatedAt, now,
	)
	if err != nil {
		// 23505 is unique_violation: the fingerprint index refused the row.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", ingest.ErrDuplicateFingerprint
		}
		return "", fmt.Errorf("insert record: %w", err)
	}
	return id, nil
}

// CheckDuplicate reports whether a record with this fingerprint exists.
func (s *PGStore) CheckDuplicate(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM tm2_records WHERE fingerprint = $1)`,
		fingerprint,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check duplicate: %w", err)
	}
	return exists, nil
}

// MarkSubmitted records a successful registry submission.
func (s *PGStore) MarkSubmitted(ctx context.Context, id string, result ingest.SubmissionResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode submission result: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE tm2_records
		SET status = $2,
		    submission_result = $3,
		    submission_attempts = submission_attempts + 1,
		    submitted_at = $4,
		    updated_at = $4
		WHERE id = $1`,
		id, statusSubmitted, payload, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark submitted: record %s not found", id)
	}
	return nil
}

// MarkFailed records a failed registry submission.
func (s *PGStore) MarkFailed(ctx context.Context, id string, errText string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tm2_records
		SET status = $2,
		    error_message = $3,
		    submission_attempts = submission_attempts + 1,
		    failed_at = $4,
		    updated_at = $4
		WHERE id = $1`,
		id, statusFailed, errText, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark failed: record %s not found", id)
	}
	return nil
}

// Statistics reports record counts and status breakdown.
func (s *PGStore) Statistics(ctx context.Context) (ingest.StoreStatistics, error) {
	stats := ingest.StoreStatistics{
		ConnectionStatus: "connected",
		StatusBreakdown:  make(map[string]int64),
		LastUpdated:      time.Now().UTC(),
	}

	if err := s.pool.Ping(ctx); err != nil {
		stats.ConnectionStatus = "error"
		return stats, fmt.Errorf("ping: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM tm2_records GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("scan status count: %w", err)
		}
		stats.StatusBreakdown[status] = count
		stats.TotalRecords += count
		switch status {
		case statusSubmitted:
			stats.SubmittedRecords = count
		case statusFailed:
			stats.FailedRecords = count
		case statusPending:
			stats.PendingRecords = count
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("rows error: %w", err)
	}

	stats.CollectionSize = stats.TotalRecords
	return stats, nil
}
