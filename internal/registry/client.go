// Package registry implements the clinical registry submission collaborator
// as an OpenMRS-style REST client: each record submission creates a patient,
// a concept for the condition, and an observation linking the two.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tm2bridge/ingest/internal/ingest"
	"github.com/tm2bridge/ingest/internal/record"
)

// Config holds registry connection settings.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// Client is the HTTP submission collaborator.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client

	mu          sync.Mutex
	initialized bool
	stats       counters
}

type counters struct {
	requestsMade          int64
	successfulSubmissions int64
	failedSubmissions     int64
	patientsCreated       int64
	conceptsCreated       int64
}

// NewClient creates a registry client. Call Init before submitting.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: timeout},
	}
}

// Init verifies connectivity and credentials against the session endpoint.
func (c *Client) Init(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ws/rest/v1/session", nil)
	if err != nil {
		return fmt.Errorf("build session request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("registry unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("registry authentication failed")
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("registry session check: status %d", resp.StatusCode)
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
	return nil
}

// entityRef is the uuid/display pair OpenMRS returns for created entities.
type entityRef struct {
	UUID    string `json:"uuid"`
	Display string `json:"display"`
}

// Submit pushes one canonical record to the registry and returns the
// submission result. Any step failing fails the whole submission.
func (c *Client) Submit(ctx context.Context, rec *record.Canonical) (ingest.SubmissionResult, error) {
	patient, err := c.createPatient(ctx, rec)
	if err != nil {
		c.countFailure()
		return ingest.SubmissionResult{}, fmt.Errorf("create patient: %w", err)
	}

	concept, err := c.createConcept(ctx, rec)
	if err != nil {
		c.countFailure()
		return ingest.SubmissionResult{}, fmt.Errorf("create concept: %w", err)
	}

	obs, err := c.submitObservation(ctx, rec, patient.UUID, concept.UUID)
	if err != nil {
		c.countFailure()
		return ingest.SubmissionResult{}, fmt.Errorf("submit observation: %w", err)
	}

	c.mu.Lock()
	c.stats.successfulSubmissions++
	c.mu.Unlock()

	return ingest.SubmissionResult{
		SubmissionID:    uuid.New().String(),
		Success:         true,
		PatientUUID:     patient.UUID,
		ConceptUUID:     concept.UUID,
		ObservationUUID: obs.UUID,
		Timestamp:       time.Now().UTC(),
	}, nil
}

func (c *Client) createPatient(ctx context.Context, rec *record.Canonical) (entityRef, error) {
	payload := map[string]any{
		"identifiers": []map[string]any{
			{"identifier": rec.PatientID},
		},
		"person": map[string]any{
			"gender": "U",
			"names": []map[string]any{
				{"givenName": "Patient", "familyName": rec.PatientID},
			},
		},
	}

	var out entityRef
	if err := c.post(ctx, "/ws/rest/v1/patient", payload, &out); err != nil {
		return entityRef{}, err
	}

	c.mu.Lock()
	c.stats.patientsCreated++
	c.mu.Unlock()
	return out, nil
}

func (c *Client) createConcept(ctx context.Context, rec *record.Canonical) (entityRef, error) {
	payload := map[string]any{
		"names": []map[string]any{
			{"name": rec.ConditionName, "conceptNameType": "FULLY_SPECIFIED", "locale": "en"},
		},
		"descriptions": []map[string]any{
			{
				"description": fmt.Sprintf("TM2 Code: %s - %s", rec.TM2Code, rec.SystemType),
				"locale":      "en",
			},
		},
		"conceptClass": "Diagnosis",
		"datatype":     "Coded",
	}

	var out entityRef
	if err := c.post(ctx, "/ws/rest/v1/concept", payload, &out); err != nil {
		return entityRef{}, err
	}

	c.mu.Lock()
	c.stats.conceptsCreated++
	c.mu.Unlock()
	return out, nil
}

func (c *Client) submitObservation(ctx context.Context, rec *record.Canonical, patientUUID, conceptUUID string) (entityRef, error) {
	payload := map[string]any{
		"concept":     conceptUUID,
		"person":      patientUUID,
		"value":       string(rec.Severity),
		"obsDatetime": rec.DiagnosisDate.UTC().Format(time.RFC3339),
	}

	var out entityRef
	if err := c.post(ctx, "/ws/rest/v1/obs", payload, &out); err != nil {
		return entityRef{}, err
	}
	return out, nil
}

// post sends an authenticated JSON POST and decodes the response into out.
func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return fmt.Errorf("registry client not initialized")
	}
	c.stats.requestsMade++
	c.mu.Unlock()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) countFailure() {
	c.mu.Lock()
	c.stats.failedSubmissions++
	c.mu.Unlock()
}

// Statistics reports client request and entity counters.
func (c *Client) Statistics(_ context.Context) (ingest.SubmitterStatistics, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ingest.SubmitterStatistics{
		Initialized:           c.initialized,
		BaseURL:               c.baseURL,
		RequestsMade:          c.stats.requestsMade,
		SuccessfulSubmissions: c.stats.successfulSubmissions,
		FailedSubmissions:     c.stats.failedSubmissions,
		PatientsCreated:       c.stats.patientsCreated,
		ConceptsCreated:       c.stats.conceptsCreated,
		LastUpdated:           time.Now().UTC(),
	}, nil
}
