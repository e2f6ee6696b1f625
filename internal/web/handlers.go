package web

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// serviceInfo is the root endpoint payload.
type serviceInfo struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, serviceInfo{
		Service: "tm2-bridge-ingest",
		Version: "1.0.0",
		Status:  "running",
	})
}

// handleIngestTrigger accepts a multipart CSV upload and runs the full
// ingestion pipeline on it. Record-level failures are reported in the
// summary; only a file-level failure yields a 400.
func (s *Server) handleIngestTrigger(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Ingest.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or invalid form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		writeError(w, http.StatusBadRequest, "only CSV files are accepted")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	result := s.service.ProcessFile(r.Context(), data, header.Filename)
	if result.Status == "failed" {
		writeJSON(w, http.StatusBadRequest, result)
		return
	}

	// Submission failures leave records stored but not registered, which
	// callers need to distinguish from a clean run.
	if result.Summary != nil && result.Summary.SubmissionErrors > 0 {
		result.Status = "partial"
	}

	writeJSON(w, http.StatusOK, result)
}

// handleStatus reports processing, storage, and submission statistics.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Status(r.Context()))
}

// healthResponse is the health endpoint payload with per-component states.
type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Timestamp  time.Time         `json:"timestamp"`
}

// handleHealth rolls component health into a single status. A degraded
// component yields 503 so load balancers can steer around this instance.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.service.Status(r.Context())

	resp := healthResponse{
		Status:     "healthy",
		Components: map[string]string{"processor": "healthy"},
		Timestamp:  time.Now().UTC(),
	}

	if status.StorageStatistics.ConnectionStatus == "connected" {
		resp.Components["storage"] = "healthy"
	} else {
		resp.Components["storage"] = "unhealthy"
		resp.Status = "degraded"
	}

	if status.SubmissionStatistics.Initialized {
		resp.Components["registry"] = "healthy"
	} else {
		resp.Components["registry"] = "unhealthy"
		resp.Status = "degraded"
	}

	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
