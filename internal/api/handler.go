// Package api provides the HTTP API handlers and routing for the condor agent.
package api

import (
	"condoragent/internal/apperrors"
	"condoragent/internal/health"
	"condoragent/internal/history"
	"condoragent/internal/submit"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// defaultMaxUploadSize caps submission archives when no limit is configured.
const defaultMaxUploadSize = 1 << 30 // 1 GiB

// CompletedSinceHeader carries the next watermark on query responses.
const CompletedSinceHeader = "X-Completed-Since"

// Submitter accepts submission archives.
type Submitter interface {
	Submit(ctx context.Context, req *submit.Request) (*submit.Response, error)
}

// Querier answers queue and history queries.
type Querier interface {
	Execute(ctx context.Context, req history.Request) (*history.Result, error)
}

// Handler contains HTTP handlers for the agent API
type Handler struct {
	submitter     Submitter
	querier       Querier
	health        *health.Checker
	maxUploadSize int64
	defaultSchedd string
}

// NewHandler creates a new API handler
func NewHandler(submitter Submitter, querier Querier, healthChecker *health.Checker, maxUploadSize int64, defaultSchedd string) *Handler {
	if maxUploadSize <= 0 {
		maxUploadSize = defaultMaxUploadSize
	}
	return &Handler{
		submitter:     submitter,
		querier:       querier,
		health:        healthChecker,
		maxUploadSize: maxUploadSize,
		defaultSchedd: defaultSchedd,
	}
}

// Submit handles POST /v1/submit?queue=<name>
// The body is a zip archive; the response body is the cluster id.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxUploadSize {
		h.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("submission archive exceeds %d bytes", h.maxUploadSize))
		return
	}
	// Limit request body size to prevent disk exhaustion
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	req := &submit.Request{
		Queue:       r.URL.Query().Get("queue"),
		ContentType: r.Header.Get("Content-Type"),
		Length:      r.ContentLength,
		Body:        r.Body,
	}

	resp, err := h.submitter.Submit(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeText(w, http.StatusOK, resp.ClusterID)
}

// Jobs handles GET /v1/jobs?queue=&completedSince=&jobs=&history=
// The response body is the merged job text; the next watermark is also
// returned in the X-Completed-Since header.
func (h *Handler) Jobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	req := history.Request{
		Schedd: query.Get("queue"),
		Jobs:   query.Get("jobs"),
	}
	if req.Schedd == "" {
		req.Schedd = h.defaultSchedd
	}

	if raw := strings.TrimSpace(query.Get("completedSince")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.handleError(w, r, apperrors.Validation("completedSince", "completedSince must be an integer number of seconds"))
			return
		}
		req.CompletedSince = v
	}

	if raw := strings.TrimSpace(query.Get("history")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.handleError(w, r, apperrors.Validation("history", "history must be true or false"))
			return
		}
		req.History = v
	}

	result, err := h.querier.Execute(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	w.Header().Set(CompletedSinceHeader, strconv.FormatInt(result.CompletedSince, 10))
	h.writeText(w, http.StatusOK, result.Data)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 if the scheduler binaries are unavailable. A missing staging
// root only degrades the agent, since queue queries still work.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsReady() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeText writes a plain text response
func (h *Handler) writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, body); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	writeJSONError(w, status, message)
}

// handleError handles errors from service layer with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.ErrorContext(r.Context(), "Request failed", "error", err, "path", r.URL.Path, "requestId", RequestIDFromContext(r.Context()))
	} else {
		slog.WarnContext(r.Context(), "Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
