package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tracemesh/tracemesh/internal/auth"
	"github.com/tracemesh/tracemesh/internal/model"
	"github.com/tracemesh/tracemesh/internal/propagation"
	"github.com/tracemesh/tracemesh/internal/service/ingest"
	"github.com/tracemesh/tracemesh/internal/service/query"
)

type handlers struct {
	ingest      *ingest.Service
	query       *query.Service
	jwtMgr      *auth.JWTManager
	apiKeyHash  string
	pinger      Pinger
	logger      *slog.Logger
	version     string
	maxBodySize int64
	startedAt   time.Time
}

// traceContext extracts propagated trace context from request headers.
// Returns nil when no usable context is present; extraction never fails
// the request.
func traceContext(r *http.Request) *propagation.Context {
	tc, ok := propagation.FromHeaders(r.Header)
	if !ok {
		return nil
	}
	return &tc
}

func (h *handlers) limitBody(w http.ResponseWriter, r *http.Request) {
	if h.maxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	}
}

// writeIngestError maps service errors to the API surface: validation
// failures are 400, missing ids 404, everything else an opaque 500.
func (h *handlers) writeIngestError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ingest.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Error())
		return
	}
	var nferr *ingest.NotFoundError
	if errors.As(err, &nferr) {
		writeError(w, http.StatusNotFound, nferr.Error())
		return
	}
	h.logger.Error("ingest request failed",
		"path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()), "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func (h *handlers) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if h.jwtMgr == nil || h.apiKeyHash == "" {
		writeError(w, http.StatusNotFound, "authentication is not enabled")
		return
	}

	h.limitBody(w, r)
	var req model.AuthTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	ok, err := auth.VerifyAPIKey(req.APIKey, h.apiKeyHash)
	if err != nil || !ok {
		writeError(w, http.StatusUnauthorized, "invalid api key")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(req.AgentID)
	if err != nil {
		h.logger.Error("token issuance failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	postgres := "unknown"
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			postgres = "unreachable"
		} else {
			postgres = "ok"
		}
	}

	status := "ok"
	if postgres == "unreachable" {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Postgres: postgres,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}

func (h *handlers) handleCreateTrace(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	var req model.CreateTraceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	trace, err := h.ingest.CreateTrace(r.Context(), req, traceContext(r))
	if err != nil {
		h.writeIngestError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, model.IngestResponse{Success: true, Data: trace})
}

func (h *handlers) handleUpdateTrace(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	var upd model.TraceUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	trace, err := h.ingest.UpdateTrace(r.Context(), r.PathValue("trace_id"), upd)
	if err != nil {
		h.writeIngestError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.IngestResponse{Success: true, Data: trace})
}

// handleCreateSpans accepts either a single span object or the batch form
// {"spans": [...]}.
func (h *handlers) handleCreateSpans(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var probe struct {
		Spans json.RawMessage `json:"spans"`
	}
	_ = json.Unmarshal(body, &probe)

	tc := traceContext(r)

	if probe.Spans != nil {
		var batch model.SpanBatchRequest
		if err := json.Unmarshal(body, &batch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(batch.Spans) == 0 {
			writeError(w, http.StatusBadRequest, "spans must not be empty")
			return
		}
		result, err := h.ingest.CreateSpanBatch(r.Context(), batch.Spans, tc)
		if err != nil {
			h.writeIngestError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, model.IngestResponse{Success: true, Data: result})
		return
	}

	var req model.CreateSpanRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	span, err := h.ingest.CreateSpan(r.Context(), req, tc)
	if err != nil {
		h.writeIngestError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, model.IngestResponse{Success: true, Data: span})
}

func (h *handlers) handleUpdateSpan(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	var upd model.SpanUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	span, err := h.ingest.UpdateSpan(r.Context(), r.PathValue("span_id"), upd)
	if err != nil {
		h.writeIngestError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.IngestResponse{Success: true, Data: span})
}

func (h *handlers) handleCreateA2A(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	var req model.CreateA2ARequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	comm, err := h.ingest.CreateA2A(r.Context(), req, traceContext(r))
	if err != nil {
		h.writeIngestError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, model.IngestResponse{Success: true, Data: comm})
}

func (h *handlers) handleUpdateA2A(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	var upd model.A2AUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	comm, err := h.ingest.UpdateA2A(r.Context(), r.PathValue("id"), upd)
	if err != nil {
		h.writeIngestError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.IngestResponse{Success: true, Data: comm})
}
