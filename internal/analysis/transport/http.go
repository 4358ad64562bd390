// Package transport provides HTTP handlers for the analysis domain.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/whichdex/internal/analysis/domain"
)

// Service defines the analysis service interface for HTTP transport.
type Service interface {
	Analyze(ctx context.Context, req domain.AnalyzeRequest) (*domain.AnalyzeReport, error)
	Compare(ctx context.Context, req domain.CompareRequest) (*domain.CompareReport, error)
}

// Handler handles HTTP requests for analysis.
type Handler struct {
	svc Service
}

// NewHandler creates a new analysis HTTP handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the analysis routes on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/analyze", h.handleAnalyze)
	r.Post("/compare", h.handleCompare)
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	report, err := h.svc.Analyze(r.Context(), req.ToDomain())
	if err != nil {
		writeDomainError(w, err, "Failed to analyze contract")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if !decodeBody(w, r, &req) {
		return
	}

	report, err := h.svc.Compare(r.Context(), req.ToDomain())
	if err != nil {
		writeDomainError(w, err, "Failed to compare contracts")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
		return false
	}
	return true
}

func writeDomainError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrMalformedInput):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, domain.ErrNoDeployedCode):
		writeError(w, http.StatusNotFound, "NO_CODE", err.Error())
	case errors.Is(err, domain.ErrTransport):
		writeError(w, http.StatusBadGateway, "RPC_ERROR", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", fallback)
	}
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}
