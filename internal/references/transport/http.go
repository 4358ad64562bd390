package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/whichdex/internal/references/domain"
)

// Service defines the reference service interface for HTTP transport.
type Service interface {
	Register(ctx context.Context, req domain.RegisterRequest) (*domain.Reference, error)
	Get(ctx context.Context, id string) (*domain.Reference, error)
	List(ctx context.Context, filter domain.ListFilter, pagination domain.PaginationParams) (*domain.ListResult, error)
	Delete(ctx context.Context, id string) error
	Match(ctx context.Context, fingerprintHash string, limit int) (*domain.MatchResult, error)
}

// Handler handles HTTP requests for the reference library.
type Handler struct {
	svc Service
}

// NewHandler creates a new reference HTTP handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterReadRoutes registers read-only reference routes (no auth required).
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Post("/match", h.handleMatch)
}

// RegisterWriteRoutes registers write reference routes (auth required).
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/", h.handleRegister)
	r.Delete("/{id}", h.handleDelete)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 50
	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	var chainID int64
	if c := q.Get("chainId"); c != "" {
		parsed, err := strconv.ParseInt(c, 10, 64)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "chainId must be a positive integer")
			return
		}
		chainID = parsed
	}

	result, err := h.svc.List(r.Context(), domain.ListFilter{
		Protocol: q.Get("protocol"),
		ChainID:  chainID,
		Query:    q.Get("q"),
	}, domain.PaginationParams{
		Limit:  limit,
		Cursor: q.Get("cursor"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list references")
		return
	}

	data := result.References
	if data == nil {
		data = []domain.Reference{}
	}
	writeJSON(w, http.StatusOK, ListResponse{
		Data: data,
		Pagination: Pagination{
			Limit:      limit,
			HasMore:    result.HasMore,
			NextCursor: result.NextCursor,
		},
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ref, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "Failed to get reference")
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ref, err := h.svc.Register(r.Context(), req.ToDomain())
	if err != nil {
		writeDomainError(w, err, "Failed to register reference")
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err, "Failed to delete reference")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.svc.Match(r.Context(), req.Fingerprint, req.Limit)
	if err != nil {
		writeDomainError(w, err, "Failed to match fingerprint")
		return
	}
	writeJSON(w, http.StatusOK, result)
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
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrNoDeployedCode):
		writeError(w, http.StatusNotFound, "NO_CODE", err.Error())
	case errors.Is(err, domain.ErrDuplicate):
		writeError(w, http.StatusConflict, "ALREADY_EXISTS", err.Error())
	case errors.Is(err, domain.ErrFingerprint):
		writeError(w, http.StatusUnprocessableEntity, "FINGERPRINT_FAILED", err.Error())
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
