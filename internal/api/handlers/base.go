package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mybillbook/reconciler/internal/api/dto"
	"github.com/mybillbook/reconciler/internal/domain/ledger"
)

// maxBodyBytes bounds request bodies; uploads are the largest.
const maxBodyBytes = 10 << 20

// Base provides shared functionality for all handlers.
type Base struct {
	logger *slog.Logger
}

// NewBase creates a new base handler.
func NewBase(logger *slog.Logger) *Base {
	if logger == nil {
		logger = slog.Default()
	}
	return &Base{logger: logger}
}

// WriteJSON writes a JSON response with the given status code.
func (b *Base) WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes an error response with the given status code.
func (b *Base) WriteError(w http.ResponseWriter, status int, err dto.APIError) {
	b.WriteJSON(w, status, err)
}

// WriteServiceError maps an error kind to its HTTP status and writes it.
// Unclassified errors are logged and reported as a generic 500.
func (b *Base) WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		b.WriteError(w, http.StatusNotFound, dto.NewAPIError(dto.ErrCodeNotFound, err.Error()))
	case errors.Is(err, ledger.ErrInvalidState):
		b.WriteError(w, http.StatusBadRequest, dto.NewAPIError(dto.ErrCodeInvalidState, err.Error()))
	case errors.Is(err, ledger.ErrValidation):
		b.WriteError(w, http.StatusBadRequest, dto.ValidationError(err.Error()))
	case errors.Is(err, ledger.ErrRunInProgress):
		b.WriteError(w, http.StatusConflict, dto.NewAPIError(dto.ErrCodeRunInProgress, err.Error()))
	case errors.Is(err, ledger.ErrConflict):
		b.WriteError(w, http.StatusConflict, dto.NewAPIError(dto.ErrCodeConflict, err.Error()))
	case errors.Is(err, ledger.ErrMatchService):
		b.logger.Error("match service failure", "path", r.URL.Path, "error", err)
		b.WriteError(w, http.StatusBadGateway, dto.NewAPIError(dto.ErrCodeMatchService, err.Error()))
	default:
		b.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		b.WriteError(w, http.StatusInternalServerError, dto.InternalError())
	}
}

// DecodeJSON decodes the request body into v, rejecting unknown fields.
func (b *Base) DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		b.WriteError(w, http.StatusBadRequest, dto.BadRequestError(fmt.Sprintf("invalid request body: %v", err)))
		return false
	}
	return true
}

// UserID reads the required userId query parameter. On failure it writes a
// 400 and returns false.
func (b *Base) UserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("userId")
	if raw == "" {
		b.WriteError(w, http.StatusBadRequest, dto.BadRequestError("userId is required"))
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		b.WriteError(w, http.StatusBadRequest, dto.BadRequestError("invalid userId"))
		return 0, false
	}
	return id, true
}

// PathID reads a positive integer path parameter.
func (b *Base) PathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		b.WriteError(w, http.StatusBadRequest, dto.BadRequestError("invalid "+name))
		return 0, false
	}
	return id, true
}

// ParseIntParam parses an integer query parameter with a default value.
func ParseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}
