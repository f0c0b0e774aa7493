package handlers

import (
	"net/http"

	"github.com/mybillbook/reconciler/internal/api/dto"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	*Base
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{Base: NewBase(nil)}
}

// ServeHTTP handles the health check request.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, dto.NewHealthResponse())
}
