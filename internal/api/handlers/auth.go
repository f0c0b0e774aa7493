package handlers

import (
	"log/slog"
	"net/http"

	"github.com/mybillbook/reconciler/internal/api/dto"
	"github.com/mybillbook/reconciler/internal/application/intake"
	"github.com/mybillbook/reconciler/internal/domain/ledger"
)

// AuthHandler handles login and user lookup.
type AuthHandler struct {
	*Base
	intake *intake.Service
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(svc *intake.Service, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{Base: NewBase(logger), intake: svc}
}

// Login handles POST /api/auth/login. Unknown mobile numbers get a new user.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !h.DecodeJSON(w, r, &req) {
		return
	}

	user, created, err := h.intake.Login(r.Context(), intake.LoginRequest{
		MobileNumber: req.MobileNumber,
		Name:         req.Name,
		BusinessName: req.BusinessName,
	})
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}

	resp := toLoginResponse(user, created)
	if created {
		h.WriteJSON(w, http.StatusCreated, resp)
		return
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

// GetUser handles GET /api/auth/user/{userId}.
func (h *AuthHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.PathID(w, r, "userId")
	if !ok {
		return
	}

	user, err := h.intake.GetUser(r.Context(), id)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, toLoginResponse(user, false))
}

func toLoginResponse(user *ledger.User, created bool) dto.LoginResponse {
	msg := "login successful"
	if created {
		msg = "user created"
	}
	return dto.LoginResponse{
		UserID:       user.ID,
		MobileNumber: user.MobileNumber,
		Name:         user.Name,
		BusinessName: user.BusinessName,
		Created:      created,
		Message:      msg,
	}
}
