package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iamrehman16/DataTricks-Team-Server/internal/service"
	apperrors "github.com/iamrehman16/DataTricks-Team-Server/pkg/errors"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/httputil"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/middleware"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/validator"
)

// UserHandler serves the profile routes. The {id} path segment is accepted
// for URL compatibility only; every operation acts on the token subject.
type UserHandler struct {
	service *service.UserService
	logger  *slog.Logger
}

// NewUserHandler creates a new user HTTP handler.
func NewUserHandler(svc *service.UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{service: svc, logger: logger}
}

// UpdateProfileRequest is the JSON body of PUT /api/user/{id}.
type UpdateProfileRequest struct {
	Name  *string `json:"name" validate:"omitempty,min=2,max=100"`
	Email *string `json:"email" validate:"omitempty,email"`
}

// subject returns the authenticated user id, or writes a 400 when the
// request names no id at all.
func (h *UserHandler) subject(w http.ResponseWriter, r *http.Request) (string, bool) {
	if chi.URLParam(r, "id") == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("user id is required"), h.logger)
		return "", false
	}
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("user id is required"), h.logger)
		return "", false
	}
	return userID, true
}

// GetProfile handles GET /api/user/{id}.
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.subject(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, user)
}

// UpdateProfile handles PUT /api/user/{id}.
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.subject(w, r)
	if !ok {
		return
	}

	var req UpdateProfileRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), userID, service.UpdateProfileInput{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, user)
}

// DeleteAccount handles DELETE /api/user/{id}.
func (h *UserHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.subject(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteAccount(r.Context(), userID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, "User deleted successfully")
}
