package http

import (
	"log/slog"
	"net/http"

	"github.com/iamrehman16/DataTricks-Team-Server/internal/domain"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/service"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/httputil"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/middleware"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/validator"
)

// AuthHandler handles registration, verification and session endpoints.
type AuthHandler struct {
	service *service.AuthService
	cookie  CookieConfig
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc *service.AuthService, cookie CookieConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, cookie: cookie, logger: logger}
}

// --- Request DTOs ---

// RegisterRequest is the JSON body of POST /register.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Name     string `json:"name" validate:"omitempty,min=2,max=100"`
}

// LoginRequest is the JSON body of POST /login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest is the optional JSON body of POST /refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// VerifyOTPRequest is the JSON body of POST /verify-otp.
type VerifyOTPRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
	OTP    string `json:"otp" validate:"required"`
}

// ResendOTPRequest is the JSON body of POST /resend-otp.
type ResendOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// --- Response types ---

// RegisterResponse identifies the new account.
type RegisterResponse struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
	Email   string `json:"email"`
}

// LoginResponse carries the access token. The refresh token travels only in
// the cookie.
type LoginResponse struct {
	Message     string       `json:"message"`
	AccessToken string       `json:"accessToken"`
	User        *domain.User `json:"user"`
}

// RefreshResponse carries a new access token.
type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// --- Handlers ---

// Register handles POST /api/user/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	res, err := h.service.Register(r.Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, RegisterResponse{
		Message: "Registration successful, please verify your email",
		UserID:  res.UserID,
		Email:   res.Email,
	})
}

// Login handles POST /api/user/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	res, err := h.service.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookie.set(w, res.RefreshToken)
	httputil.WriteData(w, http.StatusOK, LoginResponse{
		Message:     "Login successful",
		AccessToken: res.AccessToken,
		User:        res.User,
	})
}

// Refresh handles POST /api/user/refresh. The token comes from the body
// when present, otherwise from the refresh cookie.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := validator.Decode(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}
	token := req.RefreshToken
	if token == "" {
		token = refreshFromCookie(r)
	}

	access, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, RefreshResponse{AccessToken: access})
}

// Logout handles POST /api/user/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), middleware.UserIDFromContext(r.Context())); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookie.clear(w)
	httputil.WriteMessage(w, http.StatusOK, "Logged out successfully")
}

// VerifyOTP handles POST /api/user/verify-otp.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	if err := h.service.VerifyOTP(r.Context(), req.UserID, req.OTP); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, "Email verified successfully")
}

// ResendOTP handles POST /api/user/resend-otp. The answer is the same
// whether or not the email belongs to a pending account.
func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req ResendOTPRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	if err := h.service.ResendOTP(r.Context(), req.Email); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, "If the account is awaiting verification, a new code has been sent")
}
