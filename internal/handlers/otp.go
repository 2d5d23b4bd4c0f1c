package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/headless-cms/authserver/internal/services"
	"github.com/headless-cms/authserver/types"
)

// OTPHandler serves the emailed one-time code endpoints.
type OTPHandler struct {
	otp     *services.OTPService
	cookies CookieConfig
	logger  *slog.Logger
}

func NewOTPHandler(otp *services.OTPService, cookies CookieConfig, logger *slog.Logger) *OTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OTPHandler{otp: otp, cookies: cookies, logger: logger}
}

// OTPRouter registers the OTP routes.
func OTPRouter(r chi.Router, handler *OTPHandler) {
	r.Post("/request", handler.Request)
	r.Post("/resend", handler.Request)
	r.Post("/verify", handler.Verify)
}

type OTPRequest struct {
	Email string `json:"email"`
}

type OTPVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type OTPRequestResponse struct {
	Message   string `json:"message"`
	ExpiresIn int    `json:"expiresIn"`
	DevCode   string `json:"dev_code,omitempty"`
}

type OTPVerifyResponse struct {
	Success bool       `json:"success"`
	User    types.User `json:"user"`
	Token   string     `json:"token"`
	Message string     `json:"message"`
}

// Request sends a code. Resend is the same operation.
func (h *OTPHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req OTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, services.MsgInvalidEmail)
		return
	}

	result, err := h.otp.Request(r.Context(), req.Email, requestMeta(r))
	if err != nil {
		writeServiceError(w, h.logger, err, "code request")
		return
	}

	writeJSON(w, http.StatusOK, OTPRequestResponse{
		Message:   services.MsgOTPSent,
		ExpiresIn: result.ExpiresIn,
		DevCode:   result.DevCode,
	})
}

// Verify checks a code and starts a session.
func (h *OTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req OTPVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, token, err := h.otp.Verify(r.Context(), req.Email, req.Code, requestMeta(r))
	if err != nil {
		writeServiceError(w, h.logger, err, "code verification")
		return
	}

	h.cookies.set(w, token)
	writeJSON(w, http.StatusOK, OTPVerifyResponse{
		Success: true,
		User:    user,
		Token:   token,
		Message: services.MsgOTPAuthenticated,
	})
}
