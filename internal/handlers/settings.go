package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/headless-cms/authserver/internal/services"
	"github.com/headless-cms/authserver/types"
)

// SettingsHandler exposes the admin auth settings and OTP statistics.
type SettingsHandler struct {
	settings *services.SettingsService
	otp      *services.OTPService
	logger   *slog.Logger
}

func NewSettingsHandler(settings *services.SettingsService, otp *services.OTPService, logger *slog.Logger) *SettingsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsHandler{settings: settings, otp: otp, logger: logger}
}

// AdminRouter registers the admin routes. Every route requires an admin.
func AdminRouter(r chi.Router, handler *SettingsHandler, authn *Authenticator) {
	r.Use(authn.RequireAuth, authn.RequireAdmin)
	r.Get("/settings/auth", handler.GetAuthSettings)
	r.Put("/settings/auth", handler.UpdateAuthSettings)
	r.Get("/auth/otp/stats", handler.OTPStats)
}

func (h *SettingsHandler) GetAuthSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Auth(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "settings load")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *SettingsHandler) UpdateAuthSettings(w http.ResponseWriter, r *http.Request) {
	var req types.AuthSettings
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	saved, err := h.settings.UpdateAuth(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err, "settings update")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// OTPStats summarises recent code activity; ?days= defaults to 7.
func (h *SettingsHandler) OTPStats(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid days")
			return
		}
		days = parsed
	}

	stats, err := h.otp.Stats(r.Context(), days)
	if err != nil {
		writeServiceError(w, h.logger, err, "otp stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
