package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/headless-cms/authserver/internal/logging"
	"github.com/headless-cms/authserver/internal/services"
)

// DashboardPath is where a verified magic link lands.
const DashboardPath = "/admin/dashboard"

// MagicLinkHandler serves the magic-link endpoints.
type MagicLinkHandler struct {
	links   *services.MagicLinkService
	cookies CookieConfig
	logger  *slog.Logger
}

func NewMagicLinkHandler(links *services.MagicLinkService, cookies CookieConfig, logger *slog.Logger) *MagicLinkHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MagicLinkHandler{links: links, cookies: cookies, logger: logger}
}

// MagicLinkRouter registers the magic-link routes.
func MagicLinkRouter(r chi.Router, handler *MagicLinkHandler) {
	r.Post("/request", handler.Request)
	r.Get("/verify", handler.Verify)
}

type MagicLinkRequest struct {
	Email string `json:"email"`
}

type MagicLinkRequestResponse struct {
	Message string `json:"message"`
	DevLink string `json:"dev_link,omitempty"`
}

// Request emails a sign-in link.
func (h *MagicLinkHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req MagicLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, services.MsgInvalidEmail)
		return
	}

	link, err := h.links.Request(r.Context(), req.Email, requestMeta(r))
	if err != nil {
		writeServiceError(w, h.logger, err, "magic link request")
		return
	}

	writeJSON(w, http.StatusOK, MagicLinkRequestResponse{
		Message: services.MsgMagicLinkSent,
		DevLink: link,
	})
}

// Verify redeems the token from the query string. Every outcome is a
// redirect and no redirect ever carries the token.
func (h *MagicLinkHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	_, session, err := h.links.Verify(r.Context(), token, requestMeta(r))
	if err != nil {
		message := services.MsgMagicLinkInvalid
		if services.ErrorCode(err) == services.CodeValidation {
			message = services.MsgMagicLinkMissing
		} else if services.ErrorCode(err) != services.CodeInvalidCredentials {
			logging.LogError(h.logger, "magic link verification failed", err)
		}
		http.Redirect(w, r, loginRedirect(message), http.StatusFound)
		return
	}

	h.cookies.set(w, session)
	http.Redirect(w, r, DashboardPath, http.StatusFound)
}
