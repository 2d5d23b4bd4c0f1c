package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/headless-cms/authserver/internal/services"
	"github.com/headless-cms/authserver/types"
)

// AuthHandler provides password authentication and session endpoints.
type AuthHandler struct {
	auth    *services.AuthService
	cookies CookieConfig
	logger  *slog.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(auth *services.AuthService, cookies CookieConfig, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{auth: auth, cookies: cookies, logger: logger}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler, authn *Authenticator) {
	r.Get("/register", handler.RegisterPage)
	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/logout", handler.Logout)
	r.Get("/logout", handler.LogoutRedirect)
	r.With(authn.RequireAuth).Get("/me", handler.Me)
	r.With(authn.RequireAuth).Post("/refresh", handler.Refresh)
}

type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	User  types.User `json:"user"`
	Token string     `json:"token"`
}

type UserResponse struct {
	User types.User `json:"user"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type RegistrationStatusResponse struct {
	RegistrationEnabled bool `json:"registrationEnabled"`
}

// RegisterPage tells clients whether registration is open, redirecting
// browsers to sign in when it is not.
func (h *AuthHandler) RegisterPage(w http.ResponseWriter, r *http.Request) {
	open, err := h.auth.RegistrationOpen(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "registration check")
		return
	}
	if !open {
		http.Redirect(w, r, loginRedirect(services.MsgRegistrationDisabled), http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, RegistrationStatusResponse{RegistrationEnabled: true})
}

// Register creates a new viewer account and starts its session.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, token, err := h.auth.Register(r.Context(), services.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}, requestMeta(r))
	if err != nil {
		writeServiceError(w, h.logger, err, "registration")
		return
	}

	h.cookies.set(w, token)
	writeJSON(w, http.StatusCreated, AuthResponse{User: user, Token: token})
}

// Login verifies credentials and starts a session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, token, err := h.auth.Login(r.Context(), req.Email, req.Password, requestMeta(r))
	if err != nil {
		writeServiceError(w, h.logger, err, "login")
		return
	}

	h.cookies.set(w, token)
	writeJSON(w, http.StatusOK, AuthResponse{User: user, Token: token})
}

// Logout revokes the presented session, if any, and clears the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.auth.Logout(r.Context(), tokenFromRequest(r), requestMeta(r))
	h.cookies.clear(w)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out successfully"})
}

// LogoutRedirect is the browser variant of Logout.
func (h *AuthHandler) LogoutRedirect(w http.ResponseWriter, r *http.Request) {
	h.auth.Logout(r.Context(), tokenFromRequest(r), requestMeta(r))
	h.cookies.clear(w)
	http.Redirect(w, r, LoginPath, http.StatusFound)
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, services.MsgAuthRequired)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{User: user})
}

// Refresh swaps the presented session for a new one.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	claims, hasClaims := claimsFromContext(r.Context())
	if !ok || !hasClaims {
		writeError(w, http.StatusUnauthorized, services.MsgAuthRequired)
		return
	}

	token, err := h.auth.Refresh(r.Context(), user, claims)
	if err != nil {
		writeServiceError(w, h.logger, err, "token refresh")
		return
	}

	h.cookies.set(w, token)
	writeJSON(w, http.StatusOK, TokenResponse{Token: token})
}
