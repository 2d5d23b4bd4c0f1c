package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/headless-cms/authserver/internal/metrics"
	"github.com/headless-cms/authserver/internal/services"
	"github.com/headless-cms/authserver/types"
)

// Authenticator resolves session tokens into users for protected routes.
type Authenticator struct {
	auth   *services.AuthService
	logger *slog.Logger
}

func NewAuthenticator(auth *services.AuthService, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{auth: auth, logger: logger}
}

// RequireAuth enforces a valid session and injects the user and claims into
// the request context. Browsers are redirected to the sign-in page instead of
// receiving a 401.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, claims, err := a.auth.Authenticate(r.Context(), tokenFromRequest(r))
		if err != nil {
			if _, known := statusForCode(services.ErrorCode(err)); known && wantsHTML(r) {
				http.Redirect(w, r, loginRedirect(services.PublicMessage(err, services.MsgAuthRequired)), http.StatusFound)
				return
			}
			writeServiceError(w, a.logger, err, "authentication")
			return
		}

		ctx := context.WithValue(r.Context(), contextUserKey, user)
		ctx = context.WithValue(ctx, contextClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects authenticated users without the admin role. It must
// run after RequireAuth.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, services.MsgAuthRequired)
			return
		}
		if !strings.EqualFold(user.Role, types.RoleAdmin) {
			writeError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tokenFromRequest prefers an Authorization bearer token over the cookie.
func tokenFromRequest(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// RequestLogger logs each request through slog and records its duration.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			label := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
					label = pattern
				}
			}
			elapsed := time.Since(start)
			metrics.RecordRequest(r.Method, label, strconv.Itoa(status), elapsed)
			// The query string is left out: it may carry a magic-link token.
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"route", route,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", elapsed.Milliseconds(),
				"remote_ip", clientIP(r),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
