package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/headless-cms/authserver/internal/logging"
	"github.com/headless-cms/authserver/internal/services"
	"github.com/headless-cms/authserver/types"
)

const maxBodyBytes = 1 << 20

// LoginPath is where browsers are sent when they need to sign in.
const LoginPath = "/auth/login"

type contextKey string

const (
	contextUserKey   contextKey = "user"
	contextClaimsKey contextKey = "claims"
)

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error             string `json:"error"`
	AttemptsRemaining *int   `json:"attemptsRemaining,omitempty"`
}

// MessageResponse carries a human-readable outcome.
type MessageResponse struct {
	Message string `json:"message"`
}

func userFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(contextUserKey).(types.User)
	return user, ok
}

func claimsFromContext(ctx context.Context) (*services.Claims, bool) {
	claims, ok := ctx.Value(contextClaimsKey).(*services.Claims)
	return claims, ok && claims != nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeServiceError answers with the status and public message carried by a
// service error. Errors without a known code are logged and reported as
// "<operation> failed".
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error, operation string) {
	status, ok := statusForCode(services.ErrorCode(err))
	if !ok {
		logging.LogError(logger, operation+" failed", err)
		writeError(w, http.StatusInternalServerError, operation+" failed")
		return
	}

	resp := ErrorResponse{Error: services.PublicMessage(err, http.StatusText(status))}
	if remaining, ok := services.AttemptsRemaining(err); ok {
		resp.AttemptsRemaining = &remaining
	}
	writeJSON(w, status, resp)
}

func statusForCode(code string) (int, bool) {
	switch code {
	case services.CodeValidation, services.CodeConflict:
		return http.StatusBadRequest, true
	case services.CodeInvalidCredentials, services.CodeUnauthenticated:
		return http.StatusUnauthorized, true
	case services.CodeForbidden, services.CodeRegistrationDisabled:
		return http.StatusForbidden, true
	case services.CodeNotFound:
		return http.StatusNotFound, true
	case services.CodeRateLimited:
		return http.StatusTooManyRequests, true
	default:
		return 0, false
	}
}

// decodeJSON reads a JSON body of at most maxBodyBytes into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}

// requestMeta captures the client address and user agent. RealIP has already
// replaced RemoteAddr with the forwarded address when present.
func requestMeta(r *http.Request) services.RequestMeta {
	return services.RequestMeta{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	if addr == "" {
		return "unknown"
	}
	return addr
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// loginRedirect builds the sign-in URL carrying a constant error message.
func loginRedirect(message string) string {
	if message == "" {
		return LoginPath
	}
	return LoginPath + "?error=" + strings.ReplaceAll(url.QueryEscape(message), "+", "%20")
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
