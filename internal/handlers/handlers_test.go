package handlers_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/headless-cms/authserver/internal/handlers"
	"github.com/headless-cms/authserver/internal/services"
	"github.com/headless-cms/authserver/internal/services/servicestest"
	"github.com/headless-cms/authserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	h      *servicestest.Harness
	router http.Handler
}

func newTestServer(t *testing.T, opts ...servicestest.Option) *testServer {
	t.Helper()
	h := servicestest.New(t, opts...)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cookies := handlers.CookieConfig{Secure: true, TTL: services.DefaultSessionTTL}
	authn := handlers.NewAuthenticator(h.Auth, logger)

	r := chi.NewRouter()
	r.Use(handlers.RequestLogger(logger))
	r.Route("/auth", func(r chi.Router) {
		r.Route("/otp", func(r chi.Router) {
			handlers.OTPRouter(r, handlers.NewOTPHandler(h.OTP, cookies, logger))
		})
		r.Route("/magic-link", func(r chi.Router) {
			handlers.MagicLinkRouter(r, handlers.NewMagicLinkHandler(h.MagicLink, cookies, logger))
		})
		handlers.AuthRouter(r, handlers.NewAuthHandler(h.Auth, cookies, logger), authn)
	})
	r.Route("/admin", func(r chi.Router) {
		handlers.AdminRouter(r, handlers.NewSettingsHandler(h.SettingsService, h.OTP, logger), authn)
	})
	return &testServer{h: h, router: r}
}

type request struct {
	method string
	path   string
	body   string
	token  string
	cookie string
	accept string
	ip     string
}

func (s *testServer) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if req.body != "" {
		body = strings.NewReader(req.body)
	}
	r := httptest.NewRequest(req.method, req.path, body)
	if req.body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	if req.token != "" {
		r.Header.Set("Authorization", "Bearer "+req.token)
	}
	if req.cookie != "" {
		r.AddCookie(&http.Cookie{Name: handlers.SessionCookieName, Value: req.cookie})
	}
	if req.accept != "" {
		r.Header.Set("Accept", req.accept)
	}
	if req.ip != "" {
		r.RemoteAddr = req.ip + ":5555"
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, r)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == handlers.SessionCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", handlers.SessionCookieName)
	return nil
}

func TestRegisterSetsSessionCookie(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, request{method: http.MethodPost, path: "/auth/register", body: `{
		"email": "Ada@Example.com",
		"password": "correct horse battery",
		"username": "ada",
		"firstName": "Ada",
		"lastName": "Lovelace"
	}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[handlers.AuthResponse](t, rec)
	assert.Equal(t, "ada@example.com", resp.User.Email)
	assert.Equal(t, types.RoleViewer, resp.User.Role)
	assert.NotEmpty(t, resp.Token)
	assert.NotContains(t, rec.Body.String(), "password")

	cookie := sessionCookie(t, rec)
	assert.Equal(t, resp.Token, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, int(services.DefaultSessionTTL.Seconds()), cookie.MaxAge)
}

func TestRegisterDuplicateAndValidation(t *testing.T) {
	s := newTestServer(t)
	s.h.CreateUser(t, "ada@example.com", "ada", "correct horse battery", types.RoleViewer)

	rec := s.do(t, request{method: http.MethodPost, path: "/auth/register", body: `{"email":"ada@example.com","password":"correct horse battery","username":"other"}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, services.MsgUserExists, decode[handlers.ErrorResponse](t, rec).Error)

	rec = s.do(t, request{method: http.MethodPost, path: "/auth/register", body: `not json`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegistrationDisabled(t *testing.T) {
	s := newTestServer(t)
	s.h.CreateUser(t, "root@example.com", "root", "correct horse battery", types.RoleAdmin)
	s.h.SaveSettings(t, func(a *types.AuthSettings) { a.Registration.Enabled = false })

	rec := s.do(t, request{method: http.MethodPost, path: "/auth/register", body: `{"email":"ada@example.com","password":"correct horse battery","username":"ada"}`})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, services.MsgRegistrationDisabled, decode[handlers.ErrorResponse](t, rec).Error)

	rec = s.do(t, request{method: http.MethodGet, path: "/auth/register"})
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/login?error=Registration%20is%20currently%20disabled", rec.Header().Get("Location"))
}

func TestRegisterPageWhenOpen(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, request{method: http.MethodGet, path: "/auth/register"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"registrationEnabled":true}`, rec.Body.String())
}

func TestLoginMeRefreshLogout(t *testing.T) {
	s := newTestServer(t)
	s.h.CreateUser(t, "ada@example.com", "ada", "correct horse battery", types.RoleEditor)

	rec := s.do(t, request{method: http.MethodPost, path: "/auth/login", body: `{"email":"ADA@example.com","password":"correct horse battery"}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	login := decode[handlers.AuthResponse](t, rec)
	assert.Equal(t, sessionCookie(t, rec).Value, login.Token)

	rec = s.do(t, request{method: http.MethodGet, path: "/auth/me", cookie: login.Token})
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[handlers.UserResponse](t, rec)
	assert.Equal(t, "ada", me.User.Username)
	assert.NotNil(t, me.User.LastLoginAt)

	rec = s.do(t, request{method: http.MethodPost, path: "/auth/refresh", token: login.Token})
	require.Equal(t, http.StatusOK, rec.Code)
	refreshed := decode[handlers.TokenResponse](t, rec)
	assert.NotEqual(t, login.Token, refreshed.Token)

	rec = s.do(t, request{method: http.MethodGet, path: "/auth/me", token: login.Token})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "refresh revokes the old token")

	rec = s.do(t, request{method: http.MethodPost, path: "/auth/logout", token: refreshed.Token})
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := sessionCookie(t, rec)
	assert.Empty(t, cleared.Value)
	assert.Equal(t, -1, cleared.MaxAge)

	rec = s.do(t, request{method: http.MethodGet, path: "/auth/me", token: refreshed.Token})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginFailuresAreUniform(t *testing.T) {
	s := newTestServer(t)
	s.h.CreateUser(t, "ada@example.com", "ada", "correct horse battery", types.RoleViewer)
	s.h.CreateUser(t, "otp@example.com", "otp", "", types.RoleViewer)

	for _, body := range []string{
		`{"email":"ada@example.com","password":"wrong"}`,
		`{"email":"ghost@example.com","password":"wrong"}`,
		`{"email":"otp@example.com","password":"anything"}`,
	} {
		rec := s.do(t, request{method: http.MethodPost, path: "/auth/login", body: body})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, body)
		assert.JSONEq(t, `{"error":"Invalid email or password"}`, rec.Body.String())
	}
}

func TestLoginRateLimit(t *testing.T) {
	s := newTestServer(t)
	s.h.CreateUser(t, "ada@example.com", "ada", "correct horse battery", types.RoleViewer)

	for i := 0; i < 10; i++ {
		rec := s.do(t, request{method: http.MethodPost, path: "/auth/login", ip: "10.0.0.1", body: `{"email":"ada@example.com","password":"wrong"}`})
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}

	rec := s.do(t, request{method: http.MethodPost, path: "/auth/login", ip: "10.0.0.1", body: `{"email":"ada@example.com","password":"correct horse battery"}`})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, services.MsgLoginRateLimited, decode[handlers.ErrorResponse](t, rec).Error)

	rec = s.do(t, request{method: http.MethodPost, path: "/auth/login", ip: "10.0.0.2", body: `{"email":"ada@example.com","password":"correct horse battery"}`})
	assert.Equal(t, http.StatusOK, rec.Code, "other addresses are unaffected")

	s.h.Clock.Advance(16 * time.Minute)
	rec = s.do(t, request{method: http.MethodPost, path: "/auth/login", ip: "10.0.0.1", body: `{"email":"ada@example.com","password":"correct horse battery"}`})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestParallelLoginsSucceed(t *testing.T) {
	s := newTestServer(t)
	s.h.CreateUser(t, "ada@example.com", "ada", "correct horse battery", types.RoleViewer)

	const clients = 5
	var (
		wg     sync.WaitGroup
		codes  = make([]int, clients)
		tokens = make([]string, clients)
	)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := s.do(t, request{method: http.MethodPost, path: "/auth/login", ip: "10.0.0.1", body: `{"email":"ada@example.com","password":"correct horse battery"}`})
			codes[i] = rec.Code
			var resp handlers.AuthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err == nil {
				tokens[i] = resp.Token
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i := 0; i < clients; i++ {
		assert.Equal(t, http.StatusOK, codes[i], "client %d", i+1)
		assert.NotEmpty(t, tokens[i], "client %d", i+1)
		seen[tokens[i]] = true
	}
	assert.Len(t, seen, clients, "every login gets its own session")
}

func TestRequireAuthRedirectsBrowsers(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, request{method: http.MethodGet, path: "/auth/me", accept: "text/html,application/xhtml+xml"})
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/login?error=Authentication%20required", rec.Header().Get("Location"))

	rec = s.do(t, request{method: http.MethodGet, path: "/auth/me", token: "not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutRedirect(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, request{method: http.MethodGet, path: "/auth/logout"})
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, handlers.LoginPath, rec.Header().Get("Location"))
	assert.Equal(t, -1, sessionCookie(t, rec).MaxAge)
}

func TestOTPRequestAndVerify(t *testing.T) {
	s := newTestServer(t, servicestest.WithDevMode())
	s.h.CreateUser(t, "ada@example.com", "ada", "", types.RoleViewer)

	rec := s.do(t, request{method: http.MethodPost, path: "/auth/otp/request", body: `{"email":"ada@example.com"}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sent := decode[handlers.OTPRequestResponse](t, rec)
	assert.Equal(t, services.MsgOTPSent, sent.Message)
	assert.Equal(t, 600, sent.ExpiresIn)
	require.Len(t, sent.DevCode, 6)

	wrong := "000000"
	if sent.DevCode == wrong {
		wrong = "111111"
	}
	rec = s.do(t, request{method: http.MethodPost, path: "/auth/otp/verify", body: `{"email":"ada@example.com","code":"` + wrong + `"}`})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	failure := decode[handlers.ErrorResponse](t, rec)
	assert.Equal(t, services.MsgOTPInvalid, failure.Error)
	require.NotNil(t, failure.AttemptsRemaining)
	assert.Equal(t, 2, *failure.AttemptsRemaining)

	rec = s.do(t, request{method: http.MethodPost, path: "/auth/otp/verify", body: `{"email":"ada@example.com","code":"` + sent.DevCode + `"}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	verified := decode[handlers.OTPVerifyResponse](t, rec)
	assert.True(t, verified.Success)
	assert.Equal(t, services.MsgOTPAuthenticated, verified.Message)
	assert.Equal(t, verified.Token, sessionCookie(t, rec).Value)

	rec = s.do(t, request{method: http.MethodPost, path: "/auth/otp/verify", body: `{"email":"ada@example.com","code":"` + sent.DevCode + `"}`})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "codes are single use")
}

func TestOTPRequestIsEnumerationSafe(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, request{method: http.MethodPost, path: "/auth/otp/request", body: `{"email":"ghost@example.com"}`})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[handlers.OTPRequestResponse](t, rec)
	assert.Equal(t, services.MsgOTPSent, resp.Message)
	assert.Empty(t, resp.DevCode)
	assert.NotContains(t, rec.Body.String(), "dev_code")
	assert.Empty(t, s.h.Notifier.Sent())
}

func TestOTPRequestRateLimit(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 5; i++ {
		rec := s.do(t, request{method: http.MethodPost, path: "/auth/otp/resend", body: `{"email":"ada@example.com"}`})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := s.do(t, request{method: http.MethodPost, path: "/auth/otp/request", body: `{"email":"ada@example.com"}`})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, services.MsgOTPRateLimited, decode[handlers.ErrorResponse](t, rec).Error)
}

func TestOTPValidation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, request{method: http.MethodPost, path: "/auth/otp/request", body: `{"email":"nope"}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, services.MsgInvalidEmail, decode[handlers.ErrorResponse](t, rec).Error)

	rec = s.do(t, request{method: http.MethodPost, path: "/auth/otp/verify", body: `{"email":"ada@example.com","code":"12"}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, services.MsgInvalidCodeFormat, decode[handlers.ErrorResponse](t, rec).Error)
}

func TestMagicLinkFlow(t *testing.T) {
	s := newTestServer(t, servicestest.WithDevMode())
	s.h.CreateUser(t, "ada@example.com", "ada", "", types.RoleEditor)

	rec := s.do(t, request{method: http.MethodPost, path: "/auth/magic-link/request", body: `{"email":"ada@example.com"}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[handlers.MagicLinkRequestResponse](t, rec)
	assert.Equal(t, services.MsgMagicLinkSent, resp.Message)
	require.NotEmpty(t, resp.DevLink)

	link, err := url.Parse(resp.DevLink)
	require.NoError(t, err)
	assert.Equal(t, services.MagicLinkVerifyPath, link.Path)

	rec = s.do(t, request{method: http.MethodGet, path: link.RequestURI()})
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, handlers.DashboardPath, rec.Header().Get("Location"))
	assert.NotEmpty(t, sessionCookie(t, rec).Value)

	rec = s.do(t, request{method: http.MethodGet, path: link.RequestURI()})
	assert.Equal(t, http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	assert.Equal(t, "/auth/login?error=Invalid%20or%20expired%20magic%20link", location)
	assert.NotContains(t, location, link.Query().Get("token"))
}

func TestMagicLinkVerifyRejectsBadTokens(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, request{method: http.MethodGet, path: "/auth/magic-link/verify"})
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/login?error=Invalid%20magic%20link", rec.Header().Get("Location"))

	for _, token := range []string{strings.Repeat("a", 129), "abc$def", "ABCDEF"} {
		rec = s.do(t, request{method: http.MethodGet, path: "/auth/magic-link/verify?token=" + url.QueryEscape(token)})
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/auth/login?error=Invalid%20or%20expired%20magic%20link", rec.Header().Get("Location"), token)
	}
}

func TestAdminSettings(t *testing.T) {
	s := newTestServer(t)
	s.h.CreateUser(t, "root@example.com", "root", "correct horse battery", types.RoleAdmin)
	s.h.CreateUser(t, "ada@example.com", "ada", "correct horse battery", types.RoleEditor)

	login := func(email string) string {
		rec := s.do(t, request{method: http.MethodPost, path: "/auth/login", body: `{"email":"` + email + `","password":"correct horse battery"}`})
		require.Equal(t, http.StatusOK, rec.Code)
		return decode[handlers.AuthResponse](t, rec).Token
	}
	admin := login("root@example.com")
	editor := login("ada@example.com")

	rec := s.do(t, request{method: http.MethodGet, path: "/admin/settings/auth", token: editor})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Admin access required", decode[handlers.ErrorResponse](t, rec).Error)

	rec = s.do(t, request{method: http.MethodGet, path: "/admin/settings/auth", token: admin})
	require.Equal(t, http.StatusOK, rec.Code)
	settings := decode[types.AuthSettings](t, rec)
	assert.Equal(t, types.DefaultAuthSettings(), settings)

	settings.OTP.CodeLength = 8
	settings.Registration.Enabled = false
	body, err := json.Marshal(settings)
	require.NoError(t, err)
	rec = s.do(t, request{method: http.MethodPut, path: "/admin/settings/auth", token: admin, body: string(body)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 8, decode[types.AuthSettings](t, rec).OTP.CodeLength)

	settings.OTP.CodeLength = 3
	body, err = json.Marshal(settings)
	require.NoError(t, err)
	rec = s.do(t, request{method: http.MethodPut, path: "/admin/settings/auth", token: admin, body: string(body)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, request{method: http.MethodGet, path: "/admin/auth/otp/stats?days=0", token: admin})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, request{method: http.MethodGet, path: "/admin/auth/otp/stats", token: admin})
	assert.Equal(t, http.StatusOK, rec.Code)
}
