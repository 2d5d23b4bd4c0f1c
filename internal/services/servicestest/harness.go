package servicestest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/headless-cms/authserver/internal/kv"
	"github.com/headless-cms/authserver/internal/ratelimit"
	"github.com/headless-cms/authserver/internal/services"
	"github.com/headless-cms/authserver/types"
	"golang.org/x/crypto/bcrypt"
)

// Secret is the JWT and OTP key used by the harness.
const Secret = "test-secret-that-is-at-least-32-bytes-long"

// BaseURL is the public base URL magic links point at.
const BaseURL = "http://cms.test"

// Harness is a fully wired service stack over in-memory storage.
type Harness struct {
	Clock    *Clock
	KV       *kv.MemoryStore
	Users    *UserStore
	Codes    *OTPStore
	Links    *MagicLinkStore
	Settings *SettingsStore
	Events   *AuthEventStore
	Notifier *RecordingNotifier

	Tokens          *services.TokenIssuer
	Audit           *services.AuditService
	SettingsService *services.SettingsService
	Auth            *services.AuthService
	OTP             *services.OTPService
	MagicLink       *services.MagicLinkService
	UserService     *services.UserService
}

// Option customises a Harness.
type Option func(*options)

type options struct {
	devMode bool
}

// WithDevMode makes the OTP and magic-link services echo their secrets.
func WithDevMode() Option {
	return func(o *options) {
		o.devMode = true
	}
}

// New builds a Harness. The memory KV store is closed when t finishes.
func New(t testing.TB, opts ...Option) *Harness {
	t.Helper()

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := NewClock(time.Now().UTC())
	store := kv.NewMemoryStoreWithClock(time.Hour, clock.Now)
	t.Cleanup(func() {
		_ = store.Close()
	})

	h := &Harness{
		Clock:    clock,
		KV:       store,
		Users:    NewUserStore(),
		Codes:    NewOTPStore(),
		Links:    NewMagicLinkStore(),
		Settings: NewSettingsStore(),
		Events:   NewAuthEventStore(),
		Notifier: &RecordingNotifier{},
	}

	h.Tokens = services.NewTokenIssuer(Secret, services.DefaultSessionTTL, store, logger)
	h.Audit = services.NewAuditService(h.Events, logger)
	h.SettingsService = services.NewSettingsService(h.Settings)

	auth, err := services.NewAuthService(
		h.Users,
		h.SettingsService,
		h.Tokens,
		ratelimit.New(store, logger),
		h.Audit,
		logger,
		services.WithBcryptCost(bcrypt.MinCost),
		services.WithClock(clock.Now),
	)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	h.Auth = auth
	h.OTP = services.NewOTPService(h.Codes, auth, h.Notifier, Secret, o.devMode)
	h.MagicLink = services.NewMagicLinkService(h.Links, auth, h.Notifier, BaseURL, o.devMode)
	h.UserService = services.NewUserService(h.Users)
	return h
}

// CreateUser stores an active user with the given role and password. An empty
// password leaves the account passwordless.
func (h *Harness) CreateUser(t testing.TB, email, username, password, role string) types.User {
	t.Helper()
	var hash string
	if password != "" {
		hashed, err := h.Auth.HashPassword(password)
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		hash = hashed
	}
	user, err := h.Users.Create(context.Background(), types.User{
		Email:        email,
		Username:     username,
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
		PasswordHash: hash,
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

// SaveSettings stores settings, failing the test on validation errors.
func (h *Harness) SaveSettings(t testing.TB, mutate func(*types.AuthSettings)) types.AuthSettings {
	t.Helper()
	settings := types.DefaultAuthSettings()
	mutate(&settings)
	saved, err := h.SettingsService.UpdateAuth(context.Background(), settings)
	if err != nil {
		t.Fatalf("save settings: %v", err)
	}
	return saved
}
