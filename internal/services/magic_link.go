package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/headless-cms/authserver/internal/metrics"
	"github.com/headless-cms/authserver/internal/ratelimit"
	"github.com/headless-cms/authserver/internal/store"
	"github.com/headless-cms/authserver/types"
	"github.com/samber/oops"
)

const (
	magicLinkRateLimitScope = "magic"
	maxMagicTokenLength     = 128

	// MagicLinkVerifyPath is where emailed links point.
	MagicLinkVerifyPath = "/auth/magic-link/verify"
)

// MagicLinkRepository defines persistence operations for magic links.
type MagicLinkRepository interface {
	Create(ctx context.Context, link types.MagicLink) (types.MagicLink, error)
	Consume(ctx context.Context, tokenHash string, now time.Time) (string, error)
	DeleteExpired(ctx context.Context, now, usedBefore time.Time) (int64, error)
}

// MagicLinkService issues and redeems single-use sign-in links.
type MagicLinkService struct {
	links    MagicLinkRepository
	auth     *AuthService
	notifier Notifier
	baseURL  string
	devMode  bool
}

func NewMagicLinkService(links MagicLinkRepository, auth *AuthService, notifier Notifier, publicBaseURL string, devMode bool) *MagicLinkService {
	return &MagicLinkService{
		links:    links,
		auth:     auth,
		notifier: notifier,
		baseURL:  strings.TrimRight(publicBaseURL, "/"),
		devMode:  devMode,
	}
}

// Request emails a sign-in link to an existing active account. It returns the
// link itself only in development mode, and "" for unknown addresses.
func (s *MagicLinkService) Request(ctx context.Context, email string, meta RequestMeta) (string, error) {
	email = normalizeEmail(email)
	if !s.auth.validEmail(email) {
		return "", publicError(CodeValidation, MsgInvalidEmail)
	}

	settings, err := s.auth.settings.Auth(ctx)
	if err != nil {
		return "", err
	}

	limitKey := ratelimit.Key(magicLinkRateLimitScope, email)
	if !s.auth.limiter.Hit(ctx, magicLinkRateLimitScope, limitKey, settings.MagicLink.RateLimitPerHour, rateLimitWindow) {
		return "", publicError(CodeRateLimited, MsgMagicRateLimited)
	}

	user, err := s.auth.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.auth.audit.Record(ctx, newEvent(types.EventMagicLinkRequested, email, nil, meta, "no eligible account"))
			return "", nil
		}
		return "", oops.Code("AUTH_MAGIC_LINK_REQUEST_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	if !user.IsActive {
		s.auth.audit.Record(ctx, newEvent(types.EventMagicLinkRequested, email, &user, meta, "account inactive"))
		return "", nil
	}

	token := newMagicToken()
	now := s.auth.now().UTC()
	if _, err := s.links.Create(ctx, types.MagicLink{
		UserEmail: email,
		TokenHash: hashMagicToken(token),
		ExpiresAt: now.Add(time.Duration(settings.MagicLink.LinkExpiryMinutes) * time.Minute),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		CreatedAt: now,
	}); err != nil {
		return "", oops.Code("AUTH_MAGIC_LINK_REQUEST_FAILED").
			With("operation", "store link").
			Wrap(err)
	}

	link := s.baseURL + MagicLinkVerifyPath + "?token=" + url.QueryEscape(token)
	if err := s.notifier.Notify(ctx, Notification{
		Kind:             NotificationMagicLink,
		Email:            email,
		Link:             link,
		ExpiresInMinutes: settings.MagicLink.LinkExpiryMinutes,
	}); err != nil {
		s.auth.logger.ErrorContext(ctx, "failed to deliver magic link", "error", err)
	}

	s.auth.audit.Record(ctx, newEvent(types.EventMagicLinkRequested, email, &user, meta, ""))
	if s.devMode {
		return link, nil
	}
	return "", nil
}

// Verify redeems a token and starts a session. Every failure carries one of
// two constant public messages so the caller can redirect without echoing the
// token.
func (s *MagicLinkService) Verify(ctx context.Context, token string, meta RequestMeta) (types.User, string, error) {
	if token == "" {
		return s.fail(ctx, "", meta, "missing token", publicError(CodeValidation, MsgMagicLinkMissing))
	}
	if !validMagicToken(token) {
		return s.fail(ctx, "", meta, "malformed token", publicError(CodeInvalidCredentials, MsgMagicLinkInvalid))
	}

	email, err := s.links.Consume(ctx, hashMagicToken(token), s.auth.now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return s.fail(ctx, "", meta, "unknown, used or expired token", publicError(CodeInvalidCredentials, MsgMagicLinkInvalid))
		}
		return types.User{}, "", oops.Code("AUTH_MAGIC_LINK_VERIFY_FAILED").
			With("operation", "consume link").
			Wrap(err)
	}

	user, err := s.auth.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return s.fail(ctx, email, meta, "account missing", publicError(CodeInvalidCredentials, MsgMagicLinkInvalid))
		}
		return types.User{}, "", oops.Code("AUTH_MAGIC_LINK_VERIFY_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	if !user.IsActive {
		return s.fail(ctx, email, meta, "account inactive", publicError(CodeInvalidCredentials, MsgMagicLinkInvalid))
	}

	sessionToken, err := s.auth.startSession(ctx, &user)
	if err != nil {
		return types.User{}, "", err
	}

	metrics.RecordAuthAttempt("magic_link", metrics.OutcomeSuccess)
	s.auth.audit.Record(ctx, newEvent(types.EventMagicLinkVerified, email, &user, meta, ""))
	return user, sessionToken, nil
}

// Cleanup deletes expired links and consumed links past the retention period.
func (s *MagicLinkService) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	deleted, err := s.links.DeleteExpired(ctx, now, now.Add(-usedRetention))
	if err != nil {
		return 0, oops.Code("AUTH_MAGIC_LINK_CLEANUP_FAILED").Wrap(err)
	}
	return deleted, nil
}

func (s *MagicLinkService) fail(ctx context.Context, email string, meta RequestMeta, reason string, err error) (types.User, string, error) {
	metrics.RecordAuthAttempt("magic_link", metrics.OutcomeFailure)
	s.auth.audit.Record(ctx, newEvent(types.EventMagicLinkFailed, email, nil, meta, reason))
	return types.User{}, "", err
}

func newMagicToken() string {
	return uuid.NewString() + "-" + uuid.NewString()
}

func hashMagicToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func validMagicToken(token string) bool {
	if len(token) > maxMagicTokenLength {
		return false
	}
	for _, c := range token {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && c != '-' {
			return false
		}
	}
	return true
}
