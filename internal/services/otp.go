package services

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"math/big"
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
	otpRateLimitScope = "otp"
	rateLimitWindow   = time.Hour

	// usedRetention is how long consumed codes and links are kept for stats.
	usedRetention = 30 * 24 * time.Hour

	defaultStatsDays = 7
	maxStatsDays     = 90

	minCodeLength = 4
	maxCodeLength = 8
)

// OTPRepository defines persistence operations for one-time codes.
type OTPRepository interface {
	Replace(ctx context.Context, code types.OTPCode) (types.OTPCode, error)
	Latest(ctx context.Context, email string) (types.OTPCode, error)
	IncrementAttempts(ctx context.Context, id string) (int, error)
	Consume(ctx context.Context, id string, now time.Time) error
	DeleteExpired(ctx context.Context, now, usedBefore time.Time) (int64, error)
	Stats(ctx context.Context, now, since time.Time) (store.OTPStats, error)
}

// OTPRequestResult is returned for every well-formed code request, whether
// or not a code was actually sent.
type OTPRequestResult struct {
	ExpiresIn int
	// DevCode is only set in development mode when a code was issued.
	DevCode string
}

// OTPService issues and verifies emailed one-time login codes.
type OTPService struct {
	codes    OTPRepository
	auth     *AuthService
	notifier Notifier
	secret   []byte
	devMode  bool
	random   io.Reader
}

// NewOTPService builds the service on top of auth, which supplies users,
// settings, rate limiting, auditing and session issuance. Codes are hashed
// with HMAC-SHA256 keyed by secret.
func NewOTPService(codes OTPRepository, auth *AuthService, notifier Notifier, secret string, devMode bool) *OTPService {
	return &OTPService{
		codes:    codes,
		auth:     auth,
		notifier: notifier,
		secret:   []byte(secret),
		devMode:  devMode,
		random:   rand.Reader,
	}
}

// Request issues a new code when the email belongs to an active account, or
// to anyone when new-user registration through OTP is allowed. The result is
// the same either way.
func (s *OTPService) Request(ctx context.Context, email string, meta RequestMeta) (OTPRequestResult, error) {
	email = normalizeEmail(email)
	if !s.auth.validEmail(email) {
		return OTPRequestResult{}, publicError(CodeValidation, MsgInvalidEmail)
	}

	settings, err := s.auth.settings.Auth(ctx)
	if err != nil {
		return OTPRequestResult{}, err
	}
	result := OTPRequestResult{ExpiresIn: settings.OTP.CodeExpiryMinutes * 60}

	limitKey := ratelimit.Key(otpRateLimitScope, email)
	if !s.auth.limiter.Hit(ctx, otpRateLimitScope, limitKey, settings.OTP.RateLimitPerHour, rateLimitWindow) {
		return OTPRequestResult{}, publicError(CodeRateLimited, MsgOTPRateLimited)
	}

	eligible, err := s.eligible(ctx, email, settings)
	if err != nil {
		return OTPRequestResult{}, err
	}
	if !eligible {
		s.auth.audit.Record(ctx, newEvent(types.EventOTPRequested, email, nil, meta, "no eligible account"))
		return result, nil
	}

	var previousHash string
	if previous, err := s.codes.Latest(ctx, email); err == nil {
		previousHash = previous.CodeHash
	} else if !errors.Is(err, store.ErrNotFound) {
		return OTPRequestResult{}, oops.Code("AUTH_OTP_REQUEST_FAILED").
			With("operation", "load previous code").
			Wrap(err)
	}

	code, codeHash, err := s.newCode(settings.OTP.CodeLength, previousHash)
	if err != nil {
		return OTPRequestResult{}, oops.Code("AUTH_OTP_REQUEST_FAILED").
			With("operation", "generate code").
			Wrap(err)
	}

	now := s.auth.now().UTC()
	if _, err := s.codes.Replace(ctx, types.OTPCode{
		UserEmail:   email,
		CodeHash:    codeHash,
		ExpiresAt:   now.Add(time.Duration(settings.OTP.CodeExpiryMinutes) * time.Minute),
		MaxAttempts: settings.OTP.MaxAttempts,
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
		CreatedAt:   now,
	}); err != nil {
		return OTPRequestResult{}, oops.Code("AUTH_OTP_REQUEST_FAILED").
			With("operation", "store code").
			Wrap(err)
	}

	if err := s.notifier.Notify(ctx, Notification{
		Kind:             NotificationOTP,
		Email:            email,
		Code:             code,
		ExpiresInMinutes: settings.OTP.CodeExpiryMinutes,
	}); err != nil {
		// The response must not reveal whether delivery was attempted.
		s.auth.logger.ErrorContext(ctx, "failed to deliver otp code", "error", err)
	}

	s.auth.audit.Record(ctx, newEvent(types.EventOTPRequested, email, nil, meta, ""))
	if s.devMode {
		result.DevCode = code
	}
	return result, nil
}

// Verify checks a code and starts a session on success.
func (s *OTPService) Verify(ctx context.Context, email, code string, meta RequestMeta) (types.User, string, error) {
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)
	if !s.auth.validEmail(email) {
		return types.User{}, "", publicError(CodeValidation, MsgInvalidEmail)
	}
	if !validCodeFormat(code) {
		return types.User{}, "", publicError(CodeValidation, MsgInvalidCodeFormat)
	}

	otp, err := s.codes.Latest(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return s.fail(ctx, email, meta, "no active code", publicError(CodeInvalidCredentials, MsgOTPInvalidOrGone))
		}
		return types.User{}, "", oops.Code("AUTH_OTP_VERIFY_FAILED").
			With("operation", "load code").
			Wrap(err)
	}

	now := s.auth.now().UTC()
	if otp.Expired(now) {
		return s.fail(ctx, email, meta, "expired", publicError(CodeInvalidCredentials, MsgOTPExpired))
	}
	if otp.Exhausted() {
		return s.fail(ctx, email, meta, "attempts exhausted", attemptsError(MsgOTPExhausted, 0))
	}

	if !hmac.Equal([]byte(s.hash(code)), []byte(otp.CodeHash)) {
		attempts, err := s.codes.IncrementAttempts(ctx, otp.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return s.fail(ctx, email, meta, "code consumed concurrently", publicError(CodeInvalidCredentials, MsgOTPInvalidOrGone))
			}
			return types.User{}, "", oops.Code("AUTH_OTP_VERIFY_FAILED").
				With("operation", "increment attempts").
				Wrap(err)
		}
		otp.Attempts = attempts
		return s.fail(ctx, email, meta, "invalid code", attemptsError(MsgOTPInvalid, otp.AttemptsRemaining()))
	}

	if err := s.codes.Consume(ctx, otp.ID, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return s.fail(ctx, email, meta, "code consumed concurrently", publicError(CodeInvalidCredentials, MsgOTPInvalidOrGone))
		}
		return types.User{}, "", oops.Code("AUTH_OTP_VERIFY_FAILED").
			With("operation", "consume code").
			Wrap(err)
	}

	user, err := s.userFor(ctx, email)
	if err != nil {
		if ErrorCode(err) == CodeInvalidCredentials {
			return s.fail(ctx, email, meta, "account missing", err)
		}
		return types.User{}, "", err
	}
	if !user.IsActive {
		return s.fail(ctx, email, meta, "account inactive", publicError(CodeForbidden, MsgAccountDeactivated))
	}

	token, err := s.auth.startSession(ctx, &user)
	if err != nil {
		return types.User{}, "", err
	}

	metrics.RecordAuthAttempt("otp", metrics.OutcomeSuccess)
	s.auth.audit.Record(ctx, newEvent(types.EventOTPVerified, email, &user, meta, ""))
	return user, token, nil
}

// Stats summarises codes issued over the last days days (7 when out of range).
func (s *OTPService) Stats(ctx context.Context, days int) (store.OTPStats, error) {
	if days <= 0 || days > maxStatsDays {
		days = defaultStatsDays
	}
	now := s.auth.now().UTC()
	stats, err := s.codes.Stats(ctx, now, now.AddDate(0, 0, -days))
	if err != nil {
		return store.OTPStats{}, oops.Code("AUTH_OTP_STATS_FAILED").With("days", days).Wrap(err)
	}
	return stats, nil
}

// Cleanup deletes expired codes and consumed codes past the retention period.
func (s *OTPService) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	deleted, err := s.codes.DeleteExpired(ctx, now, now.Add(-usedRetention))
	if err != nil {
		return 0, oops.Code("AUTH_OTP_CLEANUP_FAILED").Wrap(err)
	}
	return deleted, nil
}

func (s *OTPService) eligible(ctx context.Context, email string, settings types.AuthSettings) (bool, error) {
	user, err := s.auth.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return settings.OTP.AllowNewUserRegistration, nil
		}
		return false, oops.Code("AUTH_OTP_REQUEST_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return user.IsActive, nil
}

// userFor loads the account for a verified email, creating a viewer when
// OTP registration is allowed.
func (s *OTPService) userFor(ctx context.Context, email string) (types.User, error) {
	user, err := s.auth.users.GetByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, oops.Code("AUTH_OTP_VERIFY_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	settings, err := s.auth.settings.Auth(ctx)
	if err != nil {
		return types.User{}, err
	}
	if !settings.OTP.AllowNewUserRegistration {
		return types.User{}, publicError(CodeInvalidCredentials, MsgOTPInvalidOrGone)
	}

	user, err = s.auth.users.Create(ctx, types.User{
		Email:    email,
		Username: usernameFromEmail(email),
		Role:     types.RoleViewer,
		IsActive: true,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Another verification created the account first.
			return s.auth.users.GetByEmail(ctx, email)
		}
		return types.User{}, oops.Code("AUTH_OTP_VERIFY_FAILED").
			With("operation", "create user").
			Wrap(err)
	}
	return user, nil
}

func (s *OTPService) fail(ctx context.Context, email string, meta RequestMeta, reason string, err error) (types.User, string, error) {
	metrics.RecordAuthAttempt("otp", metrics.OutcomeFailure)
	s.auth.audit.Record(ctx, newEvent(types.EventOTPFailed, email, nil, meta, reason))
	return types.User{}, "", err
}

// newCode generates a random numeric code that hashes differently from
// previousHash.
func (s *OTPService) newCode(length int, previousHash string) (string, string, error) {
	if length < minCodeLength || length > maxCodeLength {
		length = types.DefaultAuthSettings().OTP.CodeLength
	}
	for {
		code, err := randomDigits(s.random, length)
		if err != nil {
			return "", "", err
		}
		hashed := s.hash(code)
		if hashed != previousHash {
			return code, hashed, nil
		}
	}
}

func (s *OTPService) hash(code string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

func randomDigits(r io.Reader, length int) (string, error) {
	ten := big.NewInt(10)
	var b strings.Builder
	b.Grow(length)
	for range length {
		n, err := rand.Int(r, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

func validCodeFormat(code string) bool {
	if len(code) < minCodeLength || len(code) > maxCodeLength {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func attemptsError(message string, remaining int) error {
	return oops.Code(CodeInvalidCredentials).
		With(ctxAttemptsRemaining, remaining).
		Public(message).
		New(message)
}

func usernameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if len(local) > 32 {
		local = local[:32]
	}
	return local + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
