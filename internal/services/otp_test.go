package services_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/headless-cms/authserver/internal/services"
	"github.com/headless-cms/authserver/internal/services/servicestest"
	"github.com/headless-cms/authserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wrongCode returns a code of the same length that differs from code.
func wrongCode(code string) string {
	last := code[len(code)-1]
	return code[:len(code)-1] + string('0'+(last-'0'+1)%10)
}

func TestOTPRequestIssuesCode(t *testing.T) {
	h := servicestest.New(t, servicestest.WithDevMode())
	ctx := context.Background()
	h.CreateUser(t, "ada@example.com", "ada", "", types.RoleViewer)

	result, err := h.OTP.Request(ctx, " ADA@example.com", meta)
	require.NoError(t, err)
	assert.Equal(t, 600, result.ExpiresIn)
	require.Len(t, result.DevCode, 6)

	sent, ok := h.Notifier.Last()
	require.True(t, ok)
	assert.Equal(t, services.NotificationOTP, sent.Kind)
	assert.Equal(t, "ada@example.com", sent.Email)
	assert.Equal(t, result.DevCode, sent.Code)
	assert.Equal(t, 10, sent.ExpiresInMinutes)

	codes := h.Codes.All()
	require.Len(t, codes, 1)
	assert.NotEqual(t, result.DevCode, codes[0].CodeHash)
	assert.Equal(t, 3, codes[0].MaxAttempts)
	assert.Equal(t, "10.0.0.1", codes[0].IPAddress)
}

func TestOTPRequestHidesCodeOutsideDevelopment(t *testing.T) {
	h := servicestest.New(t)
	h.CreateUser(t, "ada@example.com", "ada", "", types.RoleViewer)

	result, err := h.OTP.Request(context.Background(), "ada@example.com", meta)
	require.NoError(t, err)
	assert.Empty(t, result.DevCode)
	assert.Len(t, h.Notifier.Sent(), 1)
}

func TestOTPRequestUnknownEmailLooksTheSame(t *testing.T) {
	h := servicestest.New(t, servicestest.WithDevMode())

	result, err := h.OTP.Request(context.Background(), "ghost@example.com", meta)
	require.NoError(t, err)
	assert.Equal(t, 600, result.ExpiresIn)
	assert.Empty(t, result.DevCode)
	assert.Empty(t, h.Notifier.Sent())
	assert.Empty(t, h.Codes.All())
}

func TestOTPRequestSkipsInactiveAccounts(t *testing.T) {
	h := servicestest.New(t)
	user := h.CreateUser(t, "ada@example.com", "ada", "", types.RoleViewer)
	user.IsActive = false
	h.Users.Put(user)

	_, err := h.OTP.Request(context.Background(), "ada@example.com", meta)
	require.NoError(t, err)
	assert.Empty(t, h.Notifier.Sent())
}

func TestOTPRequestValidation(t *testing.T) {
	h := servicestest.New(t)

	_, err := h.OTP.Request(context.Background(), "nope", meta)
	require.Error(t, err)
	assert.Equal(t, services.CodeValidation, services.ErrorCode(err))
	assert.Equal(t, services.MsgInvalidEmail, services.PublicMessage(err, ""))
}

func TestOTPRequestRejectsOverlongEmail(t *testing.T) {
	h := servicestest.New(t)
	h.SaveSettings(t, func(s *types.AuthSettings) { s.OTP.AllowNewUserRegistration = true })
	label := strings.Repeat("a", 63)
	email := "ada@" + strings.Join([]string{label, label, label, label}, ".") + ".com"
	require.Greater(t, len(email), 254)

	_, err := h.OTP.Request(context.Background(), email, meta)
	require.Error(t, err)
	assert.Equal(t, services.CodeValidation, services.ErrorCode(err))
	assert.Empty(t, h.Codes.All())
	assert.Empty(t, h.Notifier.Sent())
}

func TestOTPRequestRateLimit(t *testing.T) {
	h := servicestest.New(t)
	ctx := context.Background()

	// Unknown addresses count too.
	for i := 0; i < 5; i++ {
		_, err := h.OTP.Request(ctx, "ghost@example.com", meta)
		require.NoError(t, err, "request %d", i+1)
	}
	_, err := h.OTP.Request(ctx, "ghost@example.com", meta)
	require.Error(t, err)
	assert.Equal(t, services.CodeRateLimited, services.ErrorCode(err))
	assert.Equal(t, services.MsgOTPRateLimited, services.PublicMessage(err, ""))

	_, err = h.OTP.Request(ctx, "other@example.com", meta)
	require.NoError(t, err)

	h.Clock.Advance(time.Hour + time.Second)
	_, err = h.OTP.Request(ctx, "ghost@example.com", meta)
	require.NoError(t, err)
}

func TestOTPRequestReplacesPreviousCode(t *testing.T) {
	h := servicestest.New(t, servicestest.WithDevMode())
	ctx := context.Background()
	h.CreateUser(t, "ada@example.com", "ada", "", types.RoleViewer)

	first, err := h.OTP.Request(ctx, "ada@example.com", meta)
	require.NoError(t, err)
	second, err := h.OTP.Request(ctx, "ada@example.com", meta)
	require.NoError(t, err)
	assert.NotEqual(t, first.DevCode, second.DevCode)
	assert.Len(t, h.Codes.All(), 1)

	_, _, err = h.OTP.Verify(ctx, "ada@example.com", first.DevCode, meta)
	require.Error(t, err)
	assert.Equal(t, services.MsgOTPInvalid, services.PublicMessage(err, ""))

	_, token, err := h.OTP.Verify(ctx, "ada@example.com", second.DevCode, meta)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestOTPVerifySuccess(t *testing.T) {
	h := servicestest.New(t, servicestest.WithDevMode())
	ctx := context.Background()
	created := h.CreateUser(t, "ada@example.com", "ada", "", types.RoleEditor)

	result, err := h.OTP.Request(ctx, "ada@example.com", meta)
	require.NoError(t, err)

	user, token, err := h.OTP.Verify(ctx, "Ada@Example.com", result.DevCode, meta)
	require.NoError(t, err)
	assert.Equal(t, created.ID, user.ID)
	require.NotNil(t, user.LastLoginAt)

	claims, err := h.Tokens.Parse(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, types.RoleEditor, claims.Role)

	// Single use.
	_, _, err = h.OTP.Verify(ctx, "ada@example.com", result.DevCode, meta)
	require.Error(t, err)
	assert.Equal(t, services.CodeInvalidCredentials, services.ErrorCode(err))
	assert.Equal(t, services.MsgOTPInvalidOrGone, services.PublicMessage(err, ""))

	assert.Contains(t, h.Events.Types(), types.EventOTPVerified)
}

func TestOTPVerifyCountsAttempts(t *testing.T) {
	h := servicestest.New(t, servicestest.WithDevMode())
	ctx := context.Background()
	h.CreateUser(t, "ada@example.com", "ada", "", types.RoleViewer)

	result, err := h.OTP.Request(ctx, "ada@example.com", meta)
	require.NoError(t, err)
	bad := wrongCode(result.DevCode)

	for _, want := range []int{2, 1, 0} {
		_, _, err := h.OTP.Verify(ctx, "ada@example.com", bad, meta)
		require.Error(t, err)
		assert.Equal(t, services.MsgOTPInvalid, services.PublicMessage(err, ""))
		remaining, ok := services.AttemptsRemaining(err)
		require.True(t, ok)
		assert.Equal(t, want, remaining)
	}

	// The right code no longer works once the budget is spent.
	_, _, err = h.OTP.Verify(ctx, "ada@example.com", result.DevCode, meta)
	require.Error(t, err)
	assert.Equal(t, services.MsgOTPExhausted, services.PublicMessage(err, ""))
	remaining, ok := services.AttemptsRemaining(err)
	require.True(t, ok)
	assert.Zero(t, remaining)
}

func TestOTPVerifyExpired(t *testing.T) {
	h := servicestest.New(t, servicestest.WithDevMode())
	ctx := context.Background()
	h.CreateUser(t, "ada@example.com", "ada", "", types.RoleViewer)

	result, err := h.OTP.Request(ctx, "ada@example.com", meta)
	require.NoError(t, err)
	h.Clock.Advance(10*time.Minute + time.Second)

	_, _, err = h.OTP.Verify(ctx, "ada@example.com", result.DevCode, meta)
	require.Error(t, err)
	assert.Equal(t, services.CodeInvalidCredentials, services.ErrorCode(err))
	assert.Equal(t, services.MsgOTPExpired, services.PublicMessage(err, ""))
}

func TestOTPVerifyValidation(t *testing.T) {
	h := servicestest.New(t)
	ctx := context.Background()

	for _, code := range []string{"", "123", "123456789", "12a456", "-12345"} {
		_, _, err := h.OTP.Verify(ctx, "ada@example.com", code, meta)
		require.Error(t, err, code)
		assert.Equal(t, services.CodeValidation, services.ErrorCode(err), code)
		assert.Equal(t, services.MsgInvalidCodeFormat, services.PublicMessage(err, ""), code)
	}

	_, _, err := h.OTP.Verify(ctx, "bad-email", "123456", meta)
	assert.Equal(t, services.MsgInvalidEmail, services.PublicMessage(err, ""))

	_, _, err = h.OTP.Verify(ctx, "ada@example.com", "123456", meta)
	assert.Equal(t, services.MsgOTPInvalidOrGone, services.PublicMessage(err, ""))
}

func TestOTPVerifyDeactivatedAccount(t *testing.T) {
	h := servicestest.New(t, servicestest.WithDevMode())
	ctx := context.Background()
	user := h.CreateUser(t, "ada@example.com", "ada", "", types.RoleViewer)

	result, err := h.OTP.Request(ctx, "ada@example.com", meta)
	require.NoError(t, err)
	user.IsActive = false
	h.Users.Put(user)

	_, _, err = h.OTP.Verify(ctx, "ada@example.com", result.DevCode, meta)
	require.Error(t, err)
	assert.Equal(t, services.CodeForbidden, services.ErrorCode(err))
	assert.Equal(t, services.MsgAccountDeactivated, services.PublicMessage(err, ""))
}

func TestOTPRegistersNewUsersWhenAllowed(t *testing.T) {
	h := servicestest.New(t, servicestest.WithDevMode())
	ctx := context.Background()
	h.SaveSettings(t, func(s *types.AuthSettings) { s.OTP.AllowNewUserRegistration = true })

	result, err := h.OTP.Request(ctx, "new@example.com", meta)
	require.NoError(t, err)
	require.NotEmpty(t, result.DevCode)

	user, _, err := h.OTP.Verify(ctx, "new@example.com", result.DevCode, meta)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)
	assert.Equal(t, types.RoleViewer, user.Role)
	assert.Contains(t, user.Username, "new-")
	assert.Empty(t, user.PasswordHash)
}

func TestOTPHonoursSettings(t *testing.T) {
	h := servicestest.New(t, servicestest.WithDevMode())
	ctx := context.Background()
	h.CreateUser(t, "ada@example.com", "ada", "", types.RoleViewer)
	h.SaveSettings(t, func(s *types.AuthSettings) {
		s.OTP.CodeLength = 8
		s.OTP.CodeExpiryMinutes = 5
		s.OTP.MaxAttempts = 5
	})

	result, err := h.OTP.Request(ctx, "ada@example.com", meta)
	require.NoError(t, err)
	assert.Len(t, result.DevCode, 8)
	assert.Equal(t, 300, result.ExpiresIn)

	_, _, err = h.OTP.Verify(ctx, "ada@example.com", wrongCode(result.DevCode), meta)
	remaining, _ := services.AttemptsRemaining(err)
	assert.Equal(t, 4, remaining)
}

func TestOTPStatsAndCleanup(t *testing.T) {
	h := servicestest.New(t, servicestest.WithDevMode())
	ctx := context.Background()
	h.CreateUser(t, "ada@example.com", "ada", "", types.RoleViewer)
	h.CreateUser(t, "grace@example.com", "grace", "", types.RoleViewer)

	ada, err := h.OTP.Request(ctx, "ada@example.com", meta)
	require.NoError(t, err)
	_, _, err = h.OTP.Verify(ctx, "ada@example.com", ada.DevCode, meta)
	require.NoError(t, err)
	_, err = h.OTP.Request(ctx, "grace@example.com", meta)
	require.NoError(t, err)

	deleted, err := h.OTP.Cleanup(ctx, h.Clock.Now())
	require.NoError(t, err)
	assert.Zero(t, deleted)

	h.Clock.Advance(time.Hour)
	stats, err := h.OTP.Stats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Successful)
	assert.Equal(t, 1, stats.Expired)

	deleted, err = h.OTP.Cleanup(ctx, h.Clock.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)
	assert.Empty(t, h.Codes.All())
}
