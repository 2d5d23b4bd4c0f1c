package services_test

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/headless-cms/authserver/internal/services"
	"github.com/headless-cms/authserver/internal/services/servicestest"
	"github.com/headless-cms/authserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestLink(t *testing.T, h *servicestest.Harness, email string) string {
	t.Helper()
	link, err := h.MagicLink.Request(context.Background(), email, meta)
	require.NoError(t, err)
	require.NotEmpty(t, link)
	parsed, err := url.Parse(link)
	require.NoError(t, err)
	return parsed.Query().Get("token")
}

func TestMagicLinkRequest(t *testing.T) {
	h := servicestest.New(t, servicestest.WithDevMode())
	h.CreateUser(t, "ada@example.com", "ada", "", types.RoleViewer)

	link, err := h.MagicLink.Request(context.Background(), "ADA@example.com", meta)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, servicestest.BaseURL+services.MagicLinkVerifyPath+"?token="))

	parsed, err := url.Parse(link)
	require.NoError(t, err)
	token := parsed.Query().Get("token")
	assert.Len(t, token, 73)

	sent, ok := h.Notifier.Last()
	require.True(t, ok)
	assert.Equal(t, services.NotificationMagicLink, sent.Kind)
	assert.Equal(t, link, sent.Link)
	assert.Equal(t, 15, sent.ExpiresInMinutes)
	assert.Equal(t, 1, h.Links.Len())
}

func TestMagicLinkRequestWithoutDevMode(t *testing.T) {
	h := servicestest.New(t)
	h.CreateUser(t, "ada@example.com", "ada", "", types.RoleViewer)

	link, err := h.MagicLink.Request(context.Background(), "ada@example.com", meta)
	require.NoError(t, err)
	assert.Empty(t, link)
	assert.Len(t, h.Notifier.Sent(), 1)
}

func TestMagicLinkRequestUnknownOrInactive(t *testing.T) {
	h := servicestest.New(t, servicestest.WithDevMode())
	inactive := h.CreateUser(t, "old@example.com", "old", "", types.RoleViewer)
	inactive.IsActive = false
	h.Users.Put(inactive)

	for _, email := range []string{"ghost@example.com", "old@example.com"} {
		link, err := h.MagicLink.Request(context.Background(), email, meta)
		require.NoError(t, err, email)
		assert.Empty(t, link, email)
	}
	assert.Empty(t, h.Notifier.Sent())
	assert.Zero(t, h.Links.Len())
}

func TestMagicLinkRequestRateLimit(t *testing.T) {
	h := servicestest.New(t)
	ctx := context.Background()
	h.CreateUser(t, "ada@example.com", "ada", "", types.RoleViewer)

	for i := 0; i < 5; i++ {
		_, err := h.MagicLink.Request(ctx, "ada@example.com", meta)
		require.NoError(t, err, "request %d", i+1)
	}
	_, err := h.MagicLink.Request(ctx, "ada@example.com", meta)
	require.Error(t, err)
	assert.Equal(t, services.CodeRateLimited, services.ErrorCode(err))
	assert.Equal(t, services.MsgMagicRateLimited, services.PublicMessage(err, ""))

	_, err = h.MagicLink.Request(ctx, "not-an-email", meta)
	assert.Equal(t, services.CodeValidation, services.ErrorCode(err))
}

func TestMagicLinkVerify(t *testing.T) {
	h := servicestest.New(t, servicestest.WithDevMode())
	ctx := context.Background()
	created := h.CreateUser(t, "ada@example.com", "ada", "", types.RoleAdmin)
	token := requestLink(t, h, "ada@example.com")

	user, session, err := h.MagicLink.Verify(ctx, token, meta)
	require.NoError(t, err)
	assert.Equal(t, created.ID, user.ID)
	require.NotNil(t, user.LastLoginAt)

	claims, err := h.Tokens.Parse(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, types.RoleAdmin, claims.Role)

	_, _, err = h.MagicLink.Verify(ctx, token, meta)
	require.Error(t, err)
	assert.Equal(t, services.MsgMagicLinkInvalid, services.PublicMessage(err, ""))
	assert.Contains(t, h.Events.Types(), types.EventMagicLinkVerified)
	assert.Contains(t, h.Events.Types(), types.EventMagicLinkFailed)
}

func TestMagicLinkVerifyRejections(t *testing.T) {
	h := servicestest.New(t, servicestest.WithDevMode())
	ctx := context.Background()

	_, _, err := h.MagicLink.Verify(ctx, "", meta)
	assert.Equal(t, services.MsgMagicLinkMissing, services.PublicMessage(err, ""))

	for _, token := range []string{
		strings.Repeat("a", 129),
		"../../etc/passwd",
		"ABCDEF-0123",
		"' OR 1=1 --",
		"0123456789abcdef",
	} {
		_, _, err := h.MagicLink.Verify(ctx, token, meta)
		require.Error(t, err, token)
		assert.Equal(t, services.CodeInvalidCredentials, services.ErrorCode(err), token)
		assert.Equal(t, services.MsgMagicLinkInvalid, services.PublicMessage(err, ""), token)
	}
}

func TestMagicLinkVerifyExpired(t *testing.T) {
	h := servicestest.New(t, servicestest.WithDevMode())
	h.CreateUser(t, "ada@example.com", "ada", "", types.RoleViewer)
	token := requestLink(t, h, "ada@example.com")

	h.Clock.Advance(15*time.Minute + time.Second)
	_, _, err := h.MagicLink.Verify(context.Background(), token, meta)
	require.Error(t, err)
	assert.Equal(t, services.MsgMagicLinkInvalid, services.PublicMessage(err, ""))
}

func TestMagicLinkVerifyDeactivatedAccount(t *testing.T) {
	h := servicestest.New(t, servicestest.WithDevMode())
	user := h.CreateUser(t, "ada@example.com", "ada", "", types.RoleViewer)
	token := requestLink(t, h, "ada@example.com")
	user.IsActive = false
	h.Users.Put(user)

	_, _, err := h.MagicLink.Verify(context.Background(), token, meta)
	require.Error(t, err)
	assert.Equal(t, services.MsgMagicLinkInvalid, services.PublicMessage(err, ""))
}

func TestMagicLinkCleanup(t *testing.T) {
	h := servicestest.New(t, servicestest.WithDevMode())
	ctx := context.Background()
	h.CreateUser(t, "ada@example.com", "ada", "", types.RoleViewer)
	requestLink(t, h, "ada@example.com")

	deleted, err := h.MagicLink.Cleanup(ctx, h.Clock.Now())
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = h.MagicLink.Cleanup(ctx, h.Clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
}
