package services_test

import (
	"context"
	"testing"

	"github.com/headless-cms/authserver/internal/services"
	"github.com/headless-cms/authserver/internal/services/servicestest"
	"github.com/headless-cms/authserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureAdminCreates(t *testing.T) {
	h := servicestest.New(t)
	hash, err := h.Auth.HashPassword("correct horse battery")
	require.NoError(t, err)

	user, created, err := h.UserService.EnsureAdmin(context.Background(), "Root@Example.com", "", hash)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "root@example.com", user.Email)
	assert.Equal(t, types.RoleAdmin, user.Role)
	assert.True(t, user.IsActive)
	assert.Regexp(t, `^root-[0-9a-f]{8}$`, user.Username)

	_, _, err = h.Auth.Login(context.Background(), "root@example.com", "correct horse battery", services.RequestMeta{IPAddress: "10.0.0.1"})
	assert.NoError(t, err)
}

func TestEnsureAdminPromotesExisting(t *testing.T) {
	h := servicestest.New(t)
	existing := h.CreateUser(t, "ada@example.com", "ada", "correct horse battery", types.RoleViewer)
	_, err := h.UserService.SetActive(context.Background(), "ada@example.com", false)
	require.NoError(t, err)

	user, created, err := h.UserService.EnsureAdmin(context.Background(), "ada@example.com", "ignored", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing.ID, user.ID)
	assert.Equal(t, "ada", user.Username)
	assert.Equal(t, types.RoleAdmin, user.Role)
	assert.True(t, user.IsActive)
	assert.Equal(t, existing.PasswordHash, user.PasswordHash, "empty hash keeps the password")
}

func TestSetActive(t *testing.T) {
	h := servicestest.New(t)
	h.CreateUser(t, "ada@example.com", "ada", "correct horse battery", types.RoleEditor)
	_, token, err := h.Auth.Login(context.Background(), "ada@example.com", "correct horse battery", services.RequestMeta{})
	require.NoError(t, err)

	user, err := h.UserService.SetActive(context.Background(), "ADA@example.com", false)
	require.NoError(t, err)
	assert.False(t, user.IsActive)

	_, _, err = h.Auth.Authenticate(context.Background(), token)
	assert.Error(t, err, "deactivated accounts lose their sessions")

	_, err = h.UserService.SetActive(context.Background(), "ghost@example.com", true)
	assert.Equal(t, services.CodeNotFound, services.ErrorCode(err))
}

func TestDeleteUser(t *testing.T) {
	h := servicestest.New(t)
	h.CreateUser(t, "ada@example.com", "ada", "correct horse battery", types.RoleEditor)
	_, token, err := h.Auth.Login(context.Background(), "ada@example.com", "correct horse battery", services.RequestMeta{})
	require.NoError(t, err)

	require.NoError(t, h.UserService.Delete(context.Background(), "Ada@Example.com"))

	_, _, err = h.Auth.Authenticate(context.Background(), token)
	assert.Error(t, err)

	err = h.UserService.Delete(context.Background(), "ada@example.com")
	assert.Equal(t, services.CodeNotFound, services.ErrorCode(err))
}
