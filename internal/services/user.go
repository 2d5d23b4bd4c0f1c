package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/headless-cms/authserver/internal/store"
	"github.com/headless-cms/authserver/types"
	"github.com/samber/oops"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error)
	Count(ctx context.Context) (int, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// UserService covers account administration outside the sign-in flows.
type UserService struct {
	repo UserRepository
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (types.User, error) {
	user, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return types.User{}, publicError(CodeNotFound, "User not found")
	}
	return user, err
}

// EnsureAdmin creates an active admin with the given password hash, or
// promotes and reactivates the existing account for email. An existing
// password is only replaced when passwordHash is set.
func (s *UserService) EnsureAdmin(ctx context.Context, email, username, passwordHash string) (types.User, bool, error) {
	email = normalizeEmail(email)
	user, err := s.repo.GetByEmail(ctx, email)
	switch {
	case err == nil:
		user.Role = types.RoleAdmin
		user.IsActive = true
		if passwordHash != "" {
			user.PasswordHash = passwordHash
		}
		updated, err := s.repo.Update(ctx, user)
		if err != nil {
			return types.User{}, false, oops.Code("AUTH_USER_UPDATE_FAILED").With("email", email).Wrap(err)
		}
		return updated, false, nil
	case !errors.Is(err, store.ErrNotFound):
		return types.User{}, false, oops.Code("AUTH_USER_LOOKUP_FAILED").With("email", email).Wrap(err)
	}

	if strings.TrimSpace(username) == "" {
		username = usernameFromEmail(email)
	}
	created, err := s.repo.Create(ctx, types.User{
		Email:        email,
		Username:     username,
		Role:         types.RoleAdmin,
		PasswordHash: passwordHash,
		IsActive:     true,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, false, publicError(CodeConflict, MsgUserExists)
		}
		return types.User{}, false, oops.Code("AUTH_USER_CREATE_FAILED").With("email", email).Wrap(err)
	}
	return created, true, nil
}

// SetActive activates or deactivates the account for email. Deactivated
// accounts keep their sessions until the next request, which Authenticate
// then rejects.
func (s *UserService) SetActive(ctx context.Context, email string, active bool) (types.User, error) {
	user, err := s.GetByEmail(ctx, email)
	if err != nil {
		return types.User{}, err
	}
	if user.IsActive == active {
		return user, nil
	}
	user.IsActive = active
	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		return types.User{}, oops.Code("AUTH_USER_UPDATE_FAILED").With("email", user.Email).Wrap(err)
	}
	return updated, nil
}

// Delete removes the account for email. Outstanding sessions fail their
// next Authenticate.
func (s *UserService) Delete(ctx context.Context, email string) error {
	user, err := s.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, user.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return publicError(CodeNotFound, "User not found")
		}
		return oops.Code("AUTH_USER_DELETE_FAILED").With("email", user.Email).Wrap(err)
	}
	return nil
}
