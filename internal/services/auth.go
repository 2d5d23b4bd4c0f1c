package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/headless-cms/authserver/internal/metrics"
	"github.com/headless-cms/authserver/internal/ratelimit"
	"github.com/headless-cms/authserver/internal/store"
	"github.com/headless-cms/authserver/types"
	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

const (
	loginRateLimitScope   = "login"
	loginFailureLimit     = 10
	loginFailureWindow    = 15 * time.Minute
	dummyPasswordMaterial = "authserver-dummy-password"
)

// RequestMeta carries client details recorded alongside auth events.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// RegisterInput is the self-registration payload.
type RegisterInput struct {
	Email     string `validate:"required,max=254,email"`
	Password  string `validate:"min=8"`
	Username  string `validate:"min=3"`
	FirstName string `validate:"required"`
	LastName  string `validate:"required"`
}

// AuthSettingsProvider exposes the current auth settings.
type AuthSettingsProvider interface {
	Auth(ctx context.Context) (types.AuthSettings, error)
}

// AuthService implements password registration, login and session handling.
type AuthService struct {
	users    UserRepository
	settings AuthSettingsProvider
	tokens   *TokenIssuer
	limiter  *ratelimit.Limiter
	audit    *AuditService
	logger   *slog.Logger
	validate *validator.Validate
	cost     int
	now      func() time.Time

	// dummyHash is verified when no real hash exists so that unknown and
	// passwordless accounts take as long to reject as wrong passwords.
	dummyHash []byte
}

// AuthServiceOption customises an AuthService.
type AuthServiceOption func(*AuthService)

// WithBcryptCost overrides bcrypt.DefaultCost, e.g. bcrypt.MinCost in tests.
func WithBcryptCost(cost int) AuthServiceOption {
	return func(s *AuthService) {
		s.cost = cost
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) AuthServiceOption {
	return func(s *AuthService) {
		s.now = now
	}
}

func NewAuthService(
	users UserRepository,
	settings AuthSettingsProvider,
	tokens *TokenIssuer,
	limiter *ratelimit.Limiter,
	audit *AuditService,
	logger *slog.Logger,
	opts ...AuthServiceOption,
) (*AuthService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &AuthService{
		users:    users,
		settings: settings,
		tokens:   tokens,
		limiter:  limiter,
		audit:    audit,
		logger:   logger,
		validate: validator.New(),
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte(dummyPasswordMaterial), s.cost)
	if err != nil {
		return nil, oops.Code("AUTH_INIT_FAILED").With("operation", "generate dummy hash").Wrap(err)
	}
	s.dummyHash = dummy
	return s, nil
}

// HashPassword hashes a password with the service's bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// RegistrationOpen reports whether self-registration is accepted. An empty
// user table always accepts so the first account can be created.
func (s *AuthService) RegistrationOpen(ctx context.Context) (bool, error) {
	settings, err := s.settings.Auth(ctx)
	if err != nil {
		return false, err
	}
	if settings.Registration.Enabled {
		return true, nil
	}
	count, err := s.users.Count(ctx)
	if err != nil {
		return false, oops.Code("AUTH_REGISTER_FAILED").With("operation", "count users").Wrap(err)
	}
	return count == 0, nil
}

// Register creates a viewer account and returns it with a session token.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, meta RequestMeta) (types.User, string, error) {
	in.Email = normalizeEmail(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)

	if err := s.validate.Struct(in); err != nil {
		return types.User{}, "", registerValidationError(err)
	}

	open, err := s.RegistrationOpen(ctx)
	if err != nil {
		return types.User{}, "", err
	}
	if !open {
		return types.User{}, "", publicError(CodeRegistrationDisabled, MsgRegistrationDisabled)
	}

	exists, err := s.users.ExistsByEmailOrUsername(ctx, in.Email, in.Username)
	if err != nil {
		return types.User{}, "", oops.Code("AUTH_REGISTER_FAILED").With("operation", "check existing user").Wrap(err)
	}
	if exists {
		return types.User{}, "", publicError(CodeConflict, MsgUserExists)
	}

	hashed, err := s.HashPassword(in.Password)
	if err != nil {
		return types.User{}, "", oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}

	user, err := s.users.Create(ctx, types.User{
		Email:        in.Email,
		Username:     in.Username,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         types.RoleViewer,
		PasswordHash: hashed,
		IsActive:     true,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, "", publicError(CodeConflict, MsgUserExists)
		}
		return types.User{}, "", oops.Code("AUTH_REGISTER_FAILED").With("operation", "create user").Wrap(err)
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return types.User{}, "", err
	}

	metrics.RecordAuthAttempt("register", metrics.OutcomeSuccess)
	s.audit.Record(ctx, newEvent(types.EventRegister, user.Email, &user, meta, ""))
	return user, token, nil
}

// Login verifies a password and returns the user with a session token.
// Unknown email, wrong password and inactive account are indistinguishable.
func (s *AuthService) Login(ctx context.Context, email, password string, meta RequestMeta) (types.User, string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return types.User{}, "", publicError(CodeValidation, "Email and password are required")
	}

	limitKey := ratelimit.Key(loginRateLimitScope, meta.IPAddress, email)
	if s.limiter.Exceeded(ctx, loginRateLimitScope, limitKey, loginFailureLimit) {
		return types.User{}, "", publicError(CodeRateLimited, MsgLoginRateLimited)
	}

	user, lookupErr := s.users.GetByEmail(ctx, email)
	targetHash := s.dummyHash
	userExists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, store.ErrNotFound) {
			return types.User{}, "", oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by email").
				Wrap(lookupErr)
		}
	} else if user.PasswordHash != "" {
		targetHash = []byte(user.PasswordHash)
		userExists = true
	}

	// Always verify so every rejection costs one bcrypt comparison.
	verifyErr := bcrypt.CompareHashAndPassword(targetHash, []byte(password))
	if !userExists || verifyErr != nil || !user.IsActive {
		reason := "invalid credentials"
		if userExists && verifyErr == nil {
			reason = "account inactive"
		}
		s.limiter.Record(ctx, loginRateLimitScope, limitKey, loginFailureWindow)
		metrics.RecordAuthAttempt("password", metrics.OutcomeFailure)
		s.audit.Record(ctx, newEvent(types.EventLoginFailure, email, nil, meta, reason))
		return types.User{}, "", publicError(CodeInvalidCredentials, MsgInvalidCredentials)
	}

	token, err := s.startSession(ctx, &user)
	if err != nil {
		return types.User{}, "", err
	}

	s.limiter.Reset(ctx, loginRateLimitScope, limitKey)
	metrics.RecordAuthAttempt("password", metrics.OutcomeSuccess)
	s.audit.Record(ctx, newEvent(types.EventLoginSuccess, email, &user, meta, "password"))
	return user, token, nil
}

// Authenticate resolves a session token to an active user.
func (s *AuthService) Authenticate(ctx context.Context, token string) (types.User, *Claims, error) {
	if strings.TrimSpace(token) == "" {
		return types.User{}, nil, publicError(CodeUnauthenticated, MsgAuthRequired)
	}
	claims, err := s.tokens.Parse(ctx, token)
	if err != nil {
		return types.User{}, nil, err
	}
	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, nil, publicError(CodeUnauthenticated, MsgInvalidToken)
		}
		return types.User{}, nil, oops.Code("AUTH_SESSION_LOAD_FAILED").
			With("user_id", claims.Subject).
			Wrap(err)
	}
	if !user.IsActive {
		return types.User{}, nil, publicError(CodeUnauthenticated, MsgInvalidToken)
	}
	return user, claims, nil
}

// Refresh revokes the presented session and issues a replacement.
func (s *AuthService) Refresh(ctx context.Context, user types.User, claims *Claims) (string, error) {
	if err := s.tokens.Revoke(ctx, claims); err != nil {
		return "", err
	}
	return s.tokens.Issue(user)
}

// Logout revokes the session if the token is still valid. Invalid tokens are
// ignored: logging out never fails.
func (s *AuthService) Logout(ctx context.Context, token string, meta RequestMeta) {
	if strings.TrimSpace(token) == "" {
		return
	}
	claims, err := s.tokens.Parse(ctx, token)
	if err != nil {
		return
	}
	if err := s.tokens.Revoke(ctx, claims); err != nil {
		s.logger.WarnContext(ctx, "failed to revoke session", "error", err)
	}
	s.audit.Record(ctx, types.AuthEvent{
		Type:      types.EventLogout,
		Email:     claims.Email,
		UserID:    &claims.Subject,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
}

// startSession issues a session and stamps last_login_at on user.
func (s *AuthService) startSession(ctx context.Context, user *types.User) (string, error) {
	token, err := s.tokens.Issue(*user)
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.WarnContext(ctx, "failed to update last login", "user_id", user.ID, "error", err)
	} else {
		user.LastLoginAt = &now
	}
	return token, nil
}

func registerValidationError(err error) error {
	msg := "Invalid registration data"
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		switch fieldErrs[0].Field() {
		case "Email":
			msg = MsgInvalidEmail
		case "Password":
			msg = "Password must be at least 8 characters"
		case "Username":
			msg = "Username must be at least 3 characters"
		case "FirstName":
			msg = "First name is required"
		case "LastName":
			msg = "Last name is required"
		}
	}
	return oops.Code(CodeValidation).Public(msg).Wrap(err)
}

func (s *AuthService) validEmail(email string) bool {
	return s.validate.Var(email, "required,max=254,email") == nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newEvent(eventType types.AuthEventType, email string, user *types.User, meta RequestMeta, reason string) types.AuthEvent {
	event := types.AuthEvent{
		Type:      eventType,
		Email:     email,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Reason:    reason,
	}
	if user != nil && user.ID != "" {
		id := user.ID
		event.UserID = &id
	}
	return event
}
