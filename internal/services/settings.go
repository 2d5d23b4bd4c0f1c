package services

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/headless-cms/authserver/internal/store"
	"github.com/headless-cms/authserver/types"
	"github.com/samber/oops"
)

// AuthSettingsKey is the settings row holding types.AuthSettings.
const AuthSettingsKey = "auth"

// SettingsRepository stores JSON documents by key.
type SettingsRepository interface {
	Get(ctx context.Context, key string, dst any) error
	Put(ctx context.Context, key string, value any) error
}

// SettingsService reads and updates the administrator-tunable auth settings.
type SettingsService struct {
	repo     SettingsRepository
	validate *validator.Validate
}

func NewSettingsService(repo SettingsRepository) *SettingsService {
	return &SettingsService{repo: repo, validate: validator.New()}
}

// Auth returns the saved settings layered over the defaults.
func (s *SettingsService) Auth(ctx context.Context) (types.AuthSettings, error) {
	settings := types.DefaultAuthSettings()
	if err := s.repo.Get(ctx, AuthSettingsKey, &settings); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.DefaultAuthSettings(), nil
		}
		return types.AuthSettings{}, oops.Code("AUTH_SETTINGS_LOAD_FAILED").
			With("key", AuthSettingsKey).
			Wrap(err)
	}
	settings.Registration.DefaultRole = types.RoleViewer
	return settings, nil
}

// UpdateAuth validates and saves new settings.
func (s *SettingsService) UpdateAuth(ctx context.Context, settings types.AuthSettings) (types.AuthSettings, error) {
	if settings.Registration.DefaultRole == "" {
		settings.Registration.DefaultRole = types.RoleViewer
	}
	if err := s.validate.Struct(settings); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			msg := settingsMessage(fieldErrs[0])
			return types.AuthSettings{}, oops.Code(CodeValidation).Public(msg).Wrap(err)
		}
		return types.AuthSettings{}, oops.Code(CodeValidation).Public("Invalid settings").Wrap(err)
	}
	if err := s.repo.Put(ctx, AuthSettingsKey, settings); err != nil {
		return types.AuthSettings{}, oops.Code("AUTH_SETTINGS_SAVE_FAILED").
			With("key", AuthSettingsKey).
			Wrap(err)
	}
	return settings, nil
}

func settingsMessage(fe validator.FieldError) string {
	switch fe.StructNamespace() {
	case "AuthSettings.Registration.DefaultRole":
		return "Default role must be viewer"
	case "AuthSettings.OTP.CodeLength":
		return "Code length must be between 4 and 8"
	case "AuthSettings.OTP.CodeExpiryMinutes":
		return "Code expiry must be between 5 and 60 minutes"
	case "AuthSettings.OTP.MaxAttempts":
		return "Max attempts must be between 3 and 10"
	case "AuthSettings.OTP.RateLimitPerHour", "AuthSettings.MagicLink.RateLimitPerHour":
		return "Rate limit must be between 3 and 20 requests per hour"
	case "AuthSettings.MagicLink.LinkExpiryMinutes":
		return "Link expiry must be between 5 and 60 minutes"
	default:
		return "Invalid settings"
	}
}
