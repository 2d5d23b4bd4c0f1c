package types

// AuthSettings is the administrator-tunable authentication configuration,
// persisted as a single JSON document.
type AuthSettings struct {
	Registration RegistrationSettings `json:"registration"`
	OTP          OTPSettings          `json:"otp"`
	MagicLink    MagicLinkSettings    `json:"magicLink"`
}

type RegistrationSettings struct {
	Enabled bool `json:"enabled"`

	// DefaultRole is informational; self-registered users are always viewers.
	DefaultRole string `json:"defaultRole" validate:"omitempty,eq=viewer"`
}

type OTPSettings struct {
	CodeLength               int  `json:"codeLength" validate:"min=4,max=8"`
	CodeExpiryMinutes        int  `json:"codeExpiryMinutes" validate:"min=5,max=60"`
	MaxAttempts              int  `json:"maxAttempts" validate:"min=3,max=10"`
	RateLimitPerHour         int  `json:"rateLimitPerHour" validate:"min=3,max=20"`
	AllowNewUserRegistration bool `json:"allowNewUserRegistration"`
}

type MagicLinkSettings struct {
	LinkExpiryMinutes int `json:"linkExpiryMinutes" validate:"min=5,max=60"`
	RateLimitPerHour  int `json:"rateLimitPerHour" validate:"min=3,max=20"`
}

// DefaultAuthSettings returns the settings used when none have been saved.
func DefaultAuthSettings() AuthSettings {
	return AuthSettings{
		Registration: RegistrationSettings{
			Enabled:     true,
			DefaultRole: RoleViewer,
		},
		OTP: OTPSettings{
			CodeLength:        6,
			CodeExpiryMinutes: 10,
			MaxAttempts:       3,
			RateLimitPerHour:  5,
		},
		MagicLink: MagicLinkSettings{
			LinkExpiryMinutes: 15,
			RateLimitPerHour:  5,
		},
	}
}
