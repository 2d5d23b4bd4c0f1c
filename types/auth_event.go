package types

import "time"

// AuthEventType names an auditable authentication event.
type AuthEventType string

const (
	EventLoginSuccess       AuthEventType = "login.success"
	EventLoginFailure       AuthEventType = "login.failure"
	EventRegister           AuthEventType = "register"
	EventLogout             AuthEventType = "logout"
	EventOTPRequested       AuthEventType = "otp.requested"
	EventOTPVerified        AuthEventType = "otp.verified"
	EventOTPFailed          AuthEventType = "otp.failed"
	EventMagicLinkRequested AuthEventType = "magic_link.requested"
	EventMagicLinkVerified  AuthEventType = "magic_link.verified"
	EventMagicLinkFailed    AuthEventType = "magic_link.failed"
)

// AuthEvent is one row of the authentication audit trail.
type AuthEvent struct {
	ID        int64         `json:"id" db:"id"`
	Type      AuthEventType `json:"type" db:"event_type"`
	Email     string        `json:"email" db:"email"`
	UserID    *string       `json:"userId,omitempty" db:"user_id"`
	IPAddress string        `json:"ipAddress,omitempty" db:"ip_address"`
	UserAgent string        `json:"userAgent,omitempty" db:"user_agent"`
	Reason    string        `json:"reason,omitempty" db:"reason"`
	CreatedAt time.Time     `json:"createdAt" db:"created_at"`
}
