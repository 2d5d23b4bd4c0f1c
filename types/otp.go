package types

import "time"

// OTPCode is a one-time numeric login code issued to an email address.
// Only a keyed hash of the code is persisted.
type OTPCode struct {
	ID          string     `json:"id" db:"id"`
	UserEmail   string     `json:"userEmail" db:"user_email"`
	CodeHash    string     `json:"-" db:"code_hash"`
	ExpiresAt   time.Time  `json:"expiresAt" db:"expires_at"`
	Attempts    int        `json:"attempts" db:"attempts"`
	MaxAttempts int        `json:"maxAttempts" db:"max_attempts"`
	Used        bool       `json:"used" db:"used"`
	UsedAt      *time.Time `json:"usedAt,omitempty" db:"used_at"`
	IPAddress   string     `json:"ipAddress,omitempty" db:"ip_address"`
	UserAgent   string     `json:"userAgent,omitempty" db:"user_agent"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
}

// AttemptsRemaining returns how many verification attempts are left.
func (c OTPCode) AttemptsRemaining() int {
	remaining := c.MaxAttempts - c.Attempts
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Exhausted reports whether the attempt budget is spent.
func (c OTPCode) Exhausted() bool {
	return c.Attempts >= c.MaxAttempts
}

// Expired reports whether the code is past its expiry at the given instant.
func (c OTPCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
