package types

import "time"

// MagicLink is a single-use sign-in link token. The plaintext token is only
// ever sent to the user; the store keeps its SHA-256 digest.
type MagicLink struct {
	ID        string     `json:"id" db:"id"`
	UserEmail string     `json:"userEmail" db:"user_email"`
	TokenHash string     `json:"-" db:"token_hash"`
	ExpiresAt time.Time  `json:"expiresAt" db:"expires_at"`
	Used      bool       `json:"used" db:"used"`
	UsedAt    *time.Time `json:"usedAt,omitempty" db:"used_at"`
	IPAddress string     `json:"ipAddress,omitempty" db:"ip_address"`
	UserAgent string     `json:"userAgent,omitempty" db:"user_agent"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
}
