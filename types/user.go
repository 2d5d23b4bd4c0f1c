package types

import "time"

// Role names understood by the CMS.
const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

// User represents an account in the CMS.
// It contains identity, role, and audit metadata.
type User struct {
	// ID is the unique identifier (UUID) of the user.
	ID string `json:"id" db:"id"`

	// Email is the user's email address, always stored lowercased.
	Email string `json:"email" db:"email"`

	// Username is the unique login name chosen by the user.
	Username string `json:"username" db:"username"`

	// FirstName is the user's given name.
	FirstName string `json:"firstName" db:"first_name"`

	// LastName is the user's family name.
	LastName string `json:"lastName" db:"last_name"`

	// Role indicates the user's authorization level
	// within the CMS ("viewer", "editor" or "admin").
	Role string `json:"role" db:"role"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// Users created through passwordless login have no hash.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// IsActive is false for deactivated accounts, which cannot sign in.
	IsActive bool `json:"isActive" db:"is_active"`

	// LastLoginAt is the timestamp of the most recent successful sign-in.
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty" db:"last_login_at"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
