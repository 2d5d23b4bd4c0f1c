package services

import (
	"github.com/samber/oops"
)

// Error codes carried by service errors. Handlers translate them to HTTP
// statuses; anything without a known code is an internal failure.
const (
	CodeValidation           = "AUTH_VALIDATION"
	CodeInvalidCredentials   = "AUTH_INVALID_CREDENTIALS"
	CodeUnauthenticated      = "AUTH_UNAUTHENTICATED"
	CodeForbidden            = "AUTH_FORBIDDEN"
	CodeRateLimited          = "AUTH_RATE_LIMITED"
	CodeNotFound             = "AUTH_NOT_FOUND"
	CodeConflict             = "AUTH_CONFLICT"
	CodeRegistrationDisabled = "AUTH_REGISTRATION_DISABLED"
)

// Public messages. These strings are part of the HTTP contract.
const (
	MsgInvalidCredentials   = "Invalid email or password"
	MsgLoginRateLimited     = "Too many login attempts. Please try again later."
	MsgUserExists           = "User with this email or username already exists"
	MsgRegistrationDisabled = "Registration is currently disabled"
	MsgAuthRequired         = "Authentication required"
	MsgInvalidToken         = "Invalid or expired token"
	MsgAccountDeactivated   = "Account is deactivated"

	MsgOTPSent           = "If an account exists for this email, you will receive a verification code shortly."
	MsgOTPRateLimited    = "Too many requests. Please try again in an hour."
	MsgOTPInvalidOrGone  = "Invalid or expired code"
	MsgOTPExpired        = "Code has expired"
	MsgOTPExhausted      = "Maximum attempts exceeded"
	MsgOTPInvalid        = "Invalid code"
	MsgOTPAuthenticated  = "Authentication successful"
	MsgMagicLinkSent     = "If an account exists for this email, you will receive a magic link shortly."
	MsgMagicRateLimited  = "Too many requests. Please try again later."
	MsgMagicLinkInvalid  = "Invalid or expired magic link"
	MsgMagicLinkMissing  = "Invalid magic link"
	MsgInvalidEmail      = "Valid email is required"
	MsgInvalidCodeFormat = "Code must be 4 to 8 digits"
)

// ctxAttemptsRemaining is the oops context key holding the OTP attempts left.
const ctxAttemptsRemaining = "attempts_remaining"

func publicError(code, message string) error {
	return oops.Code(code).Public(message).New(message)
}

// ErrorCode returns the oops code carried by err, or "" when it has none.
func ErrorCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// PublicMessage returns the user-safe message attached to err, or fallback.
func PublicMessage(err error, fallback string) string {
	return oops.GetPublic(err, fallback)
}

// AttemptsRemaining returns the OTP attempts left when err carries them.
func AttemptsRemaining(err error) (int, bool) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return 0, false
	}
	remaining, ok := oopsErr.Context()[ctxAttemptsRemaining].(int)
	return remaining, ok
}
