package auth

import "errors"

var (
	ErrValidation              = errors.New("validation failed")
	ErrDuplicateAccount        = errors.New("account already exists")
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrAccountInactive         = errors.New("account is inactive")
	ErrAccountLocked           = errors.New("account is locked")
	ErrInvalidMFAToken         = errors.New("invalid mfa token")
	ErrMFAAlreadyEnabled       = errors.New("mfa already enabled")
	ErrMFANotEnabled           = errors.New("mfa not enabled")
	ErrMFASetupRequired        = errors.New("mfa setup required")
	ErrInvalidVerificationCode = errors.New("invalid verification code")
	ErrMFASecretChanged        = errors.New("mfa secret changed during setup")
	ErrInvalidOrExpiredToken   = errors.New("invalid or expired reset token")
	ErrInvalidPassword         = errors.New("invalid password")
	ErrInvalidSessionToken     = errors.New("invalid session token")
	ErrForbidden               = errors.New("forbidden")
	ErrNotFound                = errors.New("account not found")

	// ErrCredential reports a failure of the hashing engine or the random source.
	ErrCredential = errors.New("credential processing failed")
)
