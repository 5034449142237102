package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
// Every method that guards a state transition must apply it atomically.
type Store interface {
	AccountStore
	MFAStore
	ResetStore
}

// AccountStore manages account records.
type AccountStore interface {
	// CreateAccount inserts a; a duplicate email yields ErrDuplicateAccount.
	CreateAccount(ctx context.Context, a *Account) error
	AccountByID(ctx context.Context, id string) (*Account, error)
	AccountByEmail(ctx context.Context, email string) (*Account, error)
	ListAccounts(ctx context.Context) ([]*Account, error)
	UpdateAccount(ctx context.Context, id string, upd AccountUpdate) (*Account, error)
	SavePermissions(ctx context.Context, id string, m Matrix) error

	// IncrementFailedLogins bumps the lockout counter and returns the new value.
	IncrementFailedLogins(ctx context.Context, id string) (int, error)
	ResetFailedLogins(ctx context.Context, id string) error
	RecordLogin(ctx context.Context, id string, at time.Time, m Matrix) error
}

// MFAStore manages TOTP secrets and backup codes.
type MFAStore interface {
	// SetPendingMFASecret stores secret while MFA is still disabled.
	SetPendingMFASecret(ctx context.Context, id, secret string) error
	// EnableMFA flips the flag and replaces backup codes in one step, only
	// while the pending secret still equals secret.
	EnableMFA(ctx context.Context, id, secret string, codes []BackupCode) error
	DisableMFA(ctx context.Context, id string) error
	ReplaceBackupCodes(ctx context.Context, id string, codes []BackupCode) error
	// ConsumeBackupCode burns an unused code; false means no unused match.
	ConsumeBackupCode(ctx context.Context, id, hash string, at time.Time) (bool, error)
	BackupCodesRemaining(ctx context.Context, id string) (int, error)
}

// ResetStore manages password-reset tokens.
type ResetStore interface {
	SetResetToken(ctx context.Context, id, hash string, expires time.Time) error
	// ConsumeResetToken swaps the password of the account holding an unexpired
	// token matching hash, clearing the token and the lockout counter. It
	// returns the account id or ErrInvalidOrExpiredToken.
	ConsumeResetToken(ctx context.Context, hash string, now time.Time, passwordHash string) (string, error)
}
