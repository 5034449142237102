package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"officeflow.org/internal/obs"
)

const (
	DefaultResetURLBase = "http://localhost:3000/reset-password"

	resetSubject = "Password Reset Request"
)

// Service orchestrates registration, login, MFA and password recovery on top
// of a Store. It holds no mutable state of its own.
type Service struct {
	store    Store
	tokens   *TokenIssuer
	hasher   *Hasher
	totp     *TOTP
	resets   *ResetTokens
	notifier Notifier
	lockout  LockoutPolicy
	logger   *zap.Logger
	now      func() time.Time

	resetTTL     time.Duration
	resetURLBase string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithHasher overrides the password hasher.
func WithHasher(h *Hasher) ServiceOption {
	return func(s *Service) error {
		if h != nil {
			s.hasher = h
		}
		return nil
	}
}

// WithTOTP overrides the TOTP engine.
func WithTOTP(t *TOTP) ServiceOption {
	return func(s *Service) error {
		if t != nil {
			s.totp = t
		}
		return nil
	}
}

// WithNotifier sets the collaborator that delivers reset links.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) error {
		if n != nil {
			s.notifier = n
		}
		return nil
	}
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// WithLockoutThreshold overrides the failed-login threshold.
func WithLockoutThreshold(n int) ServiceOption {
	return func(s *Service) error {
		if n <= 0 {
			return fmt.Errorf("lockout threshold must be positive, got %d", n)
		}
		s.lockout.Threshold = n
		return nil
	}
}

// WithResetTTL overrides the lifetime of password-reset tokens.
func WithResetTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.resetTTL = ttl
		}
		return nil
	}
}

// WithResetURLBase sets the front-end page the reset link points at.
func WithResetURLBase(base string) ServiceOption {
	return func(s *Service) error {
		base = strings.TrimSpace(base)
		if base == "" {
			return nil
		}
		if _, err := url.Parse(base); err != nil {
			return fmt.Errorf("invalid reset url base: %w", err)
		}
		s.resetURLBase = base
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, tokens *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	svc := &Service{
		store:        store,
		tokens:       tokens,
		hasher:       NewHasher(DefaultHasherParams),
		totp:         NewTOTP(DefaultTOTPIssuer),
		resets:       NewResetTokens(extractSecret(tokens)),
		lockout:      LockoutPolicy{Threshold: DefaultLockoutThreshold},
		logger:       zap.NewNop(),
		now:          time.Now,
		resetTTL:     DefaultResetTokenTTL,
		resetURLBase: DefaultResetURLBase,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.notifier == nil {
		svc.notifier = NewLogNotifier(svc.logger)
	}
	return svc, nil
}

// RegisterInput is the payload of Register.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// Register creates an account with the role's default permissions and
// immediately issues a session.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	name, err := validateName(in.Name)
	if err != nil {
		return nil, err
	}
	email, err := validateEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	role, err := ParseRole(in.Role)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.AccountByEmail(ctx, email); err == nil {
		return nil, ErrDuplicateAccount
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	acc := &Account{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Permissions:  DefaultsFor(role),
		Active:       true,
	}
	if err := s.store.CreateAccount(ctx, acc); err != nil {
		return nil, err
	}
	return s.issueSession(acc)
}

// LoginInput is the payload of Login.
type LoginInput struct {
	Email    string
	Password string
	MFAToken string
}

// Login runs the credential check, lockout and MFA state machine.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		s.hasher.Burn(in.Password)
		obs.LoginOutcome("invalid_credentials")
		return nil, ErrInvalidCredentials
	}
	acc, err := s.store.AccountByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.hasher.Burn(in.Password)
		obs.LoginOutcome("invalid_credentials")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !acc.Active {
		obs.LoginOutcome("inactive")
		return nil, ErrAccountInactive
	}
	if s.lockout.Locked(acc.FailedLogins) {
		s.hasher.Burn(in.Password)
		obs.LoginOutcome("locked")
		return nil, ErrAccountLocked
	}
	if !s.hasher.Verify(in.Password, acc.PasswordHash) {
		// Concurrent failures may over- or under-count by one; accepted.
		if _, err := s.store.IncrementFailedLogins(ctx, acc.ID); err != nil {
			return nil, err
		}
		obs.LoginOutcome("invalid_credentials")
		return nil, ErrInvalidCredentials
	}
	if err := s.store.ResetFailedLogins(ctx, acc.ID); err != nil {
		return nil, err
	}
	acc.FailedLogins = 0

	factor := factorNone
	if acc.MFAEnabled {
		token := strings.TrimSpace(in.MFAToken)
		if token == "" {
			obs.LoginOutcome("mfa_required")
			return &LoginResult{MFARequired: true, AccountID: acc.ID}, nil
		}
		factor, err = s.checkSecondFactor(ctx, acc, token)
		if err != nil {
			return nil, err
		}
		if factor == factorNone {
			obs.LoginOutcome("invalid_mfa")
			return nil, ErrInvalidMFAToken
		}
	}

	now := s.now().UTC()
	perms := Normalize(acc.Permissions, acc.Role)
	if err := s.store.RecordLogin(ctx, acc.ID, now, perms); err != nil {
		return nil, err
	}
	acc.LastLogin = &now
	acc.Permissions = perms
	session, err := s.issueSession(acc)
	if err != nil {
		return nil, err
	}
	obs.LoginOutcome("success")
	return &LoginResult{Session: session, AccountID: acc.ID, BackupCodeUsed: factor == factorBackupCode}, nil
}

type secondFactor int

const (
	factorNone secondFactor = iota
	factorTOTP
	factorBackupCode
)

// checkSecondFactor accepts a live TOTP code or burns an unused backup code.
func (s *Service) checkSecondFactor(ctx context.Context, acc *Account, token string) (secondFactor, error) {
	now := s.now()
	if s.totp.Verify(acc.MFASecret, token, now) {
		return factorTOTP, nil
	}
	if CanonicalBackupCode(token) == "" {
		return factorNone, nil
	}
	used, err := s.store.ConsumeBackupCode(ctx, acc.ID, HashBackupCode(acc.ID, token), now.UTC())
	if err != nil {
		return factorNone, err
	}
	if !used {
		return factorNone, nil
	}
	obs.MFAEvent("backup_code_used")
	s.logger.Info("backup code consumed", zap.String("account_id", acc.ID))
	return factorBackupCode, nil
}

// Authenticate resolves a bearer token to its active account.
func (s *Service) Authenticate(ctx context.Context, token string) (*Account, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, ErrInvalidSessionToken
	}
	acc, err := s.store.AccountByID(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidSessionToken
	}
	if err != nil {
		return nil, err
	}
	if !acc.Active {
		return nil, ErrAccountInactive
	}
	return acc, nil
}

// Authorize returns the account's normalized matrix, or ErrForbidden when it
// lacks module/action. Unknown pairs are always denied.
func (s *Service) Authorize(acc *Account, module, action string) (Matrix, error) {
	if acc == nil {
		return nil, ErrInvalidSessionToken
	}
	perms := Normalize(acc.Permissions, acc.Role)
	if !perms.Allows(module, action) {
		return perms, ErrForbidden
	}
	return perms, nil
}

// Profile loads the account, normalizes its matrix and persists the result.
func (s *Service) Profile(ctx context.Context, id string) (*Account, error) {
	acc, err := s.store.AccountByID(ctx, id)
	if err != nil {
		return nil, err
	}
	perms := Normalize(acc.Permissions, acc.Role)
	if err := s.store.SavePermissions(ctx, id, perms); err != nil {
		return nil, err
	}
	acc.Permissions = perms
	return acc, nil
}

// ProfileUpdate is the payload of UpdateProfile. Blank values are ignored.
type ProfileUpdate struct {
	Name     string
	Email    string
	Password string
}

// UpdateProfile applies a self-service update. The password is re-hashed
// only when a new one is supplied.
func (s *Service) UpdateProfile(ctx context.Context, id string, in ProfileUpdate) (*Account, error) {
	var upd AccountUpdate
	if strings.TrimSpace(in.Name) != "" {
		name, err := validateName(in.Name)
		if err != nil {
			return nil, err
		}
		upd.Name = &name
	}
	if strings.TrimSpace(in.Email) != "" {
		email, err := s.availableEmail(ctx, id, in.Email)
		if err != nil {
			return nil, err
		}
		upd.Email = &email
	}
	if in.Password != "" {
		if err := validatePassword(in.Password); err != nil {
			return nil, err
		}
		hash, err := s.hasher.Hash(in.Password)
		if err != nil {
			return nil, err
		}
		upd.PasswordChanged = true
		upd.PasswordHash = hash
	}
	if upd.Empty() {
		return s.store.AccountByID(ctx, id)
	}
	return s.store.UpdateAccount(ctx, id, upd)
}

// SetupMFA generates a fresh secret and stores it unconfirmed.
func (s *Service) SetupMFA(ctx context.Context, id string) (Enrollment, error) {
	acc, err := s.store.AccountByID(ctx, id)
	if err != nil {
		return Enrollment{}, err
	}
	if acc.MFAEnabled {
		return Enrollment{}, ErrMFAAlreadyEnabled
	}
	enrollment, err := s.totp.Enroll(fmt.Sprintf("%s (%s)", acc.Name, acc.Email))
	if err != nil {
		return Enrollment{}, err
	}
	if err := s.store.SetPendingMFASecret(ctx, id, enrollment.Secret); err != nil {
		return Enrollment{}, err
	}
	obs.MFAEvent("setup")
	return enrollment, nil
}

// VerifyMFASetup confirms the pending secret with a live code, enables MFA
// and returns the first batch of backup codes.
func (s *Service) VerifyMFASetup(ctx context.Context, id, code string) ([]string, error) {
	acc, err := s.store.AccountByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if acc.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}
	if acc.MFASecret == "" {
		return nil, ErrMFASetupRequired
	}
	if !s.totp.Verify(acc.MFASecret, code, s.now()) {
		return nil, ErrInvalidVerificationCode
	}
	plain, records, err := GenerateBackupCodes(acc.ID, BackupCodeCount)
	if err != nil {
		return nil, err
	}
	if err := s.store.EnableMFA(ctx, id, acc.MFASecret, records); err != nil {
		return nil, err
	}
	obs.MFAEvent("enabled")
	return plain, nil
}

// DisableMFA turns MFA off and discards the secret and backup codes.
func (s *Service) DisableMFA(ctx context.Context, id string) error {
	acc, err := s.store.AccountByID(ctx, id)
	if err != nil {
		return err
	}
	if !acc.MFAEnabled {
		return ErrMFANotEnabled
	}
	if err := s.store.DisableMFA(ctx, id); err != nil {
		return err
	}
	obs.MFAEvent("disabled")
	return nil
}

// RegenerateBackupCodes replaces the backup codes after re-checking password.
func (s *Service) RegenerateBackupCodes(ctx context.Context, id, password string) ([]string, error) {
	acc, err := s.store.AccountByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !acc.MFAEnabled {
		return nil, ErrMFANotEnabled
	}
	if !s.hasher.Verify(password, acc.PasswordHash) {
		return nil, ErrInvalidPassword
	}
	plain, records, err := GenerateBackupCodes(acc.ID, BackupCodeCount)
	if err != nil {
		return nil, err
	}
	if err := s.store.ReplaceBackupCodes(ctx, id, records); err != nil {
		return nil, err
	}
	obs.MFAEvent("regenerated")
	return plain, nil
}

// BackupCodesRemaining counts the unused backup codes of an account.
func (s *Service) BackupCodesRemaining(ctx context.Context, id string) (int, error) {
	return s.store.BackupCodesRemaining(ctx, id)
}

// RequestPasswordReset issues a reset token for email when an account exists
// and hands the link to the notifier. It never reports failure to the caller.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) {
	obs.PasswordReset("requested")
	email = normalizeEmail(email)
	if email == "" {
		return
	}
	acc, err := s.store.AccountByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("password reset lookup failed", zap.Error(err))
		}
		return
	}
	token, hash, err := s.resets.New()
	if err != nil {
		s.logger.Error("password reset token generation failed", zap.Error(err))
		return
	}
	expires := s.now().UTC().Add(s.resetTTL)
	if err := s.store.SetResetToken(ctx, acc.ID, hash, expires); err != nil {
		s.logger.Error("password reset token store failed", zap.String("account_id", acc.ID), zap.Error(err))
		return
	}
	body := fmt.Sprintf(
		"You requested a password reset. Open the link below within %s to choose a new password:\n\n%s\n\nIf you did not request this, you can ignore this message.",
		s.resetTTL, s.resetLink(token),
	)
	if err := s.notifier.Send(ctx, acc.Email, resetSubject, body); err != nil {
		s.logger.Warn("password reset notification failed", zap.String("account_id", acc.ID), zap.Error(err))
	}
}

// ResetPassword consumes a reset token and sets a new password. It returns
// the id of the account whose password changed.
func (s *Service) ResetPassword(ctx context.Context, token, password string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		obs.PasswordReset("rejected")
		return "", ErrInvalidOrExpiredToken
	}
	if err := validatePassword(password); err != nil {
		return "", err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", err
	}
	id, err := s.store.ConsumeResetToken(ctx, s.resets.Hash(token), s.now().UTC(), hash)
	if err != nil {
		if errors.Is(err, ErrInvalidOrExpiredToken) {
			obs.PasswordReset("rejected")
		}
		return "", err
	}
	obs.PasswordReset("completed")
	return id, nil
}

// ListAccounts returns every account.
func (s *Service) ListAccounts(ctx context.Context) ([]*Account, error) {
	return s.store.ListAccounts(ctx)
}

// Account loads one account by id.
func (s *Service) Account(ctx context.Context, id string) (*Account, error) {
	return s.store.AccountByID(ctx, id)
}

// AdminUpdate is the payload of UpdateAccount. Nil fields are left untouched.
type AdminUpdate struct {
	Name        *string
	Email       *string
	Role        *string
	Permissions Matrix
	Active      *bool
}

// UpdateAccount applies an administrator update. A role change rebuilds the
// matrix from the new role's defaults and the overrides sent alongside it.
func (s *Service) UpdateAccount(ctx context.Context, id string, in AdminUpdate) (*Account, error) {
	acc, err := s.store.AccountByID(ctx, id)
	if err != nil {
		return nil, err
	}
	var upd AccountUpdate
	if in.Name != nil {
		name, err := validateName(*in.Name)
		if err != nil {
			return nil, err
		}
		upd.Name = &name
	}
	if in.Email != nil {
		email, err := s.availableEmail(ctx, id, *in.Email)
		if err != nil {
			return nil, err
		}
		upd.Email = &email
	}
	if in.Permissions != nil {
		if err := validateMatrix(in.Permissions); err != nil {
			return nil, err
		}
	}
	role := acc.Role
	if in.Role != nil {
		if strings.TrimSpace(*in.Role) == "" {
			return nil, fmt.Errorf("%w: role must not be empty", ErrValidation)
		}
		parsed, err := ParseRole(*in.Role)
		if err != nil {
			return nil, err
		}
		role = parsed
		upd.Role = &role
	}
	switch {
	case role != acc.Role:
		upd.Permissions = Normalize(in.Permissions, role)
	case in.Permissions != nil:
		upd.Permissions = Normalize(in.Permissions, role)
	}
	if in.Active != nil {
		active := *in.Active
		upd.Active = &active
	}
	if upd.Empty() {
		return acc, nil
	}
	return s.store.UpdateAccount(ctx, id, upd)
}

// Unlock clears the failed-login counter of an account.
func (s *Service) Unlock(ctx context.Context, id string) (*Account, error) {
	if err := s.store.ResetFailedLogins(ctx, id); err != nil {
		return nil, err
	}
	return s.store.AccountByID(ctx, id)
}

// EnsureAdmin creates an administrator with email unless one already exists.
func (s *Service) EnsureAdmin(ctx context.Context, name, email, password string) (bool, error) {
	email, err := validateEmail(email)
	if err != nil {
		return false, err
	}
	if _, err := s.store.AccountByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	if strings.TrimSpace(name) == "" {
		name = "Administrator"
	}
	_, err = s.Register(ctx, RegisterInput{Name: name, Email: email, Password: password, Role: string(RoleAdmin)})
	if errors.Is(err, ErrDuplicateAccount) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) availableEmail(ctx context.Context, id, raw string) (string, error) {
	email, err := validateEmail(raw)
	if err != nil {
		return "", err
	}
	existing, err := s.store.AccountByEmail(ctx, email)
	switch {
	case err == nil && existing.ID != id:
		return "", ErrDuplicateAccount
	case err != nil && !errors.Is(err, ErrNotFound):
		return "", err
	}
	return email, nil
}

func (s *Service) issueSession(acc *Account) (*Session, error) {
	token, expires, err := s.tokens.Issue(acc.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredential, err)
	}
	return &Session{Account: acc, Token: token, ExpiresAt: expires}, nil
}

func (s *Service) resetLink(token string) string {
	sep := "?"
	if strings.Contains(s.resetURLBase, "?") {
		sep = "&"
	}
	return s.resetURLBase + sep + "token=" + url.QueryEscape(token)
}
