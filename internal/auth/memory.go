package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"officeflow.org/internal/ids"
)

// MemoryStore implements Store with in-process concurrency safety.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	byEmail  map[string]string
	codes    map[string][]BackupCode
	now      func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		byEmail:  make(map[string]string),
		codes:    make(map[string][]BackupCode),
		now:      time.Now,
	}
}

func (s *MemoryStore) CreateAccount(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := normalizeEmail(a.Email)
	if _, ok := s.byEmail[email]; ok {
		return ErrDuplicateAccount
	}
	if a.ID == "" {
		a.ID = ids.New()
	}
	now := s.now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	a.Email = email
	s.accounts[a.ID] = a.Clone()
	s.byEmail[email] = a.ID
	return nil
}

func (s *MemoryStore) AccountByID(ctx context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return acc.Clone(), nil
}

func (s *MemoryStore) AccountByEmail(ctx context.Context, email string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.accounts[id].Clone(), nil
}

func (s *MemoryStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateAccount(ctx context.Context, id string, upd AccountUpdate) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Email != nil {
		email := normalizeEmail(*upd.Email)
		if owner, taken := s.byEmail[email]; taken && owner != id {
			return nil, ErrDuplicateAccount
		}
		delete(s.byEmail, acc.Email)
		s.byEmail[email] = id
		acc.Email = email
	}
	if upd.Name != nil {
		acc.Name = *upd.Name
	}
	if upd.PasswordChanged {
		acc.PasswordHash = upd.PasswordHash
	}
	if upd.Role != nil {
		acc.Role = *upd.Role
	}
	if upd.Permissions != nil {
		acc.Permissions = upd.Permissions.Clone()
	}
	if upd.Active != nil {
		acc.Active = *upd.Active
	}
	acc.UpdatedAt = s.now().UTC()
	return acc.Clone(), nil
}

func (s *MemoryStore) SavePermissions(ctx context.Context, id string, m Matrix) error {
	return s.mutate(id, func(acc *Account) error {
		acc.Permissions = m.Clone()
		return nil
	})
}

func (s *MemoryStore) IncrementFailedLogins(ctx context.Context, id string) (int, error) {
	var n int
	err := s.mutate(id, func(acc *Account) error {
		acc.FailedLogins++
		n = acc.FailedLogins
		return nil
	})
	return n, err
}

func (s *MemoryStore) ResetFailedLogins(ctx context.Context, id string) error {
	return s.mutate(id, func(acc *Account) error {
		acc.FailedLogins = 0
		return nil
	})
}

func (s *MemoryStore) RecordLogin(ctx context.Context, id string, at time.Time, m Matrix) error {
	return s.mutate(id, func(acc *Account) error {
		t := at.UTC()
		acc.LastLogin = &t
		acc.Permissions = m.Clone()
		return nil
	})
}

func (s *MemoryStore) SetPendingMFASecret(ctx context.Context, id, secret string) error {
	return s.mutate(id, func(acc *Account) error {
		if acc.MFAEnabled {
			return ErrMFAAlreadyEnabled
		}
		acc.MFASecret = secret
		return nil
	})
}

func (s *MemoryStore) EnableMFA(ctx context.Context, id, secret string, codes []BackupCode) error {
	return s.mutate(id, func(acc *Account) error {
		if acc.MFAEnabled {
			return ErrMFAAlreadyEnabled
		}
		if acc.MFASecret == "" {
			return ErrMFASetupRequired
		}
		if acc.MFASecret != secret {
			return ErrMFASecretChanged
		}
		acc.MFAEnabled = true
		s.codes[id] = cloneCodes(codes)
		return nil
	})
}

func (s *MemoryStore) DisableMFA(ctx context.Context, id string) error {
	return s.mutate(id, func(acc *Account) error {
		if !acc.MFAEnabled {
			return ErrMFANotEnabled
		}
		acc.MFAEnabled = false
		acc.MFASecret = ""
		delete(s.codes, id)
		return nil
	})
}

func (s *MemoryStore) ReplaceBackupCodes(ctx context.Context, id string, codes []BackupCode) error {
	return s.mutate(id, func(acc *Account) error {
		if !acc.MFAEnabled {
			return ErrMFANotEnabled
		}
		s.codes[id] = cloneCodes(codes)
		return nil
	})
}

func (s *MemoryStore) ConsumeBackupCode(ctx context.Context, id, hash string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return false, ErrNotFound
	}
	codes := s.codes[id]
	for i := range codes {
		if codes[i].Used || codes[i].Hash != hash {
			continue
		}
		t := at.UTC()
		codes[i].Used = true
		codes[i].UsedAt = &t
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) BackupCodesRemaining(ctx context.Context, id string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[id]; !ok {
		return 0, ErrNotFound
	}
	n := 0
	for _, c := range s.codes[id] {
		if !c.Used {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) SetResetToken(ctx context.Context, id, hash string, expires time.Time) error {
	return s.mutate(id, func(acc *Account) error {
		t := expires.UTC()
		acc.ResetTokenHash = hash
		acc.ResetTokenExpires = &t
		return nil
	})
}

func (s *MemoryStore) ConsumeResetToken(ctx context.Context, hash string, now time.Time, passwordHash string) (string, error) {
	if hash == "" {
		return "", ErrInvalidOrExpiredToken
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, acc := range s.accounts {
		if acc.ResetTokenHash != hash {
			continue
		}
		expired := acc.ResetTokenExpires == nil || !acc.ResetTokenExpires.After(now)
		acc.ResetTokenHash = ""
		acc.ResetTokenExpires = nil
		acc.UpdatedAt = s.now().UTC()
		if expired {
			return "", ErrInvalidOrExpiredToken
		}
		acc.PasswordHash = passwordHash
		acc.FailedLogins = 0
		return id, nil
	}
	return "", ErrInvalidOrExpiredToken
}

func (s *MemoryStore) mutate(id string, fn func(*Account) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(acc); err != nil {
		return err
	}
	acc.UpdatedAt = s.now().UTC()
	return nil
}

func cloneCodes(codes []BackupCode) []BackupCode {
	out := make([]BackupCode, len(codes))
	copy(out, codes)
	return out
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
