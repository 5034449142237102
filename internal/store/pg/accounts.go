package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"officeflow.org/internal/auth"
	"officeflow.org/internal/ids"
)

const accountColumns = `id, name, email, password_hash, role, permissions, is_active, last_login,
	failed_logins, mfa_enabled, mfa_secret, reset_token_hash, reset_token_expires, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*auth.Account, error) {
	var (
		acc          auth.Account
		role         string
		rawPerms     []byte
		lastLogin    sql.NullTime
		mfaSecret    sql.NullString
		resetHash    sql.NullString
		resetExpires sql.NullTime
	)
	err := row.Scan(
		&acc.ID, &acc.Name, &acc.Email, &acc.PasswordHash, &role, &rawPerms, &acc.Active, &lastLogin,
		&acc.FailedLogins, &acc.MFAEnabled, &mfaSecret, &resetHash, &resetExpires, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	acc.Role = auth.Role(role)
	acc.Permissions = auth.Matrix{}
	if len(rawPerms) > 0 {
		if err := json.Unmarshal(rawPerms, &acc.Permissions); err != nil {
			return nil, fmt.Errorf("decode permissions: %w", err)
		}
	}
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		acc.LastLogin = &t
	}
	acc.MFASecret = mfaSecret.String
	acc.ResetTokenHash = resetHash.String
	if resetExpires.Valid {
		t := resetExpires.Time.UTC()
		acc.ResetTokenExpires = &t
	}
	return &acc, nil
}

func encodeMatrix(m auth.Matrix) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal permissions: %w", err)
	}
	return raw, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *auth.Account) error {
	if s.db == nil {
		return errNoDB
	}
	if a.ID == "" {
		a.ID = ids.New()
	}
	a.Email = auth.NormalizeEmail(a.Email)
	perms, err := encodeMatrix(a.Permissions)
	if err != nil {
		return err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into accounts (id, name, email, password_hash, role, permissions, is_active)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning created_at, updated_at
	`, a.ID, a.Name, a.Email, a.PasswordHash, string(a.Role), perms, a.Active)
	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return auth.ErrDuplicateAccount
		}
		return err
	}
	return nil
}

func (s *Store) AccountByID(ctx context.Context, id string) (*auth.Account, error) {
	return s.accountWhere(ctx, "id = $1", id)
}

func (s *Store) AccountByEmail(ctx context.Context, email string) (*auth.Account, error) {
	return s.accountWhere(ctx, "email = $1", auth.NormalizeEmail(email))
}

func (s *Store) accountWhere(ctx context.Context, cond string, arg any) (*auth.Account, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where `+cond, arg)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]*auth.Account, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+accountColumns+` from accounts order by created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateAccount(ctx context.Context, id string, upd auth.AccountUpdate) (*auth.Account, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	add := func(column string, value any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, value)
		idx++
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Email != nil {
		add("email", auth.NormalizeEmail(*upd.Email))
	}
	if upd.PasswordChanged {
		add("password_hash", upd.PasswordHash)
	}
	if upd.Role != nil {
		add("role", string(*upd.Role))
	}
	if upd.Permissions != nil {
		perms, err := encodeMatrix(upd.Permissions)
		if err != nil {
			return nil, err
		}
		add("permissions", perms)
	}
	if upd.Active != nil {
		add("is_active", *upd.Active)
	}
	if len(setClauses) == 0 {
		return s.AccountByID(ctx, id)
	}
	setClauses = append(setClauses, "updated_at = now()")
	query := fmt.Sprintf(`update accounts set %s where id = $%d returning %s`, strings.Join(setClauses, ", "), idx, accountColumns)
	args = append(args, id)

	acc, err := scanAccount(s.db.QueryRowContext(ctx, query, args...))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, auth.ErrNotFound
	case isUniqueViolation(err):
		return nil, auth.ErrDuplicateAccount
	case err != nil:
		return nil, err
	}
	return acc, nil
}

func (s *Store) SavePermissions(ctx context.Context, id string, m auth.Matrix) error {
	if s.db == nil {
		return errNoDB
	}
	perms, err := encodeMatrix(m)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `update accounts set permissions = $2, updated_at = now() where id = $1`, id, perms)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) IncrementFailedLogins(ctx context.Context, id string) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	var n int
	err := s.db.QueryRowContext(ctx, `
		update accounts set failed_logins = failed_logins + 1, updated_at = now()
		where id = $1
		returning failed_logins
	`, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, auth.ErrNotFound
	}
	return n, err
}

func (s *Store) ResetFailedLogins(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `update accounts set failed_logins = 0, updated_at = now() where id = $1`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) RecordLogin(ctx context.Context, id string, at time.Time, m auth.Matrix) error {
	if s.db == nil {
		return errNoDB
	}
	perms, err := encodeMatrix(m)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update accounts set last_login = $2, permissions = $3, updated_at = now()
		where id = $1
	`, id, at.UTC(), perms)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) SetResetToken(ctx context.Context, id, hash string, expires time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update accounts set reset_token_hash = $2, reset_token_expires = $3, updated_at = now()
		where id = $1
	`, id, hash, expires.UTC())
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) ConsumeResetToken(ctx context.Context, hash string, now time.Time, passwordHash string) (string, error) {
	if s.db == nil {
		return "", errNoDB
	}
	if hash == "" {
		return "", auth.ErrInvalidOrExpiredToken
	}
	var id string
	err := s.db.QueryRowContext(ctx, `
		update accounts
		set password_hash = $3, failed_logins = 0, reset_token_hash = null, reset_token_expires = null, updated_at = now()
		where reset_token_hash = $1 and reset_token_expires > $2
		returning id
	`, hash, now.UTC(), passwordHash).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	// Expired tokens are cleared so they cannot linger.
	if _, err := s.db.ExecContext(ctx, `
		update accounts set reset_token_hash = null, reset_token_expires = null, updated_at = now()
		where reset_token_hash = $1
	`, hash); err != nil {
		return "", err
	}
	return "", auth.ErrInvalidOrExpiredToken
}
