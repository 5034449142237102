package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"officeflow.org/internal/auth"
)

func (s *Store) SetPendingMFASecret(ctx context.Context, id, secret string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update accounts set mfa_secret = $2, updated_at = now()
		where id = $1 and mfa_enabled = false
	`, id, secret)
	if err != nil {
		return err
	}
	if err := expectOne(res); err == nil {
		return nil
	}
	enabled, _, err := mfaState(ctx, s.db, id)
	if err != nil {
		return err
	}
	if enabled {
		return auth.ErrMFAAlreadyEnabled
	}
	return auth.ErrNotFound
}

func (s *Store) EnableMFA(ctx context.Context, id, secret string, codes []auth.BackupCode) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update accounts set mfa_enabled = true, updated_at = now()
		where id = $1 and mfa_enabled = false and mfa_secret = $2
	`, id, secret)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		enabled, hasSecret, err := mfaState(ctx, tx, id)
		switch {
		case err != nil:
			return err
		case enabled:
			return auth.ErrMFAAlreadyEnabled
		case !hasSecret:
			return auth.ErrMFASetupRequired
		}
		return auth.ErrMFASecretChanged
	}
	if err := replaceCodes(ctx, tx, id, codes); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) DisableMFA(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update accounts set mfa_enabled = false, mfa_secret = null, updated_at = now()
		where id = $1 and mfa_enabled = true
	`, id)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		if _, _, err := mfaState(ctx, tx, id); err != nil {
			return err
		}
		return auth.ErrMFANotEnabled
	}
	if _, err := tx.ExecContext(ctx, `delete from backup_codes where account_id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, id string, codes []auth.BackupCode) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var enabled bool
	err = tx.QueryRowContext(ctx, `select mfa_enabled from accounts where id = $1 for update`, id).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	if err != nil {
		return err
	}
	if !enabled {
		return auth.ErrMFANotEnabled
	}
	if err := replaceCodes(ctx, tx, id, codes); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ConsumeBackupCode(ctx context.Context, id, hash string, at time.Time) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update backup_codes set used = true, used_at = $3
		where account_id = $1 and code_hash = $2 and used = false
	`, id, hash, at.UTC())
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff == 1, nil
}

func (s *Store) BackupCodesRemaining(ctx context.Context, id string) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(b.code_hash)
		from accounts a
		left join backup_codes b on b.account_id = a.id and b.used = false
		where a.id = $1
		group by a.id
	`, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, auth.ErrNotFound
	}
	return n, err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// mfaState reports the MFA flag and whether a secret is stored.
func mfaState(ctx context.Context, q queryer, id string) (enabled, hasSecret bool, err error) {
	err = q.QueryRowContext(ctx, `
		select mfa_enabled, mfa_secret is not null from accounts where id = $1
	`, id).Scan(&enabled, &hasSecret)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, auth.ErrNotFound
	}
	return enabled, hasSecret, err
}

func replaceCodes(ctx context.Context, tx *sql.Tx, id string, codes []auth.BackupCode) error {
	if _, err := tx.ExecContext(ctx, `delete from backup_codes where account_id = $1`, id); err != nil {
		return err
	}
	for _, c := range codes {
		if _, err := tx.ExecContext(ctx, `
			insert into backup_codes (account_id, code_hash) values ($1, $2)
		`, id, c.Hash); err != nil {
			return err
		}
	}
	return nil
}
