package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/storefront-auth/internal/apperror"
	"github.com/sakif/storefront-auth/internal/model"
	"github.com/sakif/storefront-auth/internal/repository"
)

var (
	_ repository.AccountStore = (*DB)(nil)
	_ repository.OrphanStore  = (*DB)(nil)
)

// CreateAccount inserts a credential record and fills in ID and CreatedAt.
// A duplicate email comes back as *apperror.UniqueViolation{Field: "email"}.
func (db *DB) CreateAccount(ctx context.Context, a *model.Account) error {
	a.ID = xid.New().String()
	a.CreatedAt = time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO accounts (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		a.ID, a.Email, a.PasswordHash, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating account: %w", translateConstraint(err))
	}

	return nil
}

// GetAccountByID returns apperror.ErrNotFound if no account has that ID.
func (db *DB) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	return db.getAccount(ctx, "id", id)
}

// GetAccountByEmail returns apperror.ErrNotFound if no account has that email.
func (db *DB) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return db.getAccount(ctx, "email", email)
}

func (db *DB) getAccount(ctx context.Context, column, value string) (*model.Account, error) {
	var a model.Account

	err := db.conn.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM accounts WHERE `+column+` = ?`,
		value,
	).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account", value)
		}
		return nil, fmt.Errorf("sqlite: getting account by %s: %w", column, err)
	}

	return &a, nil
}

// UpdatePasswordHash swaps the password hash only if it still equals
// oldHash. A missing account is NotFound; a hash that changed in between is
// a Conflict on password_hash.
func (db *DB) UpdatePasswordHash(ctx context.Context, id, oldHash, newHash string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ? WHERE id = ? AND password_hash = ?`,
		newHash, id, oldHash)
	if err != nil {
		return fmt.Errorf("sqlite: updating password for account %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking password update for account %s: %w", id, err)
	}
	if n == 1 {
		return nil
	}

	if _, err := db.GetAccountByID(ctx, id); err != nil {
		return err
	}
	return apperror.Conflict("password_hash", "password changed since it was read")
}

// DeleteAccount removes the account and reports whether a row existed.
// Deleting a missing account is not an error, which keeps rollbacks idempotent.
func (db *DB) DeleteAccount(ctx context.Context, id string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("sqlite: deleting account %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking delete of account %s: %w", id, err)
	}

	return n > 0, nil
}

// RecordOrphan stores an account the signup rollback failed to delete.
// Recording the same account twice keeps the first row.
func (db *DB) RecordOrphan(ctx context.Context, o *model.OrphanedAccount) error {
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO orphaned_accounts (account_id, email, reason, recorded_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(account_id) DO NOTHING`,
		o.AccountID, o.Email, o.Reason, o.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: recording orphaned account %s: %w", o.AccountID, err)
	}

	return nil
}

// ListOrphans returns recorded orphans, oldest first.
func (db *DB) ListOrphans(ctx context.Context) ([]model.OrphanedAccount, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT account_id, email, reason, recorded_at
		 FROM orphaned_accounts
		 ORDER BY recorded_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing orphaned accounts: %w", err)
	}
	defer rows.Close()

	orphans := make([]model.OrphanedAccount, 0)
	for rows.Next() {
		var o model.OrphanedAccount
		if err := rows.Scan(&o.AccountID, &o.Email, &o.Reason, &o.RecordedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning orphaned account: %w", err)
		}
		orphans = append(orphans, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating orphaned accounts: %w", err)
	}

	return orphans, nil
}

// ResolveOrphan removes the orphan record once the account has been dealt with.
func (db *DB) ResolveOrphan(ctx context.Context, accountID string) error {
	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM orphaned_accounts WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("sqlite: resolving orphaned account %s: %w", accountID, err)
	}
	return nil
}
