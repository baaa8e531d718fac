package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/storefront-auth/internal/apperror"
	"github.com/sakif/storefront-auth/internal/model"
	"github.com/sakif/storefront-auth/internal/repository"
)

// compile-time check that *DB implements repository.ProfileStore
var _ repository.ProfileStore = (*DB)(nil)

const profileColumns = `id, name, email, phone, location, role, is_active,
	wallet_balance, points, referral_code, referred_by, created_at, last_login_at`

// FindByField returns the single profile whose column equals value.
//
// The query asks for two rows on purpose: every lookup column is UNIQUE, so a
// second row means the table is corrupt and the caller must not pick one.
func (db *DB) FindByField(ctx context.Context, field model.Field, value string) (*model.Profile, error) {
	if !field.Valid() {
		return nil, fmt.Errorf("sqlite: unsupported lookup field %q", field)
	}

	// field is one of four constants, never user input.
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE `+string(field)+` = ? LIMIT 2`,
		value,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: finding profile by %s: %w", field, err)
	}
	defer rows.Close()

	var found []*model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning profile: %w", err)
		}
		found = append(found, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating profiles: %w", err)
	}

	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	default:
		return nil, apperror.Integrity(
			fmt.Sprintf("profiles.%s %q matched more than one row", field, value), nil)
	}
}

// Insert writes a new profile. CreatedAt is set here if the caller left it zero.
func (db *DB) Insert(ctx context.Context, p *model.Profile) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Role == "" {
		p.Role = model.RoleUser
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO profiles (`+profileColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.Name,
		p.Email,
		nullString(p.Phone),
		p.Location,
		string(p.Role),
		p.IsActive,
		p.WalletBalance,
		p.Points,
		p.ReferralCode,
		nullString(p.ReferredBy),
		p.CreatedAt,
		nullTime(p.LastLoginAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting profile %s: %w", p.ID, translateConstraint(err))
	}

	return nil
}

// Update applies a partial patch. An empty patch is a no-op.
func (db *DB) Update(ctx context.Context, id string, patch model.ProfilePatch) error {
	if patch.LastLoginAt == nil {
		return nil
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE profiles SET last_login_at = ? WHERE id = ?`,
		patch.LastLoginAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating profile %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking update of profile %s: %w", id, err)
	}
	if n == 0 {
		return apperror.NotFound("profile", id)
	}

	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*model.Profile, error) {
	var (
		p          model.Profile
		role       string
		phone      sql.NullString
		referredBy sql.NullString
		lastLogin  sql.NullTime
	)

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&phone,
		&p.Location,
		&role,
		&p.IsActive,
		&p.WalletBalance,
		&p.Points,
		&p.ReferralCode,
		&referredBy,
		&p.CreatedAt,
		&lastLogin,
	)
	if err != nil {
		return nil, err
	}

	p.Role = model.Role(role)
	if phone.Valid {
		p.Phone = &phone.String
	}
	if referredBy.Valid {
		p.ReferredBy = &referredBy.String
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		p.LastLoginAt = &t
	}

	return &p, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
