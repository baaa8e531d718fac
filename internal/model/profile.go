// Package model defines the data structures used throughout the application.
package model

import "time"

// Role is the authorisation level stored on a Profile.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Profile is the application-owned record of a user, keyed 1:1 to an Account.
//
// ID always equals the Account ID issued by the identity service. Phone,
// ReferredBy and LastLoginAt are pointers because the columns are nullable:
// a missing phone must not collide with another missing phone under the
// UNIQUE constraint.
//
// WalletBalance is kept in minor currency units so balances never pass
// through floating point.
type Profile struct {
	ID            string     `json:"id"            db:"id"`
	Name          string     `json:"name"          db:"name"`
	Email         string     `json:"email"         db:"email"`
	Phone         *string    `json:"phone"         db:"phone"`
	Location      string     `json:"location"      db:"location"`
	Role          Role       `json:"role"          db:"role"`
	IsActive      bool       `json:"isActive"      db:"is_active"`
	WalletBalance int64      `json:"walletBalance" db:"wallet_balance"`
	Points        int64      `json:"points"        db:"points"`
	ReferralCode  string     `json:"referralCode"  db:"referral_code"`
	ReferredBy    *string    `json:"referredBy"    db:"referred_by"`
	CreatedAt     time.Time  `json:"createdAt"     db:"created_at"`
	LastLoginAt   *time.Time `json:"lastLoginAt"   db:"last_login_at"`
}

// ProfilePatch lists the columns a best-effort update may touch.
// Nil fields are left unchanged.
type ProfilePatch struct {
	LastLoginAt *time.Time
}

// Field names a Profile column that can be used for single-row lookups.
type Field string

const (
	FieldID           Field = "id"
	FieldEmail        Field = "email"
	FieldPhone        Field = "phone"
	FieldReferralCode Field = "referral_code"
)

// Valid reports whether f is an allowed lookup column.
func (f Field) Valid() bool {
	switch f {
	case FieldID, FieldEmail, FieldPhone, FieldReferralCode:
		return true
	}
	return false
}
