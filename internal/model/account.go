package model

import "time"

// Account is the credential record owned by the identity service.
// The core never reads PasswordHash; only the identity package does.
type Account struct {
	ID           string    `json:"id"        db:"id"`
	Email        string    `json:"email"     db:"email"`
	PasswordHash string    `json:"-"         db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// OrphanedAccount is an Account left behind after a failed signup rollback.
// Rows are written for operators; nothing in the service deletes them.
type OrphanedAccount struct {
	AccountID  string    `json:"accountId"  db:"account_id"`
	Email      string    `json:"email"      db:"email"`
	Reason     string    `json:"reason"     db:"reason"`
	RecordedAt time.Time `json:"recordedAt" db:"recorded_at"`
}
