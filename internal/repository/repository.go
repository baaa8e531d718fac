package repository

import (
	"context"

	"github.com/sakif/storefront-auth/internal/model"
)

// ProfileStore is the application-owned profile table.
//
// FindByField returns (nil, nil) when no row matches and an
// apperror.ErrIntegrity error when more than one does. Insert returns an
// *apperror.UniqueViolation when a UNIQUE column clashes.
type ProfileStore interface {
	FindByField(ctx context.Context, field model.Field, value string) (*model.Profile, error)
	Insert(ctx context.Context, profile *model.Profile) error
	Update(ctx context.Context, id string, patch model.ProfilePatch) error
}

// AccountStore persists the credential records behind identity.Local.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *model.Account) error
	GetAccountByID(ctx context.Context, id string) (*model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	UpdatePasswordHash(ctx context.Context, id, oldHash, newHash string) error
	DeleteAccount(ctx context.Context, id string) (bool, error)
}

// OrphanStore records accounts a rollback could not remove, until the
// reconciler deletes them or an operator resolves them by hand.
type OrphanStore interface {
	RecordOrphan(ctx context.Context, orphan *model.OrphanedAccount) error
	ListOrphans(ctx context.Context) ([]model.OrphanedAccount, error)
	ResolveOrphan(ctx context.Context, accountID string) error
}
