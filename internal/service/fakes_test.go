package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/sakif/storefront-auth/internal/apperror"
	"github.com/sakif/storefront-auth/internal/identity"
	"github.com/sakif/storefront-auth/internal/model"
)

// =========================================================================
// FAKES
// =========================================================================
//
// In-memory stand-ins for the stores and the identity service. Each one has
// error fields a test can set to simulate an outage at a specific step.

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProfiles implements repository.ProfileStore and enforces the same
// UNIQUE columns as the SQLite schema.
type fakeProfiles struct {
	mu         sync.Mutex
	byID       map[string]*model.Profile
	findErr    error
	insertErrs []error              // returned in order before a real insert
	insertHook func(*model.Profile) // runs at the start of every Insert
	updateErr  error
	updates    int
	inserts    int
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{byID: make(map[string]*model.Profile)}
}

func (f *fakeProfiles) add(p *model.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *p
	f.byID[p.ID] = &stored
}

func (f *fakeProfiles) FindByField(_ context.Context, field model.Field, value string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.findErr != nil {
		return nil, f.findErr
	}

	for _, p := range f.byID {
		if profileValue(p, field) == value {
			found := *p
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeProfiles) Insert(_ context.Context, p *model.Profile) error {
	if f.insertHook != nil {
		f.insertHook(p)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++

	if len(f.insertErrs) > 0 {
		err := f.insertErrs[0]
		f.insertErrs = f.insertErrs[1:]
		return err
	}

	for _, existing := range f.byID {
		for _, field := range []model.Field{model.FieldID, model.FieldEmail, model.FieldPhone, model.FieldReferralCode} {
			v := profileValue(p, field)
			if v != "" && v == profileValue(existing, field) {
				return &apperror.UniqueViolation{Field: string(field)}
			}
		}
	}

	stored := *p
	f.byID[p.ID] = &stored
	return nil
}

func (f *fakeProfiles) Update(_ context.Context, id string, patch model.ProfilePatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++

	if f.updateErr != nil {
		return f.updateErr
	}
	p, ok := f.byID[id]
	if !ok {
		return apperror.NotFound("profile", id)
	}
	if patch.LastLoginAt != nil {
		p.LastLoginAt = patch.LastLoginAt
	}
	return nil
}

func (f *fakeProfiles) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byID)
}

func profileValue(p *model.Profile, field model.Field) string {
	switch field {
	case model.FieldID:
		return p.ID
	case model.FieldEmail:
		return p.Email
	case model.FieldPhone:
		if p.Phone == nil {
			return ""
		}
		return *p.Phone
	case model.FieldReferralCode:
		return p.ReferralCode
	}
	return ""
}

// fakeIdentity implements identity.Service with plaintext passwords.
type fakeIdentity struct {
	mu        sync.Mutex
	byEmail   map[string]string // email → id
	passwords map[string]string // id → password
	versions  map[string]int    // id → password changes, the credential stamp
	nextID    int

	createErr  error
	createHook func(ctx context.Context) error
	verifyErr  error
	lookupErr  error
	created    int
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		byEmail:   make(map[string]string),
		passwords: make(map[string]string),
		versions:  make(map[string]int),
	}
}

func (f *fakeIdentity) CreateAccount(ctx context.Context, email, password string) (string, error) {
	if f.createHook != nil {
		if err := f.createHook(ctx); err != nil {
			return "", err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return "", f.createErr
	}
	if _, ok := f.byEmail[email]; ok {
		return "", identity.ErrEmailTaken
	}

	f.nextID++
	f.created++
	id := fmt.Sprintf("acc-%d", f.nextID)
	f.byEmail[email] = id
	f.passwords[id] = password
	return id, nil
}

func (f *fakeIdentity) VerifyCredentials(_ context.Context, email, password string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.verifyErr != nil {
		return "", f.verifyErr
	}
	id, ok := f.byEmail[email]
	if !ok || f.passwords[id] != password {
		return "", identity.ErrInvalidCredentials
	}
	return id, nil
}

func (f *fakeIdentity) LookupAccount(_ context.Context, email string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lookupErr != nil {
		return "", f.lookupErr
	}
	id, ok := f.byEmail[email]
	if !ok {
		return "", apperror.NotFound("account", email)
	}
	return id, nil
}

func (f *fakeIdentity) CredentialStamp(_ context.Context, accountID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.passwords[accountID]; !ok {
		return "", apperror.NotFound("account", accountID)
	}
	return fmt.Sprintf("v%d", f.versions[accountID]), nil
}

func (f *fakeIdentity) SetPassword(_ context.Context, accountID, stamp, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.passwords[accountID]; !ok {
		return apperror.NotFound("account", accountID)
	}
	if stamp != fmt.Sprintf("v%d", f.versions[accountID]) {
		return identity.ErrCredentialChanged
	}
	f.passwords[accountID] = password
	f.versions[accountID]++
	return nil
}

// register creates an account directly, bypassing CreateAccount counters.
func (f *fakeIdentity) register(email, password string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("acc-%d", f.nextID)
	f.byEmail[email] = id
	f.passwords[id] = password
	return id
}

// fakeAdmin implements identity.Admin.
type fakeAdmin struct {
	mu      sync.Mutex
	deleted []string
	err     error
	ctxErrs []error // ctx.Err() observed at each call
}

func (f *fakeAdmin) DeleteAccount(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, accountID)
	return nil
}

// fakeOrphans implements repository.OrphanStore.
type fakeOrphans struct {
	mu      sync.Mutex
	orphans []model.OrphanedAccount
	err     error
}

func (f *fakeOrphans) RecordOrphan(_ context.Context, o *model.OrphanedAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.orphans = append(f.orphans, *o)
	return nil
}

func (f *fakeOrphans) ListOrphans(_ context.Context) ([]model.OrphanedAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.OrphanedAccount(nil), f.orphans...), nil
}

func (f *fakeOrphans) ResolveOrphan(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.orphans[:0]
	for _, o := range f.orphans {
		if o.AccountID != accountID {
			kept = append(kept, o)
		}
	}
	f.orphans = kept
	return nil
}
