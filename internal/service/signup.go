package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/storefront-auth/internal/apperror"
	"github.com/sakif/storefront-auth/internal/guard"
	"github.com/sakif/storefront-auth/internal/identity"
	"github.com/sakif/storefront-auth/internal/metrics"
	"github.com/sakif/storefront-auth/internal/model"
	"github.com/sakif/storefront-auth/internal/referral"
	"github.com/sakif/storefront-auth/internal/repository"
)

// State is a step of the signup saga.
//
//	Validating → CheckingDuplicates → ResolvingReferral → CreatingAccount
//	           → CreatingProfile → Committed
//
// Any step can exit to Failed. A failure in CreatingProfile passes through
// RollingBackAccount first, because by then an Account exists.
type State string

const (
	StateValidating         State = "validating"
	StateCheckingDuplicates State = "checking_duplicates"
	StateResolvingReferral  State = "resolving_referral"
	StateCreatingAccount    State = "creating_account"
	StateCreatingProfile    State = "creating_profile"
	StateRollingBackAccount State = "rolling_back_account"
	StateCommitted          State = "committed"
	StateFailed             State = "failed"
)

// Defaults for SignupConfig.
const (
	DefaultStepTimeout       = 10 * time.Second
	DefaultRollbackTimeout   = 15 * time.Second
	DefaultMaxInsertAttempts = 3
)

// User-facing messages.
const (
	msgEmailExists     = "an account with this email already exists; try logging in or contact support"
	msgEmailRace       = "an account with this email already exists, please try logging in"
	msgPhoneExists     = "this phone number is already registered"
	msgInvalidReferral = "invalid referral code"
)

type SignupConfig struct {
	StepTimeout       time.Duration // bound on each external call
	RollbackTimeout   time.Duration // bound on the compensating delete
	GuardTTL          time.Duration // raised to the worst-case saga duration when shorter
	MinPasswordLength int
	MaxInsertAttempts int  // profile inserts retried on referral_code collisions
	DuplicatePrecheck bool // look for existing email/phone before creating the Account
}

func DefaultSignupConfig() SignupConfig {
	return SignupConfig{
		StepTimeout:       DefaultStepTimeout,
		RollbackTimeout:   DefaultRollbackTimeout,
		MinPasswordLength: DefaultMinPasswordLength,
		MaxInsertAttempts: DefaultMaxInsertAttempts,
		DuplicatePrecheck: true,
	}
}

// worstCaseDuration bounds one saga: acquiring the guard, the duplicate
// check, referral lookup, account creation and every profile insert each get
// a full step timeout, plus the rollback. The guard must hold at least this
// long.
func (c SignupConfig) worstCaseDuration() time.Duration {
	steps := time.Duration(4 + c.MaxInsertAttempts)
	return c.StepTimeout*steps + c.RollbackTimeout
}

// SignupDeps are the collaborators of SignupService.
type SignupDeps struct {
	Profiles  repository.ProfileStore
	Orphans   repository.OrphanStore
	Identity  identity.Service
	Admin     identity.Admin
	Codes     *referral.Generator
	Referrals *referral.Resolver
	Guard     guard.Guard
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// SignupInput is the raw form a user submitted.
type SignupInput struct {
	Name         string `json:"name"         validate:"required,min=3,max=100"`
	Email        string `json:"email"        validate:"required,email,max=254"`
	Password     string `json:"password"     validate:"required,password"`
	Phone        string `json:"phone"        validate:"omitempty,phone"`
	Country      string `json:"country"      validate:"required,max=100"`
	State        string `json:"state"        validate:"max=100"`
	ReferralCode string `json:"referralCode" validate:"max=64"`
}

// SignupResult describes a committed signup.
type SignupResult struct {
	ProfileID    string
	ReferralCode string
	ReferredBy   *string
	State        State
}

// SignupError is returned by Signup for every failure. Step is the state the
// saga was in when it failed and RolledBack reports whether an Account was
// created and then deleted again. Err carries the apperror for the caller.
type SignupError struct {
	Step       State
	RolledBack bool
	Err        error
}

func (e *SignupError) Error() string {
	return fmt.Sprintf("signup failed at %s: %v", e.Step, e.Err)
}

func (e *SignupError) Unwrap() error {
	return e.Err
}

// SignupService runs the signup saga: it creates an Account in the identity
// service, then the Profile row, and deletes the Account again when the
// Profile cannot be written.
type SignupService struct {
	deps     SignupDeps
	cfg      SignupConfig
	validate *inputValidator
	now      func() time.Time
}

func NewSignupService(deps SignupDeps, cfg SignupConfig) *SignupService {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	if cfg.RollbackTimeout <= 0 {
		cfg.RollbackTimeout = DefaultRollbackTimeout
	}
	if cfg.MaxInsertAttempts <= 0 {
		cfg.MaxInsertAttempts = DefaultMaxInsertAttempts
	}
	if worst := cfg.worstCaseDuration(); cfg.GuardTTL < worst {
		cfg.GuardTTL = worst
	}

	return &SignupService{
		deps:     deps,
		cfg:      cfg,
		validate: newInputValidator(cfg.MinPasswordLength),
		now:      time.Now,
	}
}

// signupRun carries the state of one saga execution.
type signupRun struct {
	state     State
	accountID string
	logger    *slog.Logger
}

func (r *signupRun) enter(next State) {
	r.logger.Debug("signup transition", "from", r.state, "to", next)
	r.state = next
}

// fail moves the run to Failed and wraps err.
func (r *signupRun) fail(err error, rolledBack bool) error {
	step := r.state
	r.logger.Info("signup failed",
		"step", step,
		"kind", apperror.Kind(err),
		"rolled_back", rolledBack,
		"error", err,
	)
	r.state = StateFailed
	return &SignupError{Step: step, RolledBack: rolledBack, Err: err}
}

// Signup registers a new user.
func (s *SignupService) Signup(ctx context.Context, in SignupInput) (*SignupResult, error) {
	start := s.now()
	run := &signupRun{
		state:  StateValidating,
		logger: s.deps.Logger.With("signup_id", start.UnixNano()),
	}

	result, err := s.run(ctx, run, normalizeSignup(in))

	// Failed runs are counted under the step they failed at.
	outcome := run.state
	var se *SignupError
	if errors.As(err, &se) {
		outcome = se.Step
	}
	s.deps.Metrics.SignupFinished(string(outcome), apperror.Kind(err), s.now().Sub(start))
	return result, err
}

func (s *SignupService) run(ctx context.Context, run *signupRun, in SignupInput) (*SignupResult, error) {
	// === VALIDATING ===
	if err := s.validate.Struct(in); err != nil {
		return nil, run.fail(err, false)
	}

	guardCtx, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
	release, err := s.deps.Guard.Acquire(guardCtx, "signup:"+in.Email, s.cfg.GuardTTL)
	cancel()
	if err != nil {
		return nil, run.fail(err, false)
	}
	defer release()

	// === CHECKING DUPLICATES ===
	if s.cfg.DuplicatePrecheck {
		run.enter(StateCheckingDuplicates)
		if err := s.checkDuplicates(ctx, in); err != nil {
			return nil, run.fail(err, false)
		}
	}

	// === RESOLVING REFERRAL ===
	// Before the Account exists, so a bad code costs nothing to undo.
	run.enter(StateResolvingReferral)
	var referredBy *string
	if referral.Normalize(in.ReferralCode) != "" {
		id, err := s.resolveReferral(ctx, in.ReferralCode)
		if err != nil {
			return nil, run.fail(err, false)
		}
		referredBy = &id
	}

	// === CREATING ACCOUNT ===
	run.enter(StateCreatingAccount)
	accountID, err := s.createAccount(ctx, in)
	if err != nil {
		return nil, run.fail(err, false)
	}
	run.accountID = accountID
	run.logger = run.logger.With("account_id", accountID)

	// === CREATING PROFILE ===
	run.enter(StateCreatingProfile)
	profile, err := s.createProfile(ctx, run, in, accountID, referredBy)
	if err != nil {
		run.enter(StateRollingBackAccount)
		return nil, s.rollback(ctx, run, in.Email, err)
	}

	run.enter(StateCommitted)
	run.logger.Info("signup committed", "referral_code", profile.ReferralCode, "referred", referredBy != nil)

	return &SignupResult{
		ProfileID:    profile.ID,
		ReferralCode: profile.ReferralCode,
		ReferredBy:   profile.ReferredBy,
		State:        StateCommitted,
	}, nil
}

func (s *SignupService) checkDuplicates(ctx context.Context, in SignupInput) error {
	stepCtx, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
	defer cancel()

	existing, err := s.deps.Profiles.FindByField(stepCtx, model.FieldEmail, in.Email)
	if err != nil {
		return storeError("duplicate check", err)
	}
	if existing != nil {
		return apperror.Conflict("email", msgEmailExists)
	}

	if in.Phone == "" {
		return nil
	}

	existing, err = s.deps.Profiles.FindByField(stepCtx, model.FieldPhone, in.Phone)
	if err != nil {
		return storeError("duplicate check", err)
	}
	if existing != nil {
		return apperror.Conflict("phone", msgPhoneExists)
	}

	return nil
}

func (s *SignupService) resolveReferral(ctx context.Context, code string) (string, error) {
	stepCtx, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
	defer cancel()

	id, found, err := s.deps.Referrals.Resolve(stepCtx, code)
	if err != nil {
		return "", err
	}
	if !found {
		return "", apperror.Conflict("referralCode", msgInvalidReferral)
	}
	return id, nil
}

func (s *SignupService) createAccount(ctx context.Context, in SignupInput) (string, error) {
	stepCtx, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
	defer cancel()

	id, err := s.deps.Identity.CreateAccount(stepCtx, in.Email, in.Password)
	if err != nil {
		if errors.Is(err, identity.ErrEmailTaken) {
			return "", apperror.Conflict("email", msgEmailExists)
		}
		return "", apperror.Unavailable("account creation", err)
	}
	return id, nil
}

// createProfile inserts the Profile, regenerating the referral code when a
// concurrent signup claimed the same one first.
func (s *SignupService) createProfile(
	ctx context.Context,
	run *signupRun,
	in SignupInput,
	accountID string,
	referredBy *string,
) (*model.Profile, error) {
	var lastErr error

	for attempt := 1; attempt <= s.cfg.MaxInsertAttempts; attempt++ {
		profile, err := s.insertProfile(ctx, in, accountID, referredBy)
		if err == nil {
			return profile, nil
		}

		field, ok := apperror.IsUniqueViolation(err)
		if !ok || field != string(model.FieldReferralCode) {
			return nil, err
		}

		s.deps.Metrics.ReferralCollision()
		run.logger.Warn("referral code taken at insert, regenerating", "attempt", attempt)
		lastErr = err
	}

	return nil, fmt.Errorf("referral code still colliding after %d inserts: %w", s.cfg.MaxInsertAttempts, lastErr)
}

func (s *SignupService) insertProfile(
	ctx context.Context,
	in SignupInput,
	accountID string,
	referredBy *string,
) (*model.Profile, error) {
	stepCtx, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
	defer cancel()

	code, err := s.deps.Codes.Generate(stepCtx, in.Name)
	if err != nil {
		return nil, err
	}

	profile := &model.Profile{
		ID:           accountID,
		Name:         in.Name,
		Email:        in.Email,
		Location:     formatLocation(in.Country, in.State),
		Role:         model.RoleUser,
		IsActive:     true,
		ReferralCode: code,
		ReferredBy:   referredBy,
		CreatedAt:    s.now().UTC(),
	}
	if in.Phone != "" {
		phone := in.Phone
		profile.Phone = &phone
	}

	if err := s.deps.Profiles.Insert(stepCtx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// rollback deletes the Account created earlier in this run. It runs on a
// context detached from the caller's so a client disconnect cannot skip it.
func (s *SignupService) rollback(ctx context.Context, run *signupRun, email string, cause error) error {
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RollbackTimeout)
	defer cancel()

	run.logger.Warn("rolling back account", "cause", cause)

	rbErr := s.deps.Admin.DeleteAccount(rbCtx, run.accountID)
	if rbErr == nil {
		s.deps.Metrics.Rollback(metrics.RollbackSucceeded)
		return run.fail(profileFailure(cause), true)
	}

	s.deps.Metrics.Rollback(metrics.RollbackFailed)
	s.deps.Metrics.OrphanedAccount()

	orphan := &model.OrphanedAccount{
		AccountID:  run.accountID,
		Email:      email,
		Reason:     cause.Error(),
		RecordedAt: s.now().UTC(),
	}
	if err := s.deps.Orphans.RecordOrphan(rbCtx, orphan); err != nil {
		run.logger.Error("recording orphaned account", "error", err)
	}

	run.logger.Error("rollback failed, account left without profile",
		"cause", cause,
		"rollback_error", rbErr,
	)

	return run.fail(apperror.Integrity(
		fmt.Sprintf("rollback of account %s failed", run.accountID),
		errors.Join(cause, rbErr),
	), false)
}

// profileFailure picks the user-facing error for a profile insert that was
// rolled back.
func profileFailure(cause error) error {
	if field, ok := apperror.IsUniqueViolation(cause); ok {
		switch field {
		case string(model.FieldEmail):
			return apperror.Conflict("email", msgEmailRace)
		case string(model.FieldPhone):
			return apperror.Conflict("phone", msgPhoneExists)
		}
	}
	if errors.Is(cause, apperror.ErrUnavailable) {
		return cause
	}
	return apperror.Unavailable("signup", cause)
}

func normalizeSignup(in SignupInput) SignupInput {
	return SignupInput{
		Name:         strings.TrimSpace(in.Name),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		Password:     in.Password,
		Phone:        normalizePhone(in.Phone),
		Country:      strings.TrimSpace(in.Country),
		State:        strings.TrimSpace(in.State),
		ReferralCode: referral.Normalize(in.ReferralCode),
	}
}

// normalizePhone drops spaces, dashes, dots and parentheses.
func normalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-', '.', '(', ')':
			return -1
		}
		return r
	}, phone)
}

// formatLocation renders "Country, State", or just the country.
func formatLocation(country, state string) string {
	if state == "" {
		return country
	}
	return country + ", " + state
}

// storeError keeps integrity and availability errors as they are and treats
// anything else from a store as a transient outage.
func storeError(op string, err error) error {
	if errors.Is(err, apperror.ErrIntegrity) || errors.Is(err, apperror.ErrUnavailable) {
		return err
	}
	return apperror.Unavailable(op, err)
}
