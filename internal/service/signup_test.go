package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/storefront-auth/internal/apperror"
	"github.com/sakif/storefront-auth/internal/guard"
	"github.com/sakif/storefront-auth/internal/metrics"
	"github.com/sakif/storefront-auth/internal/model"
	"github.com/sakif/storefront-auth/internal/referral"
)

// =========================================================================
// FIXTURE
// =========================================================================

type signupFixture struct {
	svc      *SignupService
	profiles *fakeProfiles
	ids      *fakeIdentity
	admin    *fakeAdmin
	orphans  *fakeOrphans
	guard    *guard.MemoryGuard
	registry *prometheus.Registry
}

func newSignupFixture(t *testing.T, configure func(*SignupConfig)) *signupFixture {
	t.Helper()

	f := &signupFixture{
		profiles: newFakeProfiles(),
		ids:      newFakeIdentity(),
		admin:    &fakeAdmin{},
		orphans:  &fakeOrphans{},
		guard:    guard.NewMemoryGuard(),
		registry: prometheus.NewRegistry(),
	}

	cfg := DefaultSignupConfig()
	if configure != nil {
		configure(&cfg)
	}

	logger := discardLogger()
	m := metrics.New(f.registry)

	f.svc = NewSignupService(SignupDeps{
		Profiles:  f.profiles,
		Orphans:   f.orphans,
		Identity:  f.ids,
		Admin:     f.admin,
		Codes:     referral.NewGenerator(f.profiles, referral.DefaultPolicy(), m, logger),
		Referrals: referral.NewResolver(f.profiles, logger),
		Guard:     f.guard,
		Metrics:   m,
		Logger:    logger,
	}, cfg)

	return f
}

func validSignup() SignupInput {
	return SignupInput{
		Name:     "Ada Lovelace",
		Email:    "ada@example.com",
		Password: "analytical-engine",
		Phone:    "+234 803-555-0101",
		Country:  "Nigeria",
		State:    "Lagos",
	}
}

// requireSignupError asserts err is a *SignupError in the given bucket.
func requireSignupError(t *testing.T, err error, kind error) *SignupError {
	t.Helper()
	require.Error(t, err)

	var se *SignupError
	require.True(t, errors.As(err, &se), "want *SignupError, got %T: %v", err, err)
	require.ErrorIs(t, err, kind)
	return se
}

// signupOutcomes reads storefront_auth_signup_outcomes_total{state,kind}.
func (f *signupFixture) signupOutcomes(t *testing.T, state State, kind string) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != "storefront_auth_signup_outcomes_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["state"] == string(state) && labels["kind"] == kind {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func appErrorOf(t *testing.T, err error) *apperror.AppError {
	t.Helper()
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr), "want *apperror.AppError in chain, got %v", err)
	return appErr
}

// =========================================================================
// HAPPY PATH
// =========================================================================

func TestSignup_CreatesProfile(t *testing.T) {
	f := newSignupFixture(t, nil)

	in := validSignup()
	in.Name = "Ada!!"
	in.Email = "  Ada@Example.COM "

	result, err := f.svc.Signup(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, StateCommitted, result.State)
	assert.Regexp(t, regexp.MustCompile(`^ada[a-z0-9]{6}$`), result.ReferralCode)
	assert.Nil(t, result.ReferredBy)

	profile, err := f.profiles.FindByField(context.Background(), model.FieldID, result.ProfileID)
	require.NoError(t, err)
	require.NotNil(t, profile)

	assert.Equal(t, "ada@example.com", profile.Email)
	assert.Equal(t, "Nigeria, Lagos", profile.Location)
	assert.Equal(t, model.RoleUser, profile.Role)
	assert.True(t, profile.IsActive)
	assert.Zero(t, profile.WalletBalance)
	assert.Zero(t, profile.Points)
	assert.Nil(t, profile.ReferredBy)
	require.NotNil(t, profile.Phone)
	assert.Equal(t, "+2348035550101", *profile.Phone)
}

func TestSignup_LocationWithoutState(t *testing.T) {
	f := newSignupFixture(t, nil)

	in := validSignup()
	in.State = ""

	result, err := f.svc.Signup(context.Background(), in)
	require.NoError(t, err)

	profile, _ := f.profiles.FindByField(context.Background(), model.FieldID, result.ProfileID)
	assert.Equal(t, "Nigeria", profile.Location)
}

func TestSignup_WithReferral(t *testing.T) {
	f := newSignupFixture(t, nil)
	f.profiles.add(&model.Profile{ID: "referrer-1", Email: "grace@example.com", ReferralCode: "grace1a2b3c"})

	in := validSignup()
	in.ReferralCode = "  GRACE1A2B3C "

	result, err := f.svc.Signup(context.Background(), in)
	require.NoError(t, err)

	require.NotNil(t, result.ReferredBy)
	assert.Equal(t, "referrer-1", *result.ReferredBy)
}

// =========================================================================
// VALIDATING
// =========================================================================

func TestSignup_Validation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*SignupInput)
		wantField string
	}{
		{"missing name", func(in *SignupInput) { in.Name = "   " }, "name"},
		{"short name", func(in *SignupInput) { in.Name = "Al" }, "name"},
		{"missing email", func(in *SignupInput) { in.Email = "" }, "email"},
		{"malformed email", func(in *SignupInput) { in.Email = "ada-at-example" }, "email"},
		{"short password", func(in *SignupInput) { in.Password = "short" }, "password"},
		// Four characters, twelve bytes.
		{"short non-latin password", func(in *SignupInput) { in.Password = "密码密码" }, "password"},
		{"long password", func(in *SignupInput) { in.Password = string(make([]byte, 73)) }, "password"},
		{"missing country", func(in *SignupInput) { in.Country = "" }, "country"},
		{"bad phone", func(in *SignupInput) { in.Phone = "012345" }, "phone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSignupFixture(t, nil)
			in := validSignup()
			tt.mutate(&in)

			_, err := f.svc.Signup(context.Background(), in)

			se := requireSignupError(t, err, apperror.ErrValidation)
			assert.Equal(t, StateValidating, se.Step)
			assert.Equal(t, tt.wantField, appErrorOf(t, err).Field)
			assert.Zero(t, f.ids.created, "validation failures must not create accounts")
		})
	}
}

func TestSignup_UnicodeNameCountsRunes(t *testing.T) {
	f := newSignupFixture(t, nil)

	in := validSignup()
	in.Name = "李小龍"

	result, err := f.svc.Signup(context.Background(), in)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^liyx[a-z0-9]{6}$`), result.ReferralCode)
}

func TestSignup_PasswordLengthCountsCharacters(t *testing.T) {
	f := newSignupFixture(t, nil)

	in := validSignup()
	in.Password = "пароль12" // eight characters, fourteen bytes

	_, err := f.svc.Signup(context.Background(), in)
	require.NoError(t, err)
}

func TestSignup_ConfiguredMinPasswordLength(t *testing.T) {
	f := newSignupFixture(t, func(c *SignupConfig) { c.MinPasswordLength = 20 })

	_, err := f.svc.Signup(context.Background(), validSignup())

	requireSignupError(t, err, apperror.ErrValidation)
	assert.Contains(t, appErrorOf(t, err).Message, "20")
}

// =========================================================================
// CHECKING DUPLICATES
// =========================================================================

func TestSignup_SecondSignupWithSameEmailConflicts(t *testing.T) {
	f := newSignupFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Signup(ctx, validSignup())
	require.NoError(t, err)

	_, err = f.svc.Signup(ctx, validSignup())

	se := requireSignupError(t, err, apperror.ErrConflict)
	assert.Equal(t, StateCheckingDuplicates, se.Step)
	assert.Equal(t, "email", appErrorOf(t, err).Field)
	assert.Equal(t, 1, f.ids.created)
	assert.Equal(t, 1, f.profiles.count())
}

func TestSignup_DuplicatePhoneConflicts(t *testing.T) {
	f := newSignupFixture(t, nil)
	phone := "+2348035550101"
	f.profiles.add(&model.Profile{ID: "other", Email: "other@example.com", Phone: &phone, ReferralCode: "other1"})

	_, err := f.svc.Signup(context.Background(), validSignup())

	requireSignupError(t, err, apperror.ErrConflict)
	assert.Equal(t, "phone", appErrorOf(t, err).Field)
	assert.Zero(t, f.ids.created)
}

func TestSignup_WithoutPrecheckIdentityRejectsDuplicateEmail(t *testing.T) {
	f := newSignupFixture(t, func(c *SignupConfig) { c.DuplicatePrecheck = false })
	f.ids.register("ada@example.com", "whatever-it-was")

	_, err := f.svc.Signup(context.Background(), validSignup())

	se := requireSignupError(t, err, apperror.ErrConflict)
	assert.Equal(t, StateCreatingAccount, se.Step)
	assert.Contains(t, appErrorOf(t, err).Message, "try logging in")
	assert.Empty(t, f.admin.deleted)
}

func TestSignup_GuardRejectsConcurrentSubmission(t *testing.T) {
	f := newSignupFixture(t, nil)

	release, err := f.guard.Acquire(context.Background(), "signup:ada@example.com", time.Minute)
	require.NoError(t, err)
	defer release()

	_, err = f.svc.Signup(context.Background(), validSignup())

	requireSignupError(t, err, apperror.ErrConflict)
	assert.Zero(t, f.ids.created)
}

func TestSignup_PrecheckStoreErrorIsUnavailable(t *testing.T) {
	f := newSignupFixture(t, nil)
	f.profiles.findErr = errors.New("connection reset")

	_, err := f.svc.Signup(context.Background(), validSignup())

	requireSignupError(t, err, apperror.ErrUnavailable)
	assert.Zero(t, f.ids.created)
}

// =========================================================================
// RESOLVING REFERRAL
// =========================================================================

func TestSignup_UnknownReferralCreatesNoAccount(t *testing.T) {
	f := newSignupFixture(t, nil)

	in := validSignup()
	in.ReferralCode = "nobody123"

	_, err := f.svc.Signup(context.Background(), in)

	se := requireSignupError(t, err, apperror.ErrConflict)
	assert.Equal(t, StateResolvingReferral, se.Step)
	assert.Equal(t, "invalid referral code", appErrorOf(t, err).Message)
	assert.Zero(t, f.ids.created)
	assert.Zero(t, f.profiles.count())
}

func TestSignup_ReferralLookupFailureIsUnavailable(t *testing.T) {
	f := newSignupFixture(t, func(c *SignupConfig) { c.DuplicatePrecheck = false })
	f.profiles.findErr = errors.New("timeout")

	in := validSignup()
	in.ReferralCode = "grace1a2b3c"

	_, err := f.svc.Signup(context.Background(), in)

	se := requireSignupError(t, err, apperror.ErrUnavailable)
	assert.Equal(t, StateResolvingReferral, se.Step)
	assert.NotErrorIs(t, err, apperror.ErrConflict, "an outage must not look like a bad code")
	assert.Zero(t, f.ids.created)
}

// =========================================================================
// CREATING ACCOUNT
// =========================================================================

func TestSignup_IdentityOutageIsUnavailable(t *testing.T) {
	f := newSignupFixture(t, nil)
	f.ids.createErr = errors.New("503 from identity service")

	_, err := f.svc.Signup(context.Background(), validSignup())

	se := requireSignupError(t, err, apperror.ErrUnavailable)
	assert.Equal(t, StateCreatingAccount, se.Step)
	assert.False(t, se.RolledBack)
	assert.Empty(t, f.admin.deleted)
}

func TestSignup_StepTimeout(t *testing.T) {
	f := newSignupFixture(t, func(c *SignupConfig) { c.StepTimeout = 20 * time.Millisecond })
	f.ids.createHook = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := f.svc.Signup(context.Background(), validSignup())

	requireSignupError(t, err, apperror.ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// =========================================================================
// CREATING PROFILE
// =========================================================================

func TestSignup_ReferralCodeCollisionAtInsertIsRetried(t *testing.T) {
	f := newSignupFixture(t, nil)
	f.profiles.insertErrs = []error{&apperror.UniqueViolation{Field: "referral_code"}}

	result, err := f.svc.Signup(context.Background(), validSignup())
	require.NoError(t, err)

	assert.Equal(t, StateCommitted, result.State)
	assert.Equal(t, 2, f.profiles.inserts)
	assert.Empty(t, f.admin.deleted)
}

func TestSignup_ReferralCodeCollisionsExhausted(t *testing.T) {
	f := newSignupFixture(t, nil)
	for range DefaultMaxInsertAttempts {
		f.profiles.insertErrs = append(f.profiles.insertErrs, &apperror.UniqueViolation{Field: "referral_code"})
	}

	_, err := f.svc.Signup(context.Background(), validSignup())

	se := requireSignupError(t, err, apperror.ErrUnavailable)
	assert.True(t, se.RolledBack)
	assert.Equal(t, DefaultMaxInsertAttempts, f.profiles.inserts)
	assert.Equal(t, []string{"acc-1"}, f.admin.deleted)
}

// =========================================================================
// ROLLING BACK ACCOUNT
// =========================================================================

func TestSignup_EmailRaceRollsBack(t *testing.T) {
	f := newSignupFixture(t, nil)
	f.profiles.insertErrs = []error{&apperror.UniqueViolation{Field: "email"}}

	_, err := f.svc.Signup(context.Background(), validSignup())

	se := requireSignupError(t, err, apperror.ErrConflict)
	assert.Equal(t, StateRollingBackAccount, se.Step)
	assert.True(t, se.RolledBack)
	assert.Contains(t, appErrorOf(t, err).Message, "please try logging in")
	assert.Equal(t, []string{"acc-1"}, f.admin.deleted)
	assert.Empty(t, f.orphans.orphans)
}

func TestSignup_PhoneRaceRollsBack(t *testing.T) {
	f := newSignupFixture(t, nil)
	f.profiles.insertErrs = []error{&apperror.UniqueViolation{Field: "phone"}}

	_, err := f.svc.Signup(context.Background(), validSignup())

	se := requireSignupError(t, err, apperror.ErrConflict)
	assert.True(t, se.RolledBack)
	assert.Equal(t, "phone", appErrorOf(t, err).Field)
}

func TestSignup_OtherInsertFailureRollsBackAsUnavailable(t *testing.T) {
	f := newSignupFixture(t, nil)
	f.profiles.insertErrs = []error{errors.New("disk I/O error")}

	_, err := f.svc.Signup(context.Background(), validSignup())

	se := requireSignupError(t, err, apperror.ErrUnavailable)
	assert.True(t, se.RolledBack)
	assert.Equal(t, []string{"acc-1"}, f.admin.deleted)
}

func TestSignup_RollbackFailureRecordsOrphan(t *testing.T) {
	f := newSignupFixture(t, nil)
	f.profiles.insertErrs = []error{errors.New("disk I/O error")}
	f.admin.err = errors.New("admin endpoint unreachable")

	_, err := f.svc.Signup(context.Background(), validSignup())

	se := requireSignupError(t, err, apperror.ErrIntegrity)
	assert.False(t, se.RolledBack)
	assert.Contains(t, appErrorOf(t, err).Message, "contact support")

	require.Len(t, f.orphans.orphans, 1)
	assert.Equal(t, "acc-1", f.orphans.orphans[0].AccountID)
	assert.Equal(t, "ada@example.com", f.orphans.orphans[0].Email)
	assert.Contains(t, f.orphans.orphans[0].Reason, "disk I/O error")
}

func TestSignup_RollbackSurvivesCallerCancellation(t *testing.T) {
	f := newSignupFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The client disconnects while the profile is being written.
	f.profiles.insertHook = func(*model.Profile) { cancel() }
	f.profiles.insertErrs = []error{errors.New("write aborted")}

	_, err := f.svc.Signup(ctx, validSignup())

	requireSignupError(t, err, apperror.ErrUnavailable)
	require.Equal(t, []string{"acc-1"}, f.admin.deleted)
	assert.NoError(t, f.admin.ctxErrs[0], "rollback must not inherit the caller's cancellation")
}

func TestSignup_GuardReleasedAfterFailure(t *testing.T) {
	f := newSignupFixture(t, nil)
	f.ids.createErr = errors.New("down")

	_, err := f.svc.Signup(context.Background(), validSignup())
	require.Error(t, err)

	release, err := f.guard.Acquire(context.Background(), "signup:ada@example.com", time.Minute)
	require.NoError(t, err)
	release()
}

func TestSignup_GuardOutlivesWorstCaseSaga(t *testing.T) {
	tests := []struct {
		name  string
		guard time.Duration
		want  time.Duration
	}{
		// 10s × (4 + 3) + 15s
		{"defaults", 0, 85 * time.Second},
		{"too short is raised", 30 * time.Second, 85 * time.Second},
		{"longer is kept", 5 * time.Minute, 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSignupFixture(t, func(c *SignupConfig) { c.GuardTTL = tt.guard })
			assert.Equal(t, tt.want, f.svc.cfg.GuardTTL)
		})
	}
}

// =========================================================================
// METRICS
// =========================================================================

func TestSignup_OutcomeCountedAtFailingStep(t *testing.T) {
	f := newSignupFixture(t, nil)

	_, err := f.svc.Signup(context.Background(), validSignup())
	require.NoError(t, err)

	_, err = f.svc.Signup(context.Background(), validSignup())
	requireSignupError(t, err, apperror.ErrConflict)

	f.profiles.insertErrs = []error{&apperror.UniqueViolation{Field: "email"}}
	in := validSignup()
	in.Email = "grace@example.com"
	in.Phone = ""
	_, err = f.svc.Signup(context.Background(), in)
	requireSignupError(t, err, apperror.ErrConflict)

	assert.Equal(t, 1.0, f.signupOutcomes(t, StateCommitted, "ok"))
	assert.Equal(t, 1.0, f.signupOutcomes(t, StateCheckingDuplicates, "conflict"))
	assert.Equal(t, 1.0, f.signupOutcomes(t, StateRollingBackAccount, "conflict"))
	assert.Zero(t, f.signupOutcomes(t, StateFailed, "conflict"))
}
