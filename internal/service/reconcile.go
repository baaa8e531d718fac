package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/storefront-auth/internal/identity"
	"github.com/sakif/storefront-auth/internal/metrics"
	"github.com/sakif/storefront-auth/internal/model"
	"github.com/sakif/storefront-auth/internal/repository"
)

// DefaultReconcileInterval is how often recorded orphans are retried.
const DefaultReconcileInterval = 5 * time.Minute

// Reconciler retries the deletes that failed during signup rollbacks.
//
// Until an orphaned account is deleted its email is taken in the identity
// service, so the user cannot sign up again. The reconciler runs in the
// background and clears orphans once the admin endpoint is reachable again.
type Reconciler struct {
	orphans  repository.OrphanStore
	profiles repository.ProfileStore
	admin    identity.Admin
	metrics  *metrics.Metrics
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewReconciler(
	orphans repository.OrphanStore,
	profiles repository.ProfileStore,
	admin identity.Admin,
	m *metrics.Metrics,
	logger *slog.Logger,
	interval time.Duration,
	timeout time.Duration,
) *Reconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	if timeout <= 0 {
		timeout = DefaultRollbackTimeout
	}
	return &Reconciler{
		orphans:  orphans,
		profiles: profiles,
		admin:    admin,
		metrics:  m,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. Calling it twice has no effect.
func (r *Reconciler) Start() {
	r.startOnce.Do(func() {
		r.logger.Info("starting orphan reconciler", slog.Duration("interval", r.interval))
		r.wg.Add(1)
		go r.loop()
	})
}

// Stop ends the loop and waits for an in-progress pass to finish.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}

func (r *Reconciler) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			if _, err := r.RunOnce(context.Background()); err != nil {
				r.logger.Warn("orphan reconciliation pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce makes one pass over the recorded orphans and returns how many it
// cleared. A failure on one orphan does not stop the pass.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	listCtx, cancel := context.WithTimeout(ctx, r.timeout)
	orphans, err := r.orphans.ListOrphans(listCtx)
	cancel()
	if err != nil {
		return 0, err
	}

	cleared := 0
	for _, o := range orphans {
		if r.reconcile(ctx, o) {
			cleared++
		}
	}

	if len(orphans) > 0 {
		r.logger.Info("orphan reconciliation pass",
			slog.Int("pending", len(orphans)),
			slog.Int("cleared", cleared),
		)
	}
	return cleared, nil
}

func (r *Reconciler) reconcile(ctx context.Context, o model.OrphanedAccount) bool {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	logger := r.logger.With(slog.String("account_id", o.AccountID))

	profile, err := r.profiles.FindByField(ctx, model.FieldID, o.AccountID)
	if err != nil {
		logger.Warn("checking orphan for profile", slog.String("error", err.Error()))
		return false
	}

	if profile == nil {
		if err := r.admin.DeleteAccount(ctx, o.AccountID); err != nil {
			logger.Warn("orphaned account still not deletable", slog.String("error", err.Error()))
			return false
		}
	} else {
		// Someone completed the profile by hand; the account is real now.
		logger.Warn("orphaned account has a profile, keeping account")
	}

	if err := r.orphans.ResolveOrphan(ctx, o.AccountID); err != nil {
		logger.Error("resolving orphan record", slog.String("error", err.Error()))
		return false
	}

	r.metrics.OrphanReconciled()
	logger.Info("orphaned account reconciled")
	return true
}
