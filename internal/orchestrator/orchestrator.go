// Package orchestrator wires the store, budget gate, dispatcher,
// runner, scheduler and notifier into one process and exposes the
// operations the management API calls.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"leadpilot/internal/campaign"
	"leadpilot/internal/config"
	"leadpilot/internal/engine"
	"leadpilot/internal/notify"
	"leadpilot/internal/scheduler"
	"leadpilot/internal/store"
)

// ErrUnavailable is returned in API-only mode, when no database path is
// configured and campaign operations have nowhere to go.
var ErrUnavailable = errors.New("persistence not configured, running in API-only mode")

// Orchestrator owns the process components. In API-only mode only the
// notifier exists and every campaign operation fails with
// ErrUnavailable.
type Orchestrator struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.Store
	gate     *campaign.BudgetGate
	runner   *campaign.Runner
	sched    *scheduler.Scheduler
	notifier *notify.Notifier

	// baseCtx is the process lifetime; background manual runs inherit
	// it rather than the triggering request's context.
	baseCtx   context.Context
	stopWatch context.CancelFunc
}

// New builds the component graph. ctx is the process lifetime; runs
// started by cron firings inherit it.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		notifier: notify.New(cfg, logger),
		baseCtx:  ctx,
	}
	if cfg.APIOnly() {
		logger.Warn("DATABASE_PATH not set, campaign operations disabled")
		return o, nil
	}

	st, err := store.Open(cfg.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	o.store = st
	o.gate = campaign.NewBudgetGate(st, cfg.Location(), logger)
	o.runner = campaign.NewRunner(st, o.gate, engine.NewDispatcher(logger), o.notifier, logger)
	o.sched = scheduler.New(ctx, o.runner, st, cfg.Location(), logger)
	return o, nil
}

// Start runs the startup sequence: sweep orphaned runs, import the
// seed file, register schedules. No-op in API-only mode.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.store == nil {
		return nil
	}

	if err := o.recoverStaleRuns(ctx); err != nil {
		// The sweep is hygiene, not a startup gate.
		o.logger.Error("stale run sweep failed", zap.Error(err))
	}

	if o.cfg.SeedFile != "" {
		if err := o.ImportSeed(o.cfg.SeedFile); err != nil {
			o.logger.Error("seed import failed",
				zap.String("file", o.cfg.SeedFile), zap.Error(err))
		}
		if o.cfg.WatchSeed {
			watchCtx, cancel := context.WithCancel(ctx)
			o.stopWatch = cancel
			if err := o.watchSeed(watchCtx, o.cfg.SeedFile); err != nil {
				o.logger.Error("seed watch failed",
					zap.String("file", o.cfg.SeedFile), zap.Error(err))
			}
		}
	}

	if o.cfg.EnableCron {
		if err := o.sched.ScheduleAll(); err != nil {
			return fmt.Errorf("register schedules: %w", err)
		}
	} else {
		o.logger.Info("cron disabled on startup, campaigns run manually only")
	}
	return nil
}

// Shutdown stops the scheduler, waits for in-flight runs, and closes
// the store.
func (o *Orchestrator) Shutdown() {
	if o.stopWatch != nil {
		o.stopWatch()
	}
	if o.sched != nil {
		o.sched.StopAll()
	}
	if o.store != nil {
		if err := o.store.Close(); err != nil {
			o.logger.Error("store close failed", zap.Error(err))
		}
	}
}

// recoverStaleRuns marks runs orphaned by a previous crash as failed.
// A run still in status running longer than the recovery threshold
// cannot be live; the longest legitimate run is bounded by the step
// wall timeouts.
func (o *Orchestrator) recoverStaleRuns(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-o.cfg.RecoveryThreshold)
	stale, err := o.store.ListStaleRunning(cutoff)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}
	o.logger.Warn("sweeping orphaned runs",
		zap.Int("count", len(stale)),
		zap.Duration("threshold", o.cfg.RecoveryThreshold))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, r := range stale {
		r := r
		g.Go(func() error {
			now := time.Now().UTC()
			failed := campaign.RunFailed
			errs := append(r.Errors, campaign.StepError{
				Step:      "recovery",
				Error:     "run orphaned by process restart",
				Timestamp: now,
			})
			if err := o.store.UpdateRun(r.ID, store.RunPatch{
				Status:      &failed,
				CompletedAt: &now,
				Errors:      errs,
			}); err != nil {
				return fmt.Errorf("sweep run %s: %w", r.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}
