package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"leadpilot/internal/metrics"
)

// RunStore is the slice of the persistence gateway the runner needs.
// The gateway implements these directly; every method is one atomic
// write.
type RunStore interface {
	// CreateRun persists the initial running record. Failure here is
	// fatal to the run: no work starts without a durable record.
	CreateRun(r *Run) error
	// SaveRunProgress patches counters, results and errors mid-run.
	SaveRunProgress(r *Run) error
	// FinalizeRun patches the terminal status and completed_at.
	FinalizeRun(r *Run) error
	// RecordCampaignRun folds a finished run into the campaign's
	// denormalized aggregates.
	RecordCampaignRun(campaignID string, r *Run) error
	// PauseCampaign flips the campaign to paused (budget block).
	PauseCampaign(campaignID string) error
}

// Dispatcher executes one step against its engine, retries included.
type Dispatcher interface {
	Dispatch(ctx context.Context, step StepConfig) (StepResult, error)
}

// Notifier delivers terminal-state notifications. Implementations
// return false when nothing was sent (unconfigured, no target).
type Notifier interface {
	RunCompleted(c *Campaign, r *Run) bool
	RunFailed(c *Campaign, r *Run, errMsg string, budgetExceeded bool) bool
}

// Gate answers whether a campaign may start a run.
type Gate interface {
	Check(campaignID string, budget *BudgetConfig) BudgetCheck
}

// RunError is the failure the runner lets escape: a budget block, a
// fatal step, or a failure to persist the run-start record.
type RunError struct {
	RunID          string
	Message        string
	BudgetExceeded bool
	Err            error
}

func (e *RunError) Error() string {
	return e.Message
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Runner executes one campaign end to end: budget preflight, the
// sequential step loop with per-step failure policy, persistence at
// every state transition, and terminal notifications.
//
// The runner is safe for concurrent use across campaigns. Per-campaign
// single-flight is the scheduler's job, not the runner's.
type Runner struct {
	store      RunStore
	gate       Gate
	dispatcher Dispatcher
	notifier   Notifier
	logger     *zap.Logger
	now        func() time.Time
}

// NewRunner wires the runner's collaborators.
func NewRunner(store RunStore, gate Gate, dispatcher Dispatcher, notifier Notifier, logger *zap.Logger) *Runner {
	return &Runner{
		store:      store,
		gate:       gate,
		dispatcher: dispatcher,
		notifier:   notifier,
		logger:     logger,
		now:        time.Now,
	}
}

// Run executes the campaign once. It always returns the run record it
// produced (nil only when the run-start write failed); the error is
// non-nil for budget blocks and fatal step failures.
func (r *Runner) Run(ctx context.Context, c *Campaign, trigger TriggerType) (run *Run, err error) {
	run = &Run{
		ID:          uuid.NewString(),
		CampaignID:  c.ID,
		Status:      RunRunning,
		TriggerType: trigger,
		StartedAt:   r.now().UTC(),
		Results:     map[string]StepResult{},
		Errors:      []StepError{},
	}

	log := r.logger.With(
		zap.String("campaign_id", c.ID),
		zap.String("campaign", c.Name),
		zap.String("run_id", run.ID),
		zap.String("trigger", string(trigger)),
	)

	if err := r.store.CreateRun(run); err != nil {
		log.Error("cannot persist run start, aborting before any work", zap.Error(err))
		return nil, fmt.Errorf("persist run start: %w", err)
	}
	log.Info("run started", zap.Int("steps", len(c.Config.Steps)))

	// Anything unanticipated becomes a failed run, not a crashed
	// scheduler goroutine.
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("run panicked", zap.Any("panic", rec))
			msg := fmt.Sprintf("internal error: %v", rec)
			r.finalize(log, c, run, RunFailed)
			r.notifier.RunFailed(c, run, msg, false)
			err = &RunError{RunID: run.ID, Message: msg}
		}
	}()

	// Budget preflight. Once past this point a run goes to completion
	// regardless of spend.
	if check := r.gate.Check(c.ID, c.Config.Budget); check.Exceeded {
		run.Errors = append(run.Errors, StepError{
			Step:      "budget-check",
			Error:     check.Reason,
			Timestamp: r.now().UTC(),
		})
		r.finalize(log, c, run, RunAborted)

		if err := r.store.PauseCampaign(c.ID); err != nil {
			log.Error("failed to pause campaign after budget block", zap.Error(err))
		}
		r.notifier.RunFailed(c, run, check.Reason, true)

		log.Warn("run aborted by budget gate",
			zap.String("period", check.Period),
			zap.Float64("spent", check.Spent),
			zap.Float64("limit", check.Limit))
		return run, &RunError{RunID: run.ID, Message: check.Reason, BudgetExceeded: true}
	}

	var fatal error
	for _, step := range c.Config.Steps {
		step.Params = mergeProjectParams(step.Params, c.ProjectID)

		res, stepErr := r.dispatcher.Dispatch(ctx, step)
		if stepErr == nil {
			run.TotalCost += res.Cost
			run.Results[step.Name] = res
			run.StepsCompleted++
			metrics.StepsTotal.WithLabelValues(string(step.Engine), "success").Inc()

			if PerLeadExceeded(c.Config.Budget, res.Cost, primaryLeadCount(res)) {
				log.Warn("step cost per lead over perLead budget",
					zap.String("step", step.Name),
					zap.Float64("cost", res.Cost))
			}

			r.saveProgress(log, run)

			if step.SuccessPolicy() == SuccessAbort {
				log.Info("step requested early stop, remaining steps skipped",
					zap.String("step", step.Name))
				break
			}
			continue
		}

		run.Errors = append(run.Errors, StepError{
			Step:      step.Name,
			Error:     stepErr.Error(),
			Timestamp: r.now().UTC(),
		})
		run.StepsFailed++
		metrics.StepsTotal.WithLabelValues(string(step.Engine), "failure").Inc()
		r.saveProgress(log, run)

		switch step.FailurePolicy() {
		case FailureAbort:
			log.Error("step failed, aborting run",
				zap.String("step", step.Name), zap.Error(stepErr))
			fatal = stepErr
		case FailureLog:
			log.Warn("step failed, logged and continuing",
				zap.String("step", step.Name), zap.Error(stepErr))
		default: // FailureContinue
			log.Warn("step failed, continuing",
				zap.String("step", step.Name), zap.Error(stepErr))
		}
		if fatal != nil {
			break
		}
	}

	status := RunCompleted
	switch {
	case fatal != nil:
		status = RunFailed
	case run.StepsFailed > 0:
		status = RunPartial
	}
	r.finalize(log, c, run, status)

	switch status {
	case RunFailed:
		r.notifier.RunFailed(c, run, fatal.Error(), false)
	default:
		r.notifier.RunCompleted(c, run)
	}

	log.Info("run finished",
		zap.String("status", string(status)),
		zap.Int("steps_completed", run.StepsCompleted),
		zap.Int("steps_failed", run.StepsFailed),
		zap.Float64("total_cost", run.TotalCost))

	if fatal != nil {
		return run, &RunError{RunID: run.ID, Message: fatal.Error(), Err: fatal}
	}
	return run, nil
}

// finalize stamps the terminal status, persists it, and folds the run
// into the campaign aggregates. Persistence failures here are logged
// and swallowed: the run already happened.
func (r *Runner) finalize(log *zap.Logger, c *Campaign, run *Run, status RunStatus) {
	now := r.now().UTC()
	run.Status = status
	run.CompletedAt = &now

	if err := r.store.FinalizeRun(run); err != nil {
		log.Error("failed to persist terminal run state", zap.Error(err))
	}
	if err := r.store.RecordCampaignRun(c.ID, run); err != nil {
		log.Error("failed to update campaign aggregates", zap.Error(err))
	}

	metrics.RunsTotal.WithLabelValues(string(status)).Inc()
	metrics.RunCostTotal.Add(run.TotalCost)
}

func (r *Runner) saveProgress(log *zap.Logger, run *Run) {
	// Mid-run patch failures do not stop the run; the in-memory state
	// stays authoritative and divergence is accepted.
	if err := r.store.SaveRunProgress(run); err != nil {
		log.Error("failed to persist run progress", zap.Error(err))
	}
}

// mergeProjectParams threads the campaign's project id into
// params.options.projectId without clobbering a step-supplied value.
// The input maps are cloned so campaign snapshots stay pristine.
func mergeProjectParams(params map[string]any, projectID string) map[string]any {
	if projectID == "" {
		return params
	}
	merged := make(map[string]any, len(params)+1)
	for k, v := range params {
		merged[k] = v
	}
	options := map[string]any{}
	if prev, ok := merged["options"].(map[string]any); ok {
		for k, v := range prev {
			options[k] = v
		}
	}
	if _, ok := options["projectId"]; !ok {
		options["projectId"] = projectID
	}
	merged["options"] = options
	return merged
}

// primaryLeadCount picks the lead counter relevant to perLead cost:
// generated prospects or analyzed leads. Other engines report zero.
func primaryLeadCount(res StepResult) float64 {
	switch res.Engine {
	case EngineProspecting:
		return res.Metrics["prospects_generated"]
	case EngineAnalysis:
		return res.Metrics["leads_analyzed"]
	}
	return 0
}
