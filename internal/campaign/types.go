// Package campaign holds the lead-generation campaign model and the
// run executor built on top of it.
//
// A campaign is a named pipeline of engine steps with an optional cron
// schedule, budget ceilings, and notification targets. Each execution
// of the pipeline is recorded as a Run with per-step results, errors,
// and accumulated cost.
package campaign

import (
	"time"

	"leadpilot/internal/retry"
)

// Status is the lifecycle state of a campaign definition.
type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusArchived Status = "archived"
)

// RunStatus is the state machine of a single execution.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed" // all steps executed, none failed
	RunPartial   RunStatus = "partial"   // all steps executed, some failed
	RunFailed    RunStatus = "failed"    // terminated by an onFailure=abort step
	RunAborted   RunStatus = "aborted"   // stopped before any step ran
)

// Terminal reports whether a run status is final.
func (s RunStatus) Terminal() bool {
	return s != RunRunning
}

// TriggerType records how a run was started.
type TriggerType string

const (
	TriggerScheduled TriggerType = "scheduled"
	TriggerManual    TriggerType = "manual"
)

// EngineKind identifies the remote worker service a step calls.
type EngineKind string

const (
	EngineProspecting EngineKind = "prospecting"
	EngineAnalysis    EngineKind = "analysis"
	EngineOutreach    EngineKind = "outreach"
	EngineSender      EngineKind = "sender"
)

// EngineKinds lists every valid engine.
var EngineKinds = []EngineKind{EngineProspecting, EngineAnalysis, EngineOutreach, EngineSender}

// SuccessAction decides what happens after a step succeeds.
type SuccessAction string

const (
	SuccessContinue SuccessAction = "continue"
	SuccessAbort    SuccessAction = "abort"
)

// FailureAction decides what happens after a step fails its retries.
type FailureAction string

const (
	FailureAbort    FailureAction = "abort"
	FailureContinue FailureAction = "continue"
	FailureLog      FailureAction = "log"
)

// Campaign is a persisted pipeline definition plus denormalized
// aggregates maintained by the runner.
type Campaign struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	ProjectID   string     `json:"project_id,omitempty"`
	Status      Status     `json:"status"`
	Config      Config     `json:"config"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
	TotalRuns   int        `json:"total_runs"`
	TotalCost   float64    `json:"total_cost"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Schedulable reports whether the campaign is eligible for the cron
// scheduler: active, with a present and enabled schedule.
func (c *Campaign) Schedulable() bool {
	return c.Status == StatusActive &&
		c.Config.Schedule != nil &&
		c.Config.Schedule.Enabled &&
		c.Config.Schedule.Cron != ""
}

// Config is the structured pipeline definition embedded in a campaign.
type Config struct {
	Steps         []StepConfig        `json:"steps"`
	Schedule      *ScheduleConfig     `json:"schedule,omitempty"`
	Budget        *BudgetConfig       `json:"budget,omitempty"`
	Notifications *NotificationConfig `json:"notifications,omitempty"`
}

// StepConfig is one ordered engine call within a campaign. Field names
// follow the wire shape used by the engines and the client UI.
type StepConfig struct {
	Name      string         `json:"name"`
	Engine    EngineKind     `json:"engine"`
	Endpoint  string         `json:"endpoint"`
	Method    string         `json:"method,omitempty"` // default POST
	Params    map[string]any `json:"params,omitempty"`
	TimeoutMS int            `json:"timeout_ms,omitempty"`
	Retry     *RetryConfig   `json:"retry,omitempty"`
	OnSuccess SuccessAction  `json:"onSuccess,omitempty"` // default continue
	OnFailure FailureAction  `json:"onFailure,omitempty"` // default abort
}

// SuccessPolicy returns the effective on-success policy.
func (s *StepConfig) SuccessPolicy() SuccessAction {
	if s.OnSuccess == "" {
		return SuccessContinue
	}
	return s.OnSuccess
}

// FailurePolicy returns the effective on-failure policy.
func (s *StepConfig) FailurePolicy() FailureAction {
	if s.OnFailure == "" {
		return FailureAbort
	}
	return s.OnFailure
}

// RetryPolicy converts the step's wire-level retry config into an
// executable policy. A missing config means a single attempt.
func (s *StepConfig) RetryPolicy() retry.Policy {
	if s.Retry == nil {
		return retry.Policy{Attempts: 1}
	}
	return retry.Policy{
		Attempts:     s.Retry.Attempts,
		InitialDelay: time.Duration(s.Retry.DelayMS) * time.Millisecond,
		Backoff:      retry.Strategy(s.Retry.Backoff),
	}
}

// RetryConfig is the declarative retry policy on a step.
type RetryConfig struct {
	Attempts int    `json:"attempts"`
	DelayMS  int    `json:"delay_ms"`
	Backoff  string `json:"backoff"` // exponential, linear, constant
}

// ScheduleConfig describes when the campaign fires. Only campaigns
// with Enabled=true and a cron expression are ever scheduled.
type ScheduleConfig struct {
	Cron     string `json:"cron"`
	Timezone string `json:"timezone,omitempty"` // IANA name; empty = system default
	Enabled  bool   `json:"enabled"`
}

// BudgetConfig holds optional spend ceilings in a single currency.
// Nil fields are unlimited.
type BudgetConfig struct {
	Daily   *float64 `json:"daily,omitempty"`
	Weekly  *float64 `json:"weekly,omitempty"`
	Monthly *float64 `json:"monthly,omitempty"`
	PerLead *float64 `json:"perLead,omitempty"`
}

// NotificationConfig names the targets for terminal-state emails.
type NotificationConfig struct {
	OnComplete *NotificationTarget `json:"onComplete,omitempty"`
	OnFailure  *NotificationTarget `json:"onFailure,omitempty"`
}

// NotificationTarget is a single email recipient.
type NotificationTarget struct {
	Email string `json:"email"`
}

// Run is one persisted execution of a campaign.
type Run struct {
	ID             string                `json:"id"`
	CampaignID     string                `json:"campaign_id"`
	Status         RunStatus             `json:"status"`
	TriggerType    TriggerType           `json:"trigger_type"`
	StartedAt      time.Time             `json:"started_at"`
	CompletedAt    *time.Time            `json:"completed_at,omitempty"`
	StepsCompleted int                   `json:"steps_completed"`
	StepsFailed    int                   `json:"steps_failed"`
	TotalCost      float64               `json:"total_cost"`
	Results        map[string]StepResult `json:"results"`
	Errors         []StepError           `json:"errors"`
	CreatedAt      time.Time             `json:"created_at"`
}

// StepError records one step failure within a run.
type StepError struct {
	Step      string    `json:"step"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// StepResult is the normalized outcome of one engine call. Metrics
// holds the engine-appropriate counters under canonical keys (for
// example prospects_generated, emails_sent); Raw carries the full
// engine payload for downstream reporting.
type StepResult struct {
	Success bool               `json:"success"`
	Engine  EngineKind         `json:"engine"`
	Cost    float64            `json:"cost"`
	TimeMS  int64              `json:"time_ms"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
	Raw     map[string]any     `json:"raw_result,omitempty"`
}
