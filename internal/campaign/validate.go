package campaign

import (
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"leadpilot/internal/retry"
)

// ValidationError reports a single invalid field. The API layer maps
// it to a 400 response.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// CronParser accepts the standard 5-field Unix cron grammar, with
// day-of-week names. Shared by validation, the scheduler, and
// next-run computation so they can never disagree.
var CronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

var fieldValidator = validator.New()

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

// ValidateConfig checks a campaign name and pipeline definition. It is
// pure: it never touches storage and calling it twice is free.
func ValidateConfig(name string, cfg *Config) error {
	if name == "" {
		return invalid("name", "must not be empty")
	}
	if cfg == nil || len(cfg.Steps) == 0 {
		return invalid("steps", "at least one step is required")
	}
	seen := make(map[string]bool, len(cfg.Steps))
	for i := range cfg.Steps {
		step := &cfg.Steps[i]
		if err := ValidateStep(step); err != nil {
			return err
		}
		if seen[step.Name] {
			return invalid("steps", "duplicate step name %q", step.Name)
		}
		seen[step.Name] = true
	}
	if cfg.Schedule != nil {
		if err := ValidateSchedule(cfg.Schedule); err != nil {
			return err
		}
	}
	if cfg.Budget != nil {
		if err := ValidateBudget(cfg.Budget); err != nil {
			return err
		}
	}
	return nil
}

// ValidateStep checks one step definition.
func ValidateStep(s *StepConfig) error {
	if s.Name == "" {
		return invalid("step.name", "must not be empty")
	}
	switch s.Engine {
	case EngineProspecting, EngineAnalysis, EngineOutreach, EngineSender:
	default:
		return invalid("step.engine", "unknown engine %q", s.Engine)
	}
	if err := fieldValidator.Var(s.Endpoint, "required,url"); err != nil {
		return invalid("step.endpoint", "%q is not a valid http(s) URL", s.Endpoint)
	}
	if s.Method != "" && !validMethods[s.Method] {
		return invalid("step.method", "unsupported method %q", s.Method)
	}
	switch s.OnSuccess {
	case "", SuccessContinue, SuccessAbort:
	default:
		return invalid("step.onSuccess", "must be continue or abort, got %q", s.OnSuccess)
	}
	switch s.OnFailure {
	case "", FailureAbort, FailureContinue, FailureLog:
	default:
		return invalid("step.onFailure", "must be abort, continue or log, got %q", s.OnFailure)
	}
	if s.TimeoutMS < 0 {
		return invalid("step.timeout_ms", "must not be negative")
	}
	if s.Retry != nil {
		if err := ValidateRetry(s.Retry); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSchedule checks the cron expression and timezone.
func ValidateSchedule(s *ScheduleConfig) error {
	if s.Cron == "" {
		return invalid("schedule.cron", "must not be empty")
	}
	if _, err := CronParser.Parse(s.Cron); err != nil {
		return invalid("schedule.cron", "%q: %v", s.Cron, err)
	}
	if s.Timezone != "" {
		if err := fieldValidator.Var(s.Timezone, "timezone"); err != nil {
			return invalid("schedule.timezone", "unknown timezone %q", s.Timezone)
		}
	}
	return nil
}

// ValidateBudget checks that every present ceiling is a finite,
// non-negative number.
func ValidateBudget(b *BudgetConfig) error {
	check := func(field string, v *float64) error {
		if v == nil {
			return nil
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
			return invalid("budget."+field, "must be a finite non-negative number")
		}
		return nil
	}
	if err := check("daily", b.Daily); err != nil {
		return err
	}
	if err := check("weekly", b.Weekly); err != nil {
		return err
	}
	if err := check("monthly", b.Monthly); err != nil {
		return err
	}
	return check("perLead", b.PerLead)
}

// ValidateRetry checks a step retry policy.
func ValidateRetry(r *RetryConfig) error {
	if r.Attempts < 0 {
		return invalid("retry.attempts", "must be a non-negative integer")
	}
	if r.DelayMS < 0 {
		return invalid("retry.delay_ms", "must not be negative")
	}
	switch retry.Strategy(r.Backoff) {
	case "", retry.Exponential, retry.Linear, retry.Constant:
	default:
		return invalid("retry.backoff", "must be exponential, linear or constant, got %q", r.Backoff)
	}
	return nil
}
