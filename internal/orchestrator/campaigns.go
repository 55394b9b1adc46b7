package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"leadpilot/internal/campaign"
	"leadpilot/internal/store"
)

// CreateRequest is the management API's campaign creation payload.
type CreateRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	ProjectID   string          `json:"projectId"`
	Config      campaign.Config `json:"config"`
}

// UpdateRequest patches a campaign. Nil fields are left untouched; a
// new config is validated whole before it replaces the old one.
type UpdateRequest struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Config      *campaign.Config `json:"config"`
}

// Create validates and persists a campaign, registering its schedule
// when one is enabled.
func (o *Orchestrator) Create(req CreateRequest) (*campaign.Campaign, error) {
	if o.store == nil {
		return nil, ErrUnavailable
	}
	if err := campaign.ValidateConfig(req.Name, &req.Config); err != nil {
		return nil, err
	}

	c := &campaign.Campaign{
		Name:        req.Name,
		Description: req.Description,
		ProjectID:   req.ProjectID,
		Status:      campaign.StatusActive,
		Config:      req.Config,
	}
	if err := o.store.CreateCampaign(c); err != nil {
		return nil, err
	}
	o.logger.Info("campaign created",
		zap.String("campaign_id", c.ID), zap.String("campaign", c.Name))

	o.scheduleIfEnabled(c)
	return c, nil
}

// Update applies a partial edit and refreshes the schedule to match
// the new state.
func (o *Orchestrator) Update(id string, req UpdateRequest) (*campaign.Campaign, error) {
	if o.store == nil {
		return nil, ErrUnavailable
	}

	existing, err := o.store.GetCampaign(id)
	if err != nil {
		return nil, err
	}
	name := existing.Name
	if req.Name != nil {
		name = *req.Name
		if name == "" {
			return nil, &campaign.ValidationError{
				Field: "name", Message: "must not be empty",
			}
		}
	}
	if req.Config != nil {
		if err := campaign.ValidateConfig(name, req.Config); err != nil {
			return nil, err
		}
	}

	patch := store.CampaignPatch{
		Name:        req.Name,
		Description: req.Description,
		Config:      req.Config,
	}
	if err := o.store.UpdateCampaign(id, patch); err != nil {
		return nil, err
	}

	c, err := o.store.GetCampaign(id)
	if err != nil {
		return nil, err
	}
	o.logger.Info("campaign updated", zap.String("campaign_id", id))

	o.sched.Unschedule(id)
	o.scheduleIfEnabled(c)
	return c, nil
}

// Get loads one campaign.
func (o *Orchestrator) Get(id string) (*campaign.Campaign, error) {
	if o.store == nil {
		return nil, ErrUnavailable
	}
	return o.store.GetCampaign(id)
}

// List returns campaigns matching the filter.
func (o *Orchestrator) List(f store.CampaignFilter) ([]*campaign.Campaign, error) {
	if o.store == nil {
		return nil, ErrUnavailable
	}
	return o.store.ListCampaigns(f)
}

// Runs returns a campaign's recent runs, newest first.
func (o *Orchestrator) Runs(id string, limit int) ([]*campaign.Run, error) {
	if o.store == nil {
		return nil, ErrUnavailable
	}
	if _, err := o.store.GetCampaign(id); err != nil {
		return nil, err
	}
	return o.store.ListRuns(id, limit)
}

// Pause stops a campaign: status paused, schedule removed. In-flight
// runs finish on their own.
func (o *Orchestrator) Pause(id string) (*campaign.Campaign, error) {
	return o.setStatus(id, campaign.StatusPaused)
}

// Resume reactivates a campaign and re-registers its schedule.
func (o *Orchestrator) Resume(id string) (*campaign.Campaign, error) {
	return o.setStatus(id, campaign.StatusActive)
}

func (o *Orchestrator) setStatus(id string, status campaign.Status) (*campaign.Campaign, error) {
	if o.store == nil {
		return nil, ErrUnavailable
	}
	if err := o.store.UpdateCampaign(id, store.CampaignPatch{Status: &status}); err != nil {
		return nil, err
	}
	c, err := o.store.GetCampaign(id)
	if err != nil {
		return nil, err
	}
	o.logger.Info("campaign status changed",
		zap.String("campaign_id", id), zap.String("status", string(status)))

	o.sched.Unschedule(id)
	if status == campaign.StatusActive {
		o.scheduleIfEnabled(c)
	}
	return c, nil
}

// Delete removes a campaign and its run history.
func (o *Orchestrator) Delete(id string) error {
	if o.store == nil {
		return ErrUnavailable
	}
	o.sched.Unschedule(id)
	if err := o.store.DeleteCampaign(id); err != nil {
		return err
	}
	o.logger.Info("campaign deleted", zap.String("campaign_id", id))
	return nil
}

// Trigger runs a campaign to completion, regardless of its schedule.
// Archived campaigns cannot be triggered.
func (o *Orchestrator) Trigger(ctx context.Context, id string) (*campaign.Run, error) {
	if o.store == nil {
		return nil, ErrUnavailable
	}
	c, err := o.store.GetCampaign(id)
	if err != nil {
		return nil, err
	}
	if c.Status == campaign.StatusArchived {
		return nil, &campaign.ValidationError{
			Field:   "status",
			Message: "archived campaigns cannot be triggered",
		}
	}
	return o.sched.RunNow(ctx, c)
}

// TriggerAsync starts a manual run in the background: existence and
// status are checked synchronously, then the run proceeds on the
// process context. The run's outcome lands in the run history and the
// notifier, not in the caller's response.
func (o *Orchestrator) TriggerAsync(id string) error {
	if o.store == nil {
		return ErrUnavailable
	}
	c, err := o.store.GetCampaign(id)
	if err != nil {
		return err
	}
	if c.Status == campaign.StatusArchived {
		return &campaign.ValidationError{
			Field:   "status",
			Message: "archived campaigns cannot be triggered",
		}
	}
	go func() {
		if _, err := o.sched.RunNow(o.baseCtx, c); err != nil {
			o.logger.Warn("manual run ended with error",
				zap.String("campaign_id", id), zap.Error(err))
		}
	}()
	return nil
}

// Spending reports the campaign's rolling spend per budget period.
func (o *Orchestrator) Spending(id string) (campaign.Spending, error) {
	if o.store == nil {
		return campaign.Spending{}, ErrUnavailable
	}
	if _, err := o.store.GetCampaign(id); err != nil {
		return campaign.Spending{}, err
	}
	return o.gate.CurrentSpending(id)
}

// Health is the liveness snapshot served by the API.
type Health struct {
	Status         string    `json:"status"`
	Database       bool      `json:"database"`
	SchedulerTasks int       `json:"scheduler_tasks"`
	Time           time.Time `json:"time"`
}

// CheckHealth reports process health. Degraded means the process is up
// but persistence is absent or unreachable.
func (o *Orchestrator) CheckHealth() Health {
	h := Health{Status: "ok", Time: time.Now().UTC()}
	if o.store == nil {
		h.Status = "degraded"
		return h
	}
	if err := o.store.Ping(); err != nil {
		h.Status = "degraded"
		return h
	}
	h.Database = true
	h.SchedulerTasks = len(o.sched.ActiveTasks())
	return h
}

// Stats returns the aggregate counters for the dashboard.
func (o *Orchestrator) Stats() (store.Stats, error) {
	if o.store == nil {
		return store.Stats{}, ErrUnavailable
	}
	return o.store.GetStats()
}

func (o *Orchestrator) scheduleIfEnabled(c *campaign.Campaign) {
	if !o.cfg.EnableCron || !c.Schedulable() {
		return
	}
	if err := o.sched.Schedule(c); err != nil {
		o.logger.Error("failed to schedule campaign",
			zap.String("campaign_id", c.ID), zap.Error(err))
	}
}
