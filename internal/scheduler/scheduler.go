// Package scheduler maps campaign cron schedules onto firing goroutines
// with per-campaign single-flight: a firing that arrives while the
// previous run is still going is dropped, never queued.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"leadpilot/internal/campaign"
	"leadpilot/internal/metrics"
)

// Runner executes one campaign run to completion.
type Runner interface {
	Run(ctx context.Context, c *campaign.Campaign, trigger campaign.TriggerType) (*campaign.Run, error)
}

// Store is the slice of the persistence gateway the scheduler needs.
// Campaigns are re-read at fire time so edits between firings take
// effect without a reschedule.
type Store interface {
	GetCampaign(id string) (*campaign.Campaign, error)
	ListActiveCampaigns() ([]*campaign.Campaign, error)
	SetNextRun(id string, t time.Time) error
	ClearNextRun(id string) error
}

// task is one scheduled campaign. Each carries its own cron instance
// so the schedule's timezone can differ per campaign.
type task struct {
	campaignID string
	cron       *cron.Cron
	entryID    cron.EntryID

	// runMu is the single-flight slot. Firings TryLock it; a failed
	// acquire means a run is in flight and the firing is dropped.
	runMu sync.Mutex
}

// Scheduler owns the set of scheduled campaigns.
type Scheduler struct {
	ctx        context.Context
	runner     Runner
	store      Store
	logger     *zap.Logger
	defaultLoc *time.Location

	mu    sync.Mutex
	tasks map[string]*task
}

// New builds a scheduler. ctx is the process lifetime; runs started by
// firings inherit it.
func New(ctx context.Context, runner Runner, store Store, defaultLoc *time.Location, logger *zap.Logger) *Scheduler {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &Scheduler{
		ctx:        ctx,
		runner:     runner,
		store:      store,
		logger:     logger,
		defaultLoc: defaultLoc,
		tasks:      map[string]*task{},
	}
}

// Schedule registers a campaign's cron schedule, replacing any existing
// registration. The campaign must be active with an enabled schedule.
func (s *Scheduler) Schedule(c *campaign.Campaign) error {
	if !c.Schedulable() {
		return fmt.Errorf("campaign %s has no enabled schedule", c.ID)
	}
	sched := c.Config.Schedule

	loc := s.defaultLoc
	if sched.Timezone != "" {
		l, err := time.LoadLocation(sched.Timezone)
		if err != nil {
			return fmt.Errorf("schedule timezone %q: %w", sched.Timezone, err)
		}
		loc = l
	}
	if _, err := campaign.CronParser.Parse(sched.Cron); err != nil {
		return fmt.Errorf("schedule cron %q: %w", sched.Cron, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.unscheduleLocked(c.ID)

	t := &task{campaignID: c.ID}
	t.cron = cron.New(cron.WithLocation(loc), cron.WithParser(campaign.CronParser))
	id, err := t.cron.AddFunc(sched.Cron, func() { s.fire(t) })
	if err != nil {
		return fmt.Errorf("register schedule for %s: %w", c.ID, err)
	}
	t.entryID = id
	t.cron.Start()

	s.tasks[c.ID] = t
	metrics.ActiveSchedules.Set(float64(len(s.tasks)))

	next := t.cron.Entry(t.entryID).Next
	if err := s.store.SetNextRun(c.ID, next.UTC()); err != nil {
		s.logger.Warn("failed to record next run time",
			zap.String("campaign_id", c.ID), zap.Error(err))
	}
	s.logger.Info("campaign scheduled",
		zap.String("campaign_id", c.ID),
		zap.String("cron", sched.Cron),
		zap.String("timezone", loc.String()),
		zap.Time("next_run", next))
	return nil
}

// Unschedule removes a campaign's schedule. Unknown ids are a no-op.
func (s *Scheduler) Unschedule(campaignID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unscheduleLocked(campaignID)
}

func (s *Scheduler) unscheduleLocked(campaignID string) {
	t, ok := s.tasks[campaignID]
	if !ok {
		return
	}
	t.cron.Stop()
	delete(s.tasks, campaignID)
	metrics.ActiveSchedules.Set(float64(len(s.tasks)))

	if err := s.store.ClearNextRun(campaignID); err != nil {
		s.logger.Warn("failed to clear next run time",
			zap.String("campaign_id", campaignID), zap.Error(err))
	}
	s.logger.Info("campaign unscheduled", zap.String("campaign_id", campaignID))
}

// ScheduleAll registers every active campaign with an enabled schedule.
// Individual failures are logged and skipped so one bad cron expression
// cannot take down the rest.
func (s *Scheduler) ScheduleAll() error {
	campaigns, err := s.store.ListActiveCampaigns()
	if err != nil {
		return fmt.Errorf("list active campaigns: %w", err)
	}
	scheduled := 0
	for _, c := range campaigns {
		if !c.Schedulable() {
			continue
		}
		if err := s.Schedule(c); err != nil {
			s.logger.Error("skipping unschedulable campaign",
				zap.String("campaign_id", c.ID),
				zap.String("campaign", c.Name),
				zap.Error(err))
			continue
		}
		scheduled++
	}
	s.logger.Info("schedules registered",
		zap.Int("scheduled", scheduled), zap.Int("active", len(campaigns)))
	return nil
}

// StopAll stops every cron and waits for in-flight runs started by
// firings to finish.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	var waits []context.Context
	for id, t := range s.tasks {
		waits = append(waits, t.cron.Stop())
		delete(s.tasks, id)
	}
	metrics.ActiveSchedules.Set(0)
	s.mu.Unlock()

	for _, w := range waits {
		<-w.Done()
	}
	s.logger.Info("scheduler stopped")
}

// ActiveTasks returns the ids of currently scheduled campaigns.
func (s *Scheduler) ActiveTasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		out = append(out, id)
	}
	return out
}

// NextRun reports the next firing time of a scheduled campaign.
func (s *Scheduler) NextRun(campaignID string) (time.Time, bool) {
	s.mu.Lock()
	t, ok := s.tasks[campaignID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return t.cron.Entry(t.entryID).Next, true
}

// fire handles one cron firing: acquire the single-flight slot or drop,
// re-read the campaign, run it, advance next_run_at.
func (s *Scheduler) fire(t *task) {
	if !t.runMu.TryLock() {
		metrics.SchedulerSkips.Inc()
		s.logger.Warn("firing dropped, previous run still in flight",
			zap.String("campaign_id", t.campaignID))
		return
	}
	defer t.runMu.Unlock()

	c, err := s.store.GetCampaign(t.campaignID)
	if err != nil {
		s.logger.Error("cannot load campaign at fire time",
			zap.String("campaign_id", t.campaignID), zap.Error(err))
		return
	}
	if c.Status != campaign.StatusActive {
		s.logger.Info("firing skipped, campaign no longer active",
			zap.String("campaign_id", c.ID), zap.String("status", string(c.Status)))
		return
	}

	if _, err := s.runner.Run(s.ctx, c, campaign.TriggerScheduled); err != nil {
		// The runner already persisted and logged the failure detail.
		s.logger.Warn("scheduled run ended with error",
			zap.String("campaign_id", c.ID), zap.Error(err))
	}

	s.advanceNextRun(t)
}

func (s *Scheduler) advanceNextRun(t *task) {
	s.mu.Lock()
	_, live := s.tasks[t.campaignID]
	s.mu.Unlock()
	if !live {
		return
	}
	next := t.cron.Entry(t.entryID).Next
	if next.IsZero() {
		return
	}
	if err := s.store.SetNextRun(t.campaignID, next.UTC()); err != nil {
		s.logger.Warn("failed to record next run time",
			zap.String("campaign_id", t.campaignID), zap.Error(err))
	}
}

// RunNow triggers a campaign manually. When the single-flight slot is
// free the manual run occupies it so a firing arriving mid-run is
// dropped; when a scheduled run is already in flight the manual run
// proceeds alongside it, the operator asked for it explicitly.
func (s *Scheduler) RunNow(ctx context.Context, c *campaign.Campaign) (*campaign.Run, error) {
	s.mu.Lock()
	t := s.tasks[c.ID]
	s.mu.Unlock()

	if t != nil && t.runMu.TryLock() {
		defer t.runMu.Unlock()
	}
	return s.runner.Run(ctx, c, campaign.TriggerManual)
}
