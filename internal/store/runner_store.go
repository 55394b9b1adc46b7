package store

import (
	"time"

	"leadpilot/internal/campaign"
)

// The runner sees the store through a narrow semantic interface; these
// adapters translate its snapshots into patches.

// SaveRunProgress patches the run's counters, results and errors from
// the in-memory snapshot.
func (s *Store) SaveRunProgress(r *campaign.Run) error {
	return s.UpdateRun(r.ID, RunPatch{
		StepsCompleted: &r.StepsCompleted,
		StepsFailed:    &r.StepsFailed,
		TotalCost:      &r.TotalCost,
		Results:        r.Results,
		Errors:         r.Errors,
	})
}

// FinalizeRun writes the run's terminal status alongside the last
// progress snapshot.
func (s *Store) FinalizeRun(r *campaign.Run) error {
	return s.UpdateRun(r.ID, RunPatch{
		Status:         &r.Status,
		CompletedAt:    r.CompletedAt,
		StepsCompleted: &r.StepsCompleted,
		StepsFailed:    &r.StepsFailed,
		TotalCost:      &r.TotalCost,
		Results:        r.Results,
		Errors:         r.Errors,
	})
}

// RecordCampaignRun folds a finished run into the campaign aggregates:
// run count, lifetime cost and last_run_at.
func (s *Store) RecordCampaignRun(campaignID string, r *campaign.Run) error {
	started := r.StartedAt
	return s.UpdateCampaign(campaignID, CampaignPatch{
		LastRunAt: &started,
		AddRuns:   1,
		AddCost:   r.TotalCost,
	})
}

// PauseCampaign flips a campaign to paused.
func (s *Store) PauseCampaign(campaignID string) error {
	paused := campaign.StatusPaused
	return s.UpdateCampaign(campaignID, CampaignPatch{Status: &paused})
}

// SetNextRun records the next scheduled firing time.
func (s *Store) SetNextRun(campaignID string, t time.Time) error {
	return s.UpdateCampaign(campaignID, CampaignPatch{NextRunAt: &t})
}

// ClearNextRun removes the next firing time of an unscheduled campaign.
func (s *Store) ClearNextRun(campaignID string) error {
	return s.UpdateCampaign(campaignID, CampaignPatch{ClearNextRun: true})
}
