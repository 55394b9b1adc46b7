package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"leadpilot/internal/campaign"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "leadpilot.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleCampaign(name string) *campaign.Campaign {
	return &campaign.Campaign{
		Name:      name,
		ProjectID: "proj-1",
		Config: campaign.Config{
			Steps: []campaign.StepConfig{{
				Name:     "prospect",
				Engine:   campaign.EngineProspecting,
				Endpoint: "https://engines.local/prospecting",
			}},
			Schedule: &campaign.ScheduleConfig{Cron: "0 9 * * *", Enabled: true},
		},
	}
}

func TestCampaignCRUD(t *testing.T) {
	s := openTestStore(t)

	c := sampleCampaign("Acme outbound")
	require.NoError(t, s.CreateCampaign(c))
	require.NotEmpty(t, c.ID)
	assert.Equal(t, campaign.StatusActive, c.Status)

	got, err := s.GetCampaign(c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme outbound", got.Name)
	assert.Equal(t, "proj-1", got.ProjectID)
	require.Len(t, got.Config.Steps, 1)
	assert.Equal(t, campaign.EngineProspecting, got.Config.Steps[0].Engine)
	require.NotNil(t, got.Config.Schedule)
	assert.True(t, got.Config.Schedule.Enabled)

	name := "Renamed"
	paused := campaign.StatusPaused
	require.NoError(t, s.UpdateCampaign(c.ID, CampaignPatch{Name: &name, Status: &paused}))
	got, err = s.GetCampaign(c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, campaign.StatusPaused, got.Status)

	require.NoError(t, s.DeleteCampaign(c.ID))
	_, err = s.GetCampaign(c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNotFoundErrors(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetCampaign("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteCampaign("nope"), ErrNotFound)
	st := campaign.StatusPaused
	assert.ErrorIs(t, s.UpdateCampaign("nope", CampaignPatch{Status: &st}), ErrNotFound)
	_, err = s.GetRun("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListCampaignsFilter(t *testing.T) {
	s := openTestStore(t)

	a := sampleCampaign("a")
	require.NoError(t, s.CreateCampaign(a))
	b := sampleCampaign("b")
	b.ProjectID = "proj-2"
	require.NoError(t, s.CreateCampaign(b))
	require.NoError(t, s.PauseCampaign(b.ID))

	all, err := s.ListCampaigns(CampaignFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := s.ListActiveCampaigns()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)

	byProject, err := s.ListCampaigns(CampaignFilter{ProjectID: "proj-2"})
	require.NoError(t, err)
	require.Len(t, byProject, 1)
	assert.Equal(t, b.ID, byProject[0].ID)
}

func TestAggregateIncrements(t *testing.T) {
	s := openTestStore(t)
	c := sampleCampaign("agg")
	require.NoError(t, s.CreateCampaign(c))

	run := &campaign.Run{CampaignID: c.ID, TotalCost: 1.5, StartedAt: time.Now().UTC()}
	require.NoError(t, s.CreateRun(run))
	require.NoError(t, s.RecordCampaignRun(c.ID, run))
	require.NoError(t, s.RecordCampaignRun(c.ID, run))

	got, err := s.GetCampaign(c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalRuns)
	assert.InDelta(t, 3.0, got.TotalCost, 1e-9)
	require.NotNil(t, got.LastRunAt)
}

func TestNextRunRoundTrip(t *testing.T) {
	s := openTestStore(t)
	c := sampleCampaign("next")
	require.NoError(t, s.CreateCampaign(c))

	next := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, s.SetNextRun(c.ID, next))
	got, err := s.GetCampaign(c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(next))

	require.NoError(t, s.ClearNextRun(c.ID))
	got, err = s.GetCampaign(c.ID)
	require.NoError(t, err)
	assert.Nil(t, got.NextRunAt)
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	c := sampleCampaign("runs")
	require.NoError(t, s.CreateCampaign(c))

	run := &campaign.Run{
		CampaignID:  c.ID,
		TriggerType: campaign.TriggerScheduled,
	}
	require.NoError(t, s.CreateRun(run))
	require.NotEmpty(t, run.ID)
	assert.Equal(t, campaign.RunRunning, run.Status)

	run.StepsCompleted = 1
	run.TotalCost = 0.5
	run.Results = map[string]campaign.StepResult{
		"prospect": {Success: true, Engine: campaign.EngineProspecting, Cost: 0.5,
			Metrics: map[string]float64{"prospects_generated": 12}},
	}
	run.Errors = []campaign.StepError{}
	require.NoError(t, s.SaveRunProgress(run))

	now := time.Now().UTC()
	run.Status = campaign.RunCompleted
	run.CompletedAt = &now
	require.NoError(t, s.FinalizeRun(run))

	got, err := s.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, campaign.RunCompleted, got.Status)
	assert.Equal(t, campaign.TriggerScheduled, got.TriggerType)
	assert.Equal(t, 1, got.StepsCompleted)
	require.Contains(t, got.Results, "prospect")
	assert.Equal(t, float64(12), got.Results["prospect"].Metrics["prospects_generated"])
	require.NotNil(t, got.CompletedAt)
}

func TestListRunsOrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	c := sampleCampaign("history")
	require.NoError(t, s.CreateCampaign(c))

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		run := &campaign.Run{CampaignID: c.ID, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.CreateRun(run))
	}

	runs, err := s.ListRuns(c.ID, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].StartedAt.After(runs[1].StartedAt), "newest first")

	all, err := s.ListRuns(c.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3, "zero limit uses the default page")
}

func TestCascadeDelete(t *testing.T) {
	s := openTestStore(t)
	c := sampleCampaign("cascade")
	require.NoError(t, s.CreateCampaign(c))
	run := &campaign.Run{CampaignID: c.ID}
	require.NoError(t, s.CreateRun(run))

	require.NoError(t, s.DeleteCampaign(c.ID))
	_, err := s.GetRun(run.ID)
	assert.ErrorIs(t, err, ErrNotFound, "runs vanish with their campaign")
}

func TestGetSpendingWindow(t *testing.T) {
	s := openTestStore(t)
	c := sampleCampaign("spending")
	require.NoError(t, s.CreateCampaign(c))

	now := time.Now().UTC()
	mk := func(started time.Time, cost float64) {
		run := &campaign.Run{CampaignID: c.ID, StartedAt: started, TotalCost: cost}
		require.NoError(t, s.CreateRun(run))
	}
	mk(now.Add(-30*time.Minute), 1.0) // inside
	mk(now.Add(-90*time.Minute), 2.0) // before window
	mk(now.Add(time.Minute), 4.0)     // at/after end

	sum, err := s.GetSpending(c.ID, now.Add(-time.Hour), now)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sum, 1e-9, "interval is [start, end)")

	sum, err = s.GetSpending("other-campaign", now.Add(-time.Hour), now)
	require.NoError(t, err)
	assert.Zero(t, sum)
}

func TestGetSpendingNonUTCBounds(t *testing.T) {
	s := openTestStore(t)
	c := sampleCampaign("tokyo")
	require.NoError(t, s.CreateCampaign(c))

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 16:00 UTC on the 25th is 01:00 on the 26th in Tokyo, inside a
	// Tokyo daily window. Offset-bearing bounds must still match it.
	started := time.Date(2026, 8, 25, 16, 0, 0, 0, time.UTC)
	run := &campaign.Run{CampaignID: c.ID, StartedAt: started, TotalCost: 1.0}
	require.NoError(t, s.CreateRun(run))

	start := time.Date(2026, 8, 26, 0, 0, 0, 0, tokyo)
	end := time.Date(2026, 8, 26, 2, 0, 0, 0, tokyo)
	sum, err := s.GetSpending(c.ID, start, end)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sum, 1e-9)

	// The day before in Tokyo excludes it.
	sum, err = s.GetSpending(c.ID, start.AddDate(0, 0, -1), start.Add(-23*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, sum)

	// A run handed to the store with a zoned StartedAt is stored in
	// UTC and still lands in the right window.
	zoned := &campaign.Run{
		CampaignID: c.ID,
		StartedAt:  time.Date(2026, 8, 26, 1, 30, 0, 0, tokyo),
		TotalCost:  0.5,
	}
	require.NoError(t, s.CreateRun(zoned))
	sum, err = s.GetSpending(c.ID, start, end)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, sum, 1e-9)
}

func TestListStaleRunning(t *testing.T) {
	s := openTestStore(t)
	c := sampleCampaign("stale")
	require.NoError(t, s.CreateCampaign(c))

	old := &campaign.Run{CampaignID: c.ID, StartedAt: time.Now().UTC().Add(-2 * time.Hour)}
	require.NoError(t, s.CreateRun(old))
	fresh := &campaign.Run{CampaignID: c.ID}
	require.NoError(t, s.CreateRun(fresh))
	done := &campaign.Run{CampaignID: c.ID, StartedAt: time.Now().UTC().Add(-3 * time.Hour)}
	require.NoError(t, s.CreateRun(done))
	completed := campaign.RunCompleted
	require.NoError(t, s.UpdateRun(done.ID, RunPatch{Status: &completed}))

	stale, err := s.ListStaleRunning(time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}

func TestGetStats(t *testing.T) {
	s := openTestStore(t)

	a := sampleCampaign("a")
	require.NoError(t, s.CreateCampaign(a))
	b := sampleCampaign("b")
	require.NoError(t, s.CreateCampaign(b))
	require.NoError(t, s.PauseCampaign(b.ID))
	run := &campaign.Run{CampaignID: a.ID, TotalCost: 2.5}
	require.NoError(t, s.CreateRun(run))

	st, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, st.Campaigns)
	assert.Equal(t, 1, st.ActiveCampaigns)
	assert.Equal(t, 1, st.PausedCampaigns)
	assert.Equal(t, 0, st.ArchivedCampaigns)
	assert.Equal(t, 1, st.Runs)
	assert.InDelta(t, 2.5, st.TotalCost, 1e-9)
}
