package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"leadpilot/internal/campaign"
	"leadpilot/internal/config"
	"leadpilot/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:              3020,
		DatabasePath:      filepath.Join(t.TempDir(), "leadpilot.db"),
		LogLevel:          "info",
		DefaultTimezone:   "UTC",
		EnableCron:        false,
		RecoveryThreshold: 40 * time.Minute,
	}
}

func newTestOrchestrator(t *testing.T, cfg *config.Config) *Orchestrator {
	t.Helper()
	o, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(o.Shutdown)
	return o
}

func createReq(name string) CreateRequest {
	return CreateRequest{
		Name:      name,
		ProjectID: "proj-1",
		Config: campaign.Config{
			Steps: []campaign.StepConfig{{
				Name:     "prospect",
				Engine:   campaign.EngineProspecting,
				Endpoint: "https://engines.local/prospecting",
			}},
		},
	}
}

func TestCreateAndGet(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(t))

	c, err := o.Create(createReq("Acme outbound"))
	require.NoError(t, err)
	require.NotEmpty(t, c.ID)
	assert.Equal(t, campaign.StatusActive, c.Status)

	got, err := o.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme outbound", got.Name)
}

func TestCreateRejectsInvalidConfig(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(t))

	req := createReq("bad")
	req.Config.Steps = nil
	_, err := o.Create(req)
	var verr *campaign.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "steps", verr.Field)
}

func TestUpdateValidatesNewConfig(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(t))
	c, err := o.Create(createReq("to update"))
	require.NoError(t, err)

	bad := campaign.Config{}
	_, err = o.Update(c.ID, UpdateRequest{Config: &bad})
	assert.Error(t, err)

	name := "updated"
	updated, err := o.Update(c.ID, UpdateRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "updated", updated.Name)
	require.Len(t, updated.Config.Steps, 1, "config untouched when not supplied")

	empty := ""
	_, err = o.Update(c.ID, UpdateRequest{Name: &empty})
	var verr *campaign.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)

	kept, err := o.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", kept.Name, "rejected patch leaves the name alone")
}

func TestPauseResumeSchedules(t *testing.T) {
	cfg := testConfig(t)
	cfg.EnableCron = true
	o := newTestOrchestrator(t, cfg)

	req := createReq("scheduled")
	req.Config.Schedule = &campaign.ScheduleConfig{Cron: "0 9 * * *", Enabled: true}
	c, err := o.Create(req)
	require.NoError(t, err)

	got, err := o.Get(c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt, "schedulable campaigns get a next run on create")

	paused, err := o.Pause(c.ID)
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusPaused, paused.Status)
	assert.Nil(t, paused.NextRunAt, "pausing clears the schedule")

	resumed, err := o.Resume(c.ID)
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusActive, resumed.Status)

	got, err = o.Get(c.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.NextRunAt, "resume re-registers the schedule")
}

func TestDelete(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(t))
	c, err := o.Create(createReq("doomed"))
	require.NoError(t, err)

	require.NoError(t, o.Delete(c.ID))
	_, err = o.Get(c.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTriggerRunsPipeline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"prospects_generated": 4, "cost": 0.3})
	}))
	defer srv.Close()

	o := newTestOrchestrator(t, testConfig(t))
	req := createReq("triggerable")
	req.Config.Steps[0].Endpoint = srv.URL
	c, err := o.Create(req)
	require.NoError(t, err)

	run, err := o.Trigger(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, campaign.RunCompleted, run.Status)
	assert.Equal(t, campaign.TriggerManual, run.TriggerType)
	assert.InDelta(t, 0.3, run.TotalCost, 1e-9)

	got, err := o.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalRuns)
	assert.InDelta(t, 0.3, got.TotalCost, 1e-9)

	runs, err := o.Runs(c.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestTriggerBudgetBlockPausesCampaign(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(t))
	req := createReq("broke")
	zero := 0.0
	req.Config.Budget = &campaign.BudgetConfig{Daily: &zero}
	c, err := o.Create(req)
	require.NoError(t, err)

	run, err := o.Trigger(context.Background(), c.ID)
	var rerr *campaign.RunError
	require.ErrorAs(t, err, &rerr)
	assert.True(t, rerr.BudgetExceeded)
	assert.Equal(t, campaign.RunAborted, run.Status)

	got, err := o.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusPaused, got.Status)
}

func TestTriggerArchivedRejected(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(t))
	c, err := o.Create(createReq("archived"))
	require.NoError(t, err)
	archived := campaign.StatusArchived
	require.NoError(t, o.store.UpdateCampaign(c.ID, store.CampaignPatch{Status: &archived}))

	_, err = o.Trigger(context.Background(), c.ID)
	var verr *campaign.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestAPIOnlyMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.DatabasePath = ""
	o := newTestOrchestrator(t, cfg)
	require.NoError(t, o.Start(context.Background()))

	_, err := o.Create(createReq("nope"))
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = o.List(store.CampaignFilter{})
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = o.Trigger(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnavailable)

	h := o.CheckHealth()
	assert.Equal(t, "degraded", h.Status)
	assert.False(t, h.Database)
}

func TestRecoverStaleRuns(t *testing.T) {
	cfg := testConfig(t)

	// Plant an orphaned run before the orchestrator starts.
	st, err := store.Open(cfg.DatabasePath, zap.NewNop())
	require.NoError(t, err)
	c := &campaign.Campaign{Name: "orphaned", Config: campaign.Config{
		Steps: []campaign.StepConfig{{Name: "s", Engine: campaign.EngineProspecting,
			Endpoint: "https://engines.local/run"}},
	}}
	require.NoError(t, st.CreateCampaign(c))
	stale := &campaign.Run{CampaignID: c.ID, StartedAt: time.Now().UTC().Add(-2 * time.Hour)}
	require.NoError(t, st.CreateRun(stale))
	fresh := &campaign.Run{CampaignID: c.ID}
	require.NoError(t, st.CreateRun(fresh))
	require.NoError(t, st.Close())

	o := newTestOrchestrator(t, cfg)
	require.NoError(t, o.Start(context.Background()))

	swept, err := o.store.GetRun(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, campaign.RunFailed, swept.Status)
	require.NotNil(t, swept.CompletedAt)
	require.Len(t, swept.Errors, 1)
	assert.Equal(t, "recovery", swept.Errors[0].Step)

	untouched, err := o.store.GetRun(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, campaign.RunRunning, untouched.Status)
}

func TestSeedImport(t *testing.T) {
	seed := `
campaigns:
  - name: Seeded outbound
    description: bootstrap campaign
    projectId: proj-7
    config:
      steps:
        - name: prospect
          engine: prospecting
          endpoint: https://engines.local/prospecting
      schedule:
        cron: "0 9 * * 1-5"
        enabled: true
  - name: Broken entry
    config:
      steps: []
`
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o644))

	cfg := testConfig(t)
	cfg.SeedFile = path
	o := newTestOrchestrator(t, cfg)
	require.NoError(t, o.Start(context.Background()))

	all, err := o.List(store.CampaignFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1, "invalid entries are skipped")
	assert.Equal(t, "Seeded outbound", all[0].Name)
	assert.Equal(t, "proj-7", all[0].ProjectID)
	require.NotNil(t, all[0].Config.Schedule)
	assert.Equal(t, "0 9 * * 1-5", all[0].Config.Schedule.Cron)

	// Re-import is idempotent.
	require.NoError(t, o.ImportSeed(path))
	all, err = o.List(store.CampaignFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
