package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRunStore struct {
	created    *Run
	progress   int
	finalized  *Run
	pausedIDs  []string
	aggregated []*Run

	failCreate bool
	failSaves  bool
}

func (f *fakeRunStore) CreateRun(r *Run) error {
	if f.failCreate {
		return errors.New("disk full")
	}
	f.created = r
	return nil
}

func (f *fakeRunStore) SaveRunProgress(r *Run) error {
	if f.failSaves {
		return errors.New("disk full")
	}
	f.progress++
	return nil
}

func (f *fakeRunStore) FinalizeRun(r *Run) error {
	if f.failSaves {
		return errors.New("disk full")
	}
	f.finalized = r
	return nil
}

func (f *fakeRunStore) RecordCampaignRun(campaignID string, r *Run) error {
	f.aggregated = append(f.aggregated, r)
	return nil
}

func (f *fakeRunStore) PauseCampaign(campaignID string) error {
	f.pausedIDs = append(f.pausedIDs, campaignID)
	return nil
}

type fakeDispatcher struct {
	results map[string]StepResult
	errs    map[string]error
	calls   []string
	params  map[string]map[string]any
}

func (f *fakeDispatcher) Dispatch(_ context.Context, step StepConfig) (StepResult, error) {
	f.calls = append(f.calls, step.Name)
	if f.params == nil {
		f.params = map[string]map[string]any{}
	}
	f.params[step.Name] = step.Params
	if err := f.errs[step.Name]; err != nil {
		return StepResult{}, err
	}
	return f.results[step.Name], nil
}

type fakeNotifier struct {
	completed      int
	failed         int
	lastErrMsg     string
	budgetExceeded bool
}

func (f *fakeNotifier) RunCompleted(c *Campaign, r *Run) bool {
	f.completed++
	return true
}

func (f *fakeNotifier) RunFailed(c *Campaign, r *Run, errMsg string, budgetExceeded bool) bool {
	f.failed++
	f.lastErrMsg = errMsg
	f.budgetExceeded = budgetExceeded
	return true
}

type stubGate struct{ check BudgetCheck }

func (g stubGate) Check(string, *BudgetConfig) BudgetCheck { return g.check }

func testCampaign(steps ...StepConfig) *Campaign {
	return &Campaign{
		ID:     "camp-1",
		Name:   "Acme outbound",
		Status: StatusActive,
		Config: Config{Steps: steps},
	}
}

func step(name string, engine EngineKind) StepConfig {
	return StepConfig{
		Name:     name,
		Engine:   engine,
		Endpoint: "https://engines.local/" + name,
	}
}

func newTestRunner(st *fakeRunStore, d *fakeDispatcher, n *fakeNotifier, gate Gate) *Runner {
	if gate == nil {
		gate = stubGate{}
	}
	return NewRunner(st, gate, d, n, zap.NewNop())
}

func TestRunAllStepsSucceed(t *testing.T) {
	st := &fakeRunStore{}
	d := &fakeDispatcher{results: map[string]StepResult{
		"prospect": {Success: true, Engine: EngineProspecting, Cost: 0.5},
		"analyze":  {Success: true, Engine: EngineAnalysis, Cost: 0.25},
	}}
	n := &fakeNotifier{}

	run, err := newTestRunner(st, d, n, nil).Run(context.Background(),
		testCampaign(step("prospect", EngineProspecting), step("analyze", EngineAnalysis)),
		TriggerManual)

	require.NoError(t, err)
	assert.Equal(t, RunCompleted, run.Status)
	assert.Equal(t, []string{"prospect", "analyze"}, d.calls)
	assert.Equal(t, 2, run.StepsCompleted)
	assert.Equal(t, 0, run.StepsFailed)
	assert.InDelta(t, 0.75, run.TotalCost, 1e-9)
	assert.Len(t, run.Results, 2)
	require.NotNil(t, run.CompletedAt)
	assert.Equal(t, TriggerManual, run.TriggerType)

	require.NotNil(t, st.finalized)
	require.Len(t, st.aggregated, 1)
	assert.Equal(t, 1, n.completed)
	assert.Equal(t, 0, n.failed)
}

func TestRunFailureContinueYieldsPartial(t *testing.T) {
	st := &fakeRunStore{}
	first := step("prospect", EngineProspecting)
	first.OnFailure = FailureContinue
	d := &fakeDispatcher{
		errs:    map[string]error{"prospect": errors.New("engine down")},
		results: map[string]StepResult{"analyze": {Success: true, Engine: EngineAnalysis, Cost: 0.1}},
	}
	n := &fakeNotifier{}

	run, err := newTestRunner(st, d, n, nil).Run(context.Background(),
		testCampaign(first, step("analyze", EngineAnalysis)), TriggerScheduled)

	require.NoError(t, err, "a partial run is not an error")
	assert.Equal(t, RunPartial, run.Status)
	assert.Equal(t, 1, run.StepsCompleted)
	assert.Equal(t, 1, run.StepsFailed)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, "prospect", run.Errors[0].Step)
	assert.Equal(t, []string{"prospect", "analyze"}, d.calls)
	assert.Equal(t, 1, n.completed, "partial runs notify the completion target")
}

func TestRunFailureAbortYieldsFailed(t *testing.T) {
	st := &fakeRunStore{}
	d := &fakeDispatcher{errs: map[string]error{"prospect": errors.New("engine down")}}
	n := &fakeNotifier{}

	run, err := newTestRunner(st, d, n, nil).Run(context.Background(),
		testCampaign(step("prospect", EngineProspecting), step("analyze", EngineAnalysis)),
		TriggerScheduled)

	require.Error(t, err)
	var rerr *RunError
	require.True(t, errors.As(err, &rerr))
	assert.False(t, rerr.BudgetExceeded)
	assert.Equal(t, run.ID, rerr.RunID)

	assert.Equal(t, RunFailed, run.Status)
	assert.Equal(t, []string{"prospect"}, d.calls, "later steps never run")
	assert.Equal(t, 1, n.failed)
	assert.False(t, n.budgetExceeded)
	assert.Empty(t, st.pausedIDs, "step failures do not pause the campaign")
}

func TestRunOnSuccessAbortStopsEarly(t *testing.T) {
	st := &fakeRunStore{}
	first := step("prospect", EngineProspecting)
	first.OnSuccess = SuccessAbort
	d := &fakeDispatcher{results: map[string]StepResult{
		"prospect": {Success: true, Engine: EngineProspecting, Cost: 0.2},
	}}
	n := &fakeNotifier{}

	run, err := newTestRunner(st, d, n, nil).Run(context.Background(),
		testCampaign(first, step("analyze", EngineAnalysis)), TriggerManual)

	require.NoError(t, err)
	assert.Equal(t, RunCompleted, run.Status, "an early stop is still a completed run")
	assert.Equal(t, []string{"prospect"}, d.calls)
	assert.Equal(t, 1, run.StepsCompleted)
}

func TestRunBudgetBlocked(t *testing.T) {
	st := &fakeRunStore{}
	d := &fakeDispatcher{}
	n := &fakeNotifier{}
	gate := stubGate{check: BudgetCheck{
		Exceeded: true, Period: "daily", Spent: 5, Limit: 5,
		Reason: "daily budget reached: spent 5.0000 of 5.0000",
	}}

	run, err := newTestRunner(st, d, n, gate).Run(context.Background(),
		testCampaign(step("prospect", EngineProspecting)), TriggerScheduled)

	require.Error(t, err)
	var rerr *RunError
	require.True(t, errors.As(err, &rerr))
	assert.True(t, rerr.BudgetExceeded)

	assert.Equal(t, RunAborted, run.Status)
	assert.Empty(t, d.calls, "no step runs on a blocked budget")
	require.Len(t, run.Errors, 1)
	assert.Equal(t, "budget-check", run.Errors[0].Step)

	assert.Equal(t, []string{"camp-1"}, st.pausedIDs)
	assert.Equal(t, 1, n.failed)
	assert.True(t, n.budgetExceeded)
	require.NotNil(t, run.CompletedAt)
}

func TestRunCreateFailureIsFatal(t *testing.T) {
	st := &fakeRunStore{failCreate: true}
	d := &fakeDispatcher{}

	run, err := newTestRunner(st, d, &fakeNotifier{}, nil).Run(context.Background(),
		testCampaign(step("prospect", EngineProspecting)), TriggerManual)

	require.Error(t, err)
	assert.Nil(t, run)
	assert.Empty(t, d.calls)
}

func TestRunSurvivesProgressPersistFailures(t *testing.T) {
	st := &fakeRunStore{failSaves: true}
	d := &fakeDispatcher{results: map[string]StepResult{
		"prospect": {Success: true, Engine: EngineProspecting, Cost: 0.5},
	}}
	n := &fakeNotifier{}

	run, err := newTestRunner(st, d, n, nil).Run(context.Background(),
		testCampaign(step("prospect", EngineProspecting)), TriggerManual)

	require.NoError(t, err)
	assert.Equal(t, RunCompleted, run.Status)
	assert.Equal(t, 1, n.completed)
}

func TestRunMergesProjectID(t *testing.T) {
	st := &fakeRunStore{}
	withParams := step("prospect", EngineProspecting)
	withParams.Params = map[string]any{
		"query":   "saas founders",
		"options": map[string]any{"limit": 100},
	}
	pinned := step("analyze", EngineAnalysis)
	pinned.Params = map[string]any{
		"options": map[string]any{"projectId": "explicit"},
	}
	d := &fakeDispatcher{results: map[string]StepResult{
		"prospect": {Success: true, Engine: EngineProspecting},
		"analyze":  {Success: true, Engine: EngineAnalysis},
	}}

	c := testCampaign(withParams, pinned)
	c.ProjectID = "proj-9"
	_, err := newTestRunner(st, d, &fakeNotifier{}, nil).Run(context.Background(), c, TriggerManual)
	require.NoError(t, err)

	opts := d.params["prospect"]["options"].(map[string]any)
	assert.Equal(t, "proj-9", opts["projectId"])
	assert.Equal(t, 100, opts["limit"], "existing options survive the merge")
	assert.Equal(t, "saas founders", d.params["prospect"]["query"])

	pinnedOpts := d.params["analyze"]["options"].(map[string]any)
	assert.Equal(t, "explicit", pinnedOpts["projectId"], "step-level projectId wins")

	// The campaign's own config must stay untouched.
	origOpts := c.Config.Steps[0].Params["options"].(map[string]any)
	assert.NotContains(t, origOpts, "projectId")
}

type panickingDispatcher struct{}

func (panickingDispatcher) Dispatch(context.Context, StepConfig) (StepResult, error) {
	panic("nil map write")
}

func TestRunPanicFinalizesAndNotifies(t *testing.T) {
	st := &fakeRunStore{}
	n := &fakeNotifier{}

	run, err := NewRunner(st, stubGate{}, panickingDispatcher{}, n, zap.NewNop()).
		Run(context.Background(), testCampaign(step("prospect", EngineProspecting)), TriggerManual)

	require.Error(t, err)
	var rerr *RunError
	require.True(t, errors.As(err, &rerr))
	assert.Contains(t, rerr.Message, "internal error")

	assert.Equal(t, RunFailed, run.Status)
	require.NotNil(t, run.CompletedAt)
	require.NotNil(t, st.finalized)
	assert.Equal(t, 1, n.failed, "failed runs notify the failure target")
	assert.False(t, n.budgetExceeded)
	assert.Contains(t, n.lastErrMsg, "nil map write")
}

func TestRunStepErrorTimestamps(t *testing.T) {
	st := &fakeRunStore{}
	first := step("prospect", EngineProspecting)
	first.OnFailure = FailureLog
	d := &fakeDispatcher{errs: map[string]error{"prospect": errors.New("boom")}}

	before := time.Now().UTC()
	run, err := newTestRunner(st, d, &fakeNotifier{}, nil).Run(context.Background(),
		testCampaign(first), TriggerManual)
	require.NoError(t, err)

	require.Len(t, run.Errors, 1)
	assert.False(t, run.Errors[0].Timestamp.Before(before))
	assert.Equal(t, RunPartial, run.Status)
}
