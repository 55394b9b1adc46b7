package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"leadpilot/internal/campaign"
)

// RunPatch is a partial update to a run. Results and Errors replace
// the whole JSON document when non-nil; the runner always patches the
// full maps so per-row serialization keeps them causally ordered.
type RunPatch struct {
	Status         *campaign.RunStatus
	CompletedAt    *time.Time
	StepsCompleted *int
	StepsFailed    *int
	TotalCost      *float64
	Results        map[string]campaign.StepResult
	Errors         []campaign.StepError
}

const runColumns = `id, campaign_id, status, trigger_type, started_at, completed_at,
	steps_completed, steps_failed, total_cost, results, errors, created_at`

// CreateRun persists a new run record.
func (s *Store) CreateRun(r *campaign.Run) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = now
	}
	// Timestamps are stored in UTC so the text comparisons in
	// GetSpending and ListStaleRunning are well ordered.
	r.StartedAt = r.StartedAt.UTC()
	if r.Status == "" {
		r.Status = campaign.RunRunning
	}

	results, err := encodeResults(r.Results)
	if err != nil {
		return err
	}
	errs, err := encodeErrors(r.Errors)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO campaign_runs (id, campaign_id, status, trigger_type, started_at,
			completed_at, steps_completed, steps_failed, total_cost, results, errors, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CampaignID, string(r.Status), string(r.TriggerType), r.StartedAt,
		nullTime(r.CompletedAt), r.StepsCompleted, r.StepsFailed, r.TotalCost,
		results, errs, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun loads one run by id.
func (s *Store) GetRun(id string) (*campaign.Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM campaign_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// UpdateRun applies a partial update to a run.
func (s *Store) UpdateRun(id string, p RunPatch) error {
	var set []string
	var args []any

	if p.Status != nil {
		set = append(set, "status = ?")
		args = append(args, string(*p.Status))
	}
	if p.CompletedAt != nil {
		set = append(set, "completed_at = ?")
		args = append(args, *p.CompletedAt)
	}
	if p.StepsCompleted != nil {
		set = append(set, "steps_completed = ?")
		args = append(args, *p.StepsCompleted)
	}
	if p.StepsFailed != nil {
		set = append(set, "steps_failed = ?")
		args = append(args, *p.StepsFailed)
	}
	if p.TotalCost != nil {
		set = append(set, "total_cost = ?")
		args = append(args, *p.TotalCost)
	}
	if p.Results != nil {
		results, err := encodeResults(p.Results)
		if err != nil {
			return err
		}
		set = append(set, "results = ?")
		args = append(args, results)
	}
	if p.Errors != nil {
		errs, err := encodeErrors(p.Errors)
		if err != nil {
			return err
		}
		set = append(set, "errors = ?")
		args = append(args, errs)
	}
	if len(set) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := s.db.Exec(`UPDATE campaign_runs SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRuns returns the most recent runs of a campaign, newest first.
// limit <= 0 means a default page of 50.
func (s *Store) ListRuns(campaignID string, limit int) ([]*campaign.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM campaign_runs
		WHERE campaign_id = ? ORDER BY started_at DESC LIMIT ?`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ListStaleRunning returns runs still marked running that started
// before the cutoff. Used by the startup recovery sweep.
func (s *Store) ListStaleRunning(cutoff time.Time) ([]*campaign.Run, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM campaign_runs
		WHERE status = ? AND started_at < ?`, string(campaign.RunRunning), cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("list stale runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// GetSpending sums total_cost over runs whose started_at falls inside
// [start, end). Bounds are normalized to UTC before binding: the
// driver writes time.Time as offset-bearing text and SQLite compares
// it lexicographically, so a +09:00 bound against a +00:00 column
// would sort by offset, not by instant.
func (s *Store) GetSpending(campaignID string, start, end time.Time) (float64, error) {
	var sum float64
	err := s.db.QueryRow(`SELECT COALESCE(SUM(total_cost), 0) FROM campaign_runs
		WHERE campaign_id = ? AND started_at >= ? AND started_at < ?`,
		campaignID, start.UTC(), end.UTC()).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("get spending: %w", err)
	}
	return sum, nil
}

func collectRuns(rows *sql.Rows) ([]*campaign.Run, error) {
	var out []*campaign.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (*campaign.Run, error) {
	var r campaign.Run
	var status, trigger, results, errs string
	var completed sql.NullTime

	err := row.Scan(&r.ID, &r.CampaignID, &status, &trigger, &r.StartedAt, &completed,
		&r.StepsCompleted, &r.StepsFailed, &r.TotalCost, &results, &errs, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = campaign.RunStatus(status)
	r.TriggerType = campaign.TriggerType(trigger)
	if completed.Valid {
		t := completed.Time
		r.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(results), &r.Results); err != nil {
		return nil, fmt.Errorf("decode run results: %w", err)
	}
	if err := json.Unmarshal([]byte(errs), &r.Errors); err != nil {
		return nil, fmt.Errorf("decode run errors: %w", err)
	}
	return &r, nil
}

func encodeResults(m map[string]campaign.StepResult) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode run results: %w", err)
	}
	return string(b), nil
}

func encodeErrors(errs []campaign.StepError) (string, error) {
	if errs == nil {
		return "[]", nil
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return "", fmt.Errorf("encode run errors: %w", err)
	}
	return string(b), nil
}
