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

// CampaignFilter narrows ListCampaigns. Empty fields match everything.
type CampaignFilter struct {
	Status    campaign.Status
	ProjectID string
}

// CampaignPatch is a partial update. Nil pointers leave the column
// untouched; AddRuns/AddCost increment aggregates in-place so the
// update stays a single atomic statement.
type CampaignPatch struct {
	Name         *string
	Description  *string
	Status       *campaign.Status
	Config       *campaign.Config
	LastRunAt    *time.Time
	NextRunAt    *time.Time
	ClearNextRun bool
	AddRuns      int
	AddCost      float64
}

const campaignColumns = `id, name, description, project_id, status, config,
	last_run_at, next_run_at, total_runs, total_cost, created_at, updated_at`

// CreateCampaign persists a campaign, assigning an id and timestamps
// when absent. Validation is the caller's concern.
func (s *Store) CreateCampaign(c *campaign.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = campaign.StatusActive
	}

	cfg, err := json.Marshal(c.Config)
	if err != nil {
		return fmt.Errorf("encode campaign config: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO campaigns (id, name, description, project_id, status, config,
			schedule_cron, last_run_at, next_run_at, total_runs, total_cost, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Description, c.ProjectID, string(c.Status), string(cfg),
		scheduleCron(&c.Config), nullTime(c.LastRunAt), nullTime(c.NextRunAt),
		c.TotalRuns, c.TotalCost, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

// GetCampaign loads one campaign by id.
func (s *Store) GetCampaign(id string) (*campaign.Campaign, error) {
	row := s.db.QueryRow(`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign %s: %w", id, err)
	}
	return c, nil
}

// ListCampaigns returns campaigns matching the filter, newest first.
func (s *Store) ListCampaigns(f CampaignFilter) ([]*campaign.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns`
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.ProjectID != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []*campaign.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListActiveCampaigns returns every campaign in status active.
func (s *Store) ListActiveCampaigns() ([]*campaign.Campaign, error) {
	return s.ListCampaigns(CampaignFilter{Status: campaign.StatusActive})
}

// UpdateCampaign applies a partial update. ErrNotFound when the id
// does not exist.
func (s *Store) UpdateCampaign(id string, p CampaignPatch) error {
	set := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if p.Name != nil {
		set = append(set, "name = ?")
		args = append(args, *p.Name)
	}
	if p.Description != nil {
		set = append(set, "description = ?")
		args = append(args, *p.Description)
	}
	if p.Status != nil {
		set = append(set, "status = ?")
		args = append(args, string(*p.Status))
	}
	if p.Config != nil {
		cfg, err := json.Marshal(p.Config)
		if err != nil {
			return fmt.Errorf("encode campaign config: %w", err)
		}
		set = append(set, "config = ?", "schedule_cron = ?")
		args = append(args, string(cfg), scheduleCron(p.Config))
	}
	if p.LastRunAt != nil {
		set = append(set, "last_run_at = ?")
		args = append(args, *p.LastRunAt)
	}
	if p.NextRunAt != nil {
		set = append(set, "next_run_at = ?")
		args = append(args, *p.NextRunAt)
	} else if p.ClearNextRun {
		set = append(set, "next_run_at = NULL")
	}
	if p.AddRuns != 0 {
		set = append(set, "total_runs = total_runs + ?")
		args = append(args, p.AddRuns)
	}
	if p.AddCost != 0 {
		set = append(set, "total_cost = total_cost + ?")
		args = append(args, p.AddCost)
	}

	args = append(args, id)
	res, err := s.db.Exec(`UPDATE campaigns SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update campaign %s: %w", id, err)
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

// DeleteCampaign removes a campaign; its runs cascade.
func (s *Store) DeleteCampaign(id string) error {
	res, err := s.db.Exec(`DELETE FROM campaigns WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete campaign %s: %w", id, err)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*campaign.Campaign, error) {
	var c campaign.Campaign
	var status, cfg string
	var lastRun, nextRun sql.NullTime

	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.ProjectID, &status, &cfg,
		&lastRun, &nextRun, &c.TotalRuns, &c.TotalCost, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = campaign.Status(status)
	if err := json.Unmarshal([]byte(cfg), &c.Config); err != nil {
		return nil, fmt.Errorf("decode campaign config: %w", err)
	}
	if lastRun.Valid {
		t := lastRun.Time
		c.LastRunAt = &t
	}
	if nextRun.Valid {
		t := nextRun.Time
		c.NextRunAt = &t
	}
	return &c, nil
}

func scheduleCron(cfg *campaign.Config) string {
	if cfg != nil && cfg.Schedule != nil {
		return cfg.Schedule.Cron
	}
	return ""
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
