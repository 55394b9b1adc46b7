package campaign

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SpendingStore is the slice of the persistence gateway the budget
// gate needs: summed run cost over a time interval.
type SpendingStore interface {
	GetSpending(campaignID string, start, end time.Time) (float64, error)
}

// Spending is the rolling spend for each budget period.
type Spending struct {
	Daily   float64 `json:"daily"`
	Weekly  float64 `json:"weekly"`
	Monthly float64 `json:"monthly"`
}

// BudgetCheck is the gate's verdict.
type BudgetCheck struct {
	Exceeded bool    `json:"exceeded"`
	Period   string  `json:"period,omitempty"` // daily, weekly, monthly
	Reason   string  `json:"reason,omitempty"`
	Spent    float64 `json:"spent,omitempty"`
	Limit    float64 `json:"limit,omitempty"`
}

// BudgetGate decides whether a campaign may start based on its rolling
// spend. Period boundaries are evaluated in the configured timezone.
//
// Store errors fail open: a transiently unreachable store must not
// pause campaigns, so the gate logs and reports not-exceeded.
type BudgetGate struct {
	store  SpendingStore
	loc    *time.Location
	logger *zap.Logger
	now    func() time.Time // test seam
}

// NewBudgetGate builds a gate over the given spending source.
func NewBudgetGate(store SpendingStore, loc *time.Location, logger *zap.Logger) *BudgetGate {
	if loc == nil {
		loc = time.UTC
	}
	return &BudgetGate{store: store, loc: loc, logger: logger, now: time.Now}
}

// CurrentSpending sums run cost since local midnight, since Sunday
// 00:00, and since the first of the month.
func (g *BudgetGate) CurrentSpending(campaignID string) (Spending, error) {
	now := g.now().In(g.loc)

	daily, err := g.store.GetSpending(campaignID, dayStart(now), now)
	if err != nil {
		return Spending{}, err
	}
	weekly, err := g.store.GetSpending(campaignID, weekStart(now), now)
	if err != nil {
		return Spending{}, err
	}
	monthly, err := g.store.GetSpending(campaignID, monthStart(now), now)
	if err != nil {
		return Spending{}, err
	}
	return Spending{Daily: daily, Weekly: weekly, Monthly: monthly}, nil
}

// Check reports whether any configured period already meets or
// exceeds its ceiling. Periods are checked daily, weekly, monthly;
// the first violation wins. A nil budget never blocks.
func (g *BudgetGate) Check(campaignID string, budget *BudgetConfig) BudgetCheck {
	return g.check(campaignID, budget, 0)
}

// WouldExceed reports whether starting a run with the given estimated
// cost would push any period past its ceiling.
func (g *BudgetGate) WouldExceed(campaignID string, budget *BudgetConfig, estimatedCost float64) bool {
	return g.check(campaignID, budget, estimatedCost).Exceeded
}

func (g *BudgetGate) check(campaignID string, budget *BudgetConfig, estimated float64) BudgetCheck {
	if budget == nil {
		return BudgetCheck{}
	}

	spending, err := g.CurrentSpending(campaignID)
	if err != nil {
		// Fail open, see type comment.
		if g.logger != nil {
			g.logger.Warn("budget check failed open",
				zap.String("campaign_id", campaignID),
				zap.Error(err))
		}
		return BudgetCheck{}
	}

	periods := []struct {
		name  string
		spent float64
		limit *float64
	}{
		{"daily", spending.Daily, budget.Daily},
		{"weekly", spending.Weekly, budget.Weekly},
		{"monthly", spending.Monthly, budget.Monthly},
	}
	for _, p := range periods {
		if p.limit == nil {
			continue
		}
		exceeded := p.spent >= *p.limit
		if estimated > 0 {
			exceeded = p.spent+estimated > *p.limit
		}
		if exceeded {
			return BudgetCheck{
				Exceeded: true,
				Period:   p.name,
				Spent:    p.spent,
				Limit:    *p.limit,
				Reason:   budgetReason(p.name, p.spent, *p.limit),
			}
		}
	}
	return BudgetCheck{}
}

// PerLeadExceeded reports whether a step's cost per lead is over the
// perLead ceiling. Nothing in the runner aborts on this today; it is
// surfaced as a warning only.
func PerLeadExceeded(budget *BudgetConfig, cost float64, leads float64) bool {
	if budget == nil || budget.PerLead == nil || leads <= 0 {
		return false
	}
	return cost/leads > *budget.PerLead
}

func budgetReason(period string, spent, limit float64) string {
	return fmt.Sprintf("%s budget reached: spent %.4f of %.4f", period, spent, limit)
}

// Canonical period boundaries: local midnight, Sunday 00:00, first of
// the month 00:00, all in the gate's timezone.

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func weekStart(t time.Time) time.Time {
	d := dayStart(t)
	return d.AddDate(0, 0, -int(d.Weekday()))
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
