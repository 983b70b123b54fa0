package usage

import (
	"context"
	"time"

	"github.com/dgpt/llm-gateway/internal/shared/models"
)

// Gate is the pre-flight budget admission check. Admission is advisory, not
// transactional: no lock spans the check and the eventual usage write, so
// concurrent requests evaluated between two writes can both be admitted and
// jointly overshoot the limit.
type Gate struct {
	aggregator *Aggregator
	now        func() time.Time
}

// NewGate creates a Gate on top of a store.
func NewGate(store Store) *Gate {
	return &Gate{
		aggregator: NewAggregator(store),
		now:        time.Now,
	}
}

// Admit returns ErrBudgetExceeded when the API key's aggregate cost for the
// current calendar month has reached its limit. The boundary is inclusive:
// aggregate == limit is already rejected. A negative aggregate is treated as
// a data-integrity signal and rejected too.
func (g *Gate) Admit(ctx context.Context, apiKey *models.APIKey) error {
	start, end := currentMonthWindow(g.now().UTC())

	costInCent, err := g.aggregator.CostInCent(ctx, apiKey.ID, start, end)
	if err != nil {
		return err
	}

	if costInCent >= float64(apiKey.LimitInCent) || costInCent < 0 {
		return ErrBudgetExceeded
	}
	return nil
}

// RemainingInCent reports the key's limit and what is left of it this month,
// floored at zero.
func (g *Gate) RemainingInCent(ctx context.Context, apiKey *models.APIKey) (limit, remaining float64, err error) {
	start, end := currentMonthWindow(g.now().UTC())

	costInCent, err := g.aggregator.CostInCent(ctx, apiKey.ID, start, end)
	if err != nil {
		return 0, 0, err
	}

	limit = float64(apiKey.LimitInCent)
	remaining = limit - costInCent
	if remaining < 0 {
		remaining = 0
	}
	return limit, remaining, nil
}

// currentMonthWindow returns the [start, end) bounds of now's calendar month.
func currentMonthWindow(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
