package services

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"akiba/internal/cache"
	"akiba/internal/core"
)

// Insights serves derived views of a user's ledger. Summaries may be cached;
// every append for a user drops that user's entry.
type Insights struct {
	ledger *Ledger
	cache  cache.Cache[core.SavingsSummary]

	mu  sync.Mutex
	gen map[string]uint64 // bumped on invalidation so a racing read is not cached
}

// NewInsights wires cache invalidation into ledger. A nil cache disables caching.
func NewInsights(ledger *Ledger, c cache.Cache[core.SavingsSummary]) *Insights {
	i := &Insights{ledger: ledger, cache: c, gen: map[string]uint64{}}
	ledger.OnAppend(func(e core.LedgerEntry) { i.Invalidate(e.UserID) })
	return i
}

// Summary aggregates the user's whole ledger.
func (i *Insights) Summary(ctx context.Context, userID string) (core.SavingsSummary, error) {
	if i.cache != nil {
		if s, ok := i.cache.Get(userID); ok {
			return cloneSummary(s), nil
		}
	}

	gen := i.generation(userID)
	entries, err := i.ledger.List(ctx, userID, core.SavingsFilter{})
	if err != nil {
		return core.SavingsSummary{}, fmt.Errorf("summary for %s: %w", userID, err)
	}
	s := core.Summarize(entries)

	if i.cache != nil {
		i.mu.Lock()
		if i.gen[userID] == gen {
			i.cache.Set(userID, s)
		}
		i.mu.Unlock()
	}
	return cloneSummary(s), nil
}

// GoalProgress reports progress for each supplied goal. Entries credited to
// goals not in the list still count in Summary but produce no row here.
func (i *Insights) GoalProgress(ctx context.Context, userID string, goals []core.SavingsGoal) ([]core.GoalProgress, error) {
	s, err := i.Summary(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]core.GoalProgress, 0, len(goals))
	for _, g := range goals {
		if g.UserID != "" && g.UserID != userID {
			continue
		}
		out = append(out, core.ProgressFor(g, s.ByGoal[g.ID]))
	}
	return out, nil
}

// Invalidate drops the cached summary of userID.
func (i *Insights) Invalidate(userID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.gen[userID]++
	if i.cache != nil {
		i.cache.Delete(userID)
	}
}

func (i *Insights) generation(userID string) uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.gen[userID]
}

func cloneSummary(s core.SavingsSummary) core.SavingsSummary {
	s.Months = append([]core.MonthTotal(nil), s.Months...)
	s.ByGoal = maps.Clone(s.ByGoal)
	return s
}
