package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// averageScale bounds the fractional digits of a multi-month average.
const averageScale = 4

type (
	// MonthTotal is the saved amount for one calendar month.
	MonthTotal struct {
		Year   int
		Month  int // 1-12
		Amount decimal.Decimal
	}

	// SavingsSummary is the portfolio-wide view of a user's ledger.
	SavingsSummary struct {
		Total          decimal.Decimal
		MonthlyAverage decimal.Decimal
		Months         []MonthTotal
		ByGoal         map[string]decimal.Decimal // keyed by goal id, unassigned entries excluded
		Entries        int
	}

	// GoalProgress relates a goal's target to what has been saved toward it.
	GoalProgress struct {
		Goal      SavingsGoal
		Saved     decimal.Decimal
		Remaining decimal.Decimal
		Percent   decimal.Decimal // 0-100, capped
	}
)

type monthKey struct {
	year  int
	month int
}

func countable(e LedgerEntry) bool {
	return e.Status == SavingSuccess
}

// TotalSavings sums every confirmed entry. Empty input yields zero.
func TotalSavings(entries []LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if countable(e) {
			total = total.Add(e.Amount)
		}
	}
	return total
}

// TotalForGoal sums confirmed entries credited to goalID.
func TotalForGoal(entries []LedgerEntry, goalID string) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if countable(e) && e.GoalID == goalID {
			total = total.Add(e.Amount)
		}
	}
	return total
}

// MonthlyTotals buckets confirmed entries by the UTC (year, month) of
// created_at, oldest month first.
func MonthlyTotals(entries []LedgerEntry) []MonthTotal {
	buckets := map[monthKey]decimal.Decimal{}
	for _, e := range entries {
		if !countable(e) {
			continue
		}
		t := e.CreatedAt.UTC()
		k := monthKey{year: t.Year(), month: int(t.Month())}
		buckets[k] = buckets[k].Add(e.Amount)
	}

	out := make([]MonthTotal, 0, len(buckets))
	for k, v := range buckets {
		out = append(out, MonthTotal{Year: k.year, Month: k.month, Amount: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Month < out[j].Month
	})
	return out
}

// MonthlyAverage divides the total by the number of distinct months with
// activity. The divisor is floored at one so an empty ledger averages to zero.
func MonthlyAverage(entries []LedgerEntry) decimal.Decimal {
	return averageOver(TotalSavings(entries), len(MonthlyTotals(entries)))
}

func averageOver(total decimal.Decimal, months int) decimal.Decimal {
	if months <= 1 {
		return total
	}
	return total.DivRound(decimal.NewFromInt(int64(months)), averageScale)
}

// TotalsByGoal sums confirmed entries per goal id. Unassigned entries are
// left out; they still count toward TotalSavings.
func TotalsByGoal(entries []LedgerEntry) map[string]decimal.Decimal {
	out := map[string]decimal.Decimal{}
	for _, e := range entries {
		if !countable(e) || e.GoalID == "" {
			continue
		}
		out[e.GoalID] = out[e.GoalID].Add(e.Amount)
	}
	return out
}

// Summarize computes every portfolio aggregate from one snapshot.
func Summarize(entries []LedgerEntry) SavingsSummary {
	months := MonthlyTotals(entries)
	total := TotalSavings(entries)
	n := 0
	for _, e := range entries {
		if countable(e) {
			n++
		}
	}
	return SavingsSummary{
		Total:          total,
		MonthlyAverage: averageOver(total, len(months)),
		Months:         months,
		ByGoal:         TotalsByGoal(entries),
		Entries:        n,
	}
}

// ProgressFor measures a goal against the saved amount credited to it.
func ProgressFor(goal SavingsGoal, saved decimal.Decimal) GoalProgress {
	remaining := goal.TargetAmount.Sub(saved)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	percent := decimal.Zero
	if goal.TargetAmount.IsPositive() {
		percent = saved.Mul(decimal.NewFromInt(100)).DivRound(goal.TargetAmount, 2)
		if percent.GreaterThan(decimal.NewFromInt(100)) {
			percent = decimal.NewFromInt(100)
		}
	}
	return GoalProgress{
		Goal:      goal,
		Saved:     saved,
		Remaining: remaining,
		Percent:   percent,
	}
}
