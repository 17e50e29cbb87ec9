package http

import (
	"sort"
	"time"

	"akiba/internal/core"
	"akiba/internal/services"
)

// JSON shapes of the API. Amounts are decimal strings so clients never see
// binary floating point.

type topUpView struct {
	ID            string    `json:"id"`
	Reference     string    `json:"reference"`
	ExternalID    string    `json:"external_id"`
	UserID        string    `json:"user_id"`
	GoalID        string    `json:"goal_id,omitempty"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	PhoneNumber   string    `json:"phone_number"`
	Status        string    `json:"status"`
	Display       string    `json:"display"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func newTopUpView(t core.TopUpRequest) topUpView {
	return topUpView{
		ID:            t.ID,
		Reference:     t.ReferenceID,
		ExternalID:    t.ExternalID,
		UserID:        t.UserID,
		GoalID:        t.GoalID,
		Amount:        t.Amount.String(),
		Currency:      t.Currency,
		PhoneNumber:   t.PhoneNumber,
		Status:        string(t.Status),
		Display:       t.Status.DisplayState(),
		TransactionID: t.TransactionID,
		Reason:        t.Reason,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

type statusView struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Display   string `json:"display"`
}

func newStatusView(t core.TopUpRequest) statusView {
	return statusView{Reference: t.ReferenceID, Status: string(t.Status), Display: t.Status.DisplayState()}
}

type reconcileView struct {
	Reference     string `json:"reference"`
	Outcome       string `json:"outcome"`
	Status        string `json:"status"`
	Display       string `json:"display"`
	GatewayStatus string `json:"gateway_status,omitempty"`
}

func newReconcileView(res services.ReconcileResult) reconcileView {
	return reconcileView{
		Reference:     res.Reference,
		Outcome:       string(res.Outcome),
		Status:        string(res.StoreStatus),
		Display:       res.StoreStatus.DisplayState(),
		GatewayStatus: string(res.GatewayStatus),
	}
}

type savingView struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	GoalID         string    `json:"goal_id,omitempty"`
	Amount         string    `json:"amount"`
	Source         string    `json:"source"`
	Type           string    `json:"type"`
	Status         string    `json:"status"`
	TopUpReference string    `json:"top_up_reference,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func newSavingView(e core.LedgerEntry) savingView {
	return savingView{
		ID:             e.ID,
		UserID:         e.UserID,
		GoalID:         e.GoalID,
		Amount:         e.Amount.String(),
		Source:         string(e.Source),
		Type:           string(e.Type),
		Status:         string(e.Status),
		TopUpReference: e.TopUpReference,
		CreatedAt:      e.CreatedAt,
	}
}

type monthView struct {
	Year   int    `json:"year"`
	Month  int    `json:"month"`
	Amount string `json:"amount"`
}

type goalTotalView struct {
	GoalID string `json:"goal_id"`
	Amount string `json:"amount"`
}

type summaryView struct {
	UserID         string          `json:"user_id"`
	Total          string          `json:"total"`
	MonthlyAverage string          `json:"monthly_average"`
	Entries        int             `json:"entries"`
	Months         []monthView     `json:"months"`
	ByGoal         []goalTotalView `json:"by_goal"`
}

func newSummaryView(userID string, s core.SavingsSummary) summaryView {
	v := summaryView{
		UserID:         userID,
		Total:          s.Total.String(),
		MonthlyAverage: s.MonthlyAverage.String(),
		Entries:        s.Entries,
		Months:         make([]monthView, 0, len(s.Months)),
		ByGoal:         make([]goalTotalView, 0, len(s.ByGoal)),
	}
	for _, m := range s.Months {
		v.Months = append(v.Months, monthView{Year: m.Year, Month: m.Month, Amount: m.Amount.String()})
	}
	for id, amount := range s.ByGoal {
		v.ByGoal = append(v.ByGoal, goalTotalView{GoalID: id, Amount: amount.String()})
	}
	sort.Slice(v.ByGoal, func(i, j int) bool { return v.ByGoal[i].GoalID < v.ByGoal[j].GoalID })
	return v
}

type progressView struct {
	GoalID    string `json:"goal_id"`
	Name      string `json:"name"`
	Category  string `json:"category,omitempty"`
	Target    string `json:"target"`
	Saved     string `json:"saved"`
	Remaining string `json:"remaining"`
	Percent   string `json:"percent"`
}

func newProgressView(p core.GoalProgress) progressView {
	return progressView{
		GoalID:    p.Goal.ID,
		Name:      p.Goal.Name,
		Category:  p.Goal.Category,
		Target:    p.Goal.TargetAmount.String(),
		Saved:     p.Saved.String(),
		Remaining: p.Remaining.String(),
		Percent:   p.Percent.String(),
	}
}
