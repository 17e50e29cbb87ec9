package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validTopUp() TopUpRequest {
	return TopUpRequest{
		ReferenceID: "R1",
		ExternalID:  "ext-1",
		UserID:      "u1",
		Amount:      decimal.NewFromInt(5000),
		Currency:    "UGX",
		PhoneNumber: "256772123456",
		Status:      StatusPending,
	}
}

func TestTopUpStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to TopUpStatus
		ok       bool
	}{
		{StatusPending, StatusSuccessful, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusPending, false},
		{StatusSuccessful, StatusFailed, false},
		{StatusFailed, StatusSuccessful, false},
		{StatusSuccessful, StatusPending, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
}

func TestParseTopUpStatus(t *testing.T) {
	if st, ok := ParseTopUpStatus(" successful "); !ok || st != StatusSuccessful {
		t.Fatalf("expected SUCCESSFUL, got %q ok=%v", st, ok)
	}
	if _, ok := ParseTopUpStatus("ONGOING"); ok {
		t.Fatalf("expected unknown status to be rejected")
	}
}

func TestDisplayState(t *testing.T) {
	if StatusPending.DisplayState() != "processing" {
		t.Fatalf("pending should display as processing")
	}
	if StatusFailed.DisplayState() != "failed" {
		t.Fatalf("failed should display as failed")
	}
}

func TestTopUpValidate(t *testing.T) {
	if err := validTopUp().Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []func(*TopUpRequest){
		func(r *TopUpRequest) { r.Amount = decimal.Zero },
		func(r *TopUpRequest) { r.Amount = decimal.NewFromInt(-5) },
		func(r *TopUpRequest) { r.UserID = "" },
		func(r *TopUpRequest) { r.ExternalID = " " },
		func(r *TopUpRequest) { r.ReferenceID = "" },
		func(r *TopUpRequest) { r.Currency = "SHILLING" },
		func(r *TopUpRequest) { r.PhoneNumber = "" },
		func(r *TopUpRequest) { r.Status = "ONGOING" },
	}
	for i, mutate := range bads {
		r := validTopUp()
		mutate(&r)
		if err := r.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}

	r := validTopUp()
	r.Amount = decimal.Zero
	if err := r.Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestSavingFromTopUp(t *testing.T) {
	tu := validTopUp()
	tu.GoalID = "G1"
	e := SavingFromTopUp(tu)
	if e.Source != SourceMomo || e.Type != TypeTopUp || e.Status != SavingSuccess {
		t.Fatalf("unexpected tags: %+v", e)
	}
	if e.DedupKey != "momo:R1" || e.TopUpReference != "R1" {
		t.Fatalf("unexpected dedup key %q / reference %q", e.DedupKey, e.TopUpReference)
	}
	if e.GoalID != "G1" || !e.Amount.Equal(tu.Amount) {
		t.Fatalf("goal and amount should carry over: %+v", e)
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("expected valid entry, got %v", err)
	}
}

func TestLedgerEntryValidate(t *testing.T) {
	e := LedgerEntry{UserID: "u1", Amount: decimal.NewFromInt(1), Source: SourceMomo}
	if err := e.Validate(); err == nil {
		t.Fatalf("momo entry without dedup key should be rejected")
	}
	e.Source = SourceManual
	if err := e.Validate(); err != nil {
		t.Fatalf("manual entry should be valid, got %v", err)
	}
}

func TestSavingsFilterMatches(t *testing.T) {
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	e := LedgerEntry{GoalID: "G1", Source: SourceManual, CreatedAt: at}

	cases := []struct {
		name string
		f    SavingsFilter
		want bool
	}{
		{"empty", SavingsFilter{}, true},
		{"goal match", SavingsFilter{GoalID: "G1"}, true},
		{"goal mismatch", SavingsFilter{GoalID: "G2"}, false},
		{"source mismatch", SavingsFilter{Source: SourceMomo}, false},
		{"since inclusive", SavingsFilter{Since: at}, true},
		{"until exclusive", SavingsFilter{Until: at}, false},
		{"window", SavingsFilter{Since: at.Add(-time.Hour), Until: at.Add(time.Hour)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.f.Matches(e); got != tc.want {
				t.Errorf("Matches() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTransitionErrorMatchesTaxonomy(t *testing.T) {
	var err error = &TransitionError{Reference: "R1", From: StatusSuccessful, To: StatusFailed}
	if !errors.Is(err, ErrConflict) || !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("transition error should match conflict and invalid transition")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("transition error should not match not found")
	}
}

func TestIsUserError(t *testing.T) {
	if !IsUserError(ErrMissingUser) || !IsUserError(ErrDuplicateRequest) || !IsUserError(ErrInvalidAmount) {
		t.Fatalf("input errors should be user errors")
	}
	if IsUserError(ErrUpstreamUnavailable) {
		t.Fatalf("upstream errors are not user errors")
	}
}
