package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"akiba/internal/core"

	"github.com/shopspring/decimal"
	goption "google.golang.org/api/option"
)

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	_, err := New(context.Background(), Config{SpreadsheetID: "sheet"})
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Fatalf("expected credentials error, got %v", err)
	}
}

func TestSavingRow(t *testing.T) {
	e := core.LedgerEntry{
		ID: "s1", UserID: "u1", GoalID: "G1", Amount: decimal.RequireFromString("5000.2500"),
		Source: core.SourceMomo, TopUpReference: "R1",
		CreatedAt: time.Date(2024, 12, 31, 23, 30, 0, 0, time.FixedZone("EAT", 3*3600)),
	}
	row := savingRow(e)
	want := []any{"s1", "2024-12-31", 12, "u1", "G1", "5000.25", "momo", "R1"}
	if len(row) != len(want) {
		t.Fatalf("expected %d columns, got %d", len(want), len(row))
	}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("column %d = %v, want %v", i, row[i], want[i])
		}
	}
}

func TestClient_AppendSavingNilService(t *testing.T) {
	c := &Client{spreadsheetID: "test", savingsBase: "Savings"}
	_, err := c.AppendSaving(context.Background(), validEntry())
	if err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Fatalf("expected not initialized error, got %v", err)
	}
}

func TestClient_AppendSavingValidates(t *testing.T) {
	c := &Client{spreadsheetID: "test", savingsBase: "Savings"}
	e := validEntry()
	e.Amount = decimal.Zero
	if _, err := c.AppendSaving(context.Background(), e); err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func validEntry() core.LedgerEntry {
	return core.LedgerEntry{
		ID: "s1", UserID: "u1", Amount: decimal.NewFromInt(100),
		Source: core.SourceManual, Type: core.TypeTopUp, Status: core.SavingSuccess,
		CreatedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func newFakeSheets(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), Config{
		SpreadsheetID: "sheet-1",
		Options: []goption.ClientOption{
			goption.WithEndpoint(srv.URL + "/"),
			goption.WithHTTPClient(srv.Client()),
		},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestClient_AppendSaving(t *testing.T) {
	var gotRange string
	var gotBody struct {
		Values [][]any `json:"values"`
	}
	c := newFakeSheets(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, ":append") {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotRange = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(b, &gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"updates":{"updatedRange":"'2024 Savings'!A7:H7"}}`))
	})

	ref, err := c.AppendSaving(context.Background(), validEntry())
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if ref != "'2024 Savings'!A7:H7" {
		t.Fatalf("unexpected row ref %q", ref)
	}
	if !strings.Contains(gotRange, "2024 Savings!A:H") {
		t.Fatalf("expected the 2024 sheet, got %q", gotRange)
	}
	if len(gotBody.Values) != 1 || gotBody.Values[0][0] != "s1" {
		t.Fatalf("unexpected values %v", gotBody.Values)
	}
}

func TestClient_HasSaving(t *testing.T) {
	c := newFakeSheets(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"range":"2024 Savings!A2:A","values":[["s0"],["s1"],[]]}`))
	})

	found, err := c.HasSaving(context.Background(), "s1", 2024)
	if err != nil || !found {
		t.Fatalf("expected s1 to be found, got %v err=%v", found, err)
	}
	found, err = c.HasSaving(context.Background(), "s9", 2024)
	if err != nil || found {
		t.Fatalf("expected s9 to be missing, got %v err=%v", found, err)
	}
}
