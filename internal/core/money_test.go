package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"5000", "5000", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{"0.0001", "0.0001", true},
		{"0.00005", "0.0001", true}, // half-up rounding
		{" 2.50 ", "2.5", true},
		{"-1", "", false},
		{"+1", "", false},
		{"0", "", false},
		{"0.00004", "", false}, // rounds to zero
		{"1e3", "", false},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(decimal.RequireFromString(tc.out)) {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(decimal.NewFromInt(5000), "UGX"); got != "5000 UGX" {
		t.Fatalf("unexpected format %q", got)
	}
	if got := FormatAmount(decimal.RequireFromString("12.5"), ""); got != "12.5" {
		t.Fatalf("unexpected format %q", got)
	}
}
