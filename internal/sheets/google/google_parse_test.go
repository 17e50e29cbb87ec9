package google

import (
	"reflect"
	"testing"
)

func TestFirstColumn(t *testing.T) {
	values := [][]interface{}{
		{"s1", "2024-03-01"},
		{},
		{"  s2  "},
		{"# note"},
		{""},
		{42},
	}
	got := firstColumn(values)
	want := []string{"s1", "s2", "42"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("firstColumn() = %v, want %v", got, want)
	}
}

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		base string
		year int
		want string
	}{
		{"Savings", 2024, "2024 Savings"},
		{"  Savings ", 2025, "2025 Savings"},
		{"2023 Savings", 2024, "2023 Savings"},
		{"", 2024, ""},
		{"12345", 2024, "2024 12345"},
	}
	for _, tt := range tests {
		if got := yearPrefixedName(tt.base, tt.year); got != tt.want {
			t.Errorf("yearPrefixedName(%q, %d) = %q, want %q", tt.base, tt.year, got, tt.want)
		}
	}
}
