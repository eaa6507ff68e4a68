package rail

import (
	"math/big"
	"testing"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1", 1_000_000_000, false},
		{"1.5", 1_500_000_000, false},
		{"0.5", 500_000_000, false},
		{"3.000000001", 3_000_000_001, false},
		{".25", 250_000_000, false},
		{"0", 0, false},
		{" 2 ", 2_000_000_000, false},
		{"", 0, true},
		{"1.2.3", 0, true},
		{"-1", 0, true},
		{"abc", 0, true},
		{"0.0000000001", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseAmount(%q) = %s, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q): %v", tt.in, err)
			}
			if got.Int64() != tt.want {
				t.Errorf("ParseAmount(%q) = %s, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{1_000_000_000, "1"},
		{1_500_000_000, "1.5"},
		{500_000_000, "0.5"},
		{3_000_000_001, "3.000000001"},
		{25_000_000, "0.025"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatAmount(big.NewInt(tt.in)); got != tt.want {
				t.Errorf("FormatAmount(%d) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, s := range []string{"1", "1.5", "0.5", "123.456789", "0.000000001"} {
		nano, err := ParseAmount(s)
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", s, err)
		}
		if got := FormatAmount(nano); got != s {
			t.Errorf("round trip %q -> %s", s, got)
		}
	}
}
