package api

import (
	"errors"
	"math/big"
	"testing"
)

func TestParseUnits(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"1", "1000000000000000000"},
		{"0.2", "200000000000000000"},
		{"3000", "3000000000000000000000"},
		{"0.000000000000000001", "1"},
		{"1.50", "1500000000000000000"},
	}
	for _, tc := range cases {
		got, err := ParseUnits(tc.in, Decimals)
		if err != nil {
			t.Errorf("%s: %v", tc.in, err)
			continue
		}
		if got.String() != tc.want {
			t.Errorf("%s = %s, want %s", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{"", "abc", "-1", "0.0000000000000000001", "1e"} {
		if _, err := ParseUnits(bad, Decimals); !errors.Is(err, ErrBadAmount) {
			t.Errorf("%q: got %v, want ErrBadAmount", bad, err)
		}
	}
}

func TestParseUnitsOtherScale(t *testing.T) {
	got, err := ParseUnits("12.345678", 6)
	if err != nil || got.Cmp(big.NewInt(12_345_678)) != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestFormatUnits(t *testing.T) {
	cases := []struct {
		in   *big.Int
		want string
	}{
		{nil, "0"},
		{big.NewInt(0), "0"},
		{big.NewInt(1), "0.000000000000000001"},
		{big.NewInt(2e17), "0.2"},
		{new(big.Int).Mul(big.NewInt(3000), big.NewInt(1e18)), "3000"},
	}
	for _, tc := range cases {
		if got := FormatUnits(tc.in, Decimals); got != tc.want {
			t.Errorf("FormatUnits(%v) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
