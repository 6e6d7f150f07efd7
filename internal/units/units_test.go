package units

import (
	"math/big"
	"testing"
)

func TestFormatEther(t *testing.T) {
	cases := []struct {
		wei  string
		want string
	}{
		{"0", "0"},
		{"1", "0.000000000000000001"},
		{"1000000000000000000", "1"},
		{"1500000000000000000", "1.5"},
		{"123456789000000000000", "123.456789"},
	}
	for _, tc := range cases {
		wei, _ := new(big.Int).SetString(tc.wei, 10)
		if got := FormatEther(wei); got != tc.want {
			t.Fatalf("FormatEther(%s) = %s, want %s", tc.wei, got, tc.want)
		}
	}
	if got := FormatEther(nil); got != "0" {
		t.Fatalf("FormatEther(nil) = %s", got)
	}
}

func TestParseEther(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1", "1000000000000000000"},
		{"0.5", "500000000000000000"},
		{"0.000000000000000001", "1"},
		{"12.25", "12250000000000000000"},
	}
	for _, tc := range cases {
		got, err := ParseEther(tc.in)
		if err != nil {
			t.Fatalf("ParseEther(%s): %v", tc.in, err)
		}
		if got.String() != tc.want {
			t.Fatalf("ParseEther(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestParseEtherRejects(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "0.0000000000000000001"} {
		if _, err := ParseEther(in); err == nil {
			t.Fatalf("ParseEther(%q) expected error", in)
		}
	}
}

func TestFormatGwei(t *testing.T) {
	if got := FormatGwei(big.NewInt(1_250_000_000)); got != "1.25" {
		t.Fatalf("FormatGwei = %s", got)
	}
}
