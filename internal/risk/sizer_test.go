package risk

import (
	"errors"
	"math"
	"testing"

	"pgregory.net/rapid"
)

func TestComputeSize_Example(t *testing.T) {
	qty, err := ComputeSize(Parameters{AccountBalance: 10000, RiskPercent: 1, EntryPrice: 50, StopPrice: 48})
	if err != nil {
		t.Fatalf("ComputeSize returned error: %v", err)
	}
	if math.Abs(qty-50) > 1e-9 {
		t.Errorf("expected 50 shares, got %f", qty)
	}
}

func TestComputeSize_ShortSide(t *testing.T) {
	result, err := Evaluate(Parameters{AccountBalance: 25000, RiskPercent: 2, EntryPrice: 100, StopPrice: 103})
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if result.RiskAmount != 500 {
		t.Errorf("expected risk amount 500, got %f", result.RiskAmount)
	}
	if result.StopDistance != 3 {
		t.Errorf("expected stop distance 3, got %f", result.StopDistance)
	}
	if result.Shares != 166 {
		t.Errorf("expected 166 whole shares, got %d", result.Shares)
	}
}

func TestComputeSize_InvalidParameters(t *testing.T) {
	cases := []struct {
		name string
		p    Parameters
	}{
		{"zero stop distance", Parameters{AccountBalance: 10000, RiskPercent: 1, EntryPrice: 50, StopPrice: 50}},
		{"negative balance", Parameters{AccountBalance: -1, RiskPercent: 1, EntryPrice: 50, StopPrice: 48}},
		{"zero risk", Parameters{AccountBalance: 10000, RiskPercent: 0, EntryPrice: 50, StopPrice: 48}},
		{"risk above 100", Parameters{AccountBalance: 10000, RiskPercent: 101, EntryPrice: 50, StopPrice: 48}},
		{"nan entry", Parameters{AccountBalance: 10000, RiskPercent: 1, EntryPrice: math.NaN(), StopPrice: 48}},
		{"inf balance", Parameters{AccountBalance: math.Inf(1), RiskPercent: 1, EntryPrice: 50, StopPrice: 48}},
		{"zero stop", Parameters{AccountBalance: 10000, RiskPercent: 1, EntryPrice: 50, StopPrice: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ComputeSize(tc.p); !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("expected ErrInvalidParameter, got %v", err)
			}
		})
	}
}

func TestComputeSize_ZeroBalance(t *testing.T) {
	qty, err := ComputeSize(Parameters{AccountBalance: 0, RiskPercent: 1, EntryPrice: 50, StopPrice: 48})
	if err != nil {
		t.Fatalf("zero balance should be allowed, got %v", err)
	}
	if qty != 0 {
		t.Errorf("expected 0 quantity, got %f", qty)
	}
}

func TestComputeSize_Formula(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		balance := rapid.Float64Range(0, 1e9).Draw(t, "balance")
		riskPct := rapid.Float64Range(0.01, 100).Draw(t, "risk")
		entry := rapid.Float64Range(0.01, 1e5).Draw(t, "entry")
		offset := rapid.Float64Range(0.01, 1e4).Draw(t, "offset")
		stop := entry + offset
		if rapid.Bool().Draw(t, "below") && entry-offset > 0 {
			stop = entry - offset
		}

		qty, err := ComputeSize(Parameters{AccountBalance: balance, RiskPercent: riskPct, EntryPrice: entry, StopPrice: stop})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := balance * riskPct / 100 / math.Abs(entry-stop)
		if math.Abs(qty-want) > 1e-9*math.Max(1, want) {
			t.Fatalf("quantity %f, want %f", qty, want)
		}

		again, _ := ComputeSize(Parameters{AccountBalance: balance, RiskPercent: riskPct, EntryPrice: entry, StopPrice: stop})
		if again != qty {
			t.Fatalf("ComputeSize is not deterministic: %f != %f", again, qty)
		}
	})
}

func TestWholeShares(t *testing.T) {
	cases := []struct {
		in   float64
		want int64
	}{
		{0, 0},
		{-3, 0},
		{49.999, 49},
		{50, 50},
		{math.NaN(), 0},
	}
	for _, tc := range cases {
		if got := WholeShares(tc.in); got != tc.want {
			t.Errorf("WholeShares(%v) = %d want %d", tc.in, got, tc.want)
		}
	}
}
