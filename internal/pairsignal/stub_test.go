package pairsignal

import (
	"context"
	"testing"
)

func constSeries(n int, v float64) Series {
	s := make(Series, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestStubCollaboratorSkipsPairsWithoutEnoughHistory(t *testing.T) {
	s := NewStubCollaborator([]string{"BTC/JPY_ETH/JPY"}, 10, 2.0, 0.5)
	prices := map[string]Series{
		"BTC/JPY": constSeries(3, 100),
		"ETH/JPY": constSeries(3, 50),
	}
	signals, err := s.GenerateSignals(context.Background(), prices)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signals) != 0 {
		t.Errorf("expected no signals, got %+v", signals)
	}
}

func TestStubCollaboratorHoldsOnFlatSpread(t *testing.T) {
	s := NewStubCollaborator([]string{"BTC/JPY_ETH/JPY"}, 10, 2.0, 0.5)
	prices := map[string]Series{
		"BTC/JPY": constSeries(20, 12_000_000),
		"ETH/JPY": constSeries(20, 380_000),
	}
	signals, err := s.GenerateSignals(context.Background(), prices)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sig, ok := signals["BTC/JPY_ETH/JPY"]
	if !ok {
		t.Fatal("expected a signal for the pair")
	}
	if sig.Signal != ActionClose && sig.Signal != ActionHold {
		t.Errorf("expected flat spread to be close or hold, got %+v", sig)
	}
}

func TestStubCollaboratorFlagsWideningSpreadAsShortSpread(t *testing.T) {
	s := NewStubCollaborator([]string{"BTC/JPY_ETH/JPY"}, 5, 1.0, 0.2)
	sym1 := make(Series, 10)
	sym2 := make(Series, 10)
	for i := range sym1 {
		sym1[i] = 100
		sym2[i] = 100
	}
	sym1[9] = 140 // last-tick spread spike
	prices := map[string]Series{"BTC/JPY": sym1, "ETH/JPY": sym2}

	signals, err := s.GenerateSignals(context.Background(), prices)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sig, ok := signals["BTC/JPY_ETH/JPY"]
	if !ok {
		t.Fatal("expected a signal for the pair")
	}
	if sig.Signal != ActionShortSpread {
		t.Errorf("expected short_spread on a positive spike, got %+v", sig)
	}
}

func TestSplitPairID(t *testing.T) {
	sym1, sym2, ok := splitPairID("BTC/JPY_ETH/JPY")
	if !ok || sym1 != "BTC/JPY" || sym2 != "ETH/JPY" {
		t.Errorf("unexpected split: %q %q %v", sym1, sym2, ok)
	}
	if _, _, ok := splitPairID("nosep"); ok {
		t.Error("expected ok=false for a pair id with no separator")
	}
}
