package pairsignal

import (
	"context"
	"math"
	"strings"
)

// StubCollaborator is a deterministic rolling z-score over a naive
// ratio-of-means hedge ratio. It treats every configured pair as
// cointegrated once both legs have at least MinHistory samples — it does
// not run an actual cointegration test (Engle-Granger or otherwise); that
// is exactly the kind of statistical machinery this package exists to keep
// out of the core.
type StubCollaborator struct {
	Pairs      []string // "SYM1/SYM2" keys, matching models.PairIDFor's separator
	MinHistory int
	Lookback   int

	ZEntry float64
	ZExit  float64
}

// NewStubCollaborator builds a stub tracking the given pair keys.
func NewStubCollaborator(pairs []string, lookback int, zEntry, zExit float64) *StubCollaborator {
	if lookback <= 0 {
		lookback = 60
	}
	return &StubCollaborator{
		Pairs:      pairs,
		MinHistory: lookback,
		Lookback:   lookback,
		ZEntry:     zEntry,
		ZExit:      zExit,
	}
}

// UpdateCointegration is a no-op for the stub: "cointegrated" is decided
// per-call in GenerateSignals purely from history length, so there is no
// rolling state to refresh between calls.
func (s *StubCollaborator) UpdateCointegration(ctx context.Context, prices map[string]Series) error {
	return nil
}

// GenerateSignals computes, for each configured pair with enough history
// on both legs, a rolling z-score of price1 - hedgeRatio*price2 and maps it
// to long_spread/short_spread/close/hold against ZEntry/ZExit.
func (s *StubCollaborator) GenerateSignals(ctx context.Context, prices map[string]Series) (map[string]SpreadSignal, error) {
	out := make(map[string]SpreadSignal)
	for _, pairID := range s.Pairs {
		sym1, sym2, ok := splitPairID(pairID)
		if !ok {
			continue
		}
		series1, series2 := prices[sym1], prices[sym2]
		if len(series1) < s.MinHistory || len(series2) < s.MinHistory {
			continue
		}

		window := s.Lookback
		s1 := tail(series1, window)
		s2 := tail(series2, window)
		n := minInt(len(s1), len(s2))
		s1, s2 = s1[len(s1)-n:], s2[len(s2)-n:]

		hedgeRatio := mean(s1) / mean(s2)
		if hedgeRatio == 0 || math.IsNaN(hedgeRatio) || math.IsInf(hedgeRatio, 0) {
			continue
		}

		spread := make([]float64, n)
		for i := range spread {
			spread[i] = s1[i] - hedgeRatio*s2[i]
		}
		mu := mean(spread)
		sigma := stddev(spread, mu)
		z := 0.0
		if sigma != 0 {
			z = (spread[n-1] - mu) / sigma
		}

		action := ActionHold
		switch {
		case z >= s.ZEntry:
			action = ActionShortSpread
		case z <= -s.ZEntry:
			action = ActionLongSpread
		case math.Abs(z) <= s.ZExit:
			action = ActionClose
		}

		out[pairID] = SpreadSignal{ZScore: z, Signal: action, HedgeRatio: hedgeRatio}
	}
	return out, nil
}

func splitPairID(pairID string) (sym1, sym2 string, ok bool) {
	idx := strings.LastIndex(pairID, "_")
	if idx <= 0 || idx >= len(pairID)-1 {
		return "", "", false
	}
	return pairID[:idx], pairID[idx+1:], true
}

func tail(s Series, n int) Series {
	if n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64, mu float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sumSq float64
	for _, v := range values {
		d := v - mu
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}
