package signal

import (
	"context"
	"fmt"
)

// StubCollaborator is a deterministic fast/slow SMA crossover, used as the
// default collaborator when no real ML service is wired and by every test
// that needs a reproducible Decision. It satisfies Collaborator's contract
// (pure function of the series, no state retained between calls) without
// claiming to be a trading strategy.
type StubCollaborator struct {
	FastPeriod int
	SlowPeriod int
}

// NewStubCollaborator builds a stub with the given SMA windows. Zero values
// fall back to 5/20.
func NewStubCollaborator(fastPeriod, slowPeriod int) *StubCollaborator {
	if fastPeriod <= 0 {
		fastPeriod = 5
	}
	if slowPeriod <= 0 {
		slowPeriod = 20
	}
	return &StubCollaborator{FastPeriod: fastPeriod, SlowPeriod: slowPeriod}
}

// GenerateTradingSignal computes the fast and slow simple moving averages
// over the tail of series and recommends BUY/SELL on a crossover, HOLD
// otherwise. Confidence scales with the normalized gap between the two
// averages, capped at 0.95 so a stub signal never reads as a certainty.
func (s *StubCollaborator) GenerateTradingSignal(ctx context.Context, series []PricePoint, confidenceThreshold float64, symbol string) (Decision, error) {
	if len(series) < s.SlowPeriod {
		return Decision{Signal: ActionHold, Confidence: 0, Metadata: map[string]interface{}{"reason": "insufficient_history"}}, nil
	}

	fast := sma(series, s.FastPeriod)
	slow := sma(series, s.SlowPeriod)
	if slow == 0 {
		return Decision{Signal: ActionHold, Confidence: 0}, nil
	}

	gap := (fast - slow) / slow
	confidence := clamp(absFloat(gap)*10, 0, 0.95)

	action := ActionHold
	switch {
	case gap > 0 && confidence >= confidenceThreshold:
		action = ActionBuy
	case gap < 0 && confidence >= confidenceThreshold:
		action = ActionSell
	}

	return Decision{
		Signal:     action,
		Confidence: confidence,
		Metadata: map[string]interface{}{
			"symbol":      symbol,
			"fast_sma":    fast,
			"slow_sma":    slow,
			"fast_period": s.FastPeriod,
			"slow_period": s.SlowPeriod,
			"source":      fmt.Sprintf("sma_crossover(%d,%d)", s.FastPeriod, s.SlowPeriod),
		},
	}, nil
}

func sma(series []PricePoint, period int) float64 {
	if period <= 0 || period > len(series) {
		return 0
	}
	tail := series[len(series)-period:]
	var sum float64
	for _, p := range tail {
		sum += p.Close
	}
	return sum / float64(period)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
