// Package pairsignal models the cointegration collaborator (§6): it tracks
// which symbol pairs remain cointegrated and emits a spread signal per
// pair each cycle. Like internal/signal, the core treats it as an external
// dependency — the rolling-window statistics live inside the
// implementation, not in the Trade Loop.
package pairsignal

import "context"

// SpreadAction is the cointegration collaborator's per-pair recommendation.
type SpreadAction string

const (
	ActionLongSpread  SpreadAction = "long_spread"
	ActionShortSpread SpreadAction = "short_spread"
	ActionClose       SpreadAction = "close"
	ActionHold        SpreadAction = "hold"
)

// Series is one symbol's recent price history, oldest first.
type Series []float64

// SpreadSignal is the collaborator's verdict for one pair.
type SpreadSignal struct {
	ZScore     float64
	Signal     SpreadAction
	HedgeRatio float64
}

// Collaborator refreshes the set of valid (cointegrated) pairs from the
// latest prices, then generates a signal for each. UpdateCointegration and
// GenerateSignals are always called in that order once per cycle (§4.9
// step 3); GenerateSignals only returns entries for pairs the last
// UpdateCointegration call judged cointegrated.
type Collaborator interface {
	UpdateCointegration(ctx context.Context, prices map[string]Series) error
	GenerateSignals(ctx context.Context, prices map[string]Series) (map[string]SpreadSignal, error)
}
