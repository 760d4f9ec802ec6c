package models

import "time"

// PairStatus is the closed sum type for a PairPosition's lifecycle.
type PairStatus string

const (
	PairPendingExecution PairStatus = "pending_execution"
	PairOpen             PairStatus = "open"
	PairClosed           PairStatus = "closed"
	PairExecutionFailed  PairStatus = "execution_failed"
)

// SpreadDirection expresses which leg is bought and which is sold.
type SpreadDirection string

const (
	// DirectionLongSpread means "buy leg1, sell leg2".
	DirectionLongSpread SpreadDirection = "long_spread"
	// DirectionShortSpread means "sell leg1, buy leg2".
	DirectionShortSpread SpreadDirection = "short_spread"
)

// PairPosition is two coupled legs traded and unwound as a unit.
type PairPosition struct {
	PairID       string          `json:"pair_id" db:"pair_id"`
	Symbol1      string          `json:"symbol1" db:"symbol1"`
	Symbol2      string          `json:"symbol2" db:"symbol2"`
	Direction    SpreadDirection `json:"direction" db:"direction"`
	Status       PairStatus      `json:"status" db:"status"`
	HedgeRatio   float64         `json:"hedge_ratio" db:"hedge_ratio"`
	EntrySpread  float64         `json:"entry_spread" db:"entry_spread"`
	EntryZScore  float64         `json:"entry_z_score" db:"entry_z_score"`
	EntryTime    time.Time       `json:"entry_time" db:"entry_time"`
	Size1        float64         `json:"size1" db:"size1"`
	Size2        float64         `json:"size2" db:"size2"`
	EntryPrice1  float64         `json:"entry_price1" db:"entry_price1"`
	EntryPrice2  float64         `json:"entry_price2" db:"entry_price2"`
	EntryCapital float64         `json:"entry_capital" db:"entry_capital"`
	UnrealizedPnl float64        `json:"unrealized_pnl" db:"unrealized_pnl"`
	MaxPnl       float64         `json:"max_pnl" db:"max_pnl"`
	ExitPrice1   *float64        `json:"exit_price1,omitempty" db:"exit_price1"`
	ExitPrice2   *float64        `json:"exit_price2,omitempty" db:"exit_price2"`
	ExitTime     *time.Time      `json:"exit_time,omitempty" db:"exit_time"`
	RealizedPnl  float64         `json:"realized_pnl" db:"realized_pnl"`
	ErrorMsg     string          `json:"error_message,omitempty" db:"error_message"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// PairIDFor derives the canonical identity for a pair from its two symbols.
func PairIDFor(symbol1, symbol2 string) string {
	return symbol1 + "_" + symbol2
}

// IsOpen reports whether both legs are live.
func (pp *PairPosition) IsOpen() bool {
	return pp.Status == PairOpen
}

// SellLeg returns the symbol of the leg that is sold short to open this
// pair — symbol1 in short_spread, symbol2 in long_spread — used to check
// for disallowed uncovered shorts before opening (§4.6 step 1).
func (pp *PairPosition) SellLeg() string {
	if pp.Direction == DirectionShortSpread {
		return pp.Symbol1
	}
	return pp.Symbol2
}
