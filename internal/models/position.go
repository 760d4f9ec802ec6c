package models

import (
	"strings"
	"time"
)

// leverageSymbolPrefix marks a symbol as margin/leverage-capable, the
// same convention the source system used to gate short entries.
const leverageSymbolPrefix = "FX_"

// IsLeverageCapable reports whether symbol may be shorted. A short
// position on a spot symbol has no borrowed asset to sell, so every
// entry path must reject it (invariant: "entries for side=short are
// rejected unless the symbol is in the leverage-capable set").
func IsLeverageCapable(symbol string) bool {
	return strings.HasPrefix(symbol, leverageSymbolPrefix)
}

// PositionStatus is the closed sum type for a Position's lifecycle state.
// Only these five values are valid; impossible combinations (e.g. a status
// of open with a non-nil ExitPrice) are prevented by the repository and
// position-store layers rather than by the type system alone.
type PositionStatus string

const (
	PositionPendingExecution PositionStatus = "pending_execution"
	PositionOpen             PositionStatus = "open"
	PositionClosed           PositionStatus = "closed"
	PositionExecutionFailed  PositionStatus = "execution_failed"
	PositionExecutionUnknown PositionStatus = "execution_unknown"
)

// Side is the directional exposure of a Position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Position is a single directional exposure on one symbol.
type Position struct {
	ID          string         `json:"position_id" db:"position_id"`
	Symbol      string         `json:"symbol" db:"symbol"`
	Side        Side           `json:"side" db:"side"`
	Status      PositionStatus `json:"status" db:"status"`
	EntryPrice  float64        `json:"entry_price" db:"entry_price"`
	Quantity    float64        `json:"quantity" db:"quantity"`
	EntryTime   time.Time      `json:"entry_time" db:"entry_time"`
	StopLoss    *float64       `json:"stop_loss,omitempty" db:"stop_loss"`
	TakeProfit  *float64       `json:"take_profit,omitempty" db:"take_profit"`
	ExitPrice   *float64       `json:"exit_price,omitempty" db:"exit_price"`
	ExitTime    *time.Time     `json:"exit_time,omitempty" db:"exit_time"`
	RealizedPnl float64        `json:"realized_pnl" db:"realized_pnl"`
	IsLeveraged bool           `json:"is_leveraged" db:"is_leveraged"`
	Leverage    float64        `json:"leverage" db:"leverage"`
	ErrorMsg    string         `json:"error_message,omitempty" db:"error_message"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`

	// PartialProfitTaken tracks whether the first staged take-profit level
	// has already fired for this position's lifetime (§TESTABLE PROPERTIES 9).
	PartialProfitTaken bool `json:"partial_profit_taken" db:"partial_profit_taken"`
	// MaxPnl is the running maximum unrealized P&L observed, used by a
	// trailing-stop evaluation in the Risk Controller.
	MaxPnl float64 `json:"max_pnl" db:"max_pnl"`
}

// IsOpen reports whether the position currently occupies the
// "at most one open-or-pending position per symbol" slot (invariant 1).
func (p *Position) IsOpen() bool {
	return p.Status == PositionPendingExecution || p.Status == PositionOpen
}

// UnrealizedPnlPct computes the percentage P&L for the position at the
// given mark price, accounting for side.
func (p *Position) UnrealizedPnlPct(markPrice float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	diff := markPrice - p.EntryPrice
	if p.Side == SideShort {
		diff = -diff
	}
	return diff / p.EntryPrice * 100
}
