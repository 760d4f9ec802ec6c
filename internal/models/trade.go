package models

import "time"

// OrderType distinguishes how a fill was executed.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Trade is an immutable audit record of a fill or partial fill.
type Trade struct {
	ID          int64     `json:"id" db:"id"`
	PositionID  string    `json:"position_id" db:"position_id"`
	Symbol      string    `json:"symbol" db:"symbol"`
	Side        Side      `json:"side" db:"side"`
	Price       float64   `json:"price" db:"price"`
	Amount      float64   `json:"amount" db:"amount"`
	Cost        float64   `json:"cost" db:"cost"`
	Fee         float64   `json:"fee" db:"fee"`
	FeeCurrency string    `json:"fee_currency" db:"fee_currency"`
	OrderType   OrderType `json:"order_type" db:"order_type"`
	ProfitLoss  float64   `json:"profit_loss" db:"profit_loss"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
}

// QuoteCurrency derives the fee currency from a "BASE/QUOTE"-shaped symbol,
// e.g. "BTC/JPY" -> "JPY". Symbols without a separator return themselves
// unchanged — callers own validating symbol shape upstream.
func QuoteCurrency(symbol string) string {
	for i := len(symbol) - 1; i >= 0; i-- {
		if symbol[i] == '/' {
			return symbol[i+1:]
		}
	}
	return symbol
}

// DailyPnL is a derived, read-only aggregation over Trade rows by date.
type DailyPnL struct {
	Date        string  `json:"date" db:"date"`
	RealizedPnl float64 `json:"realized_pnl" db:"realized_pnl"`
	TradeCount  int     `json:"trade_count" db:"trade_count"`
	Wins        int     `json:"wins" db:"wins"`
	Losses      int     `json:"losses" db:"losses"`
}
