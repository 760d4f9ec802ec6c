// Package health implements the hourly health check referenced by the
// trade loop's maintenance step (§4.9): a cheap, side-effect-free probe of
// the durable store, the exchange connection, and the safe-mode latch,
// reported through the same Notifier every other subsystem uses.
package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tradecore/internal/exchange"
)

// SafeModeStatus is the minimal surface health needs from the Safe-Mode
// Controller — its latch state, not the ability to change it.
type SafeModeStatus interface {
	IsLatched() bool
}

// Report is the outcome of one Check call.
type Report struct {
	Healthy           bool
	DBReachable       bool
	ExchangeReachable bool
	SafeModeLatched   bool
	CheckedAt         time.Time
	Errors            []string
}

// Checker runs the periodic health probe.
type Checker struct {
	db          *sql.DB
	adapter     *exchange.Adapter
	safeMode    SafeModeStatus
	probeSymbol string
}

// NewChecker builds a Checker. probeSymbol is any symbol the exchange
// adapter can price — used only to confirm the exchange leg is reachable,
// never to place an order.
func NewChecker(db *sql.DB, adapter *exchange.Adapter, safeMode SafeModeStatus, probeSymbol string) *Checker {
	return &Checker{db: db, adapter: adapter, safeMode: safeMode, probeSymbol: probeSymbol}
}

// Check runs all three probes and aggregates the result. It never returns
// an error itself — a failed probe is recorded in the Report, not raised,
// since a health check that panics the loop defeats its own purpose.
func (c *Checker) Check(ctx context.Context) Report {
	rep := Report{CheckedAt: time.Now()}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		rep.Errors = append(rep.Errors, fmt.Sprintf("database unreachable: %v", err))
	} else {
		rep.DBReachable = true
	}

	if _, err := c.adapter.GetCurrentPrice(ctx, c.probeSymbol); err != nil {
		rep.Errors = append(rep.Errors, fmt.Sprintf("exchange unreachable: %v", err))
	} else {
		rep.ExchangeReachable = true
	}

	rep.SafeModeLatched = c.safeMode.IsLatched()
	rep.Healthy = rep.DBReachable && rep.ExchangeReachable && !rep.SafeModeLatched
	return rep
}
