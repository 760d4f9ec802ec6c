// Package execution implements the Order Executor (§4.5) and Pair
// Executor (§4.6): the two-phase-commit sequences that place, confirm,
// and — for pairs — roll back exchange orders against the Durable Store
// and Position Store.
package execution

import "tradecore/internal/models"

// SafeModeGate is the subset of the Safe-Mode Controller (§4.7) the
// executors depend on: they check the latch before every new entry and
// feed every adapter call's outcome into the API-failure accounting.
// Defined here, not imported from internal/safemode, so the dependency
// runs the other way — safemode never needs to know execution exists.
type SafeModeGate interface {
	IsLatched() bool
	RecordFailure()
	RecordSuccess()

	// Latch forces the gate closed outside the consecutive-failure path —
	// a rollback exhaustion or a startup reconciliation failure (§4.7
	// inputs b and c), both of which clear only on manual restart.
	Latch(reason string)
}

// Notifier is the fire-and-forget event sink (§6 EXTERNAL INTERFACES).
// Notify never blocks the caller and never returns an error: a failed
// send is the Notifier implementation's problem, not the executor's.
type Notifier interface {
	Notify(n *models.Notification)
}
