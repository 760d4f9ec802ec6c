// Package safemode implements the Safe-Mode Controller (§4.7): a single
// latch gating every new-entry path. Unlike the teacher's per-position
// readiness flags (raw int32 fields toggled with atomic.StoreInt32), this
// is one process-wide value, so it is built on the typed atomic.Pointer/
// atomic.Int64 added in Go 1.19 rather than the teacher's older
// atomic.LoadInt32/StoreInt32 pairs around bare fields.
package safemode

import (
	"sync/atomic"
	"time"

	"tradecore/internal/models"
)

// Reason names why the latch is set. Manual reasons (rollback failure,
// reconciliation failure) only clear on restart; the API-failure reason
// clears itself on the next successful adapter call.
type Reason string

const (
	ReasonAPIFailures          Reason = "consecutive_api_failures"
	ReasonRollbackFailed       Reason = "rollback failed"
	ReasonReconciliationFailed Reason = "reconciliation failed"
)

// Notifier is the fire-and-forget event sink the controller reports
// latch/unlatch transitions through.
type Notifier interface {
	Notify(n *models.Notification)
}

// state is swapped as a whole so a reader never observes latched=true
// paired with a stale reason from a previous episode — the thing spec.md
// means by "reads and writes of the latch flag go through a single lock."
// An atomic.Pointer swap gives that same all-or-nothing visibility without
// a mutex.
type state struct {
	latched    bool
	reason     Reason
	since      time.Time
	manualOnly bool
}

var cleared = &state{}

// Controller is the Safe-Mode Controller. It satisfies
// internal/execution.SafeModeGate.
type Controller struct {
	current   atomic.Pointer[state]
	failures  atomic.Int64
	threshold int64
	notifier  Notifier
}

// NewController creates a Controller with the given consecutive-API-failure
// threshold (§4.7 default: 5).
func NewController(threshold int64, notifier Notifier) *Controller {
	c := &Controller{threshold: threshold, notifier: notifier}
	c.current.Store(cleared)
	return c
}

// IsLatched reports the current latch state. Safe to call from any
// goroutine without blocking.
func (c *Controller) IsLatched() bool {
	return c.current.Load().latched
}

// RecordFailure increments the consecutive-API-failure counter and
// latches once it reaches the threshold (§4.7 input a).
func (c *Controller) RecordFailure() {
	n := c.failures.Add(1)
	if n < c.threshold {
		return
	}
	if c.current.Load().latched {
		return
	}
	c.current.Store(&state{latched: true, reason: ReasonAPIFailures, since: time.Now()})
	c.notifier.Notify(&models.Notification{
		Timestamp: time.Now(),
		Type:      models.NotificationAlert,
		Severity:  models.SeverityCritical,
		Message:   "safe mode latched: consecutive API failures reached threshold",
	})
}

// RecordSuccess resets the failure counter and, if the latch was set by
// the API-failure path, clears it and notifies (§4.7: "the first
// successful adapter call resets the failure counter and unlatches").
// A manual-only latch (rollback or reconciliation failure) is untouched.
func (c *Controller) RecordSuccess() {
	c.failures.Store(0)
	cur := c.current.Load()
	if !cur.latched || cur.manualOnly {
		return
	}
	c.current.Store(cleared)
	c.notifier.Notify(&models.Notification{
		Timestamp: time.Now(),
		Type:      models.NotificationInfo,
		Severity:  models.SeverityInfo,
		Message:   "safe mode cleared: adapter call succeeded",
	})
}

// Latch forces the controller closed for a manual-only reason (§4.7
// inputs b and c: rollback exhaustion, startup reconciliation failure).
// Only ResetManual, called at operator restart, clears it.
func (c *Controller) Latch(reason string) {
	c.current.Store(&state{latched: true, reason: Reason(reason), since: time.Now(), manualOnly: true})
}

// ResetManual clears any latch, including a manual-only one. Called once
// at process startup after an operator has confirmed it is safe to
// resume trading.
func (c *Controller) ResetManual() {
	c.failures.Store(0)
	c.current.Store(cleared)
}

// Status reports the latch state for the bot-command interface and the
// periodic performance summary.
func (c *Controller) Status() (latched bool, reason Reason, since time.Time) {
	s := c.current.Load()
	return s.latched, s.reason, s.since
}
