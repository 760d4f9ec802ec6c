// Package reconcile implements the Reconciler (§4.8): it rebuilds the
// Position Store's in-memory state from the Durable Store at startup and
// resolves positions left in limbo by a crash mid-execution.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"tradecore/internal/models"
	"tradecore/internal/position"
	"tradecore/internal/repository"
	"tradecore/pkg/utils"
)

// Mode controls how Startup reacts to finding incomplete pairs: a
// production deployment refuses to start trading on ambiguous state, a
// test run logs and continues so suites don't need a clean fixture for
// every case.
type Mode int

const (
	ModeProduction Mode = iota
	ModeTest
)

const (
	pendingPositionMaxAge = 5 * time.Minute
	unknownPositionMaxAge = 10 * time.Minute
)

// SafeModeLatcher is the minimal Safe-Mode Controller dependency: a
// rebuild failure forces the latch closed (§4.8 step iv) without the
// Reconciler needing the rest of the controller's surface.
type SafeModeLatcher interface {
	Latch(reason string)
}

// Notifier is the fire-and-forget event sink.
type Notifier interface {
	Notify(n *models.Notification)
}

// Reconciler owns startup rehydration and the periodic execution_unknown
// sweep.
type Reconciler struct {
	positions *repository.PositionRepository
	pairs     *repository.PairPositionRepository
	store     *position.Store
	safeMode  SafeModeLatcher
	notifier  Notifier
	mode      Mode
}

// NewReconciler wires a Reconciler to its collaborators.
func NewReconciler(positions *repository.PositionRepository, pairs *repository.PairPositionRepository, store *position.Store, safeMode SafeModeLatcher, notifier Notifier, mode Mode) *Reconciler {
	return &Reconciler{
		positions: positions,
		pairs:     pairs,
		store:     store,
		safeMode:  safeMode,
		notifier:  notifier,
		mode:      mode,
	}
}

// Startup runs §4.8's startup sequence. In production mode, any
// incomplete pair aborts with an error naming the count; in test mode it
// logs and continues. A failure partway through rebuilding still returns
// nil — the system is allowed to start, just latched so it opens nothing
// new — except the incomplete-pairs-in-production case, which is the one
// abort path.
func (rc *Reconciler) Startup(ctx context.Context) error {
	incomplete, err := rc.pairs.RecoverIncompletePairs(ctx)
	if err != nil {
		rc.failStartup(ctx, "failed to fetch incomplete pairs: "+err.Error())
		return nil
	}
	if len(incomplete) > 0 {
		if rc.mode == ModeProduction {
			return fmt.Errorf("reconcile: %d incomplete pair position(s) found at startup, refusing to start; resolve manually and restart", len(incomplete))
		}
		utils.Warn("incomplete pair positions found at startup, continuing (test mode)", utils.Int("count", len(incomplete)))
	}

	openPairs, err := rc.pairs.GetOpenPairPositions(ctx)
	if err != nil {
		rc.failStartup(ctx, "failed to fetch open pairs: "+err.Error())
		return nil
	}
	for _, pp := range openPairs {
		rc.store.AddPairPosition(pp)
	}

	openPositions, err := rc.positions.GetOpenPositions(ctx)
	if err != nil {
		rc.failStartup(ctx, "failed to fetch open positions: "+err.Error())
		return nil
	}

	now := time.Now()
	for _, p := range openPositions {
		switch p.Status {
		case models.PositionOpen:
			rc.store.AddPosition(p)
		case models.PositionPendingExecution:
			if now.Sub(p.EntryTime) > pendingPositionMaxAge {
				if err := rc.positions.UpdatePosition(ctx, p.ID, models.PositionExecutionFailed, nil, nil, 0, "pending_execution stale at startup"); err != nil {
					rc.failStartup(ctx, "failed to age out stale pending position "+p.ID+": "+err.Error())
					return nil
				}
			}
			// Fresh pending_execution rows are left alone: an in-flight
			// attempt from just before the crash may still resolve them.
		}
	}

	return nil
}

// Sweep implements §4.8's periodic pass: execution_unknown positions
// older than 10 minutes are marked execution_failed.
func (rc *Reconciler) Sweep(ctx context.Context) error {
	unknown, err := rc.positions.GetPositionsByStatus(ctx, models.PositionExecutionUnknown)
	if err != nil {
		return fmt.Errorf("reconcile: sweep failed to fetch execution_unknown positions: %w", err)
	}

	now := time.Now()
	for _, p := range unknown {
		if now.Sub(p.UpdatedAt) <= unknownPositionMaxAge {
			continue
		}
		if err := rc.positions.UpdatePosition(ctx, p.ID, models.PositionExecutionFailed, nil, nil, 0, "execution_unknown unresolved after sweep window"); err != nil {
			utils.Error("sweep failed to age out execution_unknown position", utils.String("position_id", p.ID), utils.Err(err))
		}
	}
	return nil
}

func (rc *Reconciler) failStartup(ctx context.Context, reason string) {
	utils.Error("reconciliation failed at startup", utils.String("reason", reason))
	rc.safeMode.Latch("reconciliation failed")
	rc.notifier.Notify(&models.Notification{
		Timestamp: time.Now(),
		Type:      models.NotificationAlert,
		Severity:  models.SeverityCritical,
		Message:   "startup reconciliation failed: " + reason,
	})
}
