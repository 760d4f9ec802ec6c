package safemode

import (
	"testing"

	"tradecore/internal/models"
)

type fakeNotifier struct {
	sent []*models.Notification
}

func (f *fakeNotifier) Notify(n *models.Notification) { f.sent = append(f.sent, n) }

func TestControllerLatchesOnConsecutiveFailures(t *testing.T) {
	n := &fakeNotifier{}
	c := NewController(3, n)

	c.RecordFailure()
	c.RecordFailure()
	if c.IsLatched() {
		t.Fatal("expected not latched before reaching threshold")
	}

	c.RecordFailure()
	if !c.IsLatched() {
		t.Fatal("expected latched at threshold")
	}
	if len(n.sent) != 1 || n.sent[0].Severity != models.SeverityCritical {
		t.Errorf("expected one critical notification, got %+v", n.sent)
	}
}

func TestControllerClearsOnFirstSuccessAfterAPIFailureLatch(t *testing.T) {
	n := &fakeNotifier{}
	c := NewController(2, n)

	c.RecordFailure()
	c.RecordFailure()
	if !c.IsLatched() {
		t.Fatal("expected latched")
	}

	c.RecordSuccess()
	if c.IsLatched() {
		t.Error("expected unlatched after a successful call")
	}
	if len(n.sent) != 2 {
		t.Errorf("expected latch + clear notifications, got %+v", n.sent)
	}
}

func TestControllerManualLatchSurvivesSuccess(t *testing.T) {
	n := &fakeNotifier{}
	c := NewController(5, n)

	c.Latch("rollback failed")
	if !c.IsLatched() {
		t.Fatal("expected latched")
	}

	c.RecordSuccess()
	if !c.IsLatched() {
		t.Error("expected manual latch to survive a successful adapter call")
	}

	c.ResetManual()
	if c.IsLatched() {
		t.Error("expected ResetManual to clear a manual latch")
	}
}

func TestControllerStatusReportsReason(t *testing.T) {
	n := &fakeNotifier{}
	c := NewController(5, n)
	c.Latch(string(ReasonReconciliationFailed))

	latched, reason, _ := c.Status()
	if !latched || reason != ReasonReconciliationFailed {
		t.Errorf("unexpected status: latched=%v reason=%v", latched, reason)
	}
}

func TestControllerFailureCounterResetsOnSuccessWithoutLatch(t *testing.T) {
	n := &fakeNotifier{}
	c := NewController(3, n)

	c.RecordFailure()
	c.RecordFailure()
	c.RecordSuccess()
	c.RecordFailure()
	c.RecordFailure()
	if c.IsLatched() {
		t.Error("expected failure counter to have reset, not yet at threshold again")
	}
}
