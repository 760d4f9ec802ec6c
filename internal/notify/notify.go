// Package notify implements the fire-and-forget Notifier (§6): async
// delivery of trade/risk/system events to one or more backends, none of
// which may ever block or fail the calling operation.
package notify

import (
	"tradecore/internal/models"
	"tradecore/pkg/utils"
)

// Sender is a single notification backend (Telegram, log, WebSocket push).
// Send must not block for long and must never panic — a slow or failing
// backend is the Dispatcher's problem, not the caller's.
type Sender interface {
	Send(n *models.Notification) error
}

// Dispatcher fans a Notification out to every registered Sender from a
// single drain goroutine that delivers to each sender in turn, queued
// through a buffered channel so a slow sender never blocks the trade loop.
// Overflow is dropped and logged rather than applying back-pressure,
// mirroring the teacher's tryEnqueueNotification.
type Dispatcher struct {
	senders []Sender
	queue   chan *models.Notification
	done    chan struct{}
}

// NewDispatcher starts a Dispatcher's drain loop against the given
// senders. Call Close to stop it.
func NewDispatcher(bufferSize int, senders ...Sender) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	d := &Dispatcher{
		senders: senders,
		queue:   make(chan *models.Notification, bufferSize),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		case <-d.done:
			return
		}
	}
}

func (d *Dispatcher) deliver(n *models.Notification) {
	for _, s := range d.senders {
		if err := s.Send(n); err != nil {
			utils.Warn("notification delivery failed",
				utils.String("type", n.Type),
				utils.Err(err))
		}
	}
}

// Notify implements execution.Notifier and reconcile.Notifier. A full
// queue drops the notification rather than blocking the caller —
// notification failures must never fail the calling operation (§6).
func (d *Dispatcher) Notify(n *models.Notification) {
	select {
	case d.queue <- n:
	default:
		utils.Warn("notification queue full, dropping", utils.String("type", n.Type))
	}
}

// Close stops the drain loop. Queued-but-undelivered notifications are
// discarded.
func (d *Dispatcher) Close() {
	close(d.done)
}
