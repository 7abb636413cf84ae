package core

import "sync/atomic"

// Notifier tells the presentation layer that registry state changed on an
// asynchronous side-path it would otherwise miss. The counter is the render
// trigger the UI contract exposes; Wait lets a Go consumer block for the
// next change instead of polling it. The registry stays the source of truth:
// this is an observability aid, not a correctness mechanism.
type Notifier struct {
	count  atomic.Uint64
	signal chan struct{}
}

// NewNotifier returns a notifier with a coalescing change signal.
func NewNotifier() *Notifier {
	return &Notifier{signal: make(chan struct{}, 1)}
}

// Bump increments the render counter and signals any waiter. Signals
// coalesce; a slow consumer sees at least one.
func (n *Notifier) Bump() {
	n.count.Add(1)
	select {
	case n.signal <- struct{}{}:
	default:
	}
}

// Count returns the current render-trigger value, monotonically increasing.
func (n *Notifier) Count() uint64 {
	return n.count.Load()
}

// Wait returns a channel that receives after the next Bump.
func (n *Notifier) Wait() <-chan struct{} {
	return n.signal
}
