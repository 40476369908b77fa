package drone

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errWaitTimeout = errors.New("wait timed out")

// notifier wakes every waiter at once by closing the current channel and
// replacing it with a fresh one.
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

func (n *notifier) C() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.ch
}

func (n *notifier) broadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()

	close(n.ch)
	n.ch = make(chan struct{})
}

// waitUntil returns once cond holds. cond is evaluated after every change
// notification and at least every poll interval.
func waitUntil(ctx context.Context, poll time.Duration, changed func() <-chan struct{}, cond func() bool) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		// take the channel before checking so a change in between is not lost
		ch := changed()

		if cond() {
			return nil
		}

		select {
		case <-ch:
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// waitFor is waitUntil bounded by timeout. Expiry of the timeout yields
// errWaitTimeout, cancellation of ctx yields ctx's error.
func waitFor(ctx context.Context, timeout, poll time.Duration, changed func() <-chan struct{}, cond func() bool) error {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := waitUntil(wctx, poll, changed, cond)
	if err != nil && ctx.Err() == nil {
		return errWaitTimeout
	}

	return err
}
