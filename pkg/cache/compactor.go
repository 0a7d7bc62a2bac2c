package cache

import (
	"context"
	"sync"
)

// compactor runs cache maintenance on a single background goroutine. Requests are fire-and-forget and coalesce:
// scheduling while a pass is already pending doesn't queue another one.
type compactor struct {
	requests  chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	pass      func()
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// newCompactor prepares a worker that runs `pass` once per (coalesced) request. No goroutine runs before Start.
func newCompactor(pass func()) *compactor {
	ctx, cancel := context.WithCancel(context.Background())
	return &compactor{requests: make(chan struct{}, 1), ctx: ctx, cancel: cancel, pass: pass, done: make(chan struct{})}
}

// Start launches the worker goroutine. Requests scheduled before Start run once it's up.
// Starting twice, or after Stop, does nothing.
func (c *compactor) Start() {
	c.startOnce.Do(func() { go c.run() })
}

func (c *compactor) run() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.requests:
			if c.ctx.Err() != nil {
				return
			}
			c.pass()
		}
	}
}

// Schedule requests a maintenance pass without blocking.
func (c *compactor) Schedule() {
	select {
	case c.requests <- struct{}{}:
	default: // A pass is already pending.
	}
}

// Cancel stops the worker from starting new passes; it doesn't wait.
func (c *compactor) Cancel() {
	c.cancel()
}

// Stop cancels the worker and waits for a running pass to finish.
// NOTE: Must not be called while holding a lock that `pass` acquires.
func (c *compactor) Stop() {
	c.stopOnce.Do(func() {
		c.cancel()
		c.startOnce.Do(func() { close(c.done) }) // Never started.
		<-c.done
	})
}
