package coordinator

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// Coordinator counts outstanding branches of a fan-out and runs the queued
// continuations once the count returns to zero.
//
// Every Branch must be paired with exactly one Complete, on success and on
// failure alike. The first non-nil error passed to Complete is kept for the
// current wave; later errors are dropped.
type Coordinator struct {
	mu          sync.Mutex
	outstanding int
	pending     *queue.Queue
	err         error
	draining    bool
	waiters     []chan error
}

// New returns an idle coordinator with no outstanding branches.
func New() *Coordinator {
	return &Coordinator{pending: queue.New()}
}

// Branch registers one more asynchronous operation.
func (c *Coordinator) Branch() {
	c.mu.Lock()
	c.outstanding++
	c.mu.Unlock()
}

// Complete acknowledges one branch. When the last branch completes every
// queued continuation runs once, in registration order.
func (c *Coordinator) Complete(err error) {
	c.mu.Lock()
	if c.outstanding == 0 {
		c.mu.Unlock()
		return
	}
	if err != nil && c.err == nil {
		c.err = err
	}
	c.outstanding--
	if c.outstanding > 0 {
		c.mu.Unlock()
		return
	}
	c.releaseLocked()
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.drainLocked()
}

// OnDrained queues fn to run when the current wave drains. With nothing
// outstanding fn runs immediately on the calling goroutine.
func (c *Coordinator) OnDrained(fn func()) {
	c.mu.Lock()
	c.pending.Add(fn)
	if c.outstanding > 0 || c.draining {
		c.mu.Unlock()
		return
	}
	c.drainLocked()
}

// Reset releases blocked waiters, then clears the branch count, queued
// continuations and recorded error so the coordinator can carry a dependent
// wave. It may be called from inside a continuation.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.releaseLocked()
	c.outstanding = 0
	c.err = nil
	for c.pending.Length() > 0 {
		c.pending.Remove()
	}
	c.mu.Unlock()
}

// Outstanding reports how many branches have not completed yet.
func (c *Coordinator) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outstanding
}

// Err returns the first error recorded in the current wave.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Go runs fn on its own goroutine as one branch of the current wave.
func (c *Coordinator) Go(fn func() error) {
	c.Branch()
	go func() {
		c.Complete(fn())
	}()
}

// Wait blocks until the current wave drains and returns its first error.
// If ctx ends first the branches keep running and ctx.Err() is returned.
// Waiters are released by the last Complete itself, so Wait may be called
// from inside a continuation that started a dependent wave.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	if c.outstanding == 0 {
		err := c.err
		c.mu.Unlock()
		return err
	}
	done := make(chan error, 1)
	c.waiters = append(c.waiters, done)
	c.mu.Unlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// releaseLocked hands the wave's error to every blocked Wait.
func (c *Coordinator) releaseLocked() {
	for _, w := range c.waiters {
		w <- c.err
	}
	c.waiters = nil
}

// drainLocked runs continuations while nothing is outstanding. It is entered
// with c.mu held and returns with it released.
func (c *Coordinator) drainLocked() {
	c.draining = true
	for c.outstanding == 0 && c.pending.Length() > 0 {
		batch := make([]func(), 0, c.pending.Length())
		for c.pending.Length() > 0 {
			batch = append(batch, c.pending.Remove().(func()))
		}
		c.mu.Unlock()
		for _, fn := range batch {
			fn()
		}
		c.mu.Lock()
	}
	c.draining = false
	c.mu.Unlock()
}
