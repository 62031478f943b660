package coordinator

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDrainFiresOnceAfterAllBranches(t *testing.T) {
	for n := 0; n <= 32; n++ {
		c := New()
		for i := 0; i < n; i++ {
			c.Branch()
		}

		var fired int32
		c.OnDrained(func() { atomic.AddInt32(&fired, 1) })

		order := rand.New(rand.NewSource(int64(n))).Perm(n)
		for i, idx := range order {
			if got := atomic.LoadInt32(&fired); got != 0 {
				t.Fatalf("n=%d: continuation fired after %d of %d completions (branch %d)", n, i, n, idx)
			}
			c.Complete(nil)
		}

		if got := atomic.LoadInt32(&fired); got != 1 {
			t.Fatalf("n=%d: expected continuation to fire once, fired %d times", n, got)
		}
	}
}

func TestDrainConcurrentCompletions(t *testing.T) {
	const n = 200
	c := New()

	var fired int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		c.Branch()
	}
	c.OnDrained(func() { atomic.AddInt32(&fired, 1) })
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Complete(nil)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatalf("expected exactly one drain, got %d", got)
	}
}

func TestOnDrainedWithNothingOutstandingRunsImmediately(t *testing.T) {
	c := New()
	ran := false
	c.OnDrained(func() { ran = true })
	if !ran {
		t.Fatal("continuation should run synchronously for an empty fan-out")
	}
}

func TestContinuationsRunInRegistrationOrder(t *testing.T) {
	c := New()
	c.Branch()

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		c.OnDrained(func() { got = append(got, i) })
	}
	c.Complete(nil)

	for i, v := range got {
		if v != i {
			t.Fatalf("continuations ran out of order: %v", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 continuations, got %d", len(got))
	}
}

func TestResetDropsPriorWave(t *testing.T) {
	c := New()
	c.Branch()
	stale := false
	c.OnDrained(func() { stale = true })

	c.Reset()
	c.Branch()
	fresh := false
	c.OnDrained(func() { fresh = true })
	c.Complete(nil)

	if stale {
		t.Fatal("continuation from the reset wave fired")
	}
	if !fresh {
		t.Fatal("continuation of the new wave did not fire")
	}
}

func TestResetInsideContinuationChainsWaves(t *testing.T) {
	c := New()
	var stages []string

	c.Branch()
	c.OnDrained(func() {
		stages = append(stages, "first")
		c.Reset()
		c.Branch()
		c.Branch()
		c.OnDrained(func() { stages = append(stages, "second") })
		c.Complete(nil)
		c.Complete(nil)
	})
	c.Complete(nil)

	if len(stages) != 2 || stages[0] != "first" || stages[1] != "second" {
		t.Fatalf("unexpected stage order: %v", stages)
	}
	if c.Outstanding() != 0 {
		t.Fatalf("expected nothing outstanding, got %d", c.Outstanding())
	}
}

func TestWaitInsideContinuationForDependentWave(t *testing.T) {
	c := New()
	result := make(chan error, 1)

	c.Branch()
	c.OnDrained(func() {
		c.Reset()
		c.Go(func() error {
			time.Sleep(10 * time.Millisecond)
			return nil
		})
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		result <- c.Wait(ctx)
	})
	go c.Complete(nil)

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("dependent wave did not drain: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("continuation never returned")
	}
}

func TestWaitAfterDrainReturnsWaveError(t *testing.T) {
	c := New()
	boom := errors.New("boom")
	c.Branch()
	c.Complete(boom)

	if err := c.Wait(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestSecondWaveDoesNotFireEarly(t *testing.T) {
	c := New()
	second := false

	c.Branch()
	c.OnDrained(func() {
		c.Reset()
		c.Branch()
		c.OnDrained(func() { second = true })
	})
	c.Complete(nil)

	if second {
		t.Fatal("second wave fired before its branch completed")
	}
	c.Complete(nil)
	if !second {
		t.Fatal("second wave did not fire")
	}
}

func TestCompleteWithoutBranchIsIgnored(t *testing.T) {
	c := New()
	c.Complete(nil)
	if c.Outstanding() != 0 {
		t.Fatalf("outstanding went negative: %d", c.Outstanding())
	}
}

func TestFirstCompletionErrorIsKept(t *testing.T) {
	c := New()
	first := errors.New("first")
	c.Branch()
	c.Branch()
	c.Branch()
	c.Complete(first)
	c.Complete(errors.New("second"))
	c.Complete(nil)

	if !errors.Is(c.Err(), first) {
		t.Fatalf("expected first error, got %v", c.Err())
	}
}

func TestWaitReturnsFirstError(t *testing.T) {
	c := New()
	boom := errors.New("boom")
	for i := 0; i < 10; i++ {
		i := i
		c.Go(func() error {
			if i%3 == 0 {
				return boom
			}
			return nil
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Wait(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	c := New()
	c.Branch()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	c.Complete(nil)
}

func TestFirstErrorDeliveredOnce(t *testing.T) {
	var fe FirstError
	c := New()

	var reported int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		c.Branch()
	}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := errors.New("branch failed")
			if fe.Set(err) {
				atomic.AddInt32(&reported, 1)
			}
			c.Complete(err)
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&reported); got != 1 {
		t.Fatalf("expected a single reported failure, got %d", got)
	}
	if c.Outstanding() != 0 {
		t.Fatalf("branches leaked: %d outstanding", c.Outstanding())
	}
}

func TestFirstErrorIgnoresNil(t *testing.T) {
	var fe FirstError
	if fe.Set(nil) {
		t.Fatal("nil must not be recorded")
	}
	if fe.Err() != nil {
		t.Fatalf("unexpected error %v", fe.Err())
	}
}
