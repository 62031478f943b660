package live_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/outpost/go/internal/live"
	"github.com/mcdev12/outpost/go/internal/live/livetest"
	"github.com/mcdev12/outpost/go/internal/models"
)

type passRecord struct {
	kind     string
	units    int
	failures int
}

type recorder struct {
	ticks      chan passRecord
	broadcasts chan passRecord
}

func newRecorder() *recorder {
	return &recorder{
		ticks:      make(chan passRecord, 64),
		broadcasts: make(chan passRecord, 64),
	}
}

func (r *recorder) RecordPass(kind string, units, failures int, _ time.Duration) {
	rec := passRecord{kind: kind, units: units, failures: failures}
	if kind == "tick" {
		r.ticks <- rec
		return
	}
	r.broadcasts <- rec
}

func (r *recorder) next(t *testing.T, kind string) passRecord {
	t.Helper()
	ch := r.broadcasts
	if kind == "tick" {
		ch = r.ticks
	}
	select {
	case p := <-ch:
		return p
	case <-time.After(5 * time.Second):
		t.Fatalf("no %s pass recorded", kind)
	}
	return passRecord{}
}

func TestStagger(t *testing.T) {
	tests := []struct {
		name   string
		window time.Duration
		n      int
		want   time.Duration
	}{
		{"seven units over a second", time.Second, 7, 142857142 * time.Nanosecond},
		{"single unit", time.Second, 1, time.Second},
		{"no units", time.Second, 0, 0},
		{"no window", 0, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := live.Stagger(tt.window, tt.n); got != tt.want {
				t.Fatalf("Stagger(%s, %d) = %s, want %s", tt.window, tt.n, got, tt.want)
			}
		})
	}
}

// addProducers loads a running session with n producers that report each
// tick on ticked.
func addProducers(f *fixture, n int, ticked chan<- uuid.UUID) []*livetest.Producer {
	sid := f.session(models.StageRunning)
	var out []*livetest.Producer
	for i := 0; i < n; i++ {
		p := &livetest.Producer{ProducerID: uuid.New()}
		p.OnTick = func() { ticked <- p.ProducerID }
		f.store.AddProducer(sid, p)
		out = append(out, p)
	}
	f.load(sid)
	return out
}

func TestTickPassReachesEveryProducer(t *testing.T) {
	f := newFixture(t, live.DefaultConfig())
	ticked := make(chan uuid.UUID, 16)
	var all []*livetest.Producer
	for _, n := range []int{2, 0, 5} {
		all = append(all, addProducers(f, n, ticked)...)
	}

	if err := f.registry.TickPass(context.Background()); err != nil {
		t.Fatalf("tick pass: %v", err)
	}
	for _, p := range all {
		if p.Ticks() != 1 {
			t.Fatalf("producer %s ticked %d times", p.ProducerID, p.Ticks())
		}
	}
}

func TestTickPassIsolatesFailures(t *testing.T) {
	rec := newRecorder()
	f := newFixture(t, live.DefaultConfig())
	f.registry = live.NewRegistry(f.store, f.transport, live.Config{LocationDecay: testDecay}, live.WithClock(f.clock), live.WithMetrics(rec))

	ticked := make(chan uuid.UUID, 16)
	producers := addProducers(f, 4, ticked)
	boom := errors.New("producer offline")
	producers[1].TickErr = boom

	if err := f.registry.TickPass(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
	for _, p := range producers {
		if p.Ticks() != 1 {
			t.Fatalf("producer %s ticked %d times despite a sibling failure", p.ProducerID, p.Ticks())
		}
	}
	got := rec.next(t, "tick")
	if got.units != 4 || got.failures != 1 {
		t.Fatalf("recorded %+v, want 4 units with 1 failure", got)
	}
}

func TestTickPassSpreadsAcrossScheduleWindow(t *testing.T) {
	cfg := live.DefaultConfig()
	cfg.Spread = true
	cfg.ScheduleTime = time.Second
	f := newFixture(t, cfg)

	ticked := make(chan uuid.UUID, 16)
	for _, n := range []int{2, 0, 5} {
		addProducers(f, n, ticked)
	}

	var order []uuid.UUID
	for _, s := range f.registry.Sessions() {
		for _, p := range s.Producers() {
			order = append(order, p.Entity.ID())
		}
	}
	if len(order) != 7 {
		t.Fatalf("expected 7 producers, got %d", len(order))
	}
	stagger := live.Stagger(cfg.ScheduleTime, len(order))

	done := make(chan error, 1)
	go func() { done <- f.registry.TickPass(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.clock.BlockUntilContext(ctx, len(order)-1); err != nil {
		t.Fatalf("timers not scheduled: %v", err)
	}

	expect := func(id uuid.UUID) {
		t.Helper()
		select {
		case got := <-ticked:
			if got != id {
				t.Fatalf("ticked %s, want %s", got, id)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("producer %s never ticked", id)
		}
	}

	expect(order[0])
	for _, id := range order[1:] {
		f.clock.Advance(stagger)
		expect(id)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("tick pass: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("tick pass did not finish")
	}
}

func TestBroadcastPassSpreadsAcrossParticipantPairs(t *testing.T) {
	cfg := live.DefaultConfig()
	cfg.Spread = true
	cfg.ScheduleTime = time.Second
	f := newFixture(t, cfg)

	for _, n := range []int{2, 3} {
		sid := f.session(models.StageRunning)
		for i := 0; i < n; i++ {
			f.member(sid, spectator, nil, false)
		}
		f.load(sid)
	}

	var order []uuid.UUID
	for _, s := range f.registry.Sessions() {
		for _, p := range s.Participants() {
			order = append(order, p.ID())
		}
	}
	if len(order) != 5 {
		t.Fatalf("expected 5 pairs, got %d", len(order))
	}
	stagger := live.Stagger(cfg.ScheduleTime, len(order))

	done := make(chan error, 1)
	go func() { done <- f.registry.BroadcastPass(context.Background(), live.Target{}) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.clock.BlockUntilContext(ctx, len(order)-1); err != nil {
		t.Fatalf("timers not scheduled: %v", err)
	}

	delivered := func(id uuid.UUID) bool {
		return len(f.transport.SentTo(id, live.PacketState)) == 1
	}
	waitFor := func(id uuid.UUID) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for !delivered(id) {
			if time.Now().After(deadline) {
				t.Fatalf("participant %s never received its delta", id)
			}
			time.Sleep(time.Millisecond)
		}
	}

	waitFor(order[0])
	for i, id := range order[1:] {
		if delivered(id) {
			t.Fatalf("pair %d delivered before its slot", i+1)
		}
		f.clock.Advance(stagger)
		waitFor(id)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("broadcast pass: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast pass did not finish")
	}
}

func TestRunStartsBothPassesEachCycle(t *testing.T) {
	rec := newRecorder()
	cfg := live.DefaultConfig()
	cfg.LocationDecay = testDecay
	f := newFixture(t, cfg)
	f.registry = live.NewRegistry(f.store, f.transport, cfg, live.WithClock(f.clock), live.WithMetrics(rec))

	ticked := make(chan uuid.UUID, 16)
	producers := addProducers(f, 3, ticked)
	pid := f.member(f.registry.Sessions()[0].ID(), player, nil, true)
	if _, err := f.registry.Sessions()[0].Join(context.Background(), pid); err != nil {
		t.Fatalf("join: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- f.registry.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := f.clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("ticker not started: %v", err)
	}

	f.clock.Advance(cfg.Period)
	if got := rec.next(t, "tick"); got.units != len(producers) {
		t.Fatalf("tick pass ran %d units, want %d", got.units, len(producers))
	}
	if got := rec.next(t, "broadcast"); got.units != 1 {
		t.Fatalf("broadcast pass ran %d units, want 1", got.units)
	}
	if n := len(f.transport.SentTo(pid, live.PacketState)); n != 1 {
		t.Fatalf("participant received %d deltas, want 1", n)
	}

	cancel()
	if err := <-runDone; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunRejectsNonPositivePeriod(t *testing.T) {
	f := newFixture(t, live.Config{})
	if err := f.registry.Run(context.Background()); err == nil {
		t.Fatal("expected an error for a zero period")
	}
}
