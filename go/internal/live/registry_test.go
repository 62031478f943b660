package live_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/outpost/go/internal/live"
	"github.com/mcdev12/outpost/go/internal/models"
)

func TestGetOrLoadStages(t *testing.T) {
	tests := []struct {
		name   string
		stage  models.Stage
		loaded bool
	}{
		{"setup", models.StageSetup, false},
		{"lobby", models.StageLobby, false},
		{"running", models.StageRunning, true},
		{"overtime", models.StageOvertime, true},
		{"finished", models.StageFinished, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, live.DefaultConfig())
			sid := f.session(tt.stage)

			s, ok, err := f.registry.GetOrLoad(context.Background(), sid)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.loaded || (s != nil) != tt.loaded {
				t.Fatalf("loaded = %v (session %v), want %v", ok, s != nil, tt.loaded)
			}
		})
	}
}

func TestGetOrLoadUnknownSessionIsNoResult(t *testing.T) {
	f := newFixture(t, live.DefaultConfig())
	s, ok, err := f.registry.GetOrLoad(context.Background(), uuid.New())
	if err != nil || ok || s != nil {
		t.Fatalf("got (%v, %v, %v), want no result", s, ok, err)
	}
}

func TestGetOrLoadStageFailure(t *testing.T) {
	f := newFixture(t, live.DefaultConfig())
	sid := f.session(models.StageRunning)
	boom := errors.New("stage lookup failed")
	f.store.FailStage(boom)

	_, ok, err := f.registry.GetOrLoad(context.Background(), sid)
	if !errors.Is(err, boom) || ok {
		t.Fatalf("expected stage failure, got ok=%v err=%v", ok, err)
	}
}

func TestGetOrLoadReturnsSameInstance(t *testing.T) {
	f := newFixture(t, live.DefaultConfig())
	sid := f.session(models.StageRunning)

	first := f.load(sid)
	second := f.load(sid)
	if first != second {
		t.Fatal("a loaded session must be reused")
	}
	if calls := f.store.StageCalls.Load(); calls != 1 {
		t.Fatalf("stage fetched %d times, want 1", calls)
	}
}

func TestGetOrLoadDeduplicatesConcurrentLoads(t *testing.T) {
	f := newFixture(t, live.DefaultConfig())
	sid := f.session(models.StageRunning)
	f.store.StageGate = make(chan struct{})

	const callers = 10
	results := make([]*live.Session, callers)
	var wg sync.WaitGroup
	var started sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		started.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			s, _, err := f.registry.GetOrLoad(context.Background(), sid)
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
			}
			results[i] = s
		}(i)
	}
	started.Wait()
	for f.store.StageCalls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	close(f.store.StageGate)
	wg.Wait()

	for i, s := range results {
		if s == nil || s != results[0] {
			t.Fatalf("caller %d got a different session", i)
		}
	}
	if got := len(f.registry.Sessions()); got != 1 {
		t.Fatalf("registry holds %d sessions, want 1", got)
	}
}

func TestUnloadAndStageChange(t *testing.T) {
	f := newFixture(t, live.DefaultConfig())
	a := f.session(models.StageRunning)
	b := f.session(models.StageRunning)
	f.load(a)
	f.load(b)

	if err := f.registry.HandleStageChange(context.Background(), a, models.StageOvertime); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.registry.Get(a); !ok {
		t.Fatal("session moving between active stages must stay loaded")
	}

	if err := f.registry.HandleStageChange(context.Background(), a, models.StageFinished); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.registry.Get(a); ok {
		t.Fatal("finished session must be evicted")
	}

	if !f.registry.Unload(b) {
		t.Fatal("unload of a live session should report true")
	}
	if f.registry.Unload(b) {
		t.Fatal("second unload should report false")
	}
}

func TestUpdateLocation(t *testing.T) {
	f := newFixture(t, live.DefaultConfig())
	sid := f.session(models.StageRunning)
	pid := f.member(sid, player, nil, false)
	s := f.load(sid)

	ctx := context.Background()
	if err := f.registry.UpdateLocation(ctx, uuid.New(), pid, models.Location{}); !errors.Is(err, live.ErrSessionNotLoaded) {
		t.Fatalf("expected ErrSessionNotLoaded, got %v", err)
	}
	if err := f.registry.UpdateLocation(ctx, sid, uuid.New(), models.Location{}); !errors.Is(err, live.ErrUnknownParticipant) {
		t.Fatalf("expected ErrUnknownParticipant, got %v", err)
	}
	if err := f.registry.UpdateLocation(ctx, sid, pid, models.Location{Lat: 10, Lng: 20}); err != nil {
		t.Fatalf("update: %v", err)
	}
	p, _ := s.Participant(pid)
	if !p.HasFreshLocation() {
		t.Fatal("updated location should be fresh")
	}
}

func TestCloseDropsSessions(t *testing.T) {
	f := newFixture(t, live.DefaultConfig())
	f.load(f.session(models.StageRunning))
	f.registry.Close()
	if n := len(f.registry.Sessions()); n != 0 {
		t.Fatalf("sessions after close = %d", n)
	}
}

func TestAdmit(t *testing.T) {
	f := newFixture(t, live.DefaultConfig())
	sid := f.session(models.StageRunning)
	known := f.member(sid, player, nil, true)
	ctx := context.Background()

	if err := f.registry.Admit(ctx, sid, known); err != nil {
		t.Fatalf("admit: %v", err)
	}
	s, ok := f.registry.Get(sid)
	if !ok {
		t.Fatal("admit should load the session")
	}

	late := f.member(sid, player, nil, true)
	if err := f.registry.Admit(ctx, sid, late); err != nil {
		t.Fatalf("admit late joiner: %v", err)
	}
	if _, ok := s.Participant(late); !ok {
		t.Fatal("late joiner not added to the session")
	}

	if err := f.registry.Admit(ctx, sid, uuid.New()); !errors.Is(err, live.ErrUnknownParticipant) {
		t.Fatalf("expected ErrUnknownParticipant, got %v", err)
	}

	lobby := f.session(models.StageLobby)
	if err := f.registry.Admit(ctx, lobby, known); !errors.Is(err, live.ErrSessionNotLoaded) {
		t.Fatalf("expected ErrSessionNotLoaded, got %v", err)
	}
}
