package live_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/outpost/go/internal/live"
	"github.com/mcdev12/outpost/go/internal/live/livetest"
	"github.com/mcdev12/outpost/go/internal/models"
)

const testDecay = 5 * time.Minute

var (
	player    = models.GameState{Player: true}
	spectator = models.GameState{Spectator: true}
	special   = models.GameState{Special: true}
)

type fixture struct {
	t         *testing.T
	clock     *clockwork.FakeClock
	store     *livetest.Store
	transport *livetest.Transport
	registry  *live.Registry
}

func newFixture(t *testing.T, cfg live.Config) *fixture {
	t.Helper()
	if cfg.LocationDecay == 0 {
		cfg.LocationDecay = testDecay
	}
	f := &fixture{
		t:         t,
		clock:     clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		store:     livetest.NewStore(),
		transport: &livetest.Transport{},
	}
	f.registry = live.NewRegistry(f.store, f.transport, cfg, live.WithClock(f.clock))
	return f
}

func (f *fixture) session(stage models.Stage) uuid.UUID {
	id := uuid.New()
	f.store.AddSession(id, stage)
	return id
}

// member adds a participant with a fresh location, or none when located is false.
func (f *fixture) member(sessionID uuid.UUID, role models.GameState, team live.Team, located bool) uuid.UUID {
	id := uuid.New()
	f.store.AddParticipant(sessionID, id, role, team)
	ref := live.Ref{Kind: live.KindParticipant, ID: id}
	f.store.Put(ref, "name", "p-"+id.String()[:4])
	if located {
		f.store.Put(ref, "location", models.Location{Lat: 60.17, Lng: 24.94, At: f.clock.Now()})
	}
	return id
}

func (f *fixture) load(id uuid.UUID) *live.Session {
	f.t.Helper()
	s, ok, err := f.registry.GetOrLoad(context.Background(), id)
	if err != nil {
		f.t.Fatalf("load session: %v", err)
	}
	if !ok {
		f.t.Fatal("session not loaded")
	}
	return s
}

func team(name string) *livetest.Team {
	return &livetest.Team{TeamID: uuid.New(), TeamName: name}
}
