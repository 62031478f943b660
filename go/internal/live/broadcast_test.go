package live_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/outpost/go/internal/live"
	"github.com/mcdev12/outpost/go/internal/live/livetest"
	"github.com/mcdev12/outpost/go/internal/models"
)

func TestCanSee(t *testing.T) {
	red, blue := uuid.New(), uuid.New()
	self := uuid.New()
	other := uuid.New()

	tests := []struct {
		name     string
		observer live.Viewer
		other    live.Viewer
		want     bool
	}{
		{
			name:     "never self",
			observer: live.Viewer{ID: self, Role: spectator},
			other:    live.Viewer{ID: self, Role: spectator},
			want:     false,
		},
		{
			name:     "spectators are visible to players",
			observer: live.Viewer{ID: self, Role: player, TeamID: red},
			other:    live.Viewer{ID: other, Role: spectator},
			want:     true,
		},
		{
			name:     "special participants are visible to players",
			observer: live.Viewer{ID: self, Role: player, TeamID: red},
			other:    live.Viewer{ID: other, Role: special},
			want:     true,
		},
		{
			name:     "fresh teammate",
			observer: live.Viewer{ID: self, Role: player, TeamID: red},
			other:    live.Viewer{ID: other, Role: player, TeamID: red, Fresh: true},
			want:     true,
		},
		{
			name:     "stale teammate",
			observer: live.Viewer{ID: self, Role: player, TeamID: red},
			other:    live.Viewer{ID: other, Role: player, TeamID: red},
			want:     false,
		},
		{
			name:     "fresh opponent",
			observer: live.Viewer{ID: self, Role: player, TeamID: red},
			other:    live.Viewer{ID: other, Role: player, TeamID: blue, Fresh: true},
			want:     false,
		},
		{
			name:     "teamless players do not share a team",
			observer: live.Viewer{ID: self, Role: player},
			other:    live.Viewer{ID: other, Role: player, Fresh: true},
			want:     false,
		},
		{
			name:     "spectator sees any fresh player",
			observer: live.Viewer{ID: self, Role: spectator},
			other:    live.Viewer{ID: other, Role: player, TeamID: blue, Fresh: true},
			want:     true,
		},
		{
			name:     "spectator does not see stale player",
			observer: live.Viewer{ID: self, Role: spectator},
			other:    live.Viewer{ID: other, Role: player, TeamID: blue},
			want:     false,
		},
		{
			name:     "participant with no role",
			observer: live.Viewer{ID: self, Role: spectator},
			other:    live.Viewer{ID: other, Fresh: true},
			want:     false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := live.CanSee(tt.observer, tt.other); got != tt.want {
				t.Fatalf("CanSee = %v, want %v", got, tt.want)
			}
		})
	}
}

func lastDelta(t *testing.T, tr *livetest.Transport, pid uuid.UUID) models.Delta {
	t.Helper()
	sent := tr.SentTo(pid, live.PacketState)
	if len(sent) == 0 {
		t.Fatalf("no delta sent to %s", pid)
	}
	var d models.Delta
	if err := json.Unmarshal(sent[len(sent)-1].Payload, &d); err != nil {
		t.Fatalf("decode delta: %v", err)
	}
	return d
}

func ids(entries []models.ParticipantEntry) map[uuid.UUID]models.ParticipantEntry {
	out := make(map[uuid.UUID]models.ParticipantEntry, len(entries))
	for _, e := range entries {
		out[e.ID] = e
	}
	return out
}

func TestBroadcastScopesParticipantsByVisibility(t *testing.T) {
	f := newFixture(t, live.DefaultConfig())
	sid := f.session(models.StageRunning)
	red, blue := team("red"), team("blue")

	watcher := f.member(sid, spectator, nil, false)
	alice := f.member(sid, player, red, true)
	bob := f.member(sid, player, red, true)
	carol := f.member(sid, player, blue, true)
	dave := f.member(sid, player, red, false)
	f.load(sid)

	if err := f.registry.BroadcastPass(context.Background(), live.Target{}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	seen := ids(lastDelta(t, f.transport, watcher).Participants)
	for _, id := range []uuid.UUID{alice, bob, carol} {
		if _, ok := seen[id]; !ok {
			t.Fatalf("spectator should see fresh player %s", id)
		}
	}
	if _, ok := seen[dave]; ok {
		t.Fatal("spectator should not see a player without a fresh location")
	}
	if _, ok := seen[watcher]; ok {
		t.Fatal("spectator sees itself")
	}

	seen = ids(lastDelta(t, f.transport, alice).Participants)
	if len(seen) != 2 {
		t.Fatalf("alice sees %d participants, want 2", len(seen))
	}
	if e, ok := seen[bob]; !ok || !e.Ally {
		t.Fatal("alice should see bob as an ally")
	}
	if e, ok := seen[watcher]; !ok || e.Ally {
		t.Fatal("alice should see the spectator as a non-ally")
	}
	if _, ok := seen[alice]; ok {
		t.Fatal("alice sees herself")
	}

	seen = ids(lastDelta(t, f.transport, carol).Participants)
	if _, ok := seen[alice]; ok {
		t.Fatal("carol must not see an opposing player")
	}
}

func TestBroadcastNamesAndExchangePoints(t *testing.T) {
	f := newFixture(t, live.DefaultConfig())
	sid := f.session(models.StageRunning)
	watcher := f.member(sid, spectator, nil, false)
	operator := f.member(sid, special, nil, true)
	f.store.Put(live.Ref{Kind: live.KindParticipant, ID: operator}, "name", "bank")
	point := &livetest.ExchangePoint{
		PointID:    uuid.New(),
		Operator:   operator,
		TokenValue: "xch-1",
		Range:      25,
		Vis:        models.Visibility{Visible: true, InRange: true},
	}
	f.store.AddExchangePoint(sid, point)
	f.load(sid)

	if err := f.registry.BroadcastPass(context.Background(), live.Target{SessionID: sid}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	entry, ok := ids(lastDelta(t, f.transport, watcher).Participants)[operator]
	if !ok {
		t.Fatal("operator not visible")
	}
	if entry.Name != "bank" {
		t.Fatalf("name = %q, want bank", entry.Name)
	}
	if entry.ExchangePoint == nil {
		t.Fatal("exchange point not attached")
	}
	if ep := entry.ExchangePoint; ep.Token != "xch-1" || ep.Range != 25 || !ep.InRange {
		t.Fatalf("unexpected exchange point entry %+v", ep)
	}
}

func TestBroadcastProducerEntries(t *testing.T) {
	f := newFixture(t, live.DefaultConfig())
	sid := f.session(models.StageRunning)
	pid := f.member(sid, player, nil, true)

	shown := &livetest.Producer{ProducerID: uuid.New(), ProducerName: "mine", Range: 40, DefaultVisibility: models.Visibility{Visible: true}}
	hidden := &livetest.Producer{ProducerID: uuid.New(), ProducerName: "secret"}
	f.store.AddProducer(sid, shown)
	f.store.AddProducer(sid, hidden)
	f.load(sid)

	broadcast := func() models.Delta {
		t.Helper()
		if err := f.registry.BroadcastPass(context.Background(), live.Target{ParticipantID: pid}); err != nil {
			t.Fatalf("broadcast: %v", err)
		}
		return lastDelta(t, f.transport, pid)
	}

	d := broadcast()
	if len(d.Entities) != 1 || d.Entities[0].ID != shown.ProducerID {
		t.Fatalf("entities = %+v, want only the visible producer", d.Entities)
	}
	if e := d.Entities[0]; e.Name != "mine" || e.Range != 40 || !e.Changed {
		t.Fatalf("first entry %+v should be named, ranged and changed", e)
	}

	d = broadcast()
	if d.Entities[0].Changed {
		t.Fatal("unchanged visibility flagged as changed")
	}

	shown.SetVisibility(pid, models.Visibility{Visible: true, InRange: true})
	d = broadcast()
	if e := d.Entities[0]; !e.Changed || !e.InRange {
		t.Fatalf("entry %+v should reflect the new visibility", e)
	}

	hidden.SetVisibility(pid, models.Visibility{Visible: true})
	d = broadcast()
	if len(d.Entities) != 2 {
		t.Fatalf("entities = %d, want 2 once the hidden producer is revealed", len(d.Entities))
	}
}

func TestBroadcastFailureIsolatedPerParticipant(t *testing.T) {
	f := newFixture(t, live.DefaultConfig())
	sid := f.session(models.StageRunning)
	var members []uuid.UUID
	for i := 0; i < 6; i++ {
		members = append(members, f.member(sid, player, nil, true))
	}
	f.load(sid)

	boom := errors.New("connection reset")
	f.transport.FailFor(members[2], boom)

	err := f.registry.BroadcastPass(context.Background(), live.Target{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
	for i, id := range members {
		got := len(f.transport.SentTo(id, live.PacketState))
		if i == 2 && got != 0 {
			t.Fatal("failed send recorded")
		}
		if i != 2 && got != 1 {
			t.Fatalf("member %d received %d deltas despite a sibling failure", i, got)
		}
	}
}

func TestBroadcastVisibilityFailureAbortsOneDelta(t *testing.T) {
	f := newFixture(t, live.DefaultConfig())
	sid := f.session(models.StageRunning)
	pid := f.member(sid, player, nil, true)
	boom := errors.New("visibility lookup failed")
	f.store.AddProducer(sid, &livetest.Producer{ProducerID: uuid.New(), VisibilityErr: boom})
	f.load(sid)

	if err := f.registry.BroadcastPass(context.Background(), live.Target{}); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
	if n := len(f.transport.SentTo(pid, live.PacketState)); n != 0 {
		t.Fatal("partial delta was sent")
	}
}

func TestBroadcastToConnections(t *testing.T) {
	f := newFixture(t, live.DefaultConfig())
	sid := f.session(models.StageRunning)
	pid := f.member(sid, player, nil, true)
	f.member(sid, player, nil, true)
	f.load(sid)

	target := live.Target{SessionID: sid, ParticipantID: pid, Connections: []string{"conn-1"}}
	if err := f.registry.BroadcastPass(context.Background(), target); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	sent := f.transport.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d packets, want 1", len(sent))
	}
	if got := sent[0].Connections; len(got) != 1 || got[0] != "conn-1" {
		t.Fatalf("connections = %v", got)
	}
	if sent[0].SessionID != sid || sent[0].Type != live.PacketState {
		t.Fatalf("unexpected packet %+v", sent[0])
	}
}

func TestTriggerBroadcastRunsAsynchronously(t *testing.T) {
	f := newFixture(t, live.DefaultConfig())
	sid := f.session(models.StageRunning)
	pid := f.member(sid, player, nil, true)
	other := f.session(models.StageRunning)
	otherPID := f.member(other, player, nil, true)
	f.load(sid)
	f.load(other)

	ctx, cancel := context.WithCancel(context.Background())
	f.registry.TriggerBroadcast(ctx, sid)
	cancel()

	deadline := time.Now().Add(5 * time.Second)
	for len(f.transport.SentTo(pid, live.PacketState)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("triggered broadcast never delivered")
		}
		time.Sleep(time.Millisecond)
	}
	if n := len(f.transport.SentTo(otherPID, live.PacketState)); n != 0 {
		t.Fatal("triggered broadcast leaked into another session")
	}
}
