package live_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mcdev12/outpost/go/internal/live"
	"github.com/mcdev12/outpost/go/internal/models"
)

func TestParticipantLocationDecayBoundary(t *testing.T) {
	f := newFixture(t, live.DefaultConfig())
	sid := f.session(models.StageRunning)
	pid := f.member(sid, player, nil, true)
	p, ok := f.load(sid).Participant(pid)
	if !ok {
		t.Fatal("participant missing")
	}

	if !p.HasFreshLocation() {
		t.Fatal("a location reported now must be fresh")
	}

	f.clock.Advance(testDecay)
	if !p.HasFreshLocation() {
		t.Fatal("a location exactly at the decay threshold is fresh")
	}

	f.clock.Advance(time.Nanosecond)
	if p.HasFreshLocation() {
		t.Fatal("a location older than the decay threshold is stale")
	}
}

func TestParticipantWithoutLocationIsStale(t *testing.T) {
	f := newFixture(t, live.DefaultConfig())
	sid := f.session(models.StageRunning)
	pid := f.member(sid, player, nil, false)
	p, _ := f.load(sid).Participant(pid)

	if p.HasFreshLocation() {
		t.Fatal("participant without a location must not be fresh")
	}
	if p.Observer().LocationFresh {
		t.Fatal("observer must report a stale location")
	}
}

func TestParticipantSetLocationPersistsAndStamps(t *testing.T) {
	f := newFixture(t, live.DefaultConfig())
	sid := f.session(models.StageRunning)
	pid := f.member(sid, player, nil, false)
	p, _ := f.load(sid).Participant(pid)

	f.clock.Advance(time.Hour)
	if err := p.SetLocation(context.Background(), models.Location{Lat: 1, Lng: 2}); err != nil {
		t.Fatalf("set location: %v", err)
	}
	if got := p.Location(); !got.At.Equal(f.clock.Now()) || got.Lat != 1 || got.Lng != 2 {
		t.Fatalf("unexpected cached location %+v", got)
	}
	if !p.HasFreshLocation() {
		t.Fatal("new location should be fresh")
	}

	// A fresh load reads the persisted value back.
	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := p.Location(); got.Lat != 1 {
		t.Fatalf("location was not persisted: %+v", got)
	}
}

func TestParticipantBalancesAreReadThrough(t *testing.T) {
	f := newFixture(t, live.DefaultConfig())
	sid := f.session(models.StageRunning)
	pid := f.member(sid, player, nil, true)
	p, _ := f.load(sid).Participant(pid)
	ref := live.Ref{Kind: live.KindParticipant, ID: pid}

	f.store.Put(ref, "money", 100)
	got, err := p.Money(context.Background())
	if err != nil || got != 100 {
		t.Fatalf("money = %d, %v; want 100", got, err)
	}

	f.store.Put(ref, "money", 250)
	got, err = p.Money(context.Background())
	if err != nil || got != 250 {
		t.Fatalf("money = %d, %v; want 250 without caching", got, err)
	}

	if err := p.SetBalance(context.Background(), models.UnitOutbound, 7); err != nil {
		t.Fatalf("set outbound: %v", err)
	}
	if v := f.store.Int(ref, "outbound"); v != 7 {
		t.Fatalf("stored outbound = %d, want 7", v)
	}

	next, err := p.AdjustBalance(context.Background(), models.UnitOutbound, func(v int64) int64 { return v * 3 })
	if err != nil || next != 21 {
		t.Fatalf("adjusted outbound = %d, %v; want 21", next, err)
	}
	if v := f.store.Int(ref, "outbound"); v != 21 {
		t.Fatalf("stored outbound = %d, want 21", v)
	}
	if _, err := p.AdjustBalance(context.Background(), models.Unit("gems"), func(v int64) int64 { return v }); err == nil {
		t.Fatal("expected an error for an unknown unit")
	}
}

func TestParticipantBalanceUnknownUnit(t *testing.T) {
	f := newFixture(t, live.DefaultConfig())
	sid := f.session(models.StageRunning)
	pid := f.member(sid, player, nil, true)
	p, _ := f.load(sid).Participant(pid)

	if _, err := p.Balance(context.Background(), models.Unit("gems")); err == nil {
		t.Fatal("expected an error for an unknown unit")
	}
}

func TestParticipantTeamRefresh(t *testing.T) {
	f := newFixture(t, live.DefaultConfig())
	sid := f.session(models.StageRunning)
	red := team("red")
	pid := f.member(sid, player, red, true)
	p, _ := f.load(sid).Participant(pid)

	if p.TeamID() != red.TeamID {
		t.Fatalf("cached team = %s, want %s", p.TeamID(), red.TeamID)
	}

	blue := team("blue")
	f.store.AddParticipant(sid, pid, player, blue)
	if p.TeamID() != red.TeamID {
		t.Fatal("team must stay cached until refreshed")
	}
	if err := p.RefreshTeam(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if p.TeamID() != blue.TeamID {
		t.Fatalf("refreshed team = %s, want %s", p.TeamID(), blue.TeamID)
	}
}

func TestParticipantLoadFailure(t *testing.T) {
	f := newFixture(t, live.DefaultConfig())
	sid := f.session(models.StageRunning)
	f.member(sid, player, nil, true)

	boom := errors.New("document store down")
	f.store.FailField("location", boom)
	_, _, err := f.registry.GetOrLoad(context.Background(), sid)
	if !errors.Is(err, boom) {
		t.Fatalf("expected load failure, got %v", err)
	}
}
