package live

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/outpost/go/internal/live/coordinator"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	passTick      = "tick"
	passBroadcast = "broadcast"
)

// Target narrows a broadcast pass. Zero fields mean "everything".
type Target struct {
	SessionID     uuid.UUID
	ParticipantID uuid.UUID
	// Connections, when set, addresses the delta to these transport
	// connections instead of every connection of the participant.
	Connections []string
}

// passUnit is one independent piece of work within a pass.
type passUnit struct {
	describe func(*zerolog.Event) *zerolog.Event
	run      func(context.Context) error
}

// Stagger returns the delay between consecutive units when n units are
// spread evenly across window.
func Stagger(window time.Duration, n int) time.Duration {
	if n <= 0 || window <= 0 {
		return 0
	}
	return window / time.Duration(n)
}

// Run drives the cadence loop until ctx is cancelled. Each cycle starts a
// tick pass and a broadcast pass independently; a pass still running from
// the previous cycle causes that pass to be skipped for this cycle.
func (r *Registry) Run(ctx context.Context) error {
	if r.cfg.Period <= 0 {
		return fmt.Errorf("cadence period must be positive, got %s", r.cfg.Period)
	}

	log.Info().
		Dur("period", r.cfg.Period).
		Bool("spread", r.cfg.Spread).
		Dur("schedule_time", r.cfg.ScheduleTime).
		Msg("cadence loop started")

	ticker := r.clock.NewTicker(r.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("cadence loop stopped")
			return nil
		case <-ticker.Chan():
			r.startPass(ctx, passTick, &r.ticking, r.TickPass)
			r.startPass(ctx, passBroadcast, &r.broadcasting, func(ctx context.Context) error {
				return r.BroadcastPass(ctx, Target{})
			})
		}
	}
}

func (r *Registry) startPass(ctx context.Context, kind string, running *atomic.Bool, fn func(context.Context) error) {
	if !running.CompareAndSwap(false, true) {
		log.Debug().Str("pass", kind).Msg("previous pass still running; skipping cycle")
		return
	}
	go func() {
		defer running.Store(false)
		if err := fn(ctx); err != nil {
			log.Error().Err(err).Str("pass", kind).Msg("pass finished with failures")
		}
	}()
}

// TickPass advances every producer of every live session. A failing tick is
// logged and does not stop the others; the first failure is returned once
// every tick has completed.
func (r *Registry) TickPass(ctx context.Context) error {
	var units []passUnit
	for _, s := range r.Sessions() {
		for _, p := range s.Producers() {
			sessionID, producer := s.id, p.Entity
			units = append(units, passUnit{
				describe: func(e *zerolog.Event) *zerolog.Event {
					return e.Str("session_id", sessionID.String()).Str("producer_id", producer.ID().String())
				},
				run: producer.Tick,
			})
		}
	}
	return r.runPass(ctx, passTick, units)
}

// BroadcastPass recomputes and pushes the visibility-scoped delta for every
// (session, participant) pair matching target.
func (r *Registry) BroadcastPass(ctx context.Context, target Target) error {
	var units []passUnit
	for _, s := range r.Sessions() {
		if target.SessionID != uuid.Nil && s.id != target.SessionID {
			continue
		}
		for _, p := range s.Participants() {
			if target.ParticipantID != uuid.Nil && p.id != target.ParticipantID {
				continue
			}
			session, participant := s, p
			units = append(units, passUnit{
				describe: func(e *zerolog.Event) *zerolog.Event {
					return e.Str("session_id", session.id.String()).Str("participant_id", participant.id.String())
				},
				run: func(ctx context.Context) error {
					return r.broadcastTo(ctx, session, participant, target.Connections)
				},
			})
		}
	}
	return r.runPass(ctx, passBroadcast, units)
}

// TriggerBroadcast starts an out-of-band broadcast pass for one session
// without waiting for it.
func (r *Registry) TriggerBroadcast(ctx context.Context, sessionID uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := r.BroadcastPass(ctx, Target{SessionID: sessionID}); err != nil {
			log.Error().Err(err).Str("session_id", sessionID.String()).Msg("triggered broadcast finished with failures")
		}
	}()
}

// runPass fans units out behind one coordinator wave, optionally staggered,
// and waits for the wave to drain.
func (r *Registry) runPass(ctx context.Context, kind string, units []passUnit) error {
	start := r.clock.Now()
	var failures atomic.Int64

	stagger := time.Duration(0)
	if r.cfg.Spread {
		stagger = Stagger(r.cfg.ScheduleTime, len(units))
	}
	if stagger > 0 {
		log.Debug().
			Str("pass", kind).
			Int("units", len(units)).
			Dur("stagger", stagger).
			Msg("spreading pass")
	}

	c := coordinator.New()
	for i, u := range units {
		c.Branch()
		run := func() {
			err := r.runUnit(ctx, u)
			if err != nil {
				failures.Add(1)
				u.describe(log.Error().Err(err).Str("pass", kind)).Msg("pass unit failed")
			}
			c.Complete(err)
		}
		delay := time.Duration(i) * stagger
		if delay == 0 {
			go run()
			continue
		}
		r.clock.AfterFunc(delay, run)
	}

	// Branches always complete, so the wave drains even when ctx ends.
	err := c.Wait(context.WithoutCancel(ctx))
	r.metrics.RecordPass(kind, len(units), int(failures.Load()), r.clock.Since(start))
	return err
}

func (r *Registry) runUnit(ctx context.Context, u passUnit) error {
	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer r.sem.Release(1)
	}
	return u.run(ctx)
}
