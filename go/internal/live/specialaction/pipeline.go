package specialaction

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/outpost/go/internal/live"
	"github.com/mcdev12/outpost/go/internal/live/coordinator"
	"github.com/mcdev12/outpost/go/internal/live/events"
	"github.com/mcdev12/outpost/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Request is a privileged bulk mutation of participant resources.
type Request struct {
	SessionID   uuid.UUID  `json:"session_id"`
	RequesterID uuid.UUID  `json:"requester_id"`
	Selection   Selection  `json:"selection"`
	Mutations   []Mutation `json:"mutations"`
	Notify      bool       `json:"notify"`
	Message     string     `json:"message,omitempty"`
	Locale      string     `json:"locale,omitempty"`
}

// Result is what the requester learns about an executed action. Which
// participants were affected is only recorded in the audit event.
type Result struct {
	AffectedCount int
}

// Sessions resolves live sessions.
type Sessions interface {
	GetOrLoad(ctx context.Context, id uuid.UUID) (*live.Session, bool, error)
}

// Broadcaster starts an out-of-band broadcast for a session.
type Broadcaster interface {
	TriggerBroadcast(ctx context.Context, sessionID uuid.UUID)
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithPublisher sends an audit event for every executed action.
func WithPublisher(p events.Publisher) Option {
	return func(pl *Pipeline) { pl.publisher = p }
}

// WithClock replaces the clock used to stamp audit events.
func WithClock(c clockwork.Clock) Option {
	return func(pl *Pipeline) { pl.clock = c }
}

// WithRand replaces the source behind random rankings.
func WithRand(r *rand.Rand) Option {
	return func(pl *Pipeline) { pl.rng = r }
}

// Pipeline selects participants in fixed stage order and mutates their
// resource counters. Every stage that needs collaborator data runs as one
// coordinator wave that fully drains before the next stage starts.
type Pipeline struct {
	sessions    Sessions
	broadcaster Broadcaster
	transport   live.Transport
	publisher   events.Publisher
	clock       clockwork.Clock

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a pipeline. The registry usually serves as both sessions and
// broadcaster.
func New(sessions Sessions, broadcaster Broadcaster, transport live.Transport, opts ...Option) *Pipeline {
	p := &Pipeline{
		sessions:    sessions,
		broadcaster: broadcaster,
		transport:   transport,
		publisher:   events.NoOpPublisher{},
		clock:       clockwork.NewRealClock(),
		rng:         rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// candidate is a participant still in the selection.
type candidate struct {
	p    *live.Participant
	rank int64
}

// Execute validates req, runs the selection stages and applies the mutations.
// A validation failure leaves every counter untouched.
func (pl *Pipeline) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	s, ok, err := pl.sessions.GetOrLoad(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return nil, ErrSessionNotActive
	}
	requester, ok := s.Participant(req.RequesterID)
	if !ok {
		return nil, ErrUnknownRequester
	}

	c := coordinator.New()

	candidates := pl.initial(s, req.Selection)

	// Wave: roles. Only players are selectable; the requester must be special.
	candidates, err = pl.resolveRoles(ctx, c, requester, candidates)
	if err != nil {
		return nil, err
	}

	candidates = filterTeams(candidates, req.Selection)

	if r := req.Selection.Players; r != nil {
		c.Reset()
		candidates, err = pl.rankPlayers(ctx, c, candidates, *r)
		if err != nil {
			return nil, err
		}
	}

	if r := req.Selection.TeamRanking; r != nil {
		c.Reset()
		candidates, err = pl.rankTeams(ctx, c, candidates, *r)
		if err != nil {
			return nil, err
		}
	}

	if a := req.Selection.Area; a != nil {
		candidates, err = filterArea(requester, candidates, *a)
		if err != nil {
			return nil, err
		}
	}

	if limit := req.Selection.Cap; limit != nil && len(candidates) > limit.Limit {
		candidates = candidates[:limit.Limit]
	}

	c.Reset()
	if err := applyMutations(ctx, c, candidates, req.Mutations); err != nil {
		return nil, err
	}

	affected := make([]uuid.UUID, len(candidates))
	for i, cand := range candidates {
		affected[i] = cand.p.ID()
	}

	log.Info().
		Str("session_id", req.SessionID.String()).
		Str("requester_id", req.RequesterID.String()).
		Int("affected", len(affected)).
		Msg("special action applied")

	pl.afterApply(ctx, s, req, affected)
	return &Result{AffectedCount: len(affected)}, nil
}

// initial returns the explicit participants, or everyone, ordered by id.
func (pl *Pipeline) initial(s *live.Session, sel Selection) []candidate {
	all := s.Participants()
	if sel.IDs == nil {
		out := make([]candidate, len(all))
		for i, p := range all {
			out[i] = candidate{p: p}
		}
		return out
	}

	wanted := make(map[uuid.UUID]bool, len(sel.IDs.IDs))
	for _, id := range sel.IDs.IDs {
		wanted[id] = true
	}
	var out []candidate
	for _, p := range all {
		if wanted[p.ID()] {
			out = append(out, candidate{p: p})
		}
	}
	return out
}

func (pl *Pipeline) resolveRoles(ctx context.Context, c *coordinator.Coordinator, requester *live.Participant, candidates []candidate) ([]candidate, error) {
	var requesterRole models.GameState
	c.Go(func() error {
		gs, err := requester.GameState(ctx)
		if err != nil {
			return fmt.Errorf("requester role: %w", err)
		}
		requesterRole = gs
		return nil
	})

	players := make([]bool, len(candidates))
	for i, cand := range candidates {
		c.Go(func() error {
			gs, err := cand.p.GameState(ctx)
			if err != nil {
				return fmt.Errorf("role of %s: %w", cand.p.ID(), err)
			}
			players[i] = gs.Player
			return nil
		})
	}

	if err := c.Wait(ctx); err != nil {
		return nil, fmt.Errorf("resolve roles: %w", err)
	}
	if !requesterRole.Special {
		return nil, ErrNotPrivileged
	}

	var out []candidate
	for i, cand := range candidates {
		if players[i] {
			out = append(out, cand)
		}
	}
	return out, nil
}

// filterTeams keeps members of the listed teams. Without a team list, and
// unless participants were picked explicitly, it keeps anyone on a team.
func filterTeams(candidates []candidate, sel Selection) []candidate {
	if sel.Teams == nil && sel.IDs != nil {
		return candidates
	}

	allowed := map[uuid.UUID]bool{}
	if sel.Teams != nil {
		for _, id := range sel.Teams.TeamIDs {
			allowed[id] = true
		}
	}

	var out []candidate
	for _, cand := range candidates {
		team := cand.p.TeamID()
		if team == uuid.Nil {
			continue
		}
		if sel.Teams == nil || allowed[team] {
			out = append(out, cand)
		}
	}
	return out
}

func (pl *Pipeline) rankPlayers(ctx context.Context, c *coordinator.Coordinator, candidates []candidate, r PlayerRange) ([]candidate, error) {
	if r.OrderBy == PlayerByRandom {
		for i := range candidates {
			candidates[i].rank = pl.randomRank()
		}
	} else {
		for i, cand := range candidates {
			c.Go(func() error {
				v, err := playerMetric(ctx, cand.p, r.OrderBy)
				if err != nil {
					return fmt.Errorf("%s of %s: %w", r.OrderBy, cand.p.ID(), err)
				}
				candidates[i].rank = v
				return nil
			})
		}
		if err := c.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rank players: %w", err)
		}
	}

	sortCandidates(candidates, r.Order)
	if len(candidates) > r.Limit {
		candidates = candidates[:r.Limit]
	}
	return candidates, nil
}

func playerMetric(ctx context.Context, p *live.Participant, by PlayerSort) (int64, error) {
	switch by {
	case PlayerByMoney:
		return p.Money(ctx)
	case PlayerByInbound:
		return p.Inbound(ctx)
	case PlayerByOutbound:
		return p.Outbound(ctx)
	case PlayerByStrength:
		return p.Strength(ctx)
	default:
		return 0, fmt.Errorf("unknown player sort %q", by)
	}
}

type rankedTeam struct {
	id   uuid.UUID
	team live.Team
	rank int64
}

// rankTeams ranks the teams represented among candidates and keeps members of
// the top r.Limit teams, preserving the candidates' order.
func (pl *Pipeline) rankTeams(ctx context.Context, c *coordinator.Coordinator, candidates []candidate, r TeamRange) ([]candidate, error) {
	var teams []*rankedTeam
	index := map[uuid.UUID]bool{}
	for _, cand := range candidates {
		t := cand.p.Team()
		if t == nil || index[t.ID()] {
			continue
		}
		index[t.ID()] = true
		teams = append(teams, &rankedTeam{id: t.ID(), team: t})
	}

	if r.OrderBy == TeamByRandom {
		for _, t := range teams {
			t.rank = pl.randomRank()
		}
	} else {
		for _, t := range teams {
			c.Go(func() error {
				v, err := teamMetric(ctx, t.team, r.OrderBy)
				if err != nil {
					return fmt.Errorf("%s of team %s: %w", r.OrderBy, t.id, err)
				}
				t.rank = v
				return nil
			})
		}
		if err := c.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rank teams: %w", err)
		}
	}

	sort.SliceStable(teams, func(i, j int) bool {
		return less(teams[i].rank, teams[j].rank, teams[i].id, teams[j].id, r.Order)
	})
	if len(teams) > r.Limit {
		teams = teams[:r.Limit]
	}

	keep := make(map[uuid.UUID]bool, len(teams))
	for _, t := range teams {
		keep[t.id] = true
	}
	var out []candidate
	for _, cand := range candidates {
		if keep[cand.p.TeamID()] {
			out = append(out, cand)
		}
	}
	return out, nil
}

func teamMetric(ctx context.Context, t live.Team, by TeamSort) (int64, error) {
	switch by {
	case TeamByMoney:
		return t.Money(ctx)
	case TeamByProducers:
		return t.ProducerCount(ctx)
	case TeamByInbound:
		return t.Inbound(ctx)
	case TeamByOutbound:
		return t.Outbound(ctx)
	case TeamByStrength:
		return t.Strength(ctx)
	case TeamByDefence:
		return t.Defence(ctx)
	default:
		return 0, fmt.Errorf("unknown team sort %q", by)
	}
}

// filterArea keeps candidates by distance from the requester. Candidates
// without a known location never match.
func filterArea(requester *live.Participant, candidates []candidate, a SpatialRange) ([]candidate, error) {
	origin := requester.Location()
	if origin.IsZero() {
		return nil, &ValidationError{Field: "selection.area", Reason: "requester has no known location"}
	}

	var out []candidate
	for _, cand := range candidates {
		loc := cand.p.Location()
		if loc.IsZero() {
			continue
		}
		inside := models.Distance(origin, loc) <= a.Radius
		if inside == a.Inside {
			out = append(out, cand)
		}
	}
	return out, nil
}

func applyMutations(ctx context.Context, c *coordinator.Coordinator, candidates []candidate, mutations []Mutation) error {
	for _, cand := range candidates {
		for _, m := range mutations {
			c.Go(func() error {
				_, err := cand.p.AdjustBalance(ctx, m.Unit, m.Apply)
				return err
			})
		}
	}
	if err := c.Wait(ctx); err != nil {
		return fmt.Errorf("apply mutations: %w", err)
	}
	return nil
}

// afterApply runs the side effects of a successful action. Their failures are
// logged and do not undo the mutation.
func (pl *Pipeline) afterApply(ctx context.Context, s *live.Session, req Request, affected []uuid.UUID) {
	if req.Notify && len(affected) > 0 {
		note := models.Notification{
			SessionID: s.ID(),
			Message:   RenderNotification(s, req.Locale, req.Message),
		}
		var (
			failed   coordinator.FirstError
			failures atomic.Int32
		)
		c := coordinator.New()
		for _, id := range affected {
			c.Go(func() error {
				err := pl.transport.SendToParticipant(ctx, live.PacketNotification, note, s.ID(), id)
				if err != nil {
					failures.Add(1)
					if failed.Set(err) {
						log.Warn().Err(err).
							Str("session_id", s.ID().String()).
							Str("participant_id", id.String()).
							Msg("special action notification failed")
					}
				}
				return nil
			})
		}
		if err := c.Wait(ctx); err != nil {
			log.Warn().Err(err).Str("session_id", s.ID().String()).Msg("special action notifications abandoned")
		} else if n := failures.Load(); n > 1 {
			log.Warn().Err(failed.Err()).
				Str("session_id", s.ID().String()).
				Int32("failed", n).
				Msg("special action notifications failed")
		}
	}

	pl.broadcaster.TriggerBroadcast(ctx, s.ID())

	result := models.SpecialActionResult{AffectedCount: len(affected)}
	if err := pl.transport.SendToParticipant(ctx, live.PacketSpecialAction, result, s.ID(), req.RequesterID); err != nil {
		log.Warn().Err(err).
			Str("session_id", s.ID().String()).
			Str("requester_id", req.RequesterID.String()).
			Msg("special action result not delivered")
	}

	if err := pl.publish(ctx, req, affected); err != nil {
		log.Error().Err(err).Str("session_id", s.ID().String()).Msg("special action audit event not published")
	}
}

func (pl *Pipeline) publish(ctx context.Context, req Request, affected []uuid.UUID) error {
	now := pl.clock.Now()
	payload := events.SpecialActionExecutedPayload{
		RequesterID:   req.RequesterID.String(),
		AffectedCount: len(affected),
		Notified:      req.Notify,
		ExecutedAt:    now.UTC(),
	}
	for _, id := range affected {
		payload.Participants = append(payload.Participants, id.String())
	}
	for _, st := range req.Selection.Stages() {
		payload.Stages = append(payload.Stages, st.Kind().String())
	}
	for _, m := range req.Mutations {
		payload.Mutations = append(payload.Mutations, events.MutationRecord{
			Unit:       string(m.Unit),
			Method:     string(m.Method),
			AmountType: string(m.AmountType),
			Amount:     m.Amount,
		})
	}

	ev, err := events.NewEvent(events.TypeSpecialActionExecuted, req.SessionID, payload, now)
	if err != nil {
		return err
	}
	return pl.publisher.Publish(ctx, ev)
}

func (pl *Pipeline) randomRank() int64 {
	pl.rngMu.Lock()
	defer pl.rngMu.Unlock()
	return pl.rng.Int64()
}

func sortCandidates(candidates []candidate, order Order) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return less(candidates[i].rank, candidates[j].rank, candidates[i].p.ID(), candidates[j].p.ID(), order)
	})
}

// less orders by rank in the requested direction, then by id ascending.
func less(a, b int64, aID, bID uuid.UUID, order Order) bool {
	if a != b {
		if order == OrderDesc {
			return a > b
		}
		return a < b
	}
	return aID.String() < bID.String()
}
