// Package store is the Postgres model layer behind the live session state.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/outpost/go/internal/live"
	"github.com/mcdev12/outpost/go/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"
)

// ErrNotFound is returned when the addressed row does not exist.
var ErrNotFound = live.ErrNotFound

// Postgres implements live.Store on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ live.Store = (*Postgres)(nil)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the live schema if it is missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info().Msg("live schema ready")
	return nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Stage(ctx context.Context, sessionID uuid.UUID) (models.Stage, error) {
	var stage int16
	err := p.pool.QueryRow(ctx, `SELECT stage FROM live_sessions WHERE id = $1`, sessionID).Scan(&stage)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query stage: %w", err)
	}
	return models.Stage(stage), nil
}

// SetStage persists a session stage. The table trigger announces the change.
func (p *Postgres) SetStage(ctx context.Context, sessionID uuid.UUID, stage models.Stage) error {
	tag, err := p.pool.Exec(ctx, `UPDATE live_sessions SET stage = $2 WHERE id = $1`, sessionID, int16(stage))
	if err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Session returns the persisted session record.
func (p *Postgres) Session(ctx context.Context, sessionID uuid.UUID) (models.SessionRecord, error) {
	var (
		rec   models.SessionRecord
		stage int16
	)
	err := p.pool.QueryRow(ctx, `SELECT id, name, stage FROM live_sessions WHERE id = $1`, sessionID).
		Scan(&rec.ID, &rec.Name, &stage)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("query session: %w", err)
	}
	rec.Stage = models.Stage(stage)
	return rec, nil
}

func (p *Postgres) ParticipantIDs(ctx context.Context, sessionID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT participant_id FROM live_members WHERE session_id = $1 ORDER BY participant_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan members: %w", err)
	}
	return ids, nil
}

func (p *Postgres) GameState(ctx context.Context, sessionID, participantID uuid.UUID) (models.GameState, error) {
	var gs models.GameState
	err := p.pool.QueryRow(ctx, `
		SELECT is_player, is_spectator, is_special
		FROM live_members
		WHERE session_id = $1 AND participant_id = $2`, sessionID, participantID).
		Scan(&gs.Player, &gs.Spectator, &gs.Special)
	if errors.Is(err, pgx.ErrNoRows) {
		return gs, ErrNotFound
	}
	if err != nil {
		return gs, fmt.Errorf("query game state: %w", err)
	}
	return gs, nil
}

func (p *Postgres) TeamOf(ctx context.Context, sessionID, participantID uuid.UUID) (live.Team, error) {
	var (
		teamID uuid.NullUUID
		name   *string
	)
	err := p.pool.QueryRow(ctx, `
		SELECT m.team_id, t.name
		FROM live_members m
		LEFT JOIN live_teams t ON t.id = m.team_id
		WHERE m.session_id = $1 AND m.participant_id = $2`, sessionID, participantID).
		Scan(&teamID, &name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query team: %w", err)
	}
	if !teamID.Valid {
		return nil, nil
	}
	t := &Team{store: p, id: teamID.UUID}
	if name != nil {
		t.name = *name
	}
	return t, nil
}

func (p *Postgres) Teams(ctx context.Context, sessionID uuid.UUID) ([]live.Team, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name FROM live_teams WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query teams: %w", err)
	}
	defer rows.Close()

	var teams []live.Team
	for rows.Next() {
		t := &Team{store: p}
		if err := rows.Scan(&t.id, &t.name); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

func (p *Postgres) Producers(ctx context.Context, sessionID uuid.UUID) ([]live.Producer, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, team_id, name, lat, lng, range_m, rate
		FROM live_producers
		WHERE session_id = $1
		ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query producers: %w", err)
	}
	defer rows.Close()

	var producers []live.Producer
	for rows.Next() {
		var (
			pr   = &Producer{store: p}
			team uuid.NullUUID
		)
		if err := rows.Scan(&pr.id, &team, &pr.name, &pr.loc.Lat, &pr.loc.Lng, &pr.rangeM, &pr.rate); err != nil {
			return nil, fmt.Errorf("scan producer: %w", err)
		}
		if team.Valid {
			pr.team = team.UUID
		}
		producers = append(producers, pr)
	}
	return producers, rows.Err()
}

func (p *Postgres) ExchangePoints(ctx context.Context, sessionID uuid.UUID) ([]live.ExchangePoint, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT e.id, e.operator_id, m.team_id, e.token, e.lat, e.lng, e.range_m
		FROM live_exchange_points e
		LEFT JOIN live_members m ON m.session_id = e.session_id AND m.participant_id = e.operator_id
		WHERE e.session_id = $1
		ORDER BY e.id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query exchange points: %w", err)
	}
	defer rows.Close()

	var points []live.ExchangePoint
	for rows.Next() {
		var (
			ep   = &ExchangePoint{}
			team uuid.NullUUID
		)
		if err := rows.Scan(&ep.id, &ep.operator, &team, &ep.token, &ep.loc.Lat, &ep.loc.Lng, &ep.rangeM); err != nil {
			return nil, fmt.Errorf("scan exchange point: %w", err)
		}
		if team.Valid {
			ep.team = team.UUID
		}
		points = append(points, ep)
	}
	return points, rows.Err()
}

func (p *Postgres) TextOverrides(ctx context.Context, sessionID uuid.UUID) (map[string]string, error) {
	var raw pqtype.NullRawMessage
	err := p.pool.QueryRow(ctx, `SELECT text_overrides FROM live_sessions WHERE id = $1`, sessionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query text overrides: %w", err)
	}
	return decodeOverrides(raw)
}

func decodeOverrides(raw pqtype.NullRawMessage) (map[string]string, error) {
	out := make(map[string]string)
	if !raw.Valid || len(raw.RawMessage) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw.RawMessage, &out); err != nil {
		return nil, fmt.Errorf("decode text overrides: %w", err)
	}
	return out, nil
}

// SetTextOverrides replaces the session's text overrides. An empty map clears them.
func (p *Postgres) SetTextOverrides(ctx context.Context, sessionID uuid.UUID, texts map[string]string) error {
	var raw pqtype.NullRawMessage
	if len(texts) > 0 {
		data, err := json.Marshal(texts)
		if err != nil {
			return fmt.Errorf("marshal text overrides: %w", err)
		}
		raw = pqtype.NullRawMessage{RawMessage: data, Valid: true}
	}
	if _, err := p.pool.Exec(ctx, `UPDATE live_sessions SET text_overrides = $2 WHERE id = $1`, sessionID, raw); err != nil {
		return fmt.Errorf("update text overrides: %w", err)
	}
	return nil
}

func (p *Postgres) GetField(ctx context.Context, ref live.Ref, field string) (json.RawMessage, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `
		SELECT value::text FROM live_fields
		WHERE kind = $1 AND id = $2 AND field = $3`, string(ref.Kind), ref.ID, field).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query field %s: %w", field, err)
	}
	return json.RawMessage(raw), nil
}

func (p *Postgres) SetField(ctx context.Context, ref live.Ref, field string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal field %s: %w", field, err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO live_fields (kind, id, field, value)
		VALUES ($1, $2, $3, $4::text::jsonb)
		ON CONFLICT (kind, id, field) DO UPDATE SET value = EXCLUDED.value`,
		string(ref.Kind), ref.ID, field, string(data))
	if err != nil {
		return fmt.Errorf("write field %s: %w", field, err)
	}
	return nil
}

// AddToField atomically adds delta to an integer field, creating it at delta.
func (p *Postgres) AddToField(ctx context.Context, ref live.Ref, field string, delta int64) (int64, error) {
	var v int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO live_fields (kind, id, field, value)
		VALUES ($1, $2, $3, to_jsonb($4::bigint))
		ON CONFLICT (kind, id, field)
		DO UPDATE SET value = to_jsonb((live_fields.value #>> '{}')::bigint + $4::bigint)
		RETURNING (value #>> '{}')::bigint`,
		string(ref.Kind), ref.ID, field, delta).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("increment field %s: %w", field, err)
	}
	return v, nil
}

// UpdateIntField locks the field row for the read-modify-write so concurrent
// updates of the same counter serialize.
func (p *Postgres) UpdateIntField(ctx context.Context, ref live.Ref, field string, apply func(int64) int64) (int64, error) {
	var next int64
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO live_fields (kind, id, field, value)
			VALUES ($1, $2, $3, to_jsonb(0::bigint))
			ON CONFLICT (kind, id, field) DO NOTHING`,
			string(ref.Kind), ref.ID, field); err != nil {
			return err
		}
		var current int64
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE((value #>> '{}')::bigint, 0) FROM live_fields
			WHERE kind = $1 AND id = $2 AND field = $3
			FOR UPDATE`,
			string(ref.Kind), ref.ID, field).Scan(&current); err != nil {
			return err
		}
		next = apply(current)
		if next == current {
			return nil
		}
		_, err := tx.Exec(ctx, `
			UPDATE live_fields SET value = to_jsonb($4::bigint)
			WHERE kind = $1 AND id = $2 AND field = $3`,
			string(ref.Kind), ref.ID, field, next)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("update field %s: %w", field, err)
	}
	return next, nil
}

func (p *Postgres) intField(ctx context.Context, ref live.Ref, field string) (int64, error) {
	raw, err := p.GetField(ctx, ref, field)
	if err != nil || len(raw) == 0 {
		return 0, err
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("decode field %s: %w", field, err)
	}
	return v, nil
}

func (p *Postgres) producerCount(ctx context.Context, teamID uuid.UUID) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM live_producers WHERE team_id = $1`, teamID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count producers: %w", err)
	}
	return n, nil
}
