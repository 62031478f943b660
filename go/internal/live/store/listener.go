package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/mcdev12/outpost/go/internal/live"
	"github.com/mcdev12/outpost/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ListenerConfig tunes the stage listener.
type ListenerConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to re-check loaded sessions
	PingInterval     time.Duration
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel:    StageChannel,
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
	}
}

// StageSink receives stage changes. *live.Registry implements it.
type StageSink interface {
	Sessions() []*live.Session
	HandleStageChange(ctx context.Context, id uuid.UUID, stage models.Stage) error
}

// StageReader looks up the persisted stage of a session.
type StageReader interface {
	Stage(ctx context.Context, sessionID uuid.UUID) (models.Stage, error)
}

// StageListener forwards session stage changes announced over NOTIFY to the
// registry. A periodic poll of the loaded sessions covers missed notifications.
type StageListener struct {
	listener *pq.Listener
	stages   StageReader
	sink     StageSink
	clock    clockwork.Clock
	cfg      ListenerConfig
}

func NewStageListener(stages StageReader, sink StageSink, cfg ListenerConfig) (*StageListener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("stage listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for stage changes")

	return &StageListener{
		listener: l,
		stages:   stages,
		sink:     sink,
		clock:    clockwork.NewRealClock(),
		cfg:      cfg,
	}, nil
}

func (l *StageListener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Dur("fallback_interval", l.cfg.FallbackInterval).
		Msg("stage listener started")

	pingTicker := l.clock.NewTicker(l.cfg.PingInterval)
	fallbackTicker := l.clock.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stage listener shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// the connection was re-established; changes may have been missed
				l.reconcile(ctx)
				continue
			}
			if err := l.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle stage notification")
			}
		case <-fallbackTicker.Chan():
			l.reconcile(ctx)
		case <-pingTicker.Chan():
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *StageListener) Stop() error {
	return l.listener.Close()
}

func (l *StageListener) handleNotification(ctx context.Context, extra string) error {
	id, stage, err := parseStageNote(extra)
	if err != nil {
		return err
	}
	log.Debug().
		Str("session_id", id.String()).
		Str("stage", stage.String()).
		Msg("session stage changed")
	return l.sink.HandleStageChange(ctx, id, stage)
}

// reconcile re-reads the stage of every loaded session.
func (l *StageListener) reconcile(ctx context.Context) {
	for _, s := range l.sink.Sessions() {
		stage, err := l.stages.Stage(ctx, s.ID())
		if errors.Is(err, ErrNotFound) {
			stage = models.StageFinished
		} else if err != nil {
			log.Error().Err(err).Str("session_id", s.ID().String()).Msg("failed to read session stage")
			continue
		}
		if err := l.sink.HandleStageChange(ctx, s.ID(), stage); err != nil {
			log.Error().Err(err).Str("session_id", s.ID().String()).Msg("failed to apply session stage")
		}
	}
}

// parseStageNote decodes a "<session id>:<stage>" notification payload.
func parseStageNote(extra string) (uuid.UUID, models.Stage, error) {
	rawID, rawStage, ok := strings.Cut(extra, ":")
	if !ok {
		return uuid.Nil, 0, fmt.Errorf("malformed stage notification %q", extra)
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("invalid session id in notification: %w", err)
	}
	stage, err := strconv.Atoi(rawStage)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("invalid stage in notification: %w", err)
	}
	return id, models.Stage(stage), nil
}
