package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/outpost/go/internal/config"
	"github.com/mcdev12/outpost/go/internal/live"
	"github.com/mcdev12/outpost/go/internal/live/events"
	"github.com/mcdev12/outpost/go/internal/live/gateway"
	"github.com/mcdev12/outpost/go/internal/live/liveapi"
	"github.com/mcdev12/outpost/go/internal/live/specialaction"
	"github.com/mcdev12/outpost/go/internal/live/store"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// registryRef lets the gateway be built before the registry it serves.
type registryRef struct {
	*live.Registry
}

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := store.Open(ctx, cfg.DB.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name("live-gateway"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			log.Fatal().Err(err).Str("nats_url", cfg.NATS.URL).Msg("failed to connect to NATS")
		}
		defer nc.Close()
	}

	ref := &registryRef{}
	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.RelayPrefix = cfg.NATS.SubjectPrefix
	gatewayService := gateway.NewService(gatewayConfig, ref, nc)

	registry := live.NewRegistry(pg, gatewayService.Transport(), cfg.Live(), live.WithMetrics(live.LogMetrics{}))
	ref.Registry = registry
	defer registry.Close()

	publisher := setupPublisher(ctx, cfg)
	actions := specialaction.New(registry, registry, gatewayService.Transport(),
		specialaction.WithPublisher(events.NewMetricPublisher(publisher, events.NewLogMetricsCollector(log.Logger))),
	)

	listenerConfig := store.DefaultListenerConfig()
	listenerConfig.DatabaseURL = cfg.DB.DSN()
	listener, err := store.NewStageListener(pg, registry, listenerConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start stage listener")
	}

	server := liveapi.NewServer(cfg.Addr(), liveapi.NewHandler(actions, registry, liveapi.WithRecords(pg)), gatewayService)

	log.Info().
		Str("database", cfg.DB.Database).
		Str("nats_url", cfg.NATS.URL).
		Str("addr", server.Addr).
		Dur("period", cfg.Cadence.Period).
		Bool("spread", cfg.Cadence.Spread).
		Msg("starting live server")

	go func() {
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()
	go func() {
		if err := listener.Start(ctx); err != nil {
			log.Error().Err(err).Msg("stage listener failed")
		}
	}()
	go func() {
		if err := registry.Run(ctx); err != nil {
			log.Error().Err(err).Msg("cadence loop failed")
		}
	}()
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if closer, ok := publisher.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close event publisher")
		}
	}

	log.Info().Msg("live server shutdown complete")
}

// setupPublisher connects the audit stream, logging events instead when NATS
// is not configured or unreachable.
func setupPublisher(ctx context.Context, cfg config.Config) events.Publisher {
	if cfg.NATS.URL == "" {
		return events.LogPublisher{}
	}
	jsCfg := events.DefaultJetStreamConfig()
	jsCfg.URL = cfg.NATS.URL
	jsCfg.StreamName = cfg.NATS.Stream
	jsCfg.SubjectPrefix = cfg.NATS.EventsPrefix

	p, err := events.NewJetStreamPublisher(ctx, jsCfg)
	if err != nil {
		log.Warn().Err(err).Msg("JetStream unavailable, logging live events instead")
		return events.LogPublisher{}
	}
	return p
}
