package gateway

import (
	"context"
	"net/http"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Service is the live push gateway: WebSocket connections, client messages
// and cross-node relaying.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	relay             *Relay
}

// Config holds configuration for the live gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	// RelayPrefix is the NATS subject prefix shared by all gateway nodes.
	RelayPrefix string
}

// DefaultConfig returns default configuration for the live gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		RelayPrefix:      "live.packets",
	}
}

// NewService creates the gateway. nc may be nil for a single-node setup.
func NewService(config Config, sessions Sessions, nc *nats.Conn) *Service {
	cm := NewConnectionManager(config.ConnectionConfig, sessions)
	s := &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm),
	}
	if nc != nil {
		s.relay = NewRelay(nc, config.RelayPrefix, cm)
	}
	return s
}

// Transport returns the live.Transport backed by this gateway.
func (s *Service) Transport() *ConnectionManager {
	return s.connectionManager
}

// Start runs the gateway until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Bool("relay", s.relay != nil).Msg("starting live gateway service")

	if s.relay != nil {
		if err := s.relay.Start(); err != nil {
			return err
		}
	}

	<-ctx.Done()

	log.Info().Msg("live gateway service shutting down")
	return s.Stop()
}

// Stop closes the relay and every open connection.
func (s *Service) Stop() error {
	if s.relay != nil {
		if err := s.relay.Close(); err != nil {
			log.Error().Err(err).Msg("failed to stop packet relay")
		}
	}
	s.connectionManager.CloseAll()
	log.Info().Msg("live gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("live gateway routes registered")
}
