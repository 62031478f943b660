package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Publisher delivers live events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NoOpPublisher drops every event.
type NoOpPublisher struct{}

func (NoOpPublisher) Publish(context.Context, Event) error { return nil }

// LogPublisher writes events to the log instead of a broker.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, event Event) error {
	log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", event.Type).
		Str("session_id", event.SessionID.String()).
		RawJSON("payload", event.Payload).
		Msg("live event")
	return nil
}

// MemoryPublisher keeps published events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *MemoryPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// MetricsCollector records publish outcomes.
type MetricsCollector interface {
	RecordPublish(eventType string, success bool, duration time.Duration)
}

// LogMetricsCollector writes publish outcomes to a zerolog logger. Failures
// log at warn level, successes at debug.
type LogMetricsCollector struct {
	logger zerolog.Logger
}

func NewLogMetricsCollector(logger zerolog.Logger) LogMetricsCollector {
	return LogMetricsCollector{logger: logger}
}

func (c LogMetricsCollector) RecordPublish(eventType string, success bool, duration time.Duration) {
	ev := c.logger.Debug()
	if !success {
		ev = c.logger.Warn()
	}
	ev.Str("event_type", eventType).
		Bool("success", success).
		Dur("duration", duration).
		Msg("event publish")
}

// MetricPublisher wraps a Publisher with metrics collection
type MetricPublisher struct {
	publisher Publisher
	metrics   MetricsCollector
}

func NewMetricPublisher(publisher Publisher, metrics MetricsCollector) *MetricPublisher {
	return &MetricPublisher{
		publisher: publisher,
		metrics:   metrics,
	}
}

func (p *MetricPublisher) Publish(ctx context.Context, event Event) error {
	start := time.Now()
	err := p.publisher.Publish(ctx, event)
	p.metrics.RecordPublish(event.Type, err == nil, time.Since(start))
	return err
}
