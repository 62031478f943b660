package live

import (
	"time"

	"github.com/rs/zerolog/log"
)

// PassMetrics collects per-pass statistics.
type PassMetrics interface {
	RecordPass(kind string, units, failures int, duration time.Duration)
}

// NoOpMetrics discards everything.
type NoOpMetrics struct{}

func (NoOpMetrics) RecordPass(kind string, units, failures int, duration time.Duration) {}

// LogMetrics reports passes through the logger.
type LogMetrics struct{}

func (LogMetrics) RecordPass(kind string, units, failures int, duration time.Duration) {
	ev := log.Debug()
	if failures > 0 {
		ev = log.Warn()
	}
	ev.Str("pass", kind).
		Int("units", units).
		Int("failures", failures).
		Dur("duration", duration).
		Msg("pass completed")
}
