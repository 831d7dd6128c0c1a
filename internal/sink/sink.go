// SPDX-License-Identifier: MIT

// Package sink delivers per-epoch outcomes to their consumers: the log, the
// optional InfluxDB time series and any connected websocket clients.
package sink

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rtnav/rtnavd/internal/gnss"
	"github.com/rtnav/rtnavd/internal/log"
	"github.com/rtnav/rtnavd/internal/metrics"
)

// Sink consumes the ordered per-epoch outcome stream.
type Sink interface {
	Publish(ctx context.Context, o gnss.Outcome) error
	Close() error
}

// LogSink writes outcomes to the structured log.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink builds the default sink.
func NewLogSink() *LogSink {
	return &LogSink{logger: log.WithComponent("sink")}
}

// Publish logs one outcome: fixes at info, failures at warn.
func (s *LogSink) Publish(_ context.Context, o gnss.Outcome) error {
	if fix := o.Fix; fix != nil {
		s.logger.Info().
			Str(log.FieldEvent, "sink.fix").
			Str(log.FieldEpoch, o.Epoch.String()).
			Float64("lat_deg", fix.LatDeg).
			Float64("lon_deg", fix.LonDeg).
			Float64("alt_m", fix.AltM).
			Float64("clock_bias_s", fix.ClockBiasS).
			Float64("clock_drift_s_s", fix.ClockDriftS).
			Int("sats", fix.Satellites).
			Float64("gdop", fix.GDOP).
			Bool("degraded", fix.Degraded).
			Msg("new solution")
		return nil
	}
	if fail := o.Failure; fail != nil {
		s.logger.Warn().
			Str(log.FieldEvent, "sink.failure").
			Str(log.FieldEpoch, o.Epoch.String()).
			Str("kind", string(fail.Kind)).
			Str("reason", fail.Reason).
			Msg("epoch yielded no solution")
	}
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }

// MultiSink fans an outcome out to several sinks. Publish failures are
// counted and logged, never propagated: one slow or broken sink must not
// stall the pipeline's outcome stream.
type MultiSink struct {
	sinks  []named
	logger zerolog.Logger
}

type named struct {
	name string
	sink Sink
}

// NewMultiSink builds an empty fan-out.
func NewMultiSink() *MultiSink {
	return &MultiSink{logger: log.WithComponent("sink")}
}

// Add registers a sink under a short name used in metrics.
func (m *MultiSink) Add(name string, s Sink) {
	m.sinks = append(m.sinks, named{name: name, sink: s})
}

// Publish delivers the outcome to every registered sink.
func (m *MultiSink) Publish(ctx context.Context, o gnss.Outcome) error {
	for _, n := range m.sinks {
		if err := n.sink.Publish(ctx, o); err != nil {
			metrics.IncSinkError(n.name)
			m.logger.Warn().
				Err(err).
				Str(log.FieldEvent, "sink.publish_failed").
				Str("sink", n.name).
				Str(log.FieldEpoch, o.Epoch.String()).
				Msg("sink publish failed")
		}
	}
	return nil
}

// Close closes all registered sinks, returning the first error.
func (m *MultiSink) Close() error {
	var first error
	for _, n := range m.sinks {
		if err := n.sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
