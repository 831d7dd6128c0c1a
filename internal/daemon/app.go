// SPDX-License-Identifier: MIT

// Package daemon assembles the pipeline: receiver source, correction client,
// epoch synchronizer, solver feeder and result sinks, plus the operational
// HTTP surface.
package daemon

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rtnav/rtnavd/internal/api"
	"github.com/rtnav/rtnavd/internal/config"
	"github.com/rtnav/rtnavd/internal/epoch"
	"github.com/rtnav/rtnavd/internal/health"
	"github.com/rtnav/rtnavd/internal/log"
	"github.com/rtnav/rtnavd/internal/ntrip"
	"github.com/rtnav/rtnavd/internal/ntrip/rtcm"
	"github.com/rtnav/rtnavd/internal/receiver"
	"github.com/rtnav/rtnavd/internal/receiver/ubx"
	"github.com/rtnav/rtnavd/internal/sink"
	"github.com/rtnav/rtnavd/internal/solver"
)

// App owns the wired pipeline for one daemon run.
type App struct {
	cfg     config.Config
	engine  solver.Engine
	version string

	// openSource is the receiver link seam; tests replace it to drive the
	// pipeline without hardware.
	openSource func(ctx context.Context, device string, baud int, dec receiver.FrameDecoder) (*receiver.SerialSource, error)
}

// New builds an app around the externally supplied solver engine.
func New(cfg config.Config, engine solver.Engine, version string) *App {
	return &App{cfg: cfg, engine: engine, version: version, openSource: receiver.OpenSerial}
}

// Run opens the receiver, connects the reference sessions and drives the
// pipeline until ctx is cancelled or the receiver link fails. Epochs still in
// flight at shutdown are discarded, not flushed.
func (a *App) Run(ctx context.Context) error {
	logger := log.WithComponent("daemon")
	cfg := a.cfg

	decoder := ubx.NewDecoder(cfg.SamplingPeriod)
	source, err := a.openSource(ctx, cfg.Device, cfg.Baud, decoder)
	if err != nil {
		return fmt.Errorf("receiver: %w", err)
	}

	differential := cfg.Mode == config.ModeDifferential

	var client *ntrip.Client
	live := epoch.NoSessions()
	if differential {
		client = ntrip.NewClient(cfg.Stations, rtcm.NewFactory(cfg.SamplingPeriod), cfg.LivenessWindow)
		live = client
	}

	sync := epoch.New(epoch.Config{
		SamplingPeriod: cfg.SamplingPeriod,
		SettleDelay:    cfg.SettleDelay,
		CorrectionWait: cfg.CorrectionWait,
		RetentionAge:   cfg.RetentionAge,
		Differential:   differential,
	}, live)

	feeder := solver.NewFeeder(solver.Config{
		Timeout:     cfg.SolverTimeout,
		MaxInFlight: cfg.MaxInFlight,
	}, a.engine)

	ws := sink.NewWSSink()
	sinks, err := a.buildSinks(ws)
	if err != nil {
		return err
	}
	defer func() { _ = sinks.Close() }()

	hm := health.NewManager(a.version)
	a.registerChecks(hm, source, client)
	server := api.New(cfg.Listen, hm, ws)

	logger.Info().
		Str(log.FieldEvent, "daemon.starting").
		Str("mode", string(cfg.Mode)).
		Str(log.FieldDevice, cfg.Device).
		Int("stations", len(cfg.Stations)).
		Msg("pipeline assembled")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return source.Run(ctx) })

	if client != nil {
		g.Go(func() error { return client.Run(ctx) })
		g.Go(func() error {
			return sync.Run(ctx, source.Records(), client.Records(), client.Events())
		})
	} else {
		g.Go(func() error {
			return sync.Run(ctx, source.Records(), nil, nil)
		})
	}

	g.Go(func() error { return feeder.Run(ctx, sync.Out()) })

	g.Go(func() error {
		for o := range feeder.Out() {
			_ = sinks.Publish(ctx, o)
		}
		return nil
	})

	g.Go(func() error { return server.Run(ctx) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("pipeline stopped")
		return nil
	}
	return err
}

// buildSinks assembles the fan-out: structured log always, InfluxDB when
// configured, plus the websocket feed.
func (a *App) buildSinks(ws *sink.WSSink) (*sink.MultiSink, error) {
	sinks := sink.NewMultiSink()
	sinks.Add("log", sink.NewLogSink())
	sinks.Add("ws", ws)

	if a.cfg.Influx.Enabled() {
		influx, err := sink.NewInfluxSink(a.cfg.Influx)
		if err != nil {
			return nil, fmt.Errorf("influx sink: %w", err)
		}
		sinks.Add("influx", influx)
	}
	return sinks, nil
}

// registerChecks wires the health surface. A down reference session reports
// degraded, not unhealthy: the pipeline keeps running on the remaining
// sessions.
func (a *App) registerChecks(hm *health.Manager, source *receiver.SerialSource, client *ntrip.Client) {
	hm.RegisterChecker(health.CheckerFunc{
		CheckName: "receiver",
		Fn: func(context.Context) health.CheckResult {
			if err := source.Err(); err != nil {
				return health.CheckResult{Status: health.StatusUnhealthy, Error: err.Error()}
			}
			return health.CheckResult{Status: health.StatusHealthy, Message: a.cfg.Device}
		},
	})

	if client == nil {
		return
	}
	for _, id := range client.Stations() {
		stationID := id
		hm.RegisterChecker(health.CheckerFunc{
			CheckName: "session:" + stationID,
			Fn: func(context.Context) health.CheckResult {
				if client.Live(stationID) {
					return health.CheckResult{Status: health.StatusHealthy}
				}
				return health.CheckResult{
					Status:  health.StatusDegraded,
					Message: "session not live",
				}
			},
		})
	}
}
