// SPDX-License-Identifier: MIT

package solver

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rtnav/rtnavd/internal/epoch"
	"github.com/rtnav/rtnavd/internal/gnss"
	"github.com/rtnav/rtnavd/internal/log"
	"github.com/rtnav/rtnavd/internal/metrics"
)

// Config carries the feeder tunables.
type Config struct {
	// Timeout bounds each solver invocation.
	Timeout time.Duration
	// MaxInFlight allows overlapping solver invocations when greater than
	// one. Outcomes are always released in epoch order.
	MaxInFlight int
}

// Feeder converts finalized epochs into solver invocations and emits exactly
// one outcome per epoch, in epoch order, on Out. Failures are never retried:
// each epoch is solved at most once.
type Feeder struct {
	cfg    Config
	engine Engine
	out    chan gnss.Outcome
	logger zerolog.Logger
}

// NewFeeder builds a feeder around the external engine.
func NewFeeder(cfg Config, engine Engine) *Feeder {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Feeder{
		cfg:    cfg,
		engine: engine,
		out:    make(chan gnss.Outcome, cfg.MaxInFlight),
		logger: log.WithComponent("solver"),
	}
}

// Out returns the ordered outcome stream. It closes after the input stream
// ends and all in-flight invocations have drained.
func (f *Feeder) Out() <-chan gnss.Outcome { return f.out }

type seqOutcome struct {
	seq uint64
	out gnss.Outcome
}

// Run consumes finalized epochs until the input closes or ctx is cancelled.
func (f *Feeder) Run(ctx context.Context, in <-chan epoch.Finalized) error {
	results := make(chan seqOutcome, f.cfg.MaxInFlight*2)
	slots := make(chan struct{}, f.cfg.MaxInFlight)

	var wg sync.WaitGroup
	reorderDone := make(chan struct{})
	go func() {
		defer close(reorderDone)
		f.reorder(ctx, results)
	}()

	var seq uint64
	var runErr error

loop:
	for {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break loop

		case item, ok := <-in:
			if !ok {
				break loop
			}

			switch {
			case item.Outcome != nil:
				// Pre-classified by the synchronizer (discarded or
				// expired); forward without occupying a solver slot.
				select {
				case results <- seqOutcome{seq: seq, out: *item.Outcome}:
				case <-ctx.Done():
					runErr = ctx.Err()
					break loop
				}

			case item.Bundle != nil:
				select {
				case slots <- struct{}{}:
				case <-ctx.Done():
					runErr = ctx.Err()
					break loop
				}
				bundle := *item.Bundle
				s := seq
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer func() { <-slots }()
					out := f.solve(ctx, bundle)
					select {
					case results <- seqOutcome{seq: s, out: out}:
					case <-ctx.Done():
					}
				}()
			}
			seq++
		}
	}

	wg.Wait()
	close(results)
	<-reorderDone
	close(f.out)
	return runErr
}

// reorder releases outcomes in sequence order regardless of solver latency
// variation across overlapping invocations.
func (f *Feeder) reorder(ctx context.Context, results <-chan seqOutcome) {
	next := uint64(0)
	held := make(map[uint64]gnss.Outcome, f.cfg.MaxInFlight)

	emit := func(o gnss.Outcome) bool {
		metrics.IncOutcome(o.Label())
		select {
		case f.out <- o:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for r := range results {
		held[r.seq] = r.out
		for {
			o, ok := held[next]
			if !ok {
				break
			}
			delete(held, next)
			if !emit(o) {
				// Drain the rest without emitting.
				for range results { //nolint:revive // intentional drain
				}
				return
			}
			next++
		}
	}
}

// solve prepares the bundle, invokes the engine under the per-invocation
// deadline and classifies the result.
func (f *Feeder) solve(ctx context.Context, bundle gnss.AlignedBundle) gnss.Outcome {
	input, dropped := BuildInput(bundle)

	if len(input.Candidates) == 0 {
		metrics.ObserveSolve(string(gnss.FailInsufficientObs), 0)
		return gnss.NewFailure(bundle.Epoch, gnss.FailInsufficientObs,
			"no satellite with both a measurement and a valid ephemeris")
	}

	solveCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	start := time.Now()
	sol, err := f.engine.Solve(solveCtx, input)
	elapsed := time.Since(start)

	outcome := f.classify(bundle.Epoch, sol, err)
	metrics.ObserveSolve(outcome.Label(), elapsed)

	evt := f.logger.Debug().
		Str(log.FieldEvent, "solver.outcome").
		Str(log.FieldEpoch, bundle.Epoch.String()).
		Str(log.FieldOutcome, outcome.Label()).
		Int("candidates", len(input.Candidates)).
		Int("dropped_no_ephemeris", dropped).
		Dur("elapsed", elapsed)
	if err != nil {
		evt = evt.Err(err)
	}
	evt.Msg("epoch solved")

	return outcome
}

func (f *Feeder) classify(e gnss.Epoch, sol gnss.PVTSolution, err error) gnss.Outcome {
	switch {
	case err == nil:
		sol.Epoch = e
		return gnss.NewFix(sol)
	case errors.Is(err, context.DeadlineExceeded):
		// Engine state, if any, is left untouched; the next epoch is
		// independent.
		return gnss.NewFailure(e, gnss.FailTimeout, "solver exceeded invocation deadline")
	case errors.Is(err, ErrInsufficientObservations):
		return gnss.NewFailure(e, gnss.FailInsufficientObs, err.Error())
	case errors.Is(err, ErrConfigMismatch):
		return gnss.NewFailure(e, gnss.FailConfig, err.Error())
	default:
		return gnss.NewFailure(e, gnss.FailNonConvergence, err.Error())
	}
}

// BuildInput converts a bundle into the engine's input shape: one candidate
// per satellite holding both a measurement and a validated ephemeris, with
// the SV clock correction evaluated at the epoch. The second return value is
// the number of measured satellites dropped for lack of an ephemeris.
func BuildInput(bundle gnss.AlignedBundle) (Input, int) {
	t := bundle.Epoch.Time()

	candidates := make([]Candidate, 0, len(bundle.Sats))
	dropped := 0
	for sat, m := range bundle.Sats {
		eph, ok := bundle.Nav.Ephemeris(sat)
		if !ok {
			dropped++
			continue
		}
		candidates = append(candidates, Candidate{
			Sat:             sat,
			Measurement:     m,
			Ephemeris:       eph,
			ClockCorrection: eph.ClockCorrection(t),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].Sat, candidates[j].Sat
		if a.Constellation != b.Constellation {
			return a.Constellation < b.Constellation
		}
		return a.PRN < b.PRN
	})

	return Input{
		Epoch:       bundle.Epoch,
		Candidates:  candidates,
		Corrections: bundle.Corrections,
	}, dropped
}
