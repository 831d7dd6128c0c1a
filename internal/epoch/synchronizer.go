// SPDX-License-Identifier: MIT

// Package epoch aligns the independently arriving receiver and correction
// streams by observation instant and decides, per epoch, whether enough data
// exists to attempt a solution.
package epoch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rtnav/rtnavd/internal/gnss"
	"github.com/rtnav/rtnavd/internal/log"
	"github.com/rtnav/rtnavd/internal/metrics"
	"github.com/rtnav/rtnavd/internal/ntrip"
)

// Liveness is the synchronizer's read-only view of reference-session
// liveness. It is owned and written exclusively by the correction client.
type Liveness interface {
	Live(stationID string) bool
	LiveStations() []string
}

// noSessions is the direct-mode liveness view.
type noSessions struct{}

func (noSessions) Live(string) bool       { return false }
func (noSessions) LiveStations() []string { return nil }

// NoSessions returns the liveness view for a run without reference
// stations.
func NoSessions() Liveness { return noSessions{} }

// Finalized is one finalized epoch leaving the synchronizer: either an
// aligned bundle headed for the solver, or a pre-classified failure outcome
// for epochs finalized without a solve attempt.
type Finalized struct {
	Bundle  *gnss.AlignedBundle
	Outcome *gnss.Outcome
}

// Config carries the synchronizer tunables.
type Config struct {
	// SamplingPeriod quantizes record timestamps into epoch identities.
	SamplingPeriod time.Duration
	// SettleDelay is the minimum age before a bucket may become ready, so
	// same-epoch records split across receiver messages can coalesce.
	SettleDelay time.Duration
	// CorrectionWait bounds how long a bucket waits for corrections from
	// live sessions before being discarded as incomplete.
	CorrectionWait time.Duration
	// RetentionAge bounds bucket lifetime regardless of readiness.
	RetentionAge time.Duration
	// Differential requires a correction from every live session.
	Differential bool
	// SweepInterval is the cadence of the periodic readiness sweep. Zero
	// picks a default derived from the settle delay.
	SweepInterval time.Duration
}

func (c *Config) sweepInterval() time.Duration {
	if c.SweepInterval > 0 {
		return c.SweepInterval
	}
	iv := c.SettleDelay / 4
	if iv < 10*time.Millisecond {
		iv = 10 * time.Millisecond
	}
	if iv > 250*time.Millisecond {
		iv = 250 * time.Millisecond
	}
	return iv
}

type disposition int

const (
	dispOpen disposition = iota
	dispReady
	dispIncomplete
	dispExpired
)

// Synchronizer owns the epoch lifecycle. It runs as a single goroutine over
// a merged input set, so bucket state needs no locking.
type Synchronizer struct {
	cfg    Config
	live   Liveness
	clock  Clock
	logger zerolog.Logger

	out chan Finalized

	buckets map[gnss.Epoch]*bucket
	pending map[gnss.SatID]*gnss.PendingEphemeris
	nav     gnss.NavSnapshot

	// watermark is the highest finalized epoch; finalization is strictly
	// increasing and records at or below it are late arrivals.
	watermark    gnss.Epoch
	hasWatermark bool
}

// New builds a synchronizer. live may be NoSessions() for direct mode.
func New(cfg Config, live Liveness) *Synchronizer {
	if live == nil {
		live = NoSessions()
	}
	return &Synchronizer{
		cfg:     cfg,
		live:    live,
		clock:   realClock{},
		logger:  log.WithComponent("epoch"),
		out:     make(chan Finalized, 8),
		buckets: make(map[gnss.Epoch]*bucket, 16),
		pending: make(map[gnss.SatID]*gnss.PendingEphemeris, 16),
	}
}

// WithClock replaces the wall clock, for tests.
func (s *Synchronizer) WithClock(c Clock) *Synchronizer {
	s.clock = c
	return s
}

// Out returns the finalized-epoch stream, one item per finalized epoch.
func (s *Synchronizer) Out() <-chan Finalized { return s.out }

// Nav returns the current navigation snapshot.
func (s *Synchronizer) Nav() gnss.NavSnapshot { return s.nav }

// Run consumes the input streams until ctx is cancelled or both record
// streams have ended. Open buckets are discarded on return, not flushed: a
// partial solve is not meaningful.
func (s *Synchronizer) Run(ctx context.Context, records <-chan gnss.ReceiverRecord, corrections <-chan gnss.CorrectionRecord, events <-chan ntrip.Event) error {
	ticker := time.NewTicker(s.cfg.sweepInterval())
	defer ticker.Stop()
	defer close(s.out)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rec, ok := <-records:
			if !ok {
				// Receiver stream ended; the containing run treats this as
				// fatal, so stop producing rather than idling on a dead
				// pipeline.
				return nil
			}
			s.onReceiverRecord(rec)

		case rec, ok := <-corrections:
			if !ok {
				corrections = nil
				continue
			}
			s.onCorrection(rec)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			// Down transitions release buckets that were waiting on the
			// session; up transitions change nothing retroactively.
			if !ev.Live {
				s.logger.Info().
					Str(log.FieldEvent, "epoch.session_down").
					Str(log.FieldStationID, ev.StationID).
					Msg("session no longer live, re-evaluating open epochs")
			}

		case <-ticker.C:
		}

		if err := s.evaluate(ctx); err != nil {
			return err
		}
	}
}

func (s *Synchronizer) onReceiverRecord(rec gnss.ReceiverRecord) {
	switch r := rec.(type) {
	case gnss.MeasurementRecord:
		s.onMeasurement(r)
	case gnss.NavigationRecord:
		s.onNavigation(r)
	default:
		s.logger.Warn().
			Str(log.FieldEvent, "epoch.unknown_record").
			Msgf("dropping unknown receiver record %T", rec)
	}
}

func (s *Synchronizer) onMeasurement(rec gnss.MeasurementRecord) {
	if s.isLate(rec.Epoch) {
		metrics.IncLateArrival("receiver")
		return
	}
	b, ok := s.buckets[rec.Epoch]
	if !ok {
		b = newBucket(rec.Epoch)
		s.buckets[rec.Epoch] = b
		metrics.SetOpenBuckets(len(s.buckets))
	}
	b.merge(rec.Sats)
}

// onNavigation folds a navigation subframe into the pending set and, once a
// satellite's set validates, replaces the navigation snapshot atomically.
// Buckets never hold the snapshot; it is attached at finalization so every
// bundle sees a complete, self-consistent copy.
func (s *Synchronizer) onNavigation(rec gnss.NavigationRecord) {
	p, ok := s.pending[rec.Sat]
	if !ok {
		p = &gnss.PendingEphemeris{Sat: rec.Sat}
		s.pending[rec.Sat] = p
	}
	p.Update(rec.Frame)
	if eph, ok := p.Validate(); ok {
		s.nav = s.nav.With(eph)
	}
}

func (s *Synchronizer) onCorrection(rec gnss.CorrectionRecord) {
	if !s.live.Live(rec.StationID) {
		// Stale sessions contribute nothing, and a dead session's record
		// must not open a bucket on its own.
		metrics.IncCorrectionRecord(rec.StationID, false)
		return
	}
	if s.isLate(rec.Epoch) {
		metrics.IncCorrectionRecord(rec.StationID, false)
		metrics.IncLateArrival("correction")
		return
	}
	metrics.IncCorrectionRecord(rec.StationID, true)

	b, ok := s.buckets[rec.Epoch]
	if !ok {
		b = newBucket(rec.Epoch)
		s.buckets[rec.Epoch] = b
		metrics.SetOpenBuckets(len(s.buckets))
	}
	b.corrections[rec.StationID] = rec
}

func (s *Synchronizer) isLate(e gnss.Epoch) bool {
	return s.hasWatermark && e <= s.watermark
}

// evaluate walks open buckets oldest first and finalizes every bucket whose
// disposition has been decided. The walk stops at the first still-open
// bucket: younger epochs wait so finalization stays strictly increasing,
// and their delay is bounded by the older bucket's wait window.
func (s *Synchronizer) evaluate(ctx context.Context) error {
	if len(s.buckets) == 0 {
		return nil
	}

	epochs := make([]gnss.Epoch, 0, len(s.buckets))
	for e := range s.buckets {
		epochs = append(epochs, e)
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i].Before(epochs[j]) })

	now := s.clock.Now()
	for _, e := range epochs {
		b := s.buckets[e]
		disp := s.disposition(b, now)
		if disp == dispOpen {
			return nil
		}
		if err := s.finalize(ctx, b, disp, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synchronizer) disposition(b *bucket, now time.Time) disposition {
	age := now.Sub(b.epoch.Time())

	ready := len(b.sats) > 0 && age >= s.cfg.SettleDelay
	if ready && s.cfg.Differential {
		ready = b.hasAll(s.live.LiveStations())
	}
	if ready {
		return dispReady
	}

	if s.cfg.Differential && len(b.sats) > 0 && age >= s.cfg.CorrectionWait {
		// Measurements settled but a live session never delivered; the
		// operating rule requires observations on both sides.
		if age >= s.cfg.SettleDelay && !b.hasAll(s.live.LiveStations()) {
			return dispIncomplete
		}
	}

	if age >= s.cfg.RetentionAge {
		return dispExpired
	}

	if len(b.sats) == 0 && age >= s.cfg.CorrectionWait {
		// Corrections but no observations: the receiver never produced
		// this epoch. Waiting out the full retention age would stall every
		// younger ready epoch behind it, so the wait window bounds it.
		return dispExpired
	}

	return dispOpen
}

func (s *Synchronizer) finalize(ctx context.Context, b *bucket, disp disposition, now time.Time) error {
	delete(s.buckets, b.epoch)
	metrics.SetOpenBuckets(len(s.buckets))
	s.watermark = b.epoch
	s.hasWatermark = true

	var item Finalized
	var label string

	switch disp {
	case dispReady:
		bundle := b.bundle(s.nav)
		item = Finalized{Bundle: &bundle}
		label = "ready"

	case dispIncomplete:
		missing := b.missing(s.live.LiveStations())
		o := gnss.NewFailure(b.epoch, gnss.FailIncomplete,
			fmt.Sprintf("no correction from %s within wait window", strings.Join(missing, ", ")))
		item = Finalized{Outcome: &o}
		label = "discarded_incomplete"

	case dispExpired:
		reason := fmt.Sprintf("bucket exceeded retention age %s", s.cfg.RetentionAge)
		if len(b.sats) == 0 {
			reason = fmt.Sprintf("corrections only, no observations within %s", s.cfg.CorrectionWait)
		}
		o := gnss.NewFailure(b.epoch, gnss.FailExpired, reason)
		item = Finalized{Outcome: &o}
		label = "expired"
	}

	metrics.IncEpochFinalized(label)
	s.logger.Debug().
		Str(log.FieldEvent, "epoch.finalized").
		Str(log.FieldEpoch, b.epoch.String()).
		Str("disposition", label).
		Int("sats", len(b.sats)).
		Int("corrections", len(b.corrections)).
		Dur("age", now.Sub(b.epoch.Time())).
		Msg("epoch finalized")

	select {
	case s.out <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
