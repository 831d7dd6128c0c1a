// SPDX-License-Identifier: MIT

package ntrip

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rtnav/rtnavd/internal/config"
	"github.com/rtnav/rtnavd/internal/gnss"
	"github.com/rtnav/rtnavd/internal/log"
	"github.com/rtnav/rtnavd/internal/metrics"
)

const (
	dialTimeout      = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	readChunkSize    = 2048
)

// DialFunc opens the transport connection to a caster. Injectable for tests.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

func defaultDial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout}
	return d.DialContext(ctx, "tcp", addr)
}

// Session is one managed connection to a reference station. It owns its
// connection state exclusively; the rest of the pipeline observes it through
// the liveness flag, the event channel and the decoded record stream.
type Session struct {
	station config.Station
	decoder CorrectionDecoder
	out     chan<- gnss.CorrectionRecord
	events  chan<- Event

	livenessWindow time.Duration
	dial           DialFunc
	logger         zerolog.Logger

	live  atomic.Bool
	mu    sync.Mutex
	state State

	lastRecord atomic.Int64 // unix nanos of the most recent record
	failures   atomic.Int64 // consecutive connect failures
}

// NewSession builds a session for one station. Records are delivered on out;
// state transitions on events (best effort, never blocking the stream).
func NewSession(st config.Station, decoder CorrectionDecoder, out chan<- gnss.CorrectionRecord, events chan<- Event, livenessWindow time.Duration) *Session {
	return &Session{
		station:        st,
		decoder:        decoder,
		out:            out,
		events:         events,
		livenessWindow: livenessWindow,
		dial:           defaultDial,
		state:          StateDisconnected,
		logger: log.WithComponent("ntrip").With().
			Str(log.FieldStationID, st.ID()).
			Str(log.FieldSessionID, uuid.NewString()).
			Str(log.FieldHost, st.Host).
			Str(log.FieldMount, st.Mount).
			Logger(),
	}
}

// Live reports whether the session is currently judged to be delivering
// data. Written only by the session itself.
func (s *Session) Live() bool { return s.live.Load() }

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StationID returns the identifier correction records carry.
func (s *Session) StationID() string { return s.station.ID() }

// LastRecord returns when the most recent record arrived, zero if none ever
// did.
func (s *Session) LastRecord() time.Time {
	ns := s.lastRecord.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// ConsecutiveFailures returns the current connect-failure streak.
func (s *Session) ConsecutiveFailures() int {
	return int(s.failures.Load())
}

func (s *Session) transition(to State, live bool) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	s.live.Store(live)

	if from == to {
		return
	}

	metrics.IncSessionTransition(s.station.ID(), string(from), string(to))
	metrics.SetSessionState(s.station.ID(), string(to))
	s.logger.Info().
		Str(log.FieldEvent, "session.state").
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Bool("live", live).
		Msg("session state changed")

	if s.events != nil {
		// Best effort: the liveness flag is the ground truth and the
		// synchronizer re-reads it on every sweep, so a dropped event only
		// delays re-evaluation by one sweep interval.
		select {
		case s.events <- Event{StationID: s.station.ID(), State: to, Live: live}:
		default:
			s.logger.Warn().
				Str(log.FieldEvent, "session.event_dropped").
				Str(log.FieldNewState, string(to)).
				Msg("event channel full, state change not pushed")
		}
	}
}

// Run drives the session until ctx is cancelled. Connection loss reconnects
// with bounded exponential backoff, forever. A credential rejection parks
// the session in StateFailed without disturbing other sessions.
func (s *Session) Run(ctx context.Context) error {
	metrics.SetSessionState(s.station.ID(), string(StateDisconnected))

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // never give up

	for {
		if err := ctx.Err(); err != nil {
			s.transition(StateDisconnected, false)
			return err
		}

		gotData, err := s.stream(ctx)

		if errors.Is(err, ErrAuthRejected) {
			s.transition(StateFailed, false)
			s.logger.Error().
				Err(err).
				Str(log.FieldEvent, "session.auth_rejected").
				Msg("caster rejected credentials; session disabled until restart")
			return nil
		}

		if ctx.Err() != nil {
			s.transition(StateDisconnected, false)
			return ctx.Err()
		}

		s.transition(StateDisconnected, false)

		if gotData {
			bo.Reset()
			s.failures.Store(0)
		} else {
			s.failures.Add(1)
		}

		wait := bo.NextBackOff()
		s.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "session.reconnect").
			Dur("backoff", wait).
			Int("consecutive_failures", s.ConsecutiveFailures()).
			Msg("session dropped, reconnecting")
		metrics.IncSessionReconnect(s.station.ID())

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// stream performs one connect / authenticate / stream cycle. It returns
// whether any correction record was decoded, and the error that ended the
// cycle.
func (s *Session) stream(ctx context.Context) (bool, error) {
	s.transition(StateConnecting, false)

	conn, err := s.dial(ctx, s.station.Addr())
	if err != nil {
		return false, err
	}
	defer func() { _ = conn.Close() }()

	// Unblock reads when the run is shut down.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if s.station.HasCredentials() {
		s.transition(StateAuthenticating, false)
	}

	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	if err := writeRequest(conn, s.station); err != nil {
		return false, err
	}
	reader := bufio.NewReaderSize(conn, readChunkSize)
	if err := readResponse(reader); err != nil {
		return false, err
	}
	_ = conn.SetDeadline(time.Time{})

	s.transition(StateStreaming, true)

	gotData := false
	lastDecoded := time.Now()
	buf := make([]byte, readChunkSize)
	for {
		// Watchdog: the liveness window is measured from the last decoded
		// record, not the last raw byte. A caster streaming undecodable
		// bytes is as dead as a silent one.
		_ = conn.SetReadDeadline(lastDecoded.Add(s.livenessWindow))

		n, err := reader.Read(buf)
		if n > 0 {
			recs := s.decoder.Decode(buf[:n])
			if len(recs) > 0 {
				lastDecoded = time.Now()
				s.lastRecord.Store(lastDecoded.UnixNano())
				gotData = true
			}
			for _, rec := range recs {
				select {
				case s.out <- rec:
				case <-ctx.Done():
					return gotData, ctx.Err()
				}
			}
		}
		if err == nil && time.Since(lastDecoded) >= s.livenessWindow {
			// Bytes kept the read deadline from firing, but none of them
			// decoded into a record inside the window.
			err = os.ErrDeadlineExceeded
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				metrics.IncSessionWatchdogTrip(s.station.ID())
				s.logger.Warn().
					Str(log.FieldEvent, "session.watchdog").
					Dur("window", s.livenessWindow).
					Msg("no decodable correction data within liveness window, link down")
			}
			return gotData, err
		}
	}
}
