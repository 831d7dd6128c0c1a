// SPDX-License-Identifier: MIT

package ntrip

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtnav/rtnavd/internal/config"
	"github.com/rtnav/rtnavd/internal/gnss"
)

// chunkDecoder emits one record per chunk, stamped with a fixed epoch.
type chunkDecoder struct {
	station string
}

func (d *chunkDecoder) Decode(chunk []byte) []gnss.CorrectionRecord {
	if len(chunk) == 0 {
		return nil
	}
	return []gnss.CorrectionRecord{{StationID: d.station, Raw: append([]byte(nil), chunk...)}}
}

// muteDecoder consumes bytes without ever completing a record, the way a
// real framing decoder behaves on a stream with no valid frames.
type muteDecoder struct{}

func (muteDecoder) Decode([]byte) []gnss.CorrectionRecord { return nil }

func testStation() config.Station {
	return config.Station{Host: "caster.test", Port: 2101, Mount: "M1", Username: "u", Password: "p"}
}

// fakeCaster answers the handshake on the server side of a pipe.
type fakeCaster struct {
	mu    sync.Mutex
	conns []net.Conn
}

func (f *fakeCaster) dial(response string) DialFunc {
	return func(ctx context.Context, addr string) (net.Conn, error) {
		client, server := net.Pipe()
		f.mu.Lock()
		f.conns = append(f.conns, server)
		f.mu.Unlock()

		go func() {
			r := bufio.NewReader(server)
			for {
				line, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if line == "\r\n" || line == "\n" {
					break
				}
			}
			_, _ = server.Write([]byte(response))
		}()
		return client, nil
	}
}

func (f *fakeCaster) write(t *testing.T, data []byte) {
	t.Helper()
	f.mu.Lock()
	conn := f.conns[len(f.conns)-1]
	f.mu.Unlock()
	_, err := conn.Write(data)
	require.NoError(t, err)
}

func (f *fakeCaster) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		_ = c.Close()
	}
}

func (f *fakeCaster) dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func newTestSession(st config.Station, dial DialFunc, window time.Duration) (*Session, chan gnss.CorrectionRecord, chan Event) {
	records := make(chan gnss.CorrectionRecord, 16)
	events := make(chan Event, 16)
	s := NewSession(st, &chunkDecoder{station: st.ID()}, records, events, window)
	s.dial = dial
	return s, records, events
}

func awaitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if s.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("session never reached state %s (now %s)", want, s.State())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSessionStreamsAfterHandshake(t *testing.T) {
	caster := &fakeCaster{}
	defer caster.closeAll()

	s, records, _ := newTestSession(testStation(), caster.dial("ICY 200 OK\r\n"), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = s.Run(ctx) }()

	awaitState(t, s, StateStreaming)
	require.True(t, s.Live())

	caster.write(t, []byte{0xD3, 0x00, 0x01})
	select {
	case rec := <-records:
		assert.Equal(t, s.StationID(), rec.StationID)
		assert.Equal(t, []byte{0xD3, 0x00, 0x01}, rec.Raw)
	case <-time.After(2 * time.Second):
		t.Fatal("no correction record decoded")
	}
	assert.False(t, s.LastRecord().IsZero())

	cancel()
	<-done
	assert.False(t, s.Live())
}

func TestSessionReconnectsAfterDrop(t *testing.T) {
	caster := &fakeCaster{}
	defer caster.closeAll()

	s, records, _ := newTestSession(testStation(), caster.dial("ICY 200 OK\r\n"), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { defer close(done); _ = s.Run(ctx) }()

	awaitState(t, s, StateStreaming)
	caster.write(t, []byte{0x01})
	<-records // data arrived, so the backoff resets on drop

	caster.closeAll()

	// The session must dial again and come back to streaming.
	deadline := time.After(5 * time.Second)
	for caster.dials() < 2 {
		select {
		case <-deadline:
			t.Fatal("session never reconnected")
		case <-time.After(10 * time.Millisecond):
		}
	}
	awaitState(t, s, StateStreaming)

	cancel()
	<-done
}

func TestSessionAuthRejectionIsTerminal(t *testing.T) {
	caster := &fakeCaster{}
	defer caster.closeAll()

	s, _, events := newTestSession(testStation(), caster.dial("HTTP/1.0 401 Unauthorized\r\n"), time.Second)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		// Terminal for this session only; the run error is nil so sibling
		// sessions keep going.
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop on credential rejection")
	}
	assert.Equal(t, StateFailed, s.State())
	assert.False(t, s.Live())
	assert.Equal(t, 1, caster.dials(), "a rejected credential must not be retried")

	var sawFailed bool
	for {
		select {
		case ev := <-events:
			if ev.State == StateFailed {
				sawFailed = true
			}
			continue
		default:
		}
		break
	}
	assert.True(t, sawFailed, "failed state must be announced on the event channel")
}

func TestSessionMountpointMissingRetries(t *testing.T) {
	caster := &fakeCaster{}
	defer caster.closeAll()

	s, _, _ := newTestSession(testStation(), caster.dial("SOURCETABLE 200 OK\r\n"), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { defer close(done); _ = s.Run(ctx) }()

	// Unlike a credential rejection, an unknown mountpoint keeps retrying:
	// the mount may appear when the caster's source changes.
	deadline := time.After(5 * time.Second)
	for caster.dials() < 2 {
		select {
		case <-deadline:
			t.Fatal("session gave up on a missing mountpoint")
		case <-time.After(10 * time.Millisecond):
		}
	}
	assert.NotEqual(t, StateFailed, s.State())

	cancel()
	<-done
}

func TestSessionWatchdogDropsSilentLink(t *testing.T) {
	caster := &fakeCaster{}
	defer caster.closeAll()

	// Tiny liveness window; the caster never sends correction data.
	s, _, _ := newTestSession(testStation(), caster.dial("ICY 200 OK\r\n"), 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { defer close(done); _ = s.Run(ctx) }()

	awaitState(t, s, StateStreaming)
	awaitState(t, s, StateDisconnected)
	assert.False(t, s.Live(), "a silent link must not count as live")

	cancel()
	<-done
}

func TestSessionWatchdogIgnoresUndecodableBytes(t *testing.T) {
	caster := &fakeCaster{}
	defer caster.closeAll()

	records := make(chan gnss.CorrectionRecord, 16)
	s := NewSession(testStation(), muteDecoder{}, records, nil, 50*time.Millisecond)
	s.dial = caster.dial("ICY 200 OK\r\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { defer close(done); _ = s.Run(ctx) }()

	awaitState(t, s, StateStreaming)

	// The caster keeps the TCP link chatty without ever delivering a
	// decodable frame; raw bytes alone must not count as liveness.
	feed := make(chan struct{})
	var feeder sync.WaitGroup
	feeder.Add(1)
	go func() {
		defer feeder.Done()
		for {
			select {
			case <-feed:
				return
			case <-time.After(10 * time.Millisecond):
			}
			caster.mu.Lock()
			conn := caster.conns[len(caster.conns)-1]
			caster.mu.Unlock()
			_, _ = conn.Write([]byte{0xFF, 0x00, 0xAA})
		}
	}()

	awaitState(t, s, StateDisconnected)
	assert.False(t, s.Live(), "undecodable bytes must not keep the session live")
	assert.True(t, s.LastRecord().IsZero(), "no record was ever decoded")

	close(feed)
	feeder.Wait()
	cancel()
	<-done
}

func TestClientMergesSessions(t *testing.T) {
	stations := []config.Station{
		{Host: "a.test", Port: 2101, Mount: "M1"},
		{Host: "b.test", Port: 2101, Mount: "M2"},
	}
	c := NewClient(stations, func(id string) CorrectionDecoder {
		return &chunkDecoder{station: id}
	}, time.Second)

	assert.Equal(t, []string{"M1@a.test:2101", "M2@b.test:2101"}, c.Stations())
	assert.False(t, c.Live("M1@a.test:2101"))
	assert.Empty(t, c.LiveStations())
	assert.False(t, c.Live("unknown"))
}
