// SPDX-License-Identifier: MIT

package ntrip

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rtnav/rtnavd/internal/config"
	"github.com/rtnav/rtnavd/internal/gnss"
)

const (
	recordBuffer = 64
	eventBuffer  = 16
)

// Client owns one session per configured reference station. Sessions run
// independently: a drop or terminal failure of one never affects another.
type Client struct {
	sessions map[string]*Session
	order    []string
	records  chan gnss.CorrectionRecord
	events   chan Event
}

// NewClient builds the per-station sessions. factory provides each session
// with its own correction decoder.
func NewClient(stations []config.Station, factory DecoderFactory, livenessWindow time.Duration) *Client {
	c := &Client{
		sessions: make(map[string]*Session, len(stations)),
		records:  make(chan gnss.CorrectionRecord, recordBuffer),
		events:   make(chan Event, eventBuffer),
	}
	for _, st := range stations {
		id := st.ID()
		c.sessions[id] = NewSession(st, factory(id), c.records, c.events, livenessWindow)
		c.order = append(c.order, id)
	}
	return c
}

// Records returns the merged correction stream of all sessions.
func (c *Client) Records() <-chan gnss.CorrectionRecord { return c.records }

// Events returns session state-change notifications.
func (c *Client) Events() <-chan Event { return c.events }

// Live reports whether the named session currently delivers data. Unknown
// stations are never live.
func (c *Client) Live(stationID string) bool {
	s, ok := c.sessions[stationID]
	return ok && s.Live()
}

// LiveStations returns the stations whose sessions are currently live, in
// configuration order.
func (c *Client) LiveStations() []string {
	var out []string
	for _, id := range c.order {
		if c.sessions[id].Live() {
			out = append(out, id)
		}
	}
	return out
}

// Stations returns all configured station identifiers in configuration
// order.
func (c *Client) Stations() []string {
	return append([]string(nil), c.order...)
}

// Session returns the session for a station, for health reporting.
func (c *Client) Session(stationID string) (*Session, bool) {
	s, ok := c.sessions[stationID]
	return s, ok
}

// Run drives all sessions until ctx is cancelled, then closes the record
// and event channels.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range c.order {
		s := c.sessions[id]
		g.Go(func() error {
			// Session errors are surfaced via state, logs and metrics;
			// they must not tear down sibling sessions.
			_ = s.Run(ctx)
			return nil
		})
	}
	err := g.Wait()
	close(c.records)
	close(c.events)
	return err
}
