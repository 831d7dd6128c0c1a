// SPDX-License-Identifier: MIT

package sink

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/rtnav/rtnavd/internal/gnss"
	"github.com/rtnav/rtnavd/internal/log"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsSendBuffer   = 16
)

// wireOutcome is the JSON shape pushed to websocket clients.
type wireOutcome struct {
	Epoch   time.Time          `json:"epoch"`
	Fix     *gnss.PVTSolution  `json:"fix,omitempty"`
	Failure *gnss.SolveFailure `json:"failure,omitempty"`
}

// WSSink broadcasts outcomes to connected websocket clients. Slow clients
// are disconnected rather than allowed to stall the pipeline.
type WSSink struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewWSSink builds an empty broadcast hub.
func NewWSSink() *WSSink {
	return &WSSink{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  256,
			WriteBufferSize: 4096,
		},
		logger:  log.WithComponent("ws"),
		clients: make(map[*wsClient]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the client for the outcome
// feed.
func (s *WSSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str(log.FieldEvent, "ws.upgrade_failed").Msg("websocket upgrade failed")
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.logger.Info().Str(log.FieldEvent, "ws.connected").Int("clients", n).Msg("websocket client connected")

	go s.writeLoop(c)
	go s.readLoop(c)
}

func (s *WSSink) writeLoop(c *wsClient) {
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.drop(c)
			return
		}
	}
	_ = c.conn.Close()
}

// readLoop discards inbound frames; it exists to notice disconnects.
func (s *WSSink) readLoop(c *wsClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			s.drop(c)
			return
		}
	}
}

func (s *WSSink) drop(c *wsClient) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
	_ = c.conn.Close()
}

// Publish broadcasts one outcome to every connected client. A client whose
// send buffer is full is disconnected.
func (s *WSSink) Publish(_ context.Context, o gnss.Outcome) error {
	msg, err := json.Marshal(wireOutcome{
		Epoch:   o.Epoch.Time(),
		Fix:     o.Fix,
		Failure: o.Failure,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	var stale []*wsClient
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			stale = append(stale, c)
		}
	}
	s.mu.Unlock()

	for _, c := range stale {
		s.logger.Warn().Str(log.FieldEvent, "ws.client_stalled").Msg("dropping stalled websocket client")
		s.drop(c)
	}
	return nil
}

// Close disconnects all clients.
func (s *WSSink) Close() error {
	s.mu.Lock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		s.drop(c)
	}
	return nil
}
