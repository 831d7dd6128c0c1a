// SPDX-License-Identifier: MIT

// Package api serves the daemon's operational HTTP surface: health and
// readiness probes, Prometheus metrics and the websocket outcome feed.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rtnav/rtnavd/internal/health"
	"github.com/rtnav/rtnavd/internal/log"
)

const shutdownGrace = 5 * time.Second

// Server wraps the HTTP listener.
type Server struct {
	srv *http.Server
}

// New builds the router. ws may be nil when the websocket feed is disabled.
func New(addr string, hm *health.Manager, ws http.Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, hm.Health(req.Context()))
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ready, resp := hm.Ready(req.Context())
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	})

	r.Handle("/metrics", promhttp.Handler())

	if ws != nil {
		r.Handle("/ws", ws)
	}

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	logger := log.WithComponent("api")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()

	logger.Info().
		Str(log.FieldEvent, "api.listening").
		Str("addr", s.srv.Addr).
		Msg("http surface listening")

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		<-errCh
		return ctx.Err()
	}
}
