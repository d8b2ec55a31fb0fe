package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/dbgsync/internal/logflags"
	"github.com/dshills/dbgsync/internal/metrics"
)

// metricsServer serves the engine's collectors at /metrics.
type metricsServer struct {
	srv *http.Server
	ln  net.Listener
}

func serveMetrics(addr string, m *metrics.Metrics) (*metricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	s := &metricsServer{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logflags.ServiceLogger().WithError(err).Warn("metrics server stopped")
		}
	}()
	return s, nil
}

// Addr returns the address the server listens on.
func (s *metricsServer) Addr() string { return s.ln.Addr().String() }

func (s *metricsServer) Close(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
