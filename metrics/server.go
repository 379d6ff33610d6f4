package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the Prometheus metrics endpoint for deployments where the
// coordinator does not already serve one. The listener is bound by NewServer
// so callers can pass ":0" and read the chosen port from Addr.
type Server struct {
	server  *http.Server
	lis     net.Listener
	errChan chan error
}

// NewServer binds a metrics server on addr, for example ":9090".
func NewServer(addr string) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding metrics listener on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		server:  &http.Server{Handler: mux},
		lis:     lis,
		errChan: make(chan error, 1),
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.lis.Addr().String()
}

// Start serves in a goroutine. Returns immediately; check Err for serve
// failures. Use Shutdown to stop.
func (s *Server) Start() {
	go func() {
		if err := s.server.Serve(s.lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errChan <- err
		}
	}()
}

// Err returns any error from Serve. Non-blocking; nil if none occurred.
func (s *Server) Err() error {
	select {
	case err := <-s.errChan:
		return err
	default:
		return nil
	}
}

// Shutdown gracefully shuts down the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
