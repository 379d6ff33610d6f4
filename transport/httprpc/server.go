package httprpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	pipeline "github.com/gdevenyi/pydpiper"
	"github.com/gdevenyi/pydpiper/transport"
)

// Server exposes a transport.Client implementation (normally the
// coordinator) over HTTP for remote workers.
type Server struct {
	svc     transport.Client
	server  *http.Server
	lis     net.Listener
	errChan chan error
}

// NewServer creates a server for the given service on addr, for example
// ":8034". The listener is bound immediately so Addr is usable before Start.
func NewServer(svc transport.Client, addr string) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		svc:     svc,
		lis:     lis,
		errChan: make(chan error, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /pull", s.handlePull)
	mux.HandleFunc("POST /report", s.handleReport)
	mux.HandleFunc("POST /unregister", s.handleUnregister)

	s.server = &http.Server{Handler: mux}
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.lis.Addr().String()
}

// Start serves in a goroutine. Returns immediately; check Err for startup
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

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.svc.Register(r.Context(), req.Capacity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, registerResponse{WorkerID: id})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if !decode(w, r, &req) {
		return
	}
	ack, err := s.svc.Heartbeat(r.Context(), req.WorkerID, req.Running)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, heartbeatResponse{Drain: ack.Drain})
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	var req pullRequest
	if !decode(w, r, &req) {
		return
	}
	assignment, err := s.svc.Pull(r.Context(), req.WorkerID, req.Free)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, pullResponse{
		Command: assignment.Command,
		Stage:   toWireStage(assignment.Stage),
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.svc.Report(r.Context(), req.WorkerID, req.Ordinal, req.Outcome); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	var req unregisterRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.svc.Unregister(r.Context(), req.WorkerID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrUnknownWorker):
		status = http.StatusGone
	case errors.Is(err, pipeline.ErrNotDispatching):
		status = http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrStageNotFound):
		status = http.StatusNotFound
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}
