package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/reachd/internal/reachmgr"
	"github.com/dmdmdm-nz/reachd/pkg/reachability"
	"github.com/dmdmdm-nz/reachd/pkg/version"
)

const shutdownTimeout = 5 * time.Second

// Service represents the HTTP server for the API
type Service struct {
	address string
	port    int

	rm      ReachabilityService
	metrics http.Handler

	mu     sync.Mutex
	server *http.Server
	closed bool
}

func NewService(host string, port int) *Service {
	return &Service{
		address: host,
		port:    port,
	}
}

// AttachReachMgr wires the reachability service (must be called before Start).
func (s *Service) AttachReachMgr(rm ReachabilityService) {
	s.rm = rm
}

// AttachMetrics serves h on /metrics.
func (s *Service) AttachMetrics(h http.Handler) {
	s.metrics = h
}

// Addr is the host:port the server listens on.
func (s *Service) Addr() string {
	return net.JoinHostPort(s.address, strconv.Itoa(s.port))
}

// Start serves the API until ctx is done. A listen failure is returned.
func (s *Service) Start(ctx context.Context) error {
	if s.rm == nil {
		log.Error("AttachReachMgr was not called before Start")
		<-ctx.Done()
		return nil
	}

	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.server = srv
	s.mu.Unlock()

	log.Infof("Starting reachd API service at %s", ln.Addr())
	defer log.Info("Stopping reachd API service")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		s.shutdown()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.shutdown()
	return nil
}

func (s *Service) shutdown() {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("API server did not shut down cleanly")
		_ = srv.Close()
	}
}

// Handler returns the API routes.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, VersionInfo{
			Version:    version.Version,
			CommitHash: version.CommitHash,
			BuildTime:  version.BuildTime,
		})
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.rm.Snapshot())
	})
	mux.HandleFunc("GET /status/{target}", s.handleGetStatus)
	mux.HandleFunc("POST /targets/{target}", s.handleAddTarget)
	mux.HandleFunc("DELETE /targets/{target}", s.handleRemoveTarget)
	mux.HandleFunc("GET /ws/status", s.handleStatusStream)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// handleReady reports ready once every target has an observed status.
func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	for _, st := range s.rm.Snapshot() {
		if !st.Observed {
			writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("target %s has no status yet", st.Target))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Service) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	target := reachmgr.ParseKey(r.PathValue("target"))
	st, ok := s.rm.Get(target)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("target %s is not watched", target))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Service) handleAddTarget(w http.ResponseWriter, r *http.Request) {
	target := reachmgr.ParseKey(r.PathValue("target"))
	st, err := s.rm.AddTarget(target)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Service) handleRemoveTarget(w http.ResponseWriter, r *http.Request) {
	target := reachmgr.ParseKey(r.PathValue("target"))
	if err := s.rm.RemoveTarget(target); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, reachability.ErrInvalidTarget):
		return http.StatusBadRequest
	case errors.Is(err, reachmgr.ErrTargetExists):
		return http.StatusConflict
	case errors.Is(err, reachmgr.ErrTargetNotFound):
		return http.StatusNotFound
	case errors.Is(err, reachmgr.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}
