// Package server exposes the coordinator's view over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/flowbike/ebike-monitor/internal/coordinator"
	"github.com/flowbike/ebike-monitor/internal/log"
)

const shutdownTimeout = 5 * time.Second

// Source is the read side of a coordinator.
type Source interface {
	Snapshot() coordinator.Snapshot
	State() coordinator.State
}

type route struct {
	Methods     []string
	Pattern     string
	HandlerFunc http.HandlerFunc
}

// Server serves the status API, a health check and optionally metrics.
type Server struct {
	server *http.Server
	source Source
	log    log.Logger
}

// New builds the router. metrics may be nil.
func New(addr string, source Source, metrics http.Handler, logger log.Logger) *Server {
	s := &Server{
		source: source,
		log:    log.OrNop(logger).WithName("http"),
	}

	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	if metrics != nil {
		router.Handle("/metrics", metrics).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.Use(jsonHandler)

	routes := map[string]route{
		"reading": {[]string{http.MethodGet}, "/reading", s.readingHandler},
		"status":  {[]string{http.MethodGet}, "/status", s.statusHandler},
	}
	for _, r := range routes {
		api.Methods(r.Methods...).Path(r.Pattern).Handler(r.HandlerFunc)
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the root router.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info("starting HTTP server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func jsonHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// healthHandler reports 200 only while the last cycle succeeded.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !s.source.Snapshot().LastUpdateSuccess {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) readingHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.source.Snapshot()
	if snap.Reading == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no reading yet"})
		return
	}
	s.writeJSON(w, http.StatusOK, snap.Reading)
}

type status struct {
	BikeID            string     `json:"bike_id"`
	BikeName          string     `json:"bike_name"`
	State             string     `json:"state"`
	LastUpdateSuccess bool       `json:"last_update_success"`
	LastSuccess       *time.Time `json:"last_success"`
	LastAttempt       *time.Time `json:"last_attempt"`
	LiveDataAvailable bool       `json:"live_data_available"`
	Error             string     `json:"error,omitempty"`
	ErrorKind         string     `json:"error_kind,omitempty"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.source.Snapshot()
	st := status{
		BikeID:            snap.BikeID,
		BikeName:          snap.BikeName,
		State:             s.source.State().String(),
		LastUpdateSuccess: snap.LastUpdateSuccess,
		LastSuccess:       timeOrNil(snap.LastSuccess),
		LastAttempt:       timeOrNil(snap.LastAttempt),
		ErrorKind:         string(coordinator.KindOf(snap.Err)),
	}
	if snap.Reading != nil {
		st.LiveDataAvailable = snap.Reading.LiveDataAvailable
	}
	if snap.Err != nil {
		st.Error = snap.Err.Error()
	}
	s.writeJSON(w, http.StatusOK, st)
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error(err, "failed to encode response")
	}
}
