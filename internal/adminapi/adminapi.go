// Package adminapi implements a peripheral HTTP surface over one or more
// queues: an admin server that reads size/debug state and exposes metrics,
// kept deliberately outside the queue library's own contract.
package adminapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Queue is the view a registered queue must provide to the admin surface.
type Queue interface {
	Size() int
	ToDebug() string
}

// Server serves GET /queues/{name}/size, GET /queues/{name}/debug, and
// GET /metrics (Prometheus exposition).
type Server struct {
	log    *zap.Logger
	router *mux.Router

	mu     sync.RWMutex
	queues map[string]Queue
}

func New(log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		log:    log,
		queues: map[string]Queue{},
	}
	s.router = mux.NewRouter()
	s.router.Use(s.correlationMiddleware)
	s.router.HandleFunc("/queues/{name}/size", s.handleSize).Methods(http.MethodGet)
	s.router.HandleFunc("/queues/{name}/debug", s.handleDebug).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return s
}

// Register makes name's Size/ToDebug reachable over HTTP. Calling it again
// for an already-registered name replaces the registration.
func (s *Server) Register(name string, q Queue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[name] = q
}

// Unregister removes name from the admin surface.
func (s *Server) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queues, name)
}

func (s *Server) lookup(name string) (Queue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queues[name]
	return q, ok
}

// ServeHTTP makes Server itself usable directly as an http.Handler, e.g.
// with http.Server{Handler: server}.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get("X-Correlation-Id")
		if cid == "" {
			cid = uuid.NewString()
		}
		w.Header().Set("X-Correlation-Id", cid)
		s.log.Debug("admin request",
			zap.String("correlationID", cid),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleSize(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	q, ok := s.lookup(name)
	if !ok {
		http.Error(w, "unknown queue", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"name": name, "size": q.Size()})
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	q, ok := s.lookup(name)
	if !ok {
		http.Error(w, "unknown queue", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"name": name, "debug": q.ToDebug()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
