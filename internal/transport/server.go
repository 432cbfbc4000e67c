package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/danieljhkim/deltaserve/internal/engine"
	"github.com/danieljhkim/deltaserve/internal/repo"
)

// Routes.
const (
	SessionPath = "/svn"
	StatusPath  = "/status"
)

// Options tune connection handling.
type Options struct {
	// ReadTimeout closes sessions that stay silent longer; zero disables it
	ReadTimeout time.Duration

	// WriteTimeout bounds each message write; zero disables it
	WriteTimeout time.Duration
}

// Status is the body served on StatusPath.
type Status struct {
	Youngest int64                `json:"youngest"`
	Sessions []engine.SessionInfo `json:"sessions"`
}

// Server routes HTTP requests: websocket upgrades on SessionPath become
// engine sessions, and StatusPath reports the repository and sessions.
type Server struct {
	engine   *engine.Engine
	repo     repo.Repository
	registry *Registry
	opts     Options
	upgrader websocket.Upgrader
	router   *mux.Router
}

// NewServer creates a Server and registers its session registry with e.
func NewServer(e *engine.Engine, r repo.Repository, opts Options) *Server {
	s := &Server{
		engine:   e,
		repo:     r,
		registry: NewRegistry(),
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		router: mux.NewRouter(),
	}
	e.WithObserver(s.registry)

	s.router.HandleFunc(SessionPath, s.handleSession).Methods(http.MethodGet)
	s.router.HandleFunc(StatusPath, s.handleStatus).Methods(http.MethodGet)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Registry returns the active session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		glog.V(1).Infof("transport: upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	conn := NewConn(ws, s.opts.ReadTimeout, s.opts.WriteTimeout)
	defer conn.Close()

	glog.V(1).Infof("transport: session connection from %s", r.RemoteAddr)
	if err := s.engine.Serve(r.Context(), conn); err != nil {
		glog.Infof("transport: session from %s ended: %v", r.RemoteAddr, err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	youngest, err := s.repo.Youngest(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(Status{Youngest: youngest, Sessions: s.registry.Snapshot()}); err != nil {
		glog.Warningf("transport: failed to write status: %v", err)
	}
}
