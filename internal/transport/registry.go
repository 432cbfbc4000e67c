package transport

import (
	"sort"
	"sync"

	"github.com/golang/glog"

	"github.com/danieljhkim/deltaserve/internal/engine"
)

// Registry tracks the sessions currently connected.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*engine.Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*engine.Session)}
}

// SessionStarted adds s.
func (r *Registry) SessionStarted(s *engine.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.ID.String()] = s
	glog.V(1).Infof("registry: added session %s (%d active)", s.ID, len(r.sessions))
}

// SessionEnded removes s.
func (r *Registry) SessionEnded(s *engine.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, s.ID.String())
	glog.V(1).Infof("registry: removed session %s (%d active)", s.ID, len(r.sessions))
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot describes every active session, oldest first.
func (r *Registry) Snapshot() []engine.SessionInfo {
	r.mu.RLock()
	infos := make([]engine.SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.Info())
	}
	r.mu.RUnlock()

	// ULIDs sort by creation time.
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos
}
