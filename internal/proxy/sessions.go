package proxy

import (
	"sync"
	"time"
)

// SessionInfo describes one in-flight client<->backend bridge, as surfaced
// by the admin server's /conns endpoint.
type SessionInfo struct {
	ID        string    `json:"id"`
	Client    string    `json:"client"`
	Host      string    `json:"host"`
	Upstream  string    `json:"upstream"`
	StartedAt time.Time `json:"started_at"`
}

// SessionRegistry tracks the set of currently-bridging connections.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]SessionInfo
}

// NewSessionRegistry returns an empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: map[string]SessionInfo{}}
}

// Add registers a session, keyed by info.ID. A second Add with the same ID
// overwrites the prior entry.
func (r *SessionRegistry) Add(info SessionInfo) {
	r.mu.Lock()
	r.sessions[info.ID] = info
	r.mu.Unlock()
}

// Remove drops the session registered under id. Removing an unregistered id
// is a no-op.
func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Count returns the number of currently registered sessions.
func (r *SessionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot returns every registered session in no particular order.
func (r *SessionRegistry) Snapshot() []SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, v := range r.sessions {
		out = append(out, v)
	}
	return out
}
