package ws

import (
	"sync"

	"marketchat/internal/observability"

	"go.uber.org/zap"
)

// Registry is the process-local map from participant identity to its single
// live session. At most one entry per identity: a new registration supersedes
// any prior one, and the superseded connection is force-closed so two
// physical connections never silently coexist for one identity.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.sessions[s.Identity]; ok && old.ID != s.ID {
		observability.Log.Info("registry: replacing existing connection",
			zap.String("identity", s.Identity),
			zap.String("old_sid", old.ID), zap.String("new_sid", s.ID))
		// Safe while holding the lock: CloseWithReason never touches the
		// registry itself; the old session's read loop will call Remove
		// later, which the session-ID guard below turns into a no-op.
		old.CloseWithReason(4000, "session_replaced")
	}

	r.sessions[s.Identity] = s
}

// Remove is idempotent. It only deletes the entry if it still points at this
// exact session, so a late Remove from a replaced connection cannot evict the
// connection that superseded it.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[s.Identity]; ok && current.ID == s.ID {
		delete(r.sessions, s.Identity)
	}
}

// Lookup is a pure read; nil means the identity has no live connection here.
func (r *Registry) Lookup(identity string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[identity]
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		s.Close()
	}
}
