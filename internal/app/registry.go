package app

import (
	"sync"

	"github.com/dkeye/PoseSync/internal/core"
	"github.com/dkeye/PoseSync/internal/domain"
	"github.com/rs/zerolog/log"
)

// Binding is the (session, user) identity a connection claimed by joining.
type Binding struct {
	Session domain.SessionID
	User    domain.UserID
}

// Registry maps live connections to their bindings. It is the single source
// of truth for who a connection speaks as.
type Registry struct {
	mu       sync.RWMutex
	bindings map[core.ConnID]Binding
}

func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[core.ConnID]Binding),
	}
}

// Bind records b for conn, overwriting any previous binding without touching
// the session that binding pointed at.
func (r *Registry) Bind(conn core.ConnID, b Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.bindings[conn]; ok && prev != b {
		log.Warn().Str("module", "app.registry").Str("conn", string(conn)).
			Str("prev_session", string(prev.Session)).Str("prev_user", string(prev.User)).
			Msg("overwriting binding")
	}
	r.bindings[conn] = b
	log.Debug().Str("module", "app.registry").Str("conn", string(conn)).
		Str("session", string(b.Session)).Str("user", string(b.User)).Msg("bound connection")
}

// Unbind clears and returns the binding for conn. Only the first call after a
// Bind reports ok; this is what deduplicates racing disconnects.
func (r *Registry) Unbind(conn core.ConnID) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[conn]
	if !ok {
		return Binding{}, false
	}
	delete(r.bindings, conn)
	log.Debug().Str("module", "app.registry").Str("conn", string(conn)).Msg("unbound connection")
	return b, true
}

func (r *Registry) Lookup(conn core.ConnID) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[conn]
	return b, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}
