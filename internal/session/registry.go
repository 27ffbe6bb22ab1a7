package session

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/domain"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/graph"
)

// Registry owns every live session. A background janitor evicts
// sessions idle past the TTL, except while a task cycle is running.
type Registry struct {
	graph      *graph.Graph
	buffer     int
	ttl        time.Duration
	interval   time.Duration
	mu         sync.RWMutex
	sessions   map[string]*Session
	stop       chan struct{}
	janitorRun sync.Once
	closeOnce  sync.Once
}

// NewRegistry creates a registry whose sessions use g as their stage
// graph and buffer as the per-subscriber event buffer size.
func NewRegistry(g *graph.Graph, buffer int, ttl, interval time.Duration) *Registry {
	return &Registry{
		graph:    g,
		buffer:   buffer,
		ttl:      ttl,
		interval: interval,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
}

// Create registers a new session and returns it. overrides may be nil;
// when given, they replace the configured models for this session only.
func (r *Registry) Create(overrides map[domain.Role]domain.ModelOverride) *Session {
	id := "sess_" + uuid.New().String()[:8]
	s := newSession(id, r.graph, r.buffer, overrides)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	log.Printf("INFO: session created: %s", id)
	return s
}

// Get returns the session with the given id, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Evict removes and closes a session. Returns false when no session
// with that id exists.
func (r *Registry) Evict(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.Close()
	log.Printf("INFO: session evicted: %s", id)
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StartJanitor launches the background sweep. Safe to call once.
func (r *Registry) StartJanitor() {
	r.janitorRun.Do(func() {
		go r.janitor()
	})
}

func (r *Registry) janitor() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep closes idle sessions. The idle and activity checks live inside
// closeIfIdle under the session lock, so a cycle started while the
// sweep is running is never torn down.
func (r *Registry) sweep() {
	r.mu.RLock()
	candidates := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		candidates = append(candidates, s)
	}
	r.mu.RUnlock()

	for _, s := range candidates {
		if !s.closeIfIdle(r.ttl) {
			continue
		}
		r.mu.Lock()
		delete(r.sessions, s.ID())
		r.mu.Unlock()
		log.Printf("INFO: session expired after idle timeout: %s", s.ID())
	}
}

// Close stops the janitor and closes every session.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.stop)
		r.mu.Lock()
		sessions := make([]*Session, 0, len(r.sessions))
		for _, s := range r.sessions {
			sessions = append(sessions, s)
		}
		r.sessions = make(map[string]*Session)
		r.mu.Unlock()

		for _, s := range sessions {
			s.Close()
		}
	})
}
