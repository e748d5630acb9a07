package session

import (
	"sync"
	"time"

	"github.com/streamware/interactd/pkg/source"
)

// Timer-handle key suffixes. For every live session there is at most one
// pending warning timer and one pending expiration timer.
const (
	timerWarning    = ":warning"
	timerExpiration = ":expiration"
)

// registry holds the three parallel maps keyed by session ID: sessions,
// event-source handles, and timer handles. It is owned exclusively by the
// manager; mutation happens only inside the lock table's exclusive sections
// or the cleanup orchestrator. No method performs I/O or blocks beyond its
// own mutex.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	sources  map[string]source.Source
	timers   map[string]*time.Timer
}

func newRegistry() *registry {
	return &registry{
		sessions: make(map[string]*Session),
		sources:  make(map[string]source.Source),
		timers:   make(map[string]*time.Timer),
	}
}

// insert registers a new session.
func (r *registry) insert(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// lookup returns the live session for id.
func (r *registry) lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// setSource records the event-source handle for id.
func (r *registry) setSource(id string, src source.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[id] = src
}

// getSource returns the event-source handle for id.
func (r *registry) getSource(id string) (source.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[id]
	return src, ok
}

// setTimer records a pending timer handle under id+kind.
func (r *registry) setTimer(id, kind string, t *time.Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timers[id+kind] = t
}

// remove deletes the session, its source handle, and both timer entries,
// returning the removed timers so the caller can cancel them.
func (r *registry) remove(id string) []*time.Timer {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
	delete(r.sources, id)

	var timers []*time.Timer
	for _, key := range []string{id + timerWarning, id + timerExpiration} {
		if t, ok := r.timers[key]; ok {
			timers = append(timers, t)
			delete(r.timers, key)
		}
	}
	return timers
}

// count returns the number of live sessions, regardless of state.
func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ids returns the IDs of all live sessions.
func (r *registry) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}

// ownerIDs returns the IDs of all live sessions belonging to owner.
func (r *registry) ownerIDs(owner string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for id, s := range r.sessions {
		if s.Owner == owner {
			out = append(out, id)
		}
	}
	return out
}
