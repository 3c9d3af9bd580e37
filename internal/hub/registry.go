package hub

import (
	"errors"
	"slices"
	"sync"
)

// ErrAlreadyJoined is returned when a session is joined twice.
var ErrAlreadyJoined = errors.New("session already joined")

type member struct {
	session *Session
	seq     uint64
}

// Registry is the set of live sessions, keyed by session id.
//
// Join, Leave and AssignColor are mutually exclusive with each other and with
// the copy step of Snapshot. The registry references sessions but does not own
// them: closing a session is its connection handler's job.
type Registry struct {
	mu        sync.RWMutex
	members   map[string]member
	seq       uint64
	palette   []string
	nextColor int
}

// NewRegistry returns an empty registry handing out colors from palette in order.
func NewRegistry(palette []string) *Registry {
	return &Registry{
		members: make(map[string]member),
		palette: slices.Clone(palette),
	}
}

// Join registers s and marks it alive. The returned handle is the session id.
func (r *Registry) Join(s *Session) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[s.ID()]; ok {
		return "", ErrAlreadyJoined
	}

	r.seq++
	r.members[s.ID()] = member{session: s, seq: r.seq}
	s.setAlive(true)
	return s.ID(), nil
}

// Leave removes the session with the given handle and marks it dead.
// Once Leave returns, no Deliver to that session succeeds.
// It reports whether the session was registered.
func (r *Registry) Leave(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[handle]
	if !ok {
		return false
	}
	delete(r.members, handle)
	m.session.setAlive(false)
	return true
}

// Lookup returns the session registered under handle.
func (r *Registry) Lookup(handle string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.members[handle]
	return m.session, ok
}

// Snapshot returns the registered sessions in join order. The slice is a copy
// and may be iterated without holding any lock.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	members := make([]member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	r.mu.RUnlock()

	slices.SortFunc(members, func(a, b member) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	sessions := make([]*Session, len(members))
	for i, m := range members {
		sessions[i] = m.session
	}
	return sessions
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// AssignColor picks the next palette color round-robin. Colors repeat once the
// palette is exhausted; they are cosmetic, never an identity.
func (r *Registry) AssignColor() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.palette) == 0 {
		return ""
	}
	c := r.palette[r.nextColor%len(r.palette)]
	r.nextColor++
	return c
}
