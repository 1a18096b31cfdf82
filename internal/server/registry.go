package server

import (
	"fmt"
	"sync"
)

// Session is the per-connection state tracked by the hub. RoomId and
// Username are empty until the connection joins or creates a room.
type Session struct {
	Conn     Conn
	RoomId   string
	Username string
}

// InRoom reports whether the session is currently a member of a room.
func (s Session) InRoom() bool {
	return s.RoomId != ""
}

// Registry maps live connections to their sessions.
type Registry struct {
	sessions map[Conn]*Session
	lock     sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[Conn]*Session),
	}
}

// Register creates an empty session for c and reports whether it did.
// Registering a connection twice leaves the existing session untouched.
func (r *Registry) Register(c Conn) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.sessions[c]; ok {
		return false
	}
	r.sessions[c] = &Session{Conn: c}
	return true
}

// Lookup returns a copy of the session for c.
func (r *Registry) Lookup(c Conn) (Session, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	s, ok := r.sessions[c]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (r *Registry) SetMembership(c Conn, roomId, username string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	s, ok := r.sessions[c]
	if !ok {
		return fmt.Errorf("set membership for %q: %w", c.ID(), ErrNotRegistered)
	}
	s.RoomId = roomId
	s.Username = username
	return nil
}

// ClearMembership resets the room and username of c's session.
func (r *Registry) ClearMembership(c Conn) error {
	return r.SetMembership(c, "", "")
}

// Unregister removes c and returns its final session.
func (r *Registry) Unregister(c Conn) (Session, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	s, ok := r.sessions[c]
	if !ok {
		return Session{}, fmt.Errorf("unregister %q: %w", c.ID(), ErrNotRegistered)
	}
	delete(r.sessions, c)
	return *s, nil
}

func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.sessions)
}

// Conns returns a snapshot of every registered connection.
func (r *Registry) Conns() []Conn {
	r.lock.RLock()
	defer r.lock.RUnlock()

	conns := make([]Conn, 0, len(r.sessions))
	for c := range r.sessions {
		conns = append(conns, c)
	}
	return conns
}
