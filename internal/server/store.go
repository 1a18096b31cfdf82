package server

import (
	"fmt"
	"slices"
	"sync"
)

// Room is a named group of connections sharing a broadcast scope and a
// message ledger. All fields are guarded by lock.
type Room struct {
	id      string
	members map[Conn]string
	ledger  *Ledger
	lock    sync.Mutex
	// closed is set when the last member leaves and the room is removed
	// from the store. Holders of a stale *Room must check it.
	closed bool
}

func newRoom(id string) *Room {
	return &Room{
		id:      id,
		members: make(map[Conn]string),
		ledger:  NewLedger(),
	}
}

func (r *Room) Id() string {
	return r.id
}

// Members returns a snapshot of the room's connections.
func (r *Room) Members() []Conn {
	r.lock.Lock()
	defer r.lock.Unlock()

	conns := make([]Conn, 0, len(r.members))
	for c := range r.members {
		conns = append(conns, c)
	}
	return conns
}

// Usernames returns the sorted, de-duplicated usernames of current members.
func (r *Room) Usernames() []string {
	r.lock.Lock()
	defer r.lock.Unlock()

	names := make([]string, 0, len(r.members))
	for name := range r.present() {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Room) HasMember(c Conn) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	_, ok := r.members[c]
	return ok
}

// Message returns a copy of the ledger entry for id.
func (r *Room) Message(id string) (Message, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	m, ok := r.ledger.Get(id)
	if !ok {
		return Message{}, false
	}
	return m.clone(), true
}

// History returns copies of the room's messages in the order they were sent.
func (r *Room) History() []Message {
	r.lock.Lock()
	defer r.lock.Unlock()

	msgs := r.ledger.Messages()
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.clone())
	}
	return out
}

// present must be called with lock held.
func (r *Room) present() map[string]struct{} {
	names := make(map[string]struct{}, len(r.members))
	for _, name := range r.members {
		names[name] = struct{}{}
	}
	return names
}

// RemoveResult describes the outcome of RoomStore.RemoveMember.
type RemoveResult struct {
	Room        *Room
	Removed     bool
	RoomDeleted bool
	// FullySeen lists messages that became fully seen because the removed
	// member was the last one who had not seen them.
	FullySeen []string
}

// RoomStore maps room ids to rooms. The lock order is store, then room.
type RoomStore struct {
	rooms map[string]*Room
	lock  sync.RWMutex
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*Room),
	}
}

// CreateRoom creates roomId with founder as its first member. The room is
// never visible without a member.
func (s *RoomStore) CreateRoom(roomId string, founder Conn, username string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.rooms[roomId]; ok {
		return fmt.Errorf("create room %q: %w", roomId, ErrRoomAlreadyExists)
	}

	r := newRoom(roomId)
	r.members[founder] = username
	s.rooms[roomId] = r
	return nil
}

func (s *RoomStore) GetRoom(roomId string) (*Room, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	r, ok := s.rooms[roomId]
	return r, ok
}

// AddMember adds c to the room under username. Adding an existing member
// only refreshes its username; if that drops the member's old name from
// the room, the ids of messages that became fully seen are returned.
func (s *RoomStore) AddMember(roomId string, c Conn, username string) ([]string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	r, ok := s.rooms[roomId]
	if !ok {
		return nil, fmt.Errorf("add member to %q: %w", roomId, ErrRoomNotFound)
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	if r.closed {
		return nil, fmt.Errorf("add member to %q: %w", roomId, ErrRoomNotFound)
	}

	prev, existed := r.members[c]
	r.members[c] = username
	if !existed || prev == username {
		return nil, nil
	}
	return r.ledger.Reevaluate(r.present()), nil
}

// RemoveMember removes c from the room, deleting the room when it becomes
// empty. It never fails: removing a non-member or from an unknown room is
// a no-op.
func (s *RoomStore) RemoveMember(roomId string, c Conn) RemoveResult {
	s.lock.Lock()
	defer s.lock.Unlock()

	r, ok := s.rooms[roomId]
	if !ok {
		return RemoveResult{}
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.members[c]; !ok {
		return RemoveResult{}
	}
	delete(r.members, c)

	if len(r.members) == 0 {
		r.closed = true
		delete(s.rooms, roomId)
		return RemoveResult{Room: r, Removed: true, RoomDeleted: true}
	}

	return RemoveResult{
		Room:      r,
		Removed:   true,
		FullySeen: r.ledger.Reevaluate(r.present()),
	}
}

func (s *RoomStore) AppendMessage(roomId string, msg Message) error {
	r, err := s.lockedRoom(roomId)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	defer r.lock.Unlock()

	return r.ledger.Append(msg)
}

// MarkSeen records that username saw messageId and reports whether the
// message just became fully seen.
func (s *RoomStore) MarkSeen(roomId, messageId, username string) (bool, error) {
	r, err := s.lockedRoom(roomId)
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}
	defer r.lock.Unlock()

	return r.ledger.MarkSeen(messageId, username, r.present())
}

func (s *RoomStore) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.rooms)
}

// Ids returns the sorted ids of all live rooms.
func (s *RoomStore) Ids() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()

	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// lockedRoom returns the open room with its lock held.
func (s *RoomStore) lockedRoom(roomId string) (*Room, error) {
	r, ok := s.GetRoom(roomId)
	if !ok {
		return nil, fmt.Errorf("room %q: %w", roomId, ErrRoomNotFound)
	}

	r.lock.Lock()
	if r.closed {
		r.lock.Unlock()
		return nil, fmt.Errorf("room %q: %w", roomId, ErrRoomNotFound)
	}
	return r, nil
}
