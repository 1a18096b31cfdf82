package server

import (
	"fmt"
	"slices"
)

// Message is a single entry in a room's ledger. Content never changes after
// the message is appended and seenBy only ever grows.
type Message struct {
	Id      string
	Sender  string
	Content string

	seenBy map[string]struct{}
	// fullySeen latches the first time every present member has seen the
	// message so the transition is only reported once.
	fullySeen bool
}

func NewMessage(id, sender, content string) Message {
	return Message{Id: id, Sender: sender, Content: content}
}

func (m *Message) FullySeen() bool {
	return m.fullySeen
}

// SeenBy returns the usernames that acknowledged the message, sorted.
func (m *Message) SeenBy() []string {
	names := make([]string, 0, len(m.seenBy))
	for name := range m.seenBy {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (m *Message) clone() Message {
	cp := *m
	cp.seenBy = make(map[string]struct{}, len(m.seenBy))
	for name := range m.seenBy {
		cp.seenBy[name] = struct{}{}
	}
	return cp
}

// evaluate latches fullySeen if seenBy covers present and reports whether
// this call flipped the latch.
func (m *Message) evaluate(present map[string]struct{}) bool {
	if m.fullySeen || len(present) == 0 {
		return false
	}
	for name := range present {
		if _, ok := m.seenBy[name]; !ok {
			return false
		}
	}
	m.fullySeen = true
	return true
}

// Ledger is the ordered record of messages sent in a room. It is not safe
// for concurrent use; the owning Room serializes access.
type Ledger struct {
	order    []string
	messages map[string]*Message
}

func NewLedger() *Ledger {
	return &Ledger{messages: make(map[string]*Message)}
}

func (l *Ledger) Append(msg Message) error {
	if _, ok := l.messages[msg.Id]; ok {
		return fmt.Errorf("append %q: %w", msg.Id, ErrDuplicateMessageID)
	}

	msg.seenBy = make(map[string]struct{})
	msg.fullySeen = false
	l.messages[msg.Id] = &msg
	l.order = append(l.order, msg.Id)
	return nil
}

func (l *Ledger) Get(id string) (*Message, bool) {
	m, ok := l.messages[id]
	return m, ok
}

// Messages returns the ledger entries in the order they were appended.
func (l *Ledger) Messages() []*Message {
	msgs := make([]*Message, 0, len(l.order))
	for _, id := range l.order {
		msgs = append(msgs, l.messages[id])
	}
	return msgs
}

// MarkSeen records that username saw the message and re-evaluates it
// against the usernames currently present in the room.
func (l *Ledger) MarkSeen(id, username string, present map[string]struct{}) (bool, error) {
	m, ok := l.messages[id]
	if !ok {
		return false, fmt.Errorf("mark seen %q: %w", id, ErrMessageNotFound)
	}

	m.seenBy[username] = struct{}{}
	return m.evaluate(present), nil
}

// Reevaluate checks every message that has not yet been reported fully
// seen and returns, in ledger order, the ids that just became fully seen.
func (l *Ledger) Reevaluate(present map[string]struct{}) []string {
	var ids []string
	for _, id := range l.order {
		if l.messages[id].evaluate(present) {
			ids = append(ids, id)
		}
	}
	return ids
}
