package server

import (
	"sync"
	"testing"

	"github.com/npezzotti/go-roomrelay/internal/stats"
	"github.com/npezzotti/go-roomrelay/internal/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// testConn is an in-memory Conn that records every event queued to it.
type testConn struct {
	id     string
	lock   sync.Mutex
	msgs   []*ServerMessage
	reject bool
	closed bool
}

func newTestConn(id string) *testConn {
	return &testConn{id: id}
}

func (c *testConn) ID() string {
	return c.id
}

func (c *testConn) Send(msg *ServerMessage) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.reject {
		return false
	}
	c.msgs = append(c.msgs, msg)
	return true
}

func (c *testConn) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.closed = true
}

func (c *testConn) isClosed() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.closed
}

// drain returns and clears the recorded events.
func (c *testConn) drain() []*ServerMessage {
	c.lock.Lock()
	defer c.lock.Unlock()

	msgs := c.msgs
	c.msgs = nil
	return msgs
}

// ofType returns the recorded events of type t without clearing them.
func (c *testConn) ofType(t EventType) []*ServerMessage {
	c.lock.Lock()
	defer c.lock.Unlock()

	var out []*ServerMessage
	for _, m := range c.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func newMockStats() *stats.MockStatsUpdater {
	m := &stats.MockStatsUpdater{}
	m.On("RegisterMetric", mock.Anything).Return()
	m.On("Incr", mock.Anything).Return()
	m.On("Decr", mock.Anything).Return()
	return m
}

func newTestChatServer(t *testing.T) *ChatServer {
	return NewChatServer(testutil.TestLogger(t), newMockStats())
}

// connect registers a fresh testConn with cs.
func connect(cs *ChatServer, id string) *testConn {
	c := newTestConn(id)
	cs.Register(c)
	return c
}

func send(cs *ChatServer, c Conn, raw string) {
	cs.HandleFrame(c, []byte(raw))
}

func mustAddMember(t *testing.T, s *RoomStore, roomId string, c Conn, username string) []string {
	t.Helper()
	ids, err := s.AddMember(roomId, c, username)
	require.NoError(t, err)
	return ids
}
