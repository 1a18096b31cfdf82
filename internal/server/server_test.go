package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-roomrelay/internal/config"
	"github.com/npezzotti/go-roomrelay/internal/stats"
	"github.com/npezzotti/go-roomrelay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// newTestWsServer serves cs over a real websocket endpoint.
func newTestWsServer(t *testing.T, cs *ChatServer) *httptest.Server {
	cfg := config.DefaultWebSocketConfig()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		if err := cs.ServeClient(NewClient(conn, cs, cs.log, cfg)); err != nil {
			conn.Close()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "expected dial to succeed")
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) *ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg), "expected an event")
	return &msg
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func TestNewChatServer(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", mock.Anything).Return().Times(4)

	logger := testutil.TestLogger(t)
	cs := NewChatServer(logger, su)
	assert.NotNil(t, cs, "expected ChatServer to be non-nil")
	assert.NotNil(t, cs.registry, "expected registry to be initialized")
	assert.NotNil(t, cs.rooms, "expected room store to be initialized")
	assert.Empty(t, cs.Rooms())
}

func TestChatServer_Register(t *testing.T) {
	su := newMockStats()
	cs := NewChatServer(testutil.TestLogger(t), su)
	c := newTestConn("c1")

	cs.Register(c)
	cs.Register(c)

	su.AssertNumberOfCalls(t, "Incr", 1)
	_, ok := cs.Session(c)
	assert.True(t, ok)

	cs.Teardown(c)
	su.AssertNumberOfCalls(t, "Decr", 1)
}

func TestChatServer_RegisterConcurrent(t *testing.T) {
	su := newMockStats()
	cs := NewChatServer(testutil.TestLogger(t), su)
	c := newTestConn("c1")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cs.Register(c)
		}()
	}
	wg.Wait()

	su.AssertNumberOfCalls(t, "Incr", 1)
	assert.Equal(t, 1, cs.registry.Len())
}

func TestChatServerShutdown_Integration(t *testing.T) {
	t.Run("closes connections and tears down rooms", func(t *testing.T) {
		cs := newTestChatServer(t)
		srv := newTestWsServer(t, cs)

		alice := dial(t, srv)
		writeFrame(t, alice, `{"action":"create","room_id":"r1","username":"alice"}`)
		assert.Equal(t, EventSuccess, readEvent(t, alice).Type)
		assert.Equal(t, EventUserJoined, readEvent(t, alice).Type)

		bob := dial(t, srv)
		writeFrame(t, bob, `{"action":"join","room_id":"r1","username":"bob"}`)
		assert.Equal(t, EventSuccess, readEvent(t, bob).Type)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, cs.Shutdown(ctx), "expected successful shutdown")

		assert.Empty(t, cs.Rooms(), "expected rooms to be torn down")
		assert.Zero(t, cs.registry.Len(), "expected sessions to be erased")

		bob.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			if _, _, err := bob.ReadMessage(); err != nil {
				assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "expected normal closure, got %v", err)
				break
			}
		}

		err := cs.ServeClient(NewClient(nil, cs, cs.log, config.DefaultWebSocketConfig()))
		assert.ErrorIs(t, err, ErrShuttingDown, "expected new clients to be rejected")
	})

	t.Run("closes clients admitted while shutting down", func(t *testing.T) {
		cs := newTestChatServer(t)
		srv := newTestWsServer(t, cs)
		url := "ws" + strings.TrimPrefix(srv.URL, "http")

		var wg sync.WaitGroup
		conns := make(chan *websocket.Conn, 20)
		for i := 0; i < cap(conns); i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if conn, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
					conns <- conn
				}
			}()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, cs.Shutdown(ctx), "expected every admitted client to be closed")

		wg.Wait()
		close(conns)
		for conn := range conns {
			conn.Close()
		}
		assert.Zero(t, cs.registry.Len(), "expected no session to outlive shutdown")
	})

	t.Run("fails with context deadline exceeded", func(t *testing.T) {
		cs := newTestChatServer(t)

		// simulate a client whose read loop never returns
		cs.wg.Add(1)
		defer cs.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := cs.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "expected context deadline exceeded error, got %v", err)
	})
}

func TestChatServer_RoomHistory(t *testing.T) {
	cs := newTestChatServer(t)
	alice := connect(cs, "alice")
	send(cs, alice, `{"action":"create","room_id":"r1","username":"alice"}`)
	send(cs, alice, `{"action":"send","message":"hi","message_id":"m1"}`)
	send(cs, alice, `{"action":"send","message":"there","message_id":"m2"}`)
	send(cs, alice, `{"action":"mark_seen","message_ids":["m1"]}`)

	history, ok := cs.RoomHistory("r1")
	require.True(t, ok)
	require.Len(t, history, 2)
	assert.Equal(t, "m1", history[0].Id, "expected history in send order")
	assert.Equal(t, "alice", history[0].Sender)
	assert.True(t, history[0].FullySeen())
	assert.Equal(t, []string{"alice"}, history[0].SeenBy())
	assert.Equal(t, "m2", history[1].Id)
	assert.False(t, history[1].FullySeen())

	history[0].seenBy["mallory"] = struct{}{}
	m, _ := cs.rooms.GetRoom("r1")
	stored, _ := m.Message("m1")
	assert.Equal(t, []string{"alice"}, stored.SeenBy(), "expected history to be a copy")

	_, ok = cs.RoomHistory("missing")
	assert.False(t, ok)
}
