package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/npezzotti/go-roomrelay/internal/stats"
	"github.com/rs/zerolog"
)

const (
	MetricActiveConnections = "ActiveConnections"
	MetricActiveRooms       = "ActiveRooms"
	MetricMessagesSent      = "MessagesSent"
	MetricDeliveryFailures  = "DeliveryFailures"
)

var ErrShuttingDown = errors.New("chat server is shutting down")

// ChatServer owns the connection registry and room store and routes every
// inbound request to its handler.
type ChatServer struct {
	log      zerolog.Logger
	stats    stats.StatsProvider
	registry *Registry
	rooms    *RoomStore

	// lock guards closing and wg.Add so no client is admitted once
	// Shutdown has started waiting.
	lock    sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

func NewChatServer(logger zerolog.Logger, statsProvider stats.StatsProvider) *ChatServer {
	for _, name := range []string{
		MetricActiveConnections,
		MetricActiveRooms,
		MetricMessagesSent,
		MetricDeliveryFailures,
	} {
		statsProvider.RegisterMetric(name)
	}

	return &ChatServer{
		log:      logger,
		stats:    statsProvider,
		registry: NewRegistry(),
		rooms:    NewRoomStore(),
	}
}

// ServeClient registers c and starts its read and write pumps.
func (cs *ChatServer) ServeClient(c *Client) error {
	cs.lock.Lock()
	if cs.closing {
		cs.lock.Unlock()
		return ErrShuttingDown
	}
	cs.wg.Add(1)
	// registered before unlocking so a concurrent Shutdown sees and closes c
	cs.Register(c)
	cs.lock.Unlock()

	go c.Write()
	go func() {
		defer cs.wg.Done()
		c.Read()
	}()
	return nil
}

// Register adds a session for c.
func (cs *ChatServer) Register(c Conn) {
	if !cs.registry.Register(c) {
		return
	}
	cs.stats.Incr(MetricActiveConnections)
	cs.log.Info().Str("conn_id", c.ID()).Msg("connection registered")
}

// Teardown is run once when the transport reports c closed: it leaves the
// current room, if any, and erases the session.
func (cs *ChatServer) Teardown(c Conn) {
	sess, ok := cs.registry.Lookup(c)
	if !ok {
		return
	}

	cs.leaveRoom(c, sess)

	if _, err := cs.registry.Unregister(c); err != nil {
		cs.log.Warn().Err(err).Str("conn_id", c.ID()).Msg("teardown")
		return
	}
	cs.stats.Decr(MetricActiveConnections)
	cs.log.Info().Str("conn_id", c.ID()).Msg("connection unregistered")
}

// HandleFrame decodes a raw inbound frame and dispatches it.
func (cs *ChatServer) HandleFrame(c Conn, raw []byte) {
	req, err := DecodeRequest(raw)
	if err != nil {
		cs.log.Debug().Err(err).Str("conn_id", c.ID()).Msg("invalid frame")
		c.Send(ErrInvalidJSON())
		return
	}

	cs.Dispatch(c, req)
}

// Rooms returns the ids of all live rooms.
func (cs *ChatServer) Rooms() []string {
	return cs.rooms.Ids()
}

// RoomMembers returns the usernames present in roomId.
func (cs *ChatServer) RoomMembers(roomId string) ([]string, bool) {
	r, ok := cs.rooms.GetRoom(roomId)
	if !ok {
		return nil, false
	}
	return r.Usernames(), true
}

// RoomHistory returns the messages sent in roomId so far.
func (cs *ChatServer) RoomHistory(roomId string) ([]Message, bool) {
	r, ok := cs.rooms.GetRoom(roomId)
	if !ok {
		return nil, false
	}
	return r.History(), true
}

// Session returns the session of c.
func (cs *ChatServer) Session(c Conn) (Session, bool) {
	return cs.registry.Lookup(c)
}

// Shutdown closes every connection and waits for their teardown to finish
// or for ctx to expire.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.lock.Lock()
	cs.closing = true
	conns := cs.registry.Conns()
	cs.lock.Unlock()

	cs.log.Info().Int("connections", len(conns)).Msg("shutting down chat server")
	for _, c := range conns {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("chat server shutdown: %w", ctx.Err())
	}
}
