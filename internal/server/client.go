package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-roomrelay/internal/config"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
)

// Conn is the hub's view of one live client channel. Send must not block;
// it reports false when the event could not be queued.
type Conn interface {
	ID() string
	Send(msg *ServerMessage) bool
	Close()
}

// Client is a Conn backed by a websocket. Outbound events are queued on
// send and written in order by the Write goroutine.
type Client struct {
	id          string
	conn        *websocket.Conn
	chatServer  *ChatServer
	log         zerolog.Logger
	cfg         config.WebSocketConfig
	send        chan *ServerMessage
	stop        chan struct{}
	stopOnce    sync.Once
	cleanupOnce sync.Once
}

func NewClient(conn *websocket.Conn, cs *ChatServer, l zerolog.Logger, cfg config.WebSocketConfig) *Client {
	id := shortid.MustGenerate()
	return &Client{
		id:         id,
		conn:       conn,
		chatServer: cs,
		log:        l.With().Str("conn_id", id).Logger(),
		cfg:        cfg,
		send:       make(chan *ServerMessage, cfg.SendBufferSize),
		stop:       make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Send(msg *ServerMessage) bool {
	return c.queueMessage(msg)
}

// Close stops the writer. The writer sends a close frame and closes the
// socket, which ends Read and triggers teardown.
func (c *Client) Close() {
	c.stopClient()
}

func (c *Client) Write() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Error().Err(err).Msg("failed to serialize message")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws: read")
			}
			break
		}

		c.chatServer.HandleFrame(c, raw)
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- msg:
	default:
		c.log.Warn().Str("type", string(msg.Type)).Msg("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// cleanup runs the hub teardown for this client exactly once.
func (c *Client) cleanup() {
	c.cleanupOnce.Do(func() {
		c.chatServer.Teardown(c)
		c.stopClient()
	})
}
