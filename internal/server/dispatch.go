package server

import (
	"errors"
	"fmt"
)

// Dispatch routes req to its handler. Handler faults are recovered, logged
// and reported to the sender so one bad request never takes the hub down.
func (cs *ChatServer) Dispatch(c Conn, req Request) {
	defer func() {
		if rec := recover(); rec != nil {
			cs.log.Error().
				Str("conn_id", c.ID()).
				Interface("panic", rec).
				Msg("recovered from handler panic")
			c.Send(ErrServer())
		}
	}()

	switch r := req.(type) {
	case CreateRequest:
		cs.handleCreate(c, r)
	case JoinRequest:
		cs.handleJoin(c, r)
	case SendRequest:
		cs.handleSend(c, r)
	case MarkSeenRequest:
		cs.handleMarkSeen(c, r)
	case DisconnectRequest:
		cs.handleDisconnect(c)
	case UnknownRequest:
		cs.log.Debug().Str("conn_id", c.ID()).Str("action", string(r.Action)).Msg("invalid action")
		c.Send(ErrInvalidAction())
	default:
		c.Send(ErrInvalidAction())
	}
}

// session returns the session of c. A missing session means the registry
// and the transport disagree; the request is dropped.
func (cs *ChatServer) session(c Conn) (Session, bool) {
	sess, ok := cs.registry.Lookup(c)
	if !ok {
		cs.log.Error().Str("conn_id", c.ID()).Msg("no session for connection")
		c.Send(ErrServer())
	}
	return sess, ok
}

func (cs *ChatServer) handleCreate(c Conn, r CreateRequest) {
	if r.RoomId == "" {
		c.Send(ErrorMessage("Missing room_id for create action"))
		return
	}
	if r.Username == "" {
		c.Send(ErrorMessage("Missing username for create action"))
		return
	}

	sess, ok := cs.session(c)
	if !ok {
		return
	}

	// the new room is created before leaving the old one so a rejected
	// create leaves the caller where it was
	if err := cs.rooms.CreateRoom(r.RoomId, c, r.Username); err != nil {
		if errors.Is(err, ErrRoomAlreadyExists) {
			c.Send(ErrorMessage("Room already exists"))
			return
		}
		cs.log.Error().Err(err).Str("room_id", r.RoomId).Msg("create room")
		c.Send(ErrServer())
		return
	}
	cs.stats.Incr(MetricActiveRooms)

	cs.leaveRoom(c, sess)
	cs.join(c, r.RoomId, r.Username, fmt.Sprintf("Created room %s", r.RoomId))
}

func (cs *ChatServer) handleJoin(c Conn, r JoinRequest) {
	if r.RoomId == "" {
		c.Send(ErrorMessage("Missing room_id for join action"))
		return
	}
	if r.Username == "" {
		c.Send(ErrorMessage("Missing username for join action"))
		return
	}

	sess, ok := cs.session(c)
	if !ok {
		return
	}

	fullySeen, err := cs.rooms.AddMember(r.RoomId, c, r.Username)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			c.Send(ErrorMessage("Room does not exist"))
			return
		}
		cs.log.Error().Err(err).Str("room_id", r.RoomId).Msg("add member")
		c.Send(ErrServer())
		return
	}

	// re-joining the current room keeps membership and re-announces
	if sess.RoomId != r.RoomId {
		cs.leaveRoom(c, sess)
	}

	cs.join(c, r.RoomId, r.Username, fmt.Sprintf("Joined room %s", r.RoomId))
	for _, id := range fullySeen {
		cs.broadcast(r.RoomId, MessageSeen(id))
	}
}

// join records the membership in the session, replies to c and announces
// the new member to the room.
func (cs *ChatServer) join(c Conn, roomId, username, reply string) {
	if err := cs.registry.SetMembership(c, roomId, username); err != nil {
		cs.log.Error().Err(err).Str("room_id", roomId).Msg("set membership")
	}

	cs.log.Info().
		Str("conn_id", c.ID()).
		Str("room_id", roomId).
		Str("username", username).
		Msg("joined room")

	c.Send(Success(reply, roomId))
	cs.broadcast(roomId, UserJoined(username))
}

func (cs *ChatServer) handleSend(c Conn, r SendRequest) {
	sess, ok := cs.session(c)
	if !ok {
		return
	}
	if !sess.InRoom() {
		c.Send(ErrorMessage("Not in any room"))
		return
	}
	if r.Content == "" {
		c.Send(ErrorMessage("Missing message content"))
		return
	}
	if r.MessageId == "" {
		c.Send(ErrorMessage("Missing message_id"))
		return
	}

	err := cs.rooms.AppendMessage(sess.RoomId, NewMessage(r.MessageId, sess.Username, r.Content))
	switch {
	case errors.Is(err, ErrDuplicateMessageID):
		c.Send(ErrorMessage("Duplicate message_id"))
		return
	case err != nil:
		cs.log.Error().Err(err).Str("conn_id", c.ID()).Str("room_id", sess.RoomId).Msg("session references missing room")
		c.Send(ErrServer())
		return
	}
	cs.stats.Incr(MetricMessagesSent)

	cs.broadcast(sess.RoomId, ChatMessage(r.MessageId, sess.Username, r.Content))
	c.Send(MessageAck(r.MessageId))
}

func (cs *ChatServer) handleMarkSeen(c Conn, r MarkSeenRequest) {
	sess, ok := cs.session(c)
	if !ok {
		return
	}
	if !sess.InRoom() {
		c.Send(ErrorMessage("Not in any room"))
		return
	}
	if r.MessageIds == nil {
		c.Send(ErrorMessage("Missing message_ids for mark_seen action"))
		return
	}

	for _, id := range r.MessageIds {
		newlySeen, err := cs.rooms.MarkSeen(sess.RoomId, id, sess.Username)
		switch {
		case errors.Is(err, ErrMessageNotFound):
			c.Send(ErrorMessage(fmt.Sprintf("Message %s not found", id)))
			continue
		case err != nil:
			cs.log.Error().Err(err).Str("conn_id", c.ID()).Str("room_id", sess.RoomId).Msg("session references missing room")
			c.Send(ErrServer())
			return
		}

		if newlySeen {
			cs.broadcast(sess.RoomId, MessageSeen(id))
		}
	}
}

func (cs *ChatServer) handleDisconnect(c Conn) {
	sess, ok := cs.session(c)
	if !ok {
		return
	}

	cs.leaveRoom(c, sess)
	c.Send(Success("Disconnected from room", ""))
}

// leaveRoom removes c from its current room, clears the session and
// notifies the remaining members. Messages that became fully seen because
// c was the last member who had not seen them are announced afterwards.
func (cs *ChatServer) leaveRoom(c Conn, sess Session) {
	if !sess.InRoom() {
		return
	}

	res := cs.rooms.RemoveMember(sess.RoomId, c)
	if err := cs.registry.ClearMembership(c); err != nil {
		cs.log.Error().Err(err).Msg("clear membership")
	}
	if !res.Removed {
		cs.log.Warn().
			Str("conn_id", c.ID()).
			Str("room_id", sess.RoomId).
			Msg("session room did not list connection as member")
		return
	}

	cs.log.Info().
		Str("conn_id", c.ID()).
		Str("room_id", sess.RoomId).
		Str("username", sess.Username).
		Bool("room_deleted", res.RoomDeleted).
		Msg("left room")

	if res.RoomDeleted {
		cs.stats.Decr(MetricActiveRooms)
	}

	cs.broadcastRoom(res.Room, UserLeft(sess.Username))
	for _, id := range res.FullySeen {
		cs.broadcastRoom(res.Room, MessageSeen(id))
	}
}
