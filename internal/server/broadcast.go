package server

// deliver queues msg for every member while holding the room lock, so all
// members observe broadcasts to this room in the same order. It returns the
// members whose queue rejected the event.
func (r *Room) deliver(msg *ServerMessage) (delivered int, failed []Conn) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.closed {
		return 0, nil
	}

	for c := range r.members {
		if c.Send(msg) {
			delivered++
		} else {
			failed = append(failed, c)
		}
	}
	return delivered, failed
}

// broadcast is best-effort fan-out of msg to every current member of
// roomId. A member that cannot accept the event is closed and cleans up
// through its own teardown; delivery to the others continues. Broadcasting
// to a missing room does nothing.
func (cs *ChatServer) broadcast(roomId string, msg *ServerMessage) int {
	r, ok := cs.rooms.GetRoom(roomId)
	if !ok {
		return 0
	}
	return cs.broadcastRoom(r, msg)
}

// broadcastRoom fans out to a room the caller already holds. A room that
// has since been deleted receives nothing, even if its id was reused.
func (cs *ChatServer) broadcastRoom(r *Room, msg *ServerMessage) int {
	roomId := r.Id()
	delivered, failed := r.deliver(msg)
	for _, c := range failed {
		cs.log.Warn().
			Str("room_id", roomId).
			Str("conn_id", c.ID()).
			Str("type", string(msg.Type)).
			Msg("delivery failed, closing connection")
		cs.stats.Incr(MetricDeliveryFailures)
		c.Close()
	}

	cs.log.Debug().
		Str("room_id", roomId).
		Str("type", string(msg.Type)).
		Int("delivered", delivered).
		Msg("broadcast")
	return delivered
}
