package server

import (
	"encoding/json"
	"fmt"
)

type Action string

const (
	ActionCreate     Action = "create"
	ActionJoin       Action = "join"
	ActionSend       Action = "send"
	ActionMarkSeen   Action = "mark_seen"
	ActionDisconnect Action = "disconnect"
)

// ClientMessage is the inbound envelope as it appears on the wire.
type ClientMessage struct {
	Action     Action   `json:"action"`
	RoomId     string   `json:"room_id,omitempty"`
	Username   string   `json:"username,omitempty"`
	Message    string   `json:"message,omitempty"`
	MessageId  string   `json:"message_id,omitempty"`
	MessageIds []string `json:"message_ids,omitempty"`
}

// Request is one of the decoded request variants below.
type Request interface {
	isRequest()
}

type CreateRequest struct {
	RoomId   string
	Username string
}

type JoinRequest struct {
	RoomId   string
	Username string
}

type SendRequest struct {
	MessageId string
	Content   string
}

// MarkSeenRequest carries the acknowledged ids. MessageIds is nil when the
// field was missing from the frame.
type MarkSeenRequest struct {
	MessageIds []string
}

type DisconnectRequest struct{}

// UnknownRequest is produced for a missing or unrecognized action.
type UnknownRequest struct {
	Action Action
}

func (CreateRequest) isRequest()     {}
func (JoinRequest) isRequest()       {}
func (SendRequest) isRequest()       {}
func (MarkSeenRequest) isRequest()   {}
func (DisconnectRequest) isRequest() {}
func (UnknownRequest) isRequest()    {}

// DecodeRequest parses a raw frame into a request variant. An error is
// returned only when the frame is not a valid JSON envelope.
func DecodeRequest(raw []byte) (Request, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}

	switch msg.Action {
	case ActionCreate:
		return CreateRequest{RoomId: msg.RoomId, Username: msg.Username}, nil
	case ActionJoin:
		return JoinRequest{RoomId: msg.RoomId, Username: msg.Username}, nil
	case ActionSend:
		return SendRequest{MessageId: msg.MessageId, Content: msg.Message}, nil
	case ActionMarkSeen:
		return MarkSeenRequest{MessageIds: msg.MessageIds}, nil
	case ActionDisconnect:
		return DisconnectRequest{}, nil
	default:
		return UnknownRequest{Action: msg.Action}, nil
	}
}

type EventType string

const (
	EventError       EventType = "error"
	EventSuccess     EventType = "success"
	EventUserJoined  EventType = "user_joined"
	EventUserLeft    EventType = "user_left"
	EventMessage     EventType = "message"
	EventMessageAck  EventType = "message_ack"
	EventMessageSeen EventType = "message_seen"
)

const StatusDelivered = "delivered"

// ServerMessage is an outbound event. Only the fields relevant to Type are
// populated.
type ServerMessage struct {
	Type      EventType `json:"type"`
	Message   string    `json:"message,omitempty"`
	RoomId    string    `json:"room_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	MessageId string    `json:"message_id,omitempty"`
	Content   string    `json:"content,omitempty"`
	Status    string    `json:"status,omitempty"`
}

func ErrorMessage(text string) *ServerMessage {
	return &ServerMessage{Type: EventError, Message: text}
}

func ErrInvalidJSON() *ServerMessage {
	return ErrorMessage("Invalid JSON format")
}

func ErrInvalidAction() *ServerMessage {
	return ErrorMessage("Invalid action")
}

func ErrServer() *ServerMessage {
	return ErrorMessage("Server error")
}

func Success(text, roomId string) *ServerMessage {
	return &ServerMessage{Type: EventSuccess, Message: text, RoomId: roomId}
}

func UserJoined(username string) *ServerMessage {
	return &ServerMessage{Type: EventUserJoined, Username: username}
}

func UserLeft(username string) *ServerMessage {
	return &ServerMessage{Type: EventUserLeft, Username: username}
}

func ChatMessage(id, username, content string) *ServerMessage {
	return &ServerMessage{Type: EventMessage, MessageId: id, Username: username, Content: content}
}

func MessageAck(id string) *ServerMessage {
	return &ServerMessage{Type: EventMessageAck, MessageId: id, Status: StatusDelivered}
}

func MessageSeen(id string) *ServerMessage {
	return &ServerMessage{Type: EventMessageSeen, MessageId: id}
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}
