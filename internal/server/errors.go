package server

import "errors"

var (
	ErrNotRegistered      = errors.New("connection not registered")
	ErrRoomAlreadyExists  = errors.New("room already exists")
	ErrRoomNotFound       = errors.New("room not found")
	ErrDuplicateMessageID = errors.New("duplicate message id")
	ErrMessageNotFound    = errors.New("message not found")
)
