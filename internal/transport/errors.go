package transport

import "errors"

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotConnected     = errors.New("not_connected")
	ErrChannelDetached  = errors.New("channel_detached")
	ErrConnectionClosed = errors.New("connection_closed")
)
