package roomprops

import "errors"

var (
	ErrNotJoined       = errors.New("room_not_joined")
	ErrSyncFrozen      = errors.New("sync_frozen")
	ErrPayloadTooLarge = errors.New("payload_too_large")
)
