package engine

import "errors"

var (
	ErrAlreadyJoined      = errors.New("already_joined")
	ErrUnknownParticipant = errors.New("unknown_participant")
)
