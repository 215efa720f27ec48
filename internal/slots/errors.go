package slots

import "errors"

var (
	ErrSlotsExhausted    = errors.New("slots_exhausted")
	ErrNotStarted        = errors.New("allocator_not_started")
	ErrAssignmentAborted = errors.New("slot_assignment_aborted")
)
