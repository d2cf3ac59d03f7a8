package scheduled

import "errors"

// Scheduled message errors.
var (
	ErrAlreadyClaimed = errors.New("scheduled message already claimed")
	ErrNotDispatching = errors.New("scheduled message is not dispatching")
	ErrScheduleInPast = errors.New("scheduled time must be in the future")
	ErrEmptyContent   = errors.New("message content is empty")
)
