package domain

import "errors"

// Domain errors.
var (
	ErrUnknownChannel        = errors.New("unknown channel")
	ErrChannelNotImplemented = errors.New("channel not yet implemented")
	ErrNoDestination         = errors.New("contact has no destination address for channel")
	ErrContactNotFound       = errors.New("contact not found")
)
