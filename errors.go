package mnet

import "errors"

var (
	ErrInvalidCfg = errors.New("mnet: invalid options")
	ErrNoMedium   = errors.New("mnet: a Medium is required")
	ErrClosed     = errors.New("mnet: transport is closed")

	ErrHostInvalid       = errors.New("mnet: host names must only contain alphanum, dashes, dots and be less than 128 chars")
	ErrReliableBroadcast = errors.New("mnet: reliable delivery to the broadcast host is not possible")
	ErrMessageTooLarge   = errors.New("mnet: message does not fit in a fragment chain")

	ErrAckTimeout = errors.New("mnet: no acknowledgment before the drop timeout")

	ErrFrameMalformed = errors.New("medium: malformed frame")
	ErrMediumClosed   = errors.New("medium: closed")
)
