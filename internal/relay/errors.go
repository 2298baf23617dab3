package relay

import "errors"

var (
	ErrInvalidJoin       = errors.New("join requires meetingCode and userId")
	ErrNotInRoom         = errors.New("participant is not in a room")
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrRecipientGone     = errors.New("recipient not in room")
	ErrConnClosed        = errors.New("connection closed")
	ErrSlowConsumer      = errors.New("send queue full")
)
