package ws

import "errors"

var (
	ErrConnectionClosed = errors.New("connection is closed")
	ErrInvalidJSON      = errors.New("failed to marshal JSON")
	ErrWriteTimeout     = errors.New("write timed out")
)
