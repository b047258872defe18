package hub

import "errors"

var (
	ErrNilConnection    = errors.New("cannot register nil connection")
	ErrConnectionClosed = errors.New("cannot register closed connection")
)
