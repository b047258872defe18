package interfaces

import "errors"

// Common interface errors used across components.
var (
	ErrRoomNotFound = errors.New("room not found")
)
