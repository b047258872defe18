package types

import (
	"unicode/utf8"
)

const (
	// MaxRoomNameLength bounds user-supplied room names, in characters.
	MaxRoomNameLength = 100

	// MaxMessageLength bounds chat message content, in characters.
	MaxMessageLength = 255
)

// ValidateRoomName reports whether a raw room name may open a connection.
// Lengths are counted in characters, not bytes.
func ValidateRoomName(name string) error {
	if name == "" {
		return ErrEmptyRoomName
	}
	if utf8.RuneCountInString(name) > MaxRoomNameLength {
		return ErrRoomNameTooLong
	}
	return nil
}

// ValidateMessageContent reports whether message text may be persisted and
// broadcast. Callers drop invalid content silently; this never surfaces to
// the sender as an error response.
func ValidateMessageContent(content string) error {
	if content == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}
