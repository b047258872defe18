package types

import (
	"time"
)

// RoomKeyPrefix namespaces registry keys derived from user-supplied room
// names so they can never collide with unrelated identifiers.
const RoomKeyPrefix = "chat_"

// AnonymousName is the display name used for unauthenticated users.
const AnonymousName = "Anonymous"

// User identifies the author of a connection or message. Anonymity is a
// distinct state rather than a magic string, so a real user who happens to
// be named "Anonymous" is never confused with the unauthenticated sentinel.
type User struct {
	Name      string
	Anonymous bool
}

// NamedUser returns the identity of an authenticated user.
func NamedUser(name string) User {
	return User{Name: name}
}

// AnonymousUser returns the unauthenticated identity.
func AnonymousUser() User {
	return User{Anonymous: true}
}

// DisplayName returns the name shown to other room members and recorded
// against persisted messages and presence.
func (u User) DisplayName() string {
	if u.Anonymous || u.Name == "" {
		return AnonymousName
	}
	return u.Name
}

// Room is a named channel grouping connections and messages. Rooms are
// created lazily on first connection and never deleted.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is an immutable chat record. ID and Timestamp are assigned by
// the server at creation and are not client-settable.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"-"`
	Room      string    `json:"room"`
	Username  string    `json:"user"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// InboundFrame is the only frame shape clients may send.
type InboundFrame struct {
	Message string `json:"message"`
}

// ChatFrame is fanned out to every room member when a message is persisted.
type ChatFrame struct {
	Message   string `json:"message"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
}

// PresenceFrame is fanned out whenever the presence set of a room changes.
type PresenceFrame struct {
	UserList []string `json:"user_list"`
}

// RoomKey derives the canonical registry key for a room name.
func RoomKey(name string) string {
	return RoomKeyPrefix + name
}
