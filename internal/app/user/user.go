/*
Package user contains core data structures related to user identity.

It defines the representation of a user within the chat system, used both
internally and for client-facing serialization. Presence fields (IsOnline,
LastSeen) are derived state: they are mutated exclusively by the real-time
core's connection registry transitions, never by user-facing CRUD.
*/
package user

import "time"

// User represents a registered chat participant.
type User struct {

	// ID is the unique identifier for the user.
	ID string `json:"id"`

	// Username is the unique login name.
	Username string `json:"username"`

	// Name is the display name shown in chats.
	Name string `json:"name"`

	// AvatarURL is the URL for the user's avatar, if any.
	AvatarURL string `json:"avatarUrl,omitempty"`

	// IsOnline is true iff the user has at least one live connection.
	IsOnline bool `json:"isOnline"`

	// LastSeen is set when the user's last connection closes; nil while online
	// or for users that never connected.
	LastSeen *time.Time `json:"lastSeen"`
}
