package model

import "time"

// User represents a registered user. Email doubles as the stable in-game
// identity key; display fields come from the OAuth provider.
type User struct {
	ID          string    `json:"id"`
	Provider    string    `json:"provider"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Room status values.
const (
	RoomWaiting  = "waiting"
	RoomActive   = "active"
	RoomFinished = "finished"
)

// Room represents a game session. Before the game starts it is a lobby of
// joined members; after start the live state lives in the coordinator's
// registry and the Redis snapshot, keyed by the room code.
type Room struct {
	ID         string       `json:"id"`
	Code       string       `json:"code"`
	CreatorID  string       `json:"creator_id"`
	Status     string       `json:"status"` // waiting, active, finished
	Winner     string       `json:"winner,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Members    []RoomMember `json:"members,omitempty"`
}

// RoomMember represents a user's membership in a room.
type RoomMember struct {
	RoomID      string    `json:"room_id"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
	Surrendered bool      `json:"surrendered"`
}

// Friend represents one direction of a friendship link, with the friend's
// display data joined in for lists.
type Friend struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	FriendID        string    `json:"friend_id"`
	FriendEmail     string    `json:"friend_email"`
	FriendName      string    `json:"friend_name"`
	FriendAvatarURL string    `json:"friend_avatar_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
