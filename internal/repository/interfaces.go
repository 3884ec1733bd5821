package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fervalgames/conquest/api/internal/model"
)

// UserRepository defines user data operations.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Upsert(ctx context.Context, provider, email, displayName, avatarURL string) (*model.User, error)
	UpdateDisplayName(ctx context.Context, id, displayName string) error
}

// FriendRepository defines friend-list operations.
type FriendRepository interface {
	Add(ctx context.Context, userID, friendID string) (*model.Friend, error)
	ListByUser(ctx context.Context, userID string) ([]model.Friend, error)
	Remove(ctx context.Context, id, userID string) error
}

// RoomRepository defines room and membership data operations.
type RoomRepository interface {
	Create(ctx context.Context, code, creatorID string) (*model.Room, error)
	FindByCode(ctx context.Context, code string) (*model.Room, error)
	ListOpen(ctx context.Context) ([]model.Room, error)
	ListByUser(ctx context.Context, userID string) ([]model.Room, error)
	ListActive(ctx context.Context) ([]model.Room, error)
	AddMember(ctx context.Context, code, userID string) error
	RemoveMember(ctx context.Context, code, userID string) error
	MarkSurrendered(ctx context.Context, code, userID string) error
	SetStarted(ctx context.Context, code string) error
	SetFinished(ctx context.Context, code, winner string) error
	Delete(ctx context.Context, code string) error
}

// RoomCache defines live room state operations (Redis): game state
// snapshots and reconnection grace timers.
type RoomCache interface {
	SetState(ctx context.Context, code string, state json.RawMessage) error
	GetState(ctx context.Context, code string) (json.RawMessage, error)
	SetGraceTimer(ctx context.Context, code, email string, deadline time.Time) error
	ClearGraceTimer(ctx context.Context, code, email string) error
	DeleteRoomData(ctx context.Context, code string, emails []string) error
}
