package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fervalgames/conquest/api/internal/model"
)

// mockUserRepo implements repository.UserRepository for testing.
type mockUserRepo struct {
	users map[string]*model.User
	seq   int
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*model.User)}
}

func (m *mockUserRepo) addUser(email, name string) *model.User {
	m.seq++
	u := &model.User{
		ID:          fmt.Sprintf("user-%d", m.seq),
		Provider:    "google",
		Email:       email,
		DisplayName: name,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	m.users[u.ID] = u
	return u
}

func (m *mockUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return u, nil
}

func (m *mockUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) Upsert(_ context.Context, provider, email, displayName, avatarURL string) (*model.User, error) {
	for _, u := range m.users {
		if u.Provider == provider && u.Email == email {
			u.DisplayName = displayName
			u.AvatarURL = avatarURL
			return u, nil
		}
	}
	u := m.addUser(email, displayName)
	u.Provider = provider
	u.AvatarURL = avatarURL
	return u, nil
}

func (m *mockUserRepo) UpdateDisplayName(_ context.Context, id, displayName string) error {
	if u, ok := m.users[id]; ok {
		u.DisplayName = displayName
	}
	return nil
}

// mockRoomRepo implements repository.RoomRepository for testing. It shares
// the user mock so members carry real emails and display names.
type mockRoomRepo struct {
	rooms map[string]*model.Room
	users *mockUserRepo
	seq   int
}

func newMockRoomRepo(users *mockUserRepo) *mockRoomRepo {
	return &mockRoomRepo{rooms: make(map[string]*model.Room), users: users}
}

func (m *mockRoomRepo) Create(_ context.Context, code, creatorID string) (*model.Room, error) {
	m.seq++
	r := &model.Room{
		ID:        fmt.Sprintf("room-%d", m.seq),
		Code:      code,
		CreatorID: creatorID,
		Status:    model.RoomWaiting,
		CreatedAt: time.Now(),
	}
	m.rooms[code] = r
	return r, nil
}

func (m *mockRoomRepo) FindByCode(_ context.Context, code string) (*model.Room, error) {
	r, ok := m.rooms[code]
	if !ok {
		return nil, nil
	}
	cp := *r
	cp.Members = append([]model.RoomMember(nil), r.Members...)
	return &cp, nil
}

func (m *mockRoomRepo) ListOpen(_ context.Context) ([]model.Room, error) {
	var result []model.Room
	for _, r := range m.rooms {
		if r.Status == model.RoomWaiting {
			result = append(result, *r)
		}
	}
	return result, nil
}

func (m *mockRoomRepo) ListByUser(_ context.Context, userID string) ([]model.Room, error) {
	var result []model.Room
	for _, r := range m.rooms {
		for _, mem := range r.Members {
			if mem.UserID == userID {
				result = append(result, *r)
				break
			}
		}
	}
	return result, nil
}

func (m *mockRoomRepo) ListActive(_ context.Context) ([]model.Room, error) {
	var result []model.Room
	for _, r := range m.rooms {
		if r.Status == model.RoomActive {
			cp := *r
			cp.Members = append([]model.RoomMember(nil), r.Members...)
			result = append(result, cp)
		}
	}
	return result, nil
}

func (m *mockRoomRepo) AddMember(_ context.Context, code, userID string) error {
	r, ok := m.rooms[code]
	if !ok {
		return sql.ErrNoRows
	}
	mem := model.RoomMember{RoomID: r.ID, UserID: userID, JoinedAt: time.Now()}
	if u := m.users.users[userID]; u != nil {
		mem.Email = u.Email
		mem.DisplayName = u.DisplayName
		mem.AvatarURL = u.AvatarURL
	}
	r.Members = append(r.Members, mem)
	return nil
}

func (m *mockRoomRepo) RemoveMember(_ context.Context, code, userID string) error {
	r, ok := m.rooms[code]
	if !ok {
		return sql.ErrNoRows
	}
	for i, mem := range r.Members {
		if mem.UserID == userID {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *mockRoomRepo) MarkSurrendered(_ context.Context, code, userID string) error {
	r, ok := m.rooms[code]
	if !ok {
		return sql.ErrNoRows
	}
	for i := range r.Members {
		if r.Members[i].UserID == userID {
			r.Members[i].Surrendered = true
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *mockRoomRepo) SetStarted(_ context.Context, code string) error {
	if r, ok := m.rooms[code]; ok {
		r.Status = model.RoomActive
		now := time.Now()
		r.StartedAt = &now
	}
	return nil
}

func (m *mockRoomRepo) SetFinished(_ context.Context, code, winner string) error {
	if r, ok := m.rooms[code]; ok {
		r.Status = model.RoomFinished
		r.Winner = winner
		now := time.Now()
		r.FinishedAt = &now
	}
	return nil
}

func (m *mockRoomRepo) Delete(_ context.Context, code string) error {
	delete(m.rooms, code)
	return nil
}

// mockCache implements repository.RoomCache for testing.
type mockCache struct {
	states map[string]json.RawMessage
	graces map[string]time.Time // key: "code:email"
}

func newMockCache() *mockCache {
	return &mockCache{
		states: make(map[string]json.RawMessage),
		graces: make(map[string]time.Time),
	}
}

func (c *mockCache) SetState(_ context.Context, code string, state json.RawMessage) error {
	c.states[code] = state
	return nil
}

func (c *mockCache) GetState(_ context.Context, code string) (json.RawMessage, error) {
	return c.states[code], nil
}

func (c *mockCache) SetGraceTimer(_ context.Context, code, email string, deadline time.Time) error {
	c.graces[code+":"+email] = deadline
	return nil
}

func (c *mockCache) ClearGraceTimer(_ context.Context, code, email string) error {
	delete(c.graces, code+":"+email)
	return nil
}

func (c *mockCache) DeleteRoomData(_ context.Context, code string, emails []string) error {
	delete(c.states, code)
	for _, email := range emails {
		delete(c.graces, code+":"+email)
	}
	return nil
}

// recordingBroadcaster captures events for assertions.
type recordingBroadcaster struct {
	events []broadcastEvent
}

type broadcastEvent struct {
	Code string
	Type string
	Data any
}

func (b *recordingBroadcaster) BroadcastRoomEvent(code, eventType string, data any) {
	b.events = append(b.events, broadcastEvent{Code: code, Type: eventType, Data: data})
}

func (b *recordingBroadcaster) types() []string {
	var out []string
	for _, e := range b.events {
		out = append(out, e.Type)
	}
	return out
}
