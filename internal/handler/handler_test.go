package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fervalgames/conquest/api/internal/auth"
	"github.com/fervalgames/conquest/api/internal/model"
	"github.com/fervalgames/conquest/api/internal/service"
	"github.com/fervalgames/conquest/api/pkg/conquest"
)

// --- Mock Repositories ---

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
	u, ok := m.users[id]
	if !ok {
		return fmt.Errorf("user not found")
	}
	u.DisplayName = displayName
	return nil
}

type mockFriendRepo struct {
	friends map[string]*model.Friend
	users   *mockUserRepo
	seq     int
}

func newMockFriendRepo(users *mockUserRepo) *mockFriendRepo {
	return &mockFriendRepo{friends: make(map[string]*model.Friend), users: users}
}

func (m *mockFriendRepo) Add(_ context.Context, userID, friendID string) (*model.Friend, error) {
	for _, f := range m.friends {
		if f.UserID == userID && f.FriendID == friendID {
			return f, nil
		}
	}
	m.seq++
	f := &model.Friend{
		ID:        fmt.Sprintf("friend-%d", m.seq),
		UserID:    userID,
		FriendID:  friendID,
		CreatedAt: time.Now(),
	}
	if u := m.users.users[friendID]; u != nil {
		f.FriendEmail = u.Email
		f.FriendName = u.DisplayName
		f.FriendAvatarURL = u.AvatarURL
	}
	m.friends[f.ID] = f
	return f, nil
}

func (m *mockFriendRepo) ListByUser(_ context.Context, userID string) ([]model.Friend, error) {
	var result []model.Friend
	for _, f := range m.friends {
		if f.UserID == userID {
			result = append(result, *f)
		}
	}
	return result, nil
}

func (m *mockFriendRepo) Remove(_ context.Context, id, userID string) error {
	f, ok := m.friends[id]
	if !ok || f.UserID != userID {
		return sql.ErrNoRows
	}
	delete(m.friends, id)
	return nil
}

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
			result = append(result, *r)
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

type mockCache struct {
	states map[string]json.RawMessage
	graces map[string]time.Time
}

func newMockCache() *mockCache {
	return &mockCache{states: make(map[string]json.RawMessage), graces: make(map[string]time.Time)}
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

// --- Test setup ---

type testEnv struct {
	mux   *http.ServeMux
	users *mockUserRepo
	rooms *service.RoomService
}

func newTestEnv() *testEnv {
	users := newMockUserRepo()
	friends := newMockFriendRepo(users)
	roomRepo := newMockRoomRepo(users)
	cache := newMockCache()
	catalog := conquest.Catalog{
		"north": "Northlands",
		"south": "Southlands",
		"east":  "Eastmark",
		"west":  "Westmark",
	}
	rooms := service.NewRoomService(service.NewRegistry(), roomRepo, users, cache, nil, catalog, rand.New(rand.NewSource(11)))

	userHandler := NewUserHandler(users)
	friendHandler := NewFriendHandler(friends, users)
	roomHandler := NewRoomHandler(rooms)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/users/me", userHandler.GetMe)
	mux.HandleFunc("PATCH /api/v1/users/me", userHandler.UpdateMe)
	mux.HandleFunc("GET /api/v1/users/{id}", userHandler.GetUser)
	mux.HandleFunc("GET /api/v1/friends", friendHandler.List)
	mux.HandleFunc("POST /api/v1/friends", friendHandler.Add)
	mux.HandleFunc("DELETE /api/v1/friends/{id}", friendHandler.Remove)
	mux.HandleFunc("POST /api/v1/rooms", roomHandler.CreateRoom)
	mux.HandleFunc("GET /api/v1/rooms", roomHandler.ListRooms)
	mux.HandleFunc("GET /api/v1/rooms/{code}", roomHandler.GetRoom)
	mux.HandleFunc("POST /api/v1/rooms/{code}/join", roomHandler.JoinRoom)
	mux.HandleFunc("POST /api/v1/rooms/{code}/leave", roomHandler.LeaveRoom)
	mux.HandleFunc("POST /api/v1/rooms/{code}/start", roomHandler.StartGame)
	mux.HandleFunc("GET /api/v1/rooms/{code}/ranking", roomHandler.Ranking)
	mux.HandleFunc("POST /api/v1/rooms/{code}/actions", roomHandler.Action)

	return &testEnv{mux: mux, users: users, rooms: rooms}
}

// do issues an authenticated request as the given user.
func (e *testEnv) do(t *testing.T, user *model.User, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, url, nil)
	} else {
		req = httptest.NewRequest(method, url, strings.NewReader(body))
	}
	req = req.WithContext(auth.SetIdentityForTest(req.Context(), user.ID, user.Email))
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

// --- User endpoints ---

func TestGetMe(t *testing.T) {
	env := newTestEnv()
	alice := env.users.addUser("alice@example.com", "Alice")

	rec := env.do(t, alice, http.MethodGet, "/api/v1/users/me", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeBody[model.User](t, rec)
	if got.Email != "alice@example.com" {
		t.Errorf("email = %q", got.Email)
	}
}

func TestUpdateMe(t *testing.T) {
	env := newTestEnv()
	alice := env.users.addUser("alice@example.com", "Alice")

	rec := env.do(t, alice, http.MethodPatch, "/api/v1/users/me", `{"display_name":"General A"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decodeBody[model.User](t, rec)
	if got.DisplayName != "General A" {
		t.Errorf("display name = %q", got.DisplayName)
	}

	rec = env.do(t, alice, http.MethodPatch, "/api/v1/users/me", `{"display_name":"  General B  "}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got = decodeBody[model.User](t, rec)
	if got.DisplayName != "General B" {
		t.Errorf("display name = %q, want surrounding whitespace trimmed", got.DisplayName)
	}

	rec = env.do(t, alice, http.MethodPatch, "/api/v1/users/me", `{"display_name":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty name: expected 400, got %d", rec.Code)
	}
	rec = env.do(t, alice, http.MethodPatch, "/api/v1/users/me", `{"display_name":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank name: expected 400, got %d", rec.Code)
	}
}

func TestGetUserPublicProfile(t *testing.T) {
	env := newTestEnv()
	alice := env.users.addUser("alice@example.com", "Alice")
	bob := env.users.addUser("bob@example.com", "Bob")

	rec := env.do(t, alice, http.MethodGet, "/api/v1/users/"+bob.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeBody[map[string]any](t, rec)
	if got["email"] != "bob@example.com" {
		t.Errorf("email = %v", got["email"])
	}
	if got["display_name"] != "Bob" {
		t.Errorf("display_name = %v", got["display_name"])
	}
	if _, ok := got["provider"]; ok {
		t.Error("public profile should not expose the auth provider")
	}
	if _, ok := got["updated_at"]; ok {
		t.Error("public profile should not expose updated_at")
	}

	rec = env.do(t, alice, http.MethodGet, "/api/v1/users/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id: expected 404, got %d", rec.Code)
	}
}

// --- Friend endpoints ---

func TestFriendLifecycle(t *testing.T) {
	env := newTestEnv()
	alice := env.users.addUser("alice@example.com", "Alice")
	env.users.addUser("bob@example.com", "Bob")

	rec := env.do(t, alice, http.MethodPost, "/api/v1/friends", `{"email":"bob@example.com"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add friend: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	added := decodeBody[model.Friend](t, rec)
	if added.FriendEmail != "bob@example.com" {
		t.Errorf("friend email = %q", added.FriendEmail)
	}

	rec = env.do(t, alice, http.MethodPost, "/api/v1/friends", `{"email":"ghost@example.com"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown email: expected 404, got %d", rec.Code)
	}

	rec = env.do(t, alice, http.MethodPost, "/api/v1/friends", `{"email":"alice@example.com"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("self friend: expected 400, got %d", rec.Code)
	}

	rec = env.do(t, alice, http.MethodGet, "/api/v1/friends", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	list := decodeBody[[]model.Friend](t, rec)
	if len(list) != 1 {
		t.Fatalf("friends = %d, want 1", len(list))
	}

	rec = env.do(t, alice, http.MethodDelete, "/api/v1/friends/"+added.ID, "")
	if rec.Code != http.StatusOK {
		t.Errorf("remove: expected 200, got %d", rec.Code)
	}
	rec = env.do(t, alice, http.MethodDelete, "/api/v1/friends/"+added.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("remove twice: expected 404, got %d", rec.Code)
	}
}

// --- Room endpoints ---

func TestRoomLifecycle(t *testing.T) {
	env := newTestEnv()
	alice := env.users.addUser("alice@example.com", "Alice")
	bob := env.users.addUser("bob@example.com", "Bob")

	rec := env.do(t, alice, http.MethodPost, "/api/v1/rooms", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	room := decodeBody[model.Room](t, rec)
	if room.Code == "" {
		t.Fatal("created room has no code")
	}

	rec = env.do(t, bob, http.MethodPost, "/api/v1/rooms/"+room.Code+"/join", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("join: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	joined := decodeBody[model.Room](t, rec)
	if len(joined.Members) != 2 {
		t.Errorf("members = %d, want 2", len(joined.Members))
	}

	rec = env.do(t, bob, http.MethodPost, "/api/v1/rooms/"+room.Code+"/join", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("rejoin: expected 409, got %d", rec.Code)
	}

	rec = env.do(t, bob, http.MethodPost, "/api/v1/rooms/"+room.Code+"/start", "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-creator start: expected 403, got %d", rec.Code)
	}

	rec = env.do(t, alice, http.MethodPost, "/api/v1/rooms/"+room.Code+"/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	gs := decodeBody[conquest.GameState](t, rec)
	if len(gs.Players) != 2 || len(gs.Map) != 4 {
		t.Errorf("state players=%d map=%d, want 2 and 4", len(gs.Players), len(gs.Map))
	}

	// Active room view carries the live state.
	rec = env.do(t, alice, http.MethodGet, "/api/v1/rooms/"+room.Code, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	view := decodeBody[map[string]any](t, rec)
	if view["state"] == nil {
		t.Error("active room view missing state")
	}
}

func TestRoomActions(t *testing.T) {
	env := newTestEnv()
	alice := env.users.addUser("alice@example.com", "Alice")
	bob := env.users.addUser("bob@example.com", "Bob")

	rec := env.do(t, alice, http.MethodPost, "/api/v1/rooms", "")
	room := decodeBody[model.Room](t, rec)
	env.do(t, bob, http.MethodPost, "/api/v1/rooms/"+room.Code+"/join", "")
	env.do(t, alice, http.MethodPost, "/api/v1/rooms/"+room.Code+"/start", "")

	// Creator holds the first turn, so the phase advance is accepted.
	rec = env.do(t, alice, http.MethodPost, "/api/v1/rooms/"+room.Code+"/actions", `{"type":"advance_phase"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("action: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decodeBody[conquest.Outcome](t, rec)
	if !out.Accepted {
		t.Errorf("outcome = %+v, want accepted", out)
	}

	// Out-of-turn action comes back 200 with a rejection.
	rec = env.do(t, bob, http.MethodPost, "/api/v1/rooms/"+room.Code+"/actions", `{"type":"advance_phase"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("rejected action: expected 200, got %d", rec.Code)
	}
	out = decodeBody[conquest.Outcome](t, rec)
	if out.Accepted || out.Reason != conquest.ReasonNotYourTurn {
		t.Errorf("outcome = %+v, want not_your_turn rejection", out)
	}

	rec = env.do(t, alice, http.MethodPost, "/api/v1/rooms/"+room.Code+"/actions", `{"type":"launch_nukes"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown action type: expected 400, got %d", rec.Code)
	}

	rec = env.do(t, alice, http.MethodPost, "/api/v1/rooms/NOROOM/actions", `{"type":"advance_phase"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing room: expected 404, got %d", rec.Code)
	}
}

func TestRanking(t *testing.T) {
	env := newTestEnv()
	alice := env.users.addUser("alice@example.com", "Alice")
	bob := env.users.addUser("bob@example.com", "Bob")

	rec := env.do(t, alice, http.MethodPost, "/api/v1/rooms", "")
	room := decodeBody[model.Room](t, rec)
	env.do(t, bob, http.MethodPost, "/api/v1/rooms/"+room.Code+"/join", "")
	env.do(t, alice, http.MethodPost, "/api/v1/rooms/"+room.Code+"/start", "")

	rec = env.do(t, alice, http.MethodGet, "/api/v1/rooms/"+room.Code+"/ranking", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ranking: expected 200, got %d", rec.Code)
	}
	ranking := decodeBody[[]conquest.Player](t, rec)
	if len(ranking) != 2 {
		t.Errorf("ranking size = %d, want 2", len(ranking))
	}

	rec = env.do(t, alice, http.MethodGet, "/api/v1/rooms/NOROOM/ranking", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing room ranking: expected 404, got %d", rec.Code)
	}
}
