package service

import (
	"sync"
	"time"

	"github.com/fervalgames/conquest/api/pkg/conquest"
)

// LiveRoom is the in-memory record of one running game. Its mutex
// serializes every action against the room's state: one action is fully
// validated and applied before the next begins, so the engine never races.
// Different rooms lock independently and run in parallel.
type LiveRoom struct {
	mu    sync.Mutex // serializes actions against State
	Code  string
	State *conquest.GameState

	// Invalid is set when the engine reports an invariant violation.
	// The room then refuses all further actions until it is rebuilt.
	Invalid bool

	// graces holds pending forced-surrender deadlines by player email,
	// the polling fallback for the Redis keyspace listener. It has its
	// own lock so presence events never wait on a running action.
	graceMu sync.Mutex
	graces  map[string]time.Time
}

// Lock serializes access to the room state. Callers hold it for the full
// validate-apply-snapshot cycle.
func (lr *LiveRoom) Lock() { lr.mu.Lock() }

// Unlock releases the room.
func (lr *LiveRoom) Unlock() { lr.mu.Unlock() }

// SetGrace records a pending forced surrender for the player.
func (lr *LiveRoom) SetGrace(email string, deadline time.Time) {
	lr.graceMu.Lock()
	defer lr.graceMu.Unlock()
	lr.graces[email] = deadline
}

// ClearGrace cancels a pending forced surrender, if any.
func (lr *LiveRoom) ClearGrace(email string) {
	lr.graceMu.Lock()
	defer lr.graceMu.Unlock()
	delete(lr.graces, email)
}

// HasGrace reports whether a forced surrender is pending for the player.
func (lr *LiveRoom) HasGrace(email string) bool {
	lr.graceMu.Lock()
	defer lr.graceMu.Unlock()
	_, ok := lr.graces[email]
	return ok
}

// takeGrace atomically removes the player's pending forced surrender and
// reports whether one was still pending. A reconnect that cleared the entry
// first wins: the expiry event that arrives afterwards takes nothing.
func (lr *LiveRoom) takeGrace(email string) bool {
	lr.graceMu.Lock()
	defer lr.graceMu.Unlock()
	_, ok := lr.graces[email]
	if ok {
		delete(lr.graces, email)
	}
	return ok
}

// expiredGraces returns the players whose grace deadline has passed. Entries
// stay pending until ForceSurrender takes them, so a concurrent reconnect
// can still cancel.
func (lr *LiveRoom) expiredGraces(now time.Time) []string {
	lr.graceMu.Lock()
	defer lr.graceMu.Unlock()
	var expired []string
	for email, deadline := range lr.graces {
		if !deadline.After(now) {
			expired = append(expired, email)
		}
	}
	return expired
}

// Registry owns the live state of every running room in this process. It is
// created at startup and passed into the coordinator; entries are inserted
// when a game starts and removed on room teardown. Nothing else mutates a
// room's GameState.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*LiveRoom
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*LiveRoom)}
}

// Put inserts (or replaces) the live room for a code.
func (reg *Registry) Put(code string, state *conquest.GameState) *LiveRoom {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	lr := &LiveRoom{
		Code:   code,
		State:  state,
		graces: make(map[string]time.Time),
	}
	reg.rooms[code] = lr
	return lr
}

// Get returns the live room for a code.
func (reg *Registry) Get(code string) (*LiveRoom, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	lr, ok := reg.rooms[code]
	return lr, ok
}

// Remove tears a live room out of the registry.
func (reg *Registry) Remove(code string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.rooms, code)
}

// Snapshot returns the current live rooms, for iteration without holding
// the registry lock.
func (reg *Registry) Snapshot() []*LiveRoom {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	rooms := make([]*LiveRoom, 0, len(reg.rooms))
	for _, lr := range reg.rooms {
		rooms = append(rooms, lr)
	}
	return rooms
}
