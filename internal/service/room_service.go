package service

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fervalgames/conquest/api/internal/model"
	"github.com/fervalgames/conquest/api/internal/repository"
	"github.com/fervalgames/conquest/api/pkg/conquest"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomNotWaiting = errors.New("room is not in waiting status")
	ErrRoomNotActive  = errors.New("room has no running game")
	ErrRoomFull       = errors.New("room is full")
	ErrRoomInvalid    = errors.New("room state is invalid and awaiting teardown")
	ErrNotCreator     = errors.New("only the room creator can do this")
	ErrNotEnough      = errors.New("need at least 2 players to start")
	ErrAlreadyJoined  = errors.New("already joined this room")
	ErrNotInRoom      = errors.New("you are not in this room")
)

// GracePeriod is how long a disconnected player has to reconnect before the
// coordinator surrenders on their behalf.
const GracePeriod = 90 * time.Second

// MaxPlayers caps the lobby size.
const MaxPlayers = 6

// RoomService is the coordinator for room lifecycle and in-game actions.
// It is the sole owner and mutator of every room's GameState: all actions
// for one room are serialized through the room's lock before they reach the
// engine.
type RoomService struct {
	registry    *Registry
	roomRepo    repository.RoomRepository
	userRepo    repository.UserRepository
	cache       repository.RoomCache
	broadcaster Broadcaster
	catalog     conquest.Catalog

	// rng feeds territory shuffling and surrender redistribution. It is
	// guarded because rand.Rand is not safe for use from multiple rooms
	// at once; tests inject a seeded source for determinism.
	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewRoomService creates a RoomService.
func NewRoomService(
	registry *Registry,
	roomRepo repository.RoomRepository,
	userRepo repository.UserRepository,
	cache repository.RoomCache,
	broadcaster Broadcaster,
	catalog conquest.Catalog,
	rng *rand.Rand,
) *RoomService {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RoomService{
		registry:    registry,
		roomRepo:    roomRepo,
		userRepo:    userRepo,
		cache:       cache,
		broadcaster: broadcaster,
		catalog:     catalog,
		rng:         rng,
	}
}

// CreateRoom opens a new lobby and joins the creator to it.
func (s *RoomService) CreateRoom(ctx context.Context, userID string) (*model.Room, error) {
	code := newRoomCode()
	if _, err := s.roomRepo.Create(ctx, code, userID); err != nil {
		return nil, err
	}
	if err := s.roomRepo.AddMember(ctx, code, userID); err != nil {
		return nil, err
	}
	return s.roomRepo.FindByCode(ctx, code)
}

// GetRoom returns a room by code.
func (s *RoomService) GetRoom(ctx context.Context, code string) (*model.Room, error) {
	room, err := s.roomRepo.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// ListRooms returns open lobbies, or the user's rooms with filter "my".
func (s *RoomService) ListRooms(ctx context.Context, userID, filter string) ([]model.Room, error) {
	if filter == "my" {
		return s.roomRepo.ListByUser(ctx, userID)
	}
	return s.roomRepo.ListOpen(ctx)
}

// JoinRoom adds a user to a waiting lobby.
func (s *RoomService) JoinRoom(ctx context.Context, code, userID string) error {
	room, err := s.GetRoom(ctx, code)
	if err != nil {
		return err
	}
	if room.Status != model.RoomWaiting {
		return ErrRoomNotWaiting
	}
	for _, m := range room.Members {
		if m.UserID == userID {
			return ErrAlreadyJoined
		}
	}
	if len(room.Members) >= MaxPlayers {
		return ErrRoomFull
	}
	if err := s.roomRepo.AddMember(ctx, code, userID); err != nil {
		return err
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err == nil && user != nil {
		s.broadcaster.BroadcastRoomEvent(code, "player_joined", map[string]any{
			"email": user.Email,
			"name":  user.DisplayName,
		})
	}
	return nil
}

// StartGame deals territories and brings the room live. Only the creator
// can start, and assignment runs exactly once per room.
func (s *RoomService) StartGame(ctx context.Context, code, userID string) (*conquest.GameState, error) {
	room, err := s.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	if room.Status != model.RoomWaiting {
		return nil, ErrRoomNotWaiting
	}
	if room.CreatorID != userID {
		return nil, ErrNotCreator
	}
	if len(room.Members) < 2 {
		return nil, ErrNotEnough
	}

	seats := make([]conquest.Seat, len(room.Members))
	for i, m := range room.Members {
		seats[i] = conquest.Seat{Email: m.Email, Name: m.DisplayName, Picture: m.AvatarURL}
	}

	s.rngMu.Lock()
	gs := conquest.AssignTerritories(seats, s.catalog, s.rng)
	s.rngMu.Unlock()

	s.registry.Put(code, gs)
	if err := s.snapshot(ctx, code, gs); err != nil {
		log.Warn().Err(err).Str("code", code).Msg("Failed to snapshot initial state")
	}
	if err := s.roomRepo.SetStarted(ctx, code); err != nil {
		return nil, err
	}

	log.Info().Str("code", code).Int("players", len(seats)).Msg("Game started")
	s.broadcaster.BroadcastRoomEvent(code, "game_started", map[string]any{"state": gs})
	return gs, nil
}

// HandleAction validates and applies one game action for the room. Rejected
// outcomes are returned to the caller alone and never mutate state; accepted
// outcomes are snapshotted and broadcast to the whole room.
func (s *RoomService) HandleAction(ctx context.Context, code, email string, action conquest.Action) (conquest.Outcome, error) {
	lr, ok := s.registry.Get(code)
	if !ok {
		return conquest.Outcome{}, ErrRoomNotActive
	}

	lr.Lock()
	defer lr.Unlock()

	if lr.Invalid {
		return conquest.Outcome{}, ErrRoomInvalid
	}

	s.rngMu.Lock()
	out, err := conquest.Apply(lr.State, email, action, s.rng)
	s.rngMu.Unlock()
	if err != nil {
		// Invariant violation: the state can no longer be trusted.
		lr.Invalid = true
		log.Error().Err(err).Str("code", code).Str("actor", email).
			Str("action", action.Type()).Msg("Engine invariant violation, room flagged invalid")
		return conquest.Outcome{}, fmt.Errorf("%w: %v", ErrRoomInvalid, err)
	}
	if !out.Accepted {
		return out, nil
	}

	if err := s.snapshot(ctx, code, lr.State); err != nil {
		log.Warn().Err(err).Str("code", code).Msg("Failed to snapshot state after action")
	}

	if action.Type() == conquest.ActionSurrender {
		s.persistSurrender(ctx, code, email)
	}

	s.broadcaster.BroadcastRoomEvent(code, "action_applied", map[string]any{
		"actor":   email,
		"action":  action.Type(),
		"outcome": out,
		"state":   lr.State,
	})

	if out.Winner != nil {
		s.finishRoom(ctx, lr, out.Winner)
	}
	return out, nil
}

// Ranking returns the room's players ordered by points.
func (s *RoomService) Ranking(code string) ([]conquest.Player, error) {
	lr, ok := s.registry.Get(code)
	if !ok {
		return nil, ErrRoomNotActive
	}
	lr.Lock()
	defer lr.Unlock()
	return conquest.Ranking(lr.State), nil
}

// RoomState returns a copy of the live game state.
func (s *RoomService) RoomState(code string) (*conquest.GameState, error) {
	lr, ok := s.registry.Get(code)
	if !ok {
		return nil, ErrRoomNotActive
	}
	lr.Lock()
	defer lr.Unlock()
	return lr.State.Clone(), nil
}

// LeaveRoom removes a user from a lobby, or surrenders them out of a
// running game. An emptied lobby is deleted.
func (s *RoomService) LeaveRoom(ctx context.Context, code, userID string) error {
	room, err := s.GetRoom(ctx, code)
	if err != nil {
		return err
	}

	var member *model.RoomMember
	for i := range room.Members {
		if room.Members[i].UserID == userID {
			member = &room.Members[i]
			break
		}
	}
	if member == nil {
		return ErrNotInRoom
	}

	if room.Status == model.RoomActive {
		out, err := s.HandleAction(ctx, code, member.Email, conquest.Surrender{})
		if err != nil {
			return err
		}
		if out.Accepted {
			s.broadcaster.BroadcastRoomEvent(code, "player_left", map[string]any{"email": member.Email})
		}
		return nil
	}

	if err := s.roomRepo.RemoveMember(ctx, code, userID); err != nil {
		return err
	}
	s.broadcaster.BroadcastRoomEvent(code, "player_left", map[string]any{"email": member.Email})

	if len(room.Members) == 1 {
		// Last one out turns off the lights.
		return s.roomRepo.Delete(ctx, code)
	}
	return nil
}

// PlayerDisconnected starts the reconnection grace window in every live
// room the player is part of. If the window lapses the grace listener
// surrenders on their behalf.
func (s *RoomService) PlayerDisconnected(ctx context.Context, email string) {
	deadline := time.Now().Add(GracePeriod)
	for _, lr := range s.registry.Snapshot() {
		if !s.isActiveParticipant(lr, email) {
			continue
		}
		lr.SetGrace(email, deadline)
		if err := s.cache.SetGraceTimer(ctx, lr.Code, email, deadline); err != nil {
			log.Warn().Err(err).Str("code", lr.Code).Str("email", email).
				Msg("Failed to set grace timer, relying on poll fallback")
		}
		log.Info().Str("code", lr.Code).Str("email", email).
			Time("deadline", deadline).Msg("Player disconnected, grace window started")
		s.broadcaster.BroadcastRoomEvent(lr.Code, "player_disconnected", map[string]any{
			"email":         email,
			"grace_seconds": int(GracePeriod.Seconds()),
		})
	}
}

// PlayerConnected cancels any pending forced surrenders for the player.
func (s *RoomService) PlayerConnected(ctx context.Context, email string) {
	for _, lr := range s.registry.Snapshot() {
		if !lr.HasGrace(email) {
			continue
		}
		lr.ClearGrace(email)
		if err := s.cache.ClearGraceTimer(ctx, lr.Code, email); err != nil {
			log.Warn().Err(err).Str("code", lr.Code).Str("email", email).Msg("Failed to clear grace timer")
		}
		log.Info().Str("code", lr.Code).Str("email", email).Msg("Player reconnected within grace window")
		s.broadcaster.BroadcastRoomEvent(lr.Code, "player_reconnected", map[string]any{"email": email})
	}
}

// ForceSurrender is invoked by the grace listener when a player's
// reconnection window lapses. A stale expiry event for a player who already
// reconnected finds no pending grace and does nothing.
func (s *RoomService) ForceSurrender(ctx context.Context, code, email string) {
	lr, ok := s.registry.Get(code)
	if !ok {
		return
	}
	if !lr.takeGrace(email) {
		log.Debug().Str("code", code).Str("email", email).
			Msg("Grace expiry for a player no longer pending, ignoring")
		return
	}
	if err := s.cache.ClearGraceTimer(ctx, code, email); err != nil {
		log.Warn().Err(err).Str("code", code).Str("email", email).Msg("Failed to clear grace timer")
	}

	out, err := s.HandleAction(ctx, code, email, conquest.Surrender{})
	if err != nil {
		log.Error().Err(err).Str("code", code).Str("email", email).Msg("Forced surrender failed")
		return
	}
	if !out.Accepted {
		// Already surrendered or the game ended while the timer ran.
		log.Debug().Str("code", code).Str("email", email).Str("reason", out.Reason).
			Msg("Forced surrender not applicable")
		return
	}
	log.Info().Str("code", code).Str("email", email).Msg("Grace window expired, player surrendered")
	s.broadcaster.BroadcastRoomEvent(code, "player_surrendered", map[string]any{
		"email":  email,
		"forced": true,
	})
}

// RecoverActiveRooms rehydrates live state for all active rooms from the
// Redis snapshots. Called on startup; every member is treated as
// disconnected until their socket comes back, so grace windows are re-armed
// across the board.
func (s *RoomService) RecoverActiveRooms(ctx context.Context) error {
	rooms, err := s.roomRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active rooms: %w", err)
	}
	if len(rooms) == 0 {
		log.Info().Msg("No active rooms to recover")
		return nil
	}

	log.Info().Int("count", len(rooms)).Msg("Recovering active rooms after restart")
	for _, room := range rooms {
		stateJSON, err := s.cache.GetState(ctx, room.Code)
		if err != nil {
			log.Error().Err(err).Str("code", room.Code).Msg("Failed to load state snapshot during recovery")
			continue
		}
		if stateJSON == nil {
			log.Warn().Str("code", room.Code).Msg("Active room has no state snapshot, skipping")
			continue
		}
		var gs conquest.GameState
		if err := json.Unmarshal(stateJSON, &gs); err != nil {
			log.Error().Err(err).Str("code", room.Code).Msg("Failed to unmarshal state during recovery")
			continue
		}

		lr := s.registry.Put(room.Code, &gs)
		deadline := time.Now().Add(GracePeriod)
		for i, p := range gs.Players {
			if gs.HasSurrendered(i) {
				continue
			}
			lr.SetGrace(p.Email, deadline)
			if err := s.cache.SetGraceTimer(ctx, room.Code, p.Email, deadline); err != nil {
				log.Warn().Err(err).Str("code", room.Code).Str("email", p.Email).Msg("Failed to re-arm grace timer")
			}
		}
		log.Info().Str("code", room.Code).Int("players", len(gs.Players)).Msg("Recovered room state")
	}
	return nil
}

// isActiveParticipant reports whether the email belongs to a player still
// fighting in the room.
func (s *RoomService) isActiveParticipant(lr *LiveRoom, email string) bool {
	lr.Lock()
	defer lr.Unlock()
	if lr.State.Finished {
		return false
	}
	idx := lr.State.PlayerIndex(email)
	return idx >= 0 && !lr.State.HasSurrendered(idx)
}

// finishRoom persists the result and tears down live state. Pending grace
// timers die with the room data. Caller holds the room lock.
func (s *RoomService) finishRoom(ctx context.Context, lr *LiveRoom, winner *conquest.PlayerRef) {
	if err := s.roomRepo.SetFinished(ctx, lr.Code, winner.Email); err != nil {
		log.Error().Err(err).Str("code", lr.Code).Msg("Failed to persist room result")
	}

	ranking := conquest.Ranking(lr.State)
	s.broadcaster.BroadcastRoomEvent(lr.Code, "game_ended", map[string]any{
		"winner":  winner,
		"ranking": ranking,
	})

	emails := make([]string, len(lr.State.Players))
	for i, p := range lr.State.Players {
		emails[i] = p.Email
	}
	if err := s.cache.DeleteRoomData(ctx, lr.Code, emails); err != nil {
		log.Warn().Err(err).Str("code", lr.Code).Msg("Failed to delete room cache data")
	}
	s.registry.Remove(lr.Code)
	log.Info().Str("code", lr.Code).Str("winner", winner.Email).Msg("Game over, room torn down")
}

// persistSurrender mirrors an accepted surrender into the membership table.
func (s *RoomService) persistSurrender(ctx context.Context, code, email string) {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil || user == nil {
		log.Warn().Err(err).Str("code", code).Str("email", email).Msg("Could not resolve surrendering user")
		return
	}
	if err := s.roomRepo.MarkSurrendered(ctx, code, user.ID); err != nil {
		log.Warn().Err(err).Str("code", code).Str("email", email).Msg("Failed to persist surrender")
	}
}

// snapshot writes the room's state JSON to the cache.
func (s *RoomService) snapshot(ctx context.Context, code string, gs *conquest.GameState) error {
	data, err := json.Marshal(gs)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return s.cache.SetState(ctx, code, data)
}

const roomCodeCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// newRoomCode generates a 6-character join code, skipping lookalike
// characters. Collisions are caught by the unique constraint on rooms.code.
func newRoomCode() string {
	const length = 6
	b := make([]byte, length)
	if _, err := cryptorand.Read(b); err != nil {
		return fmt.Sprintf("R%05d", time.Now().UnixNano()%100000)
	}
	for i := range b {
		b[i] = roomCodeCharset[b[i]%byte(len(roomCodeCharset))]
	}
	return string(b)
}
