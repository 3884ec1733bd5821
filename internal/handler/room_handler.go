package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fervalgames/conquest/api/internal/auth"
	"github.com/fervalgames/conquest/api/internal/model"
	"github.com/fervalgames/conquest/api/internal/service"
	"github.com/fervalgames/conquest/api/pkg/conquest"
)

// RoomHandler handles room lifecycle and game action endpoints.
type RoomHandler struct {
	rooms *service.RoomService
}

// NewRoomHandler creates a RoomHandler.
func NewRoomHandler(rooms *service.RoomService) *RoomHandler {
	return &RoomHandler{rooms: rooms}
}

// roomView is a room plus the live game state when one is running.
type roomView struct {
	*model.Room
	State *conquest.GameState `json:"state,omitempty"`
}

// CreateRoom handles POST /api/v1/rooms
func (h *RoomHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	room, err := h.rooms.CreateRoom(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create room")
		writeError(w, http.StatusInternalServerError, "failed to create room")
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

// ListRooms handles GET /api/v1/rooms?filter=my
func (h *RoomHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	rooms, err := h.rooms.ListRooms(r.Context(), userID, r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rooms == nil {
		rooms = []model.Room{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

// GetRoom handles GET /api/v1/rooms/{code}
func (h *RoomHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	room, err := h.rooms.GetRoom(r.Context(), code)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	view := roomView{Room: room}
	if room.Status == model.RoomActive {
		if gs, err := h.rooms.RoomState(code); err == nil {
			view.State = gs
		}
	}
	writeJSON(w, http.StatusOK, view)
}

// JoinRoom handles POST /api/v1/rooms/{code}/join
func (h *RoomHandler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	userID := auth.UserIDFromContext(r.Context())
	if err := h.rooms.JoinRoom(r.Context(), code, userID); err != nil {
		writeServiceError(w, err)
		return
	}
	room, err := h.rooms.GetRoom(r.Context(), code)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// LeaveRoom handles POST /api/v1/rooms/{code}/leave
func (h *RoomHandler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	userID := auth.UserIDFromContext(r.Context())
	if err := h.rooms.LeaveRoom(r.Context(), code, userID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// StartGame handles POST /api/v1/rooms/{code}/start
func (h *RoomHandler) StartGame(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	userID := auth.UserIDFromContext(r.Context())
	gs, err := h.rooms.StartGame(r.Context(), code, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gs)
}

// Ranking handles GET /api/v1/rooms/{code}/ranking
func (h *RoomHandler) Ranking(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	ranking, err := h.rooms.Ranking(code)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ranking)
}

// actionRequest is the body of POST /rooms/{code}/actions.
type actionRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Action handles POST /api/v1/rooms/{code}/actions. The outcome goes back
// with 200 whether the engine accepted or rejected; rejections are part of
// normal play, not errors.
func (h *RoomHandler) Action(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	email := auth.EmailFromContext(r.Context())

	var req actionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	action, err := conquest.ParseAction(req.Type, req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.rooms.HandleAction(r.Context(), code, email, action)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// writeServiceError maps room service errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrRoomNotFound), errors.Is(err, service.ErrRoomNotActive):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrNotCreator):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrRoomNotWaiting),
		errors.Is(err, service.ErrRoomFull),
		errors.Is(err, service.ErrAlreadyJoined),
		errors.Is(err, service.ErrNotEnough),
		errors.Is(err, service.ErrNotInRoom),
		errors.Is(err, service.ErrRoomInvalid):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Msg("Room handler internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
