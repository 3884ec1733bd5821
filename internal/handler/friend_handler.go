package handler

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fervalgames/conquest/api/internal/auth"
	"github.com/fervalgames/conquest/api/internal/model"
	"github.com/fervalgames/conquest/api/internal/repository"
)

// FriendHandler handles friend-list endpoints.
type FriendHandler struct {
	friendRepo repository.FriendRepository
	userRepo   repository.UserRepository
}

// NewFriendHandler creates a FriendHandler.
func NewFriendHandler(friendRepo repository.FriendRepository, userRepo repository.UserRepository) *FriendHandler {
	return &FriendHandler{friendRepo: friendRepo, userRepo: userRepo}
}

// List handles GET /api/v1/friends
func (h *FriendHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	friends, err := h.friendRepo.ListByUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if friends == nil {
		friends = []model.Friend{}
	}
	writeJSON(w, http.StatusOK, friends)
}

// Add handles POST /api/v1/friends. Friends are looked up by email, the
// same identity players see in-game.
func (h *FriendHandler) Add(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	friend, err := h.userRepo.FindByEmail(r.Context(), req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if friend == nil {
		writeError(w, http.StatusNotFound, "no user with that email")
		return
	}
	if friend.ID == userID {
		writeError(w, http.StatusBadRequest, "cannot befriend yourself")
		return
	}

	entry, err := h.friendRepo.Add(r.Context(), userID, friend.ID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("Failed to add friend")
		writeError(w, http.StatusInternalServerError, "failed to add friend")
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// Remove handles DELETE /api/v1/friends/{id}
func (h *FriendHandler) Remove(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	id := r.PathValue("id")
	if err := h.friendRepo.Remove(r.Context(), id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "friend entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
