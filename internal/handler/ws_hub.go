package handler

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event types sent over WebSocket.
const (
	EventRoomState          = "room_state"
	EventActionApplied      = "action_applied"
	EventGameStarted        = "game_started"
	EventGameEnded          = "game_ended"
	EventPlayerJoined       = "player_joined"
	EventPlayerLeft         = "player_left"
	EventPlayerSurrendered  = "player_surrendered"
	EventPlayerDisconnected = "player_disconnected"
	EventPlayerReconnected  = "player_reconnected"
)

// WSEvent is the envelope for all WebSocket messages.
type WSEvent struct {
	Type     string `json:"type"`
	RoomCode string `json:"room_code"`
	Data     any    `json:"data"`
}

// ClientMessage is the envelope for messages sent from the client.
type ClientMessage struct {
	Action   string          `json:"action"` // "subscribe", "unsubscribe" or "game_action"
	RoomCode string          `json:"room_code"`
	Type     string          `json:"action_type,omitempty"` // game action type
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// WSConn wraps a WebSocket connection with its user and subscriptions.
// The id ties log lines from both pumps to one physical connection.
type WSConn struct {
	id     string
	conn   *websocket.Conn
	userID string
	email  string
	send   chan []byte
}

// Hub manages WebSocket connections and room-channel subscriptions.
type Hub struct {
	mu          sync.RWMutex
	connections map[*WSConn]bool
	rooms       map[string]map[*WSConn]bool // room code -> set of connections
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*WSConn]bool),
		rooms:       make(map[string]map[*WSConn]bool),
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = true
}

// Unregister removes a connection from the hub and all its subscriptions.
func (h *Hub) Unregister(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.connections, c)
	for code, conns := range h.rooms {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, code)
		}
	}
	close(c.send)
}

// Subscribe adds a connection to a room channel.
func (h *Hub) Subscribe(c *WSConn, code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[code] == nil {
		h.rooms[code] = make(map[*WSConn]bool)
	}
	h.rooms[code][c] = true
}

// Unsubscribe removes a connection from a room channel.
func (h *Hub) Unsubscribe(c *WSConn, code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[code]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, code)
		}
	}
}

// BroadcastToRoom sends an event to all connections subscribed to a room.
func (h *Hub) BroadcastToRoom(code string, event WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("code", code).Msg("Failed to marshal WebSocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[code] {
		select {
		case c.send <- data:
		default:
			log.Warn().Str("userId", c.userID).Str("code", code).Msg("Dropping WebSocket message, buffer full")
		}
	}
}

// BroadcastToUser sends an event to a specific user across all their connections.
func (h *Hub) BroadcastToUser(userID string, event WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("Failed to marshal WebSocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.connections {
		if c.userID == userID {
			select {
			case c.send <- data:
			default:
			}
		}
	}
}

// ConnectionCount returns the total number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// RoomSubscriberCount returns the number of connections subscribed to a room.
func (h *Hub) RoomSubscriberCount(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[code])
}

// UserConnectionCount returns how many open connections a user has. Presence
// transitions fire on the 0-to-1 and 1-to-0 edges only.
func (h *Hub) UserConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.connections {
		if c.userID == userID {
			n++
		}
	}
	return n
}
