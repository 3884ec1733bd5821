package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fervalgames/conquest/api/internal/auth"
	"github.com/fervalgames/conquest/api/pkg/conquest"
	"github.com/gorilla/websocket"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 54 * time.Second // Must be less than pongWait
	maxMsgSize  = 4096
	sendBufSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS handled by middleware; tighten in production
	},
}

// RoomCoordinator is the part of the room service the WebSocket layer
// drives: presence transitions and in-game actions.
type RoomCoordinator interface {
	PlayerConnected(ctx context.Context, email string)
	PlayerDisconnected(ctx context.Context, email string)
	HandleAction(ctx context.Context, code, email string, action conquest.Action) (conquest.Outcome, error)
	RoomState(code string) (*conquest.GameState, error)
}

// WSHandler handles WebSocket connections.
type WSHandler struct {
	hub    *Hub
	jwtMgr *auth.JWTManager
	rooms  RoomCoordinator
}

// NewWSHandler creates a WSHandler.
func NewWSHandler(hub *Hub, jwtMgr *auth.JWTManager, rooms RoomCoordinator) *WSHandler {
	return &WSHandler{hub: hub, jwtMgr: jwtMgr, rooms: rooms}
}

// ServeWS handles GET /api/v1/ws — upgrades to WebSocket.
// Auth via ?token= query parameter (WebSocket can't send headers).
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, `{"error":"missing token parameter"}`, http.StatusUnauthorized)
		return
	}

	claims, err := h.jwtMgr.ValidateToken(tokenStr)
	if err != nil {
		http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &WSConn{
		id:     uuid.NewString(),
		conn:   conn,
		userID: claims.UserID,
		email:  claims.Email,
		send:   make(chan []byte, sendBufSize),
	}
	h.hub.Register(client)

	// First open socket for this user cancels any pending grace window.
	if h.rooms != nil && h.hub.UserConnectionCount(client.userID) == 1 {
		h.rooms.PlayerConnected(r.Context(), client.email)
	}

	// Send a welcome message so the client can confirm the connection is live.
	welcome, _ := json.Marshal(WSEvent{Type: "connected", Data: map[string]any{}})
	client.send <- welcome

	go h.writePump(client)
	go h.readPump(client)

	log.Info().Str("connId", client.id).Str("userId", claims.UserID).
		Int("total", h.hub.ConnectionCount()).Msg("WebSocket client connected")
}

// readPump reads messages from the WebSocket connection.
func (h *WSHandler) readPump(c *WSConn) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
		// Last socket closing for this user starts the grace window.
		if h.rooms != nil && h.hub.UserConnectionCount(c.userID) == 0 {
			h.rooms.PlayerDisconnected(context.Background(), c.email)
		}
		log.Info().Str("connId", c.id).Str("userId", c.userID).Msg("WebSocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("userId", c.userID).Msg("WebSocket unexpected close")
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		h.handleClientMessage(c, msg)
	}
}

// handleClientMessage dispatches one decoded client envelope.
func (h *WSHandler) handleClientMessage(c *WSConn, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.RoomCode == "" {
			return
		}
		h.hub.Subscribe(c, msg.RoomCode)
		// Late joiners and reconnectors get the current state immediately.
		if h.rooms != nil {
			if gs, err := h.rooms.RoomState(msg.RoomCode); err == nil {
				h.sendEvent(c, WSEvent{Type: EventRoomState, RoomCode: msg.RoomCode, Data: gs})
			}
		}
	case "unsubscribe":
		if msg.RoomCode != "" {
			h.hub.Unsubscribe(c, msg.RoomCode)
		}
	case "game_action":
		h.handleGameAction(c, msg)
	}
}

// handleGameAction applies one game action received over the socket. The
// outcome goes back to the sender only; accepted actions reach the room
// through the coordinator's broadcast.
func (h *WSHandler) handleGameAction(c *WSConn, msg ClientMessage) {
	if h.rooms == nil || msg.RoomCode == "" {
		return
	}
	action, err := conquest.ParseAction(msg.Type, msg.Payload)
	if err != nil {
		h.sendEvent(c, WSEvent{Type: "error", RoomCode: msg.RoomCode, Data: map[string]string{"error": err.Error()}})
		return
	}

	out, err := h.rooms.HandleAction(context.Background(), msg.RoomCode, c.email, action)
	if err != nil {
		h.sendEvent(c, WSEvent{Type: "error", RoomCode: msg.RoomCode, Data: map[string]string{"error": err.Error()}})
		return
	}
	h.sendEvent(c, WSEvent{Type: "action_outcome", RoomCode: msg.RoomCode, Data: out})
}

// sendEvent queues an event on one connection, dropping it if the buffer
// is full.
func (h *WSHandler) sendEvent(c *WSConn, event WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("type", event.Type).Msg("Failed to marshal WebSocket event")
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().Str("userId", c.userID).Msg("Dropping WebSocket message, buffer full")
	}
}

// writePump writes messages to the WebSocket connection.
func (h *WSHandler) writePump(c *WSConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Drain queued messages into the same write
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte("\n"))
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
