package handler

// BroadcastRoomEvent implements service.Broadcaster using the WebSocket hub.
func (h *Hub) BroadcastRoomEvent(code string, eventType string, data any) {
	h.BroadcastToRoom(code, WSEvent{
		Type:     eventType,
		RoomCode: code,
		Data:     data,
	})
}
