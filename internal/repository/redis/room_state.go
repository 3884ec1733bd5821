package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key patterns for Redis room state.
func stateKey(code string) string        { return "room:" + code + ":state" }
func graceKey(code, email string) string { return "room:" + code + ":grace:" + email }

// ParseGraceKey extracts the room code and player email from a grace timer
// key. The second return is false for any other key.
func ParseGraceKey(key string) (code, email string, ok bool) {
	if !strings.HasPrefix(key, "room:") {
		return "", "", false
	}
	parts := strings.SplitN(key, ":", 4)
	if len(parts) != 4 || parts[2] != "grace" {
		return "", "", false
	}
	return parts[1], parts[3], true
}

// SetState stores the live game state JSON for a room.
func (c *Client) SetState(ctx context.Context, code string, state json.RawMessage) error {
	return c.rdb.Set(ctx, stateKey(code), []byte(state), 0).Err()
}

// GetState retrieves the live game state JSON for a room, nil if absent.
func (c *Client) GetState(ctx context.Context, code string) (json.RawMessage, error) {
	data, err := c.rdb.Get(ctx, stateKey(code)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get room state: %w", err)
	}
	return json.RawMessage(data), nil
}

// SetGraceTimer creates a reconnection grace key with a TTL. When the key
// expires, the keyspace listener forces a surrender for the player.
func (c *Client) SetGraceTimer(ctx context.Context, code, email string, deadline time.Time) error {
	ttl := time.Until(deadline)
	if ttl <= 0 {
		ttl = time.Second
	}
	return c.rdb.Set(ctx, graceKey(code, email), deadline.Unix(), ttl).Err()
}

// ClearGraceTimer cancels a pending forced surrender for the player.
func (c *Client) ClearGraceTimer(ctx context.Context, code, email string) error {
	return c.rdb.Del(ctx, graceKey(code, email)).Err()
}

// DeleteRoomData removes all Redis data for a room (on teardown).
func (c *Client) DeleteRoomData(ctx context.Context, code string, emails []string) error {
	keys := []string{stateKey(code)}
	for _, email := range emails {
		keys = append(keys, graceKey(code, email))
	}
	return c.rdb.Del(ctx, keys...).Err()
}
