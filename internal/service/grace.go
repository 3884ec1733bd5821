package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redisrepo "github.com/fervalgames/conquest/api/internal/repository/redis"
)

// GraceListener listens for Redis keyspace notifications on expired grace
// keys and forces a surrender when a disconnected player's reconnection
// window lapses. Also runs a polling fallback over the in-memory registry
// to catch expirations if keyspace notifications are unavailable.
type GraceListener struct {
	rdb      *redis.Client
	rooms    *RoomService
	registry *Registry
}

// NewGraceListener creates a GraceListener.
func NewGraceListener(rdb *redis.Client, rooms *RoomService, registry *Registry) *GraceListener {
	return &GraceListener{rdb: rdb, rooms: rooms, registry: registry}
}

// Start begins listening for expired key events and runs a polling fallback.
func (g *GraceListener) Start(ctx context.Context) {
	go g.listenKeyspace(ctx)
	g.pollExpiredGraces(ctx)
}

// listenKeyspace subscribes to Redis keyspace notifications for expired keys.
func (g *GraceListener) listenKeyspace(ctx context.Context) {
	pubsub := g.rdb.PSubscribe(ctx, "__keyevent@0__:expired")
	defer pubsub.Close()

	log.Info().Msg("Grace listener started, listening for expired keys")
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			g.handleExpiry(ctx, msg.Payload)
		}
	}
}

// pollExpiredGraces periodically sweeps the registry for grace deadlines
// past due and surrenders those players.
func (g *GraceListener) pollExpiredGraces(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	log.Info().Msg("Grace deadline poller started (10s interval)")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Grace deadline poller stopped")
			return
		case <-ticker.C:
			g.checkExpiredGraces(ctx)
		}
	}
}

// checkExpiredGraces finds pending graces past their deadline and forces
// the surrender.
func (g *GraceListener) checkExpiredGraces(ctx context.Context) {
	now := time.Now()
	for _, lr := range g.registry.Snapshot() {
		for _, email := range lr.expiredGraces(now) {
			log.Info().Str("code", lr.Code).Str("email", email).
				Msg("Poller found expired grace window, forcing surrender")
			g.rooms.ForceSurrender(ctx, lr.Code, email)
		}
	}
}

// handleExpiry processes an expired key. Only acts on grace timer keys.
func (g *GraceListener) handleExpiry(ctx context.Context, key string) {
	code, email, ok := redisrepo.ParseGraceKey(key)
	if !ok {
		return
	}
	log.Info().Str("code", code).Str("email", email).
		Msg("Grace timer expired, forcing surrender")
	g.rooms.ForceSurrender(ctx, code, email)
}
