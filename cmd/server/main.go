package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fervalgames/conquest/api/internal/auth"
	"github.com/fervalgames/conquest/api/internal/config"
	"github.com/fervalgames/conquest/api/internal/handler"
	"github.com/fervalgames/conquest/api/internal/logger"
	"github.com/fervalgames/conquest/api/internal/middleware"
	"github.com/fervalgames/conquest/api/internal/repository/postgres"
	redisrepo "github.com/fervalgames/conquest/api/internal/repository/redis"
	"github.com/fervalgames/conquest/api/internal/service"
	"github.com/fervalgames/conquest/api/pkg/conquest"
)

func main() {
	logger.Init()
	cfg := config.Load()
	log.Info().Str("databaseURL", cfg.DatabaseURL).Msg("Config loaded")

	// Database
	db, err := postgres.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	defer db.Close()

	// Redis
	redisClient, err := redisrepo.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Redis connection failed")
	}
	defer redisClient.Close()

	// Enable Redis keyspace notifications for grace timer expiry events.
	if err := redisClient.Underlying().ConfigSet(context.Background(), "notify-keyspace-events", "Ex").Err(); err != nil {
		log.Warn().Err(err).Msg("Failed to set Redis keyspace notifications (grace expiry relies on poller)")
	}

	// Repos
	userRepo := postgres.NewUserRepo(db)
	friendRepo := postgres.NewFriendRepo(db)
	roomRepo := postgres.NewRoomRepo(db)

	// Auth
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret)
	googleOAuth := auth.NewGoogleOAuth(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)

	// WebSocket hub
	wsHub := handler.NewHub()

	// Room coordinator
	registry := service.NewRegistry()
	roomSvc := service.NewRoomService(registry, roomRepo, userRepo, redisClient, wsHub, conquest.DefaultCatalog(), nil)

	// Grace listener (forced surrender on reconnection timeout)
	graceListener := service.NewGraceListener(redisClient.Underlying(), roomSvc, registry)

	// Handlers
	authHandler := handler.NewAuthHandler(googleOAuth, jwtMgr, userRepo)
	userHandler := handler.NewUserHandler(userRepo)
	friendHandler := handler.NewFriendHandler(friendRepo, userRepo)
	roomHandler := handler.NewRoomHandler(roomSvc)
	wsHandler := handler.NewWSHandler(wsHub, jwtMgr, roomSvc)

	// Router
	mux := http.NewServeMux()
	authMw := auth.Middleware(jwtMgr)

	// Health
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Auth (public)
	mux.HandleFunc("GET /auth/google/login", authHandler.GoogleLogin)
	mux.HandleFunc("GET /auth/google/callback", authHandler.GoogleCallback)
	mux.HandleFunc("POST /auth/refresh", authHandler.RefreshToken)
	mux.HandleFunc("GET /auth/dev", authHandler.DevLogin)

	// Protected API routes
	api := http.NewServeMux()
	api.HandleFunc("GET /users/me", userHandler.GetMe)
	api.HandleFunc("PATCH /users/me", userHandler.UpdateMe)
	api.HandleFunc("GET /users/{id}", userHandler.GetUser)
	api.HandleFunc("GET /friends", friendHandler.List)
	api.HandleFunc("POST /friends", friendHandler.Add)
	api.HandleFunc("DELETE /friends/{id}", friendHandler.Remove)
	api.HandleFunc("POST /rooms", roomHandler.CreateRoom)
	api.HandleFunc("GET /rooms", roomHandler.ListRooms)
	api.HandleFunc("GET /rooms/{code}", roomHandler.GetRoom)
	api.HandleFunc("POST /rooms/{code}/join", roomHandler.JoinRoom)
	api.HandleFunc("POST /rooms/{code}/leave", roomHandler.LeaveRoom)
	api.HandleFunc("POST /rooms/{code}/start", roomHandler.StartGame)
	api.HandleFunc("GET /rooms/{code}/ranking", roomHandler.Ranking)
	api.HandleFunc("POST /rooms/{code}/actions", roomHandler.Action)

	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", authMw(api)))

	// WebSocket (auth via query param, not middleware)
	mux.HandleFunc("GET /api/v1/ws", wsHandler.ServeWS)

	// Apply global middleware
	root := middleware.Chain(mux, middleware.Logger, middleware.Recover, middleware.CORS(cfg.AllowedOrigins), middleware.JSON)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Recover active rooms (rehydrate live state from Redis after restart)
	if err := roomSvc.RecoverActiveRooms(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to recover active rooms (non-fatal)")
	}

	// Start grace listener
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go graceListener.Start(ctx)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server shutdown error")
	}
	log.Info().Msg("Server stopped")
}
