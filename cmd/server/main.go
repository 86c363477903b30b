package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/translation-studio/collab/api/handlers"
	"github.com/translation-studio/collab/internal/db"
	"github.com/translation-studio/collab/internal/relay"
	"github.com/translation-studio/collab/internal/repository"
	"github.com/translation-studio/collab/internal/ws"
)

func main() {
	// Get configuration from environment
	port := getEnv("PORT", "8080")
	dbPath := getEnv("DB_PATH", "data/collab.db")
	redisAddr := getEnv("REDIS_ADDR", "")
	allowedOrigin := getEnv("WS_ALLOWED_ORIGIN", "")

	// Ensure the data directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	// Initialize database
	database, err := db.InitDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.CloseDB()

	// Initialize repository
	activityRepo := repository.NewActivityRepository(database)

	// Initialize the collaboration room layer
	rooms := ws.NewRoomManager()
	wsHandler := ws.NewHandler(rooms)
	wsHandler.SetActivityRecorder(activityRepo)

	if allowedOrigin != "" {
		ws.SetCheckOrigin(func(r *http.Request) bool {
			return r.Header.Get("Origin") == allowedOrigin
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional cross-instance relay
	if redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		roomRelay := relay.New(client, wsHandler)
		wsHandler.SetRelay(roomRelay)
		go func() {
			if err := roomRelay.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("Relay stopped: %v", err)
			}
		}()
	}

	// Initialize handlers
	socketHandler := handlers.NewWebSocketHandler(wsHandler)
	presenceHandler := handlers.NewPresenceHandler(rooms, activityRepo)

	// Initialize Gin router
	r := gin.Default()

	// Enable CORS for development
	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"clients": wsHandler.ClientCount(),
		})
	})

	// API routes
	api := r.Group("/api")
	{
		socketHandler.RegisterRoutes(api)
		presenceHandler.RegisterRoutes(api)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down server...")
		cancel()
		db.CloseDB()
		os.Exit(0)
	}()

	// Start server
	log.Printf("Starting server on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
