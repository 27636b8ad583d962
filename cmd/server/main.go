package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/agent-console/backend/api/handlers"
	"github.com/agent-console/backend/internal/db"
	"github.com/agent-console/backend/internal/fanout"
	"github.com/agent-console/backend/internal/repository"
	"github.com/agent-console/backend/internal/session"
	"github.com/agent-console/backend/internal/ws"
)

func main() {
	// Get configuration from environment
	port := getEnv("PORT", "8080")
	dbPath := getEnv("DB_PATH", "data/sessions.db")
	logDir := getEnv("LOG_DIR", "data/logs")
	agentCmd := getEnv("AGENT_CMD", "claude")
	maxSessions := getEnvInt("MAX_SESSIONS", 10)

	// The spawned command is fixed server configuration; clients only ever
	// choose working directories.
	command, args, err := splitCommand(agentCmd)
	if err != nil {
		log.Fatalf("Invalid AGENT_CMD %q: %v", agentCmd, err)
	}

	// Ensure data directories exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Fatalf("Failed to create log directory: %v", err)
	}

	// Initialize database
	database, err := db.Open(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	// Initialize fanout bus and session registry
	sessionRepo := repository.NewSessionRepository(database)
	bus := fanout.NewBus()

	registry, err := session.NewRegistry(context.Background(), bus, sessionRepo, session.Config{
		Command:    command,
		Args:       args,
		LogDir:     logDir,
		MaxRunning: maxSessions,
	})
	if err != nil {
		log.Fatalf("Failed to initialize session registry: %v", err)
	}
	defer registry.Close()

	// Initialize handlers
	sessionHandler := handlers.NewSessionHandler(registry)
	wsHandler := handlers.NewWebSocketHandler(ws.NewHandler(registry, bus))

	// Initialize Gin router
	r := gin.Default()
	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	// API routes
	api := r.Group("/api")
	{
		sessionHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down server...")
		registry.Close()
		database.Close()
		os.Exit(0)
	}()

	// Start server
	log.Printf("Starting server on port %s (agent command: %s)", port, agentCmd)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// splitCommand splits a configured command line into executable and
// arguments. A blank or whitespace-only command line is an error.
func splitCommand(raw string) (string, []string, error) {
	parts := strings.Fields(raw)
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("command must not be empty")
	}
	return parts[0], parts[1:], nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
