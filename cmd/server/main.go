package main

import (
	"alcyxob/fitness-calendar/internal/api"
	"alcyxob/fitness-calendar/internal/app"
	"alcyxob/fitness-calendar/internal/broadcast"
	"alcyxob/fitness-calendar/internal/config"
	"alcyxob/fitness-calendar/internal/service"
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

// @title Fitness Calendar API
// @version 1.0
// @description Shared coach/athlete calendar: scheduling, duplication and realtime relay.
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	log.Println("Starting Fitness Calendar Server...")

	// --- Configuration ---
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("FATAL: Could not load config: %v", err)
	}
	if cfg.JWT.Secret == "" {
		log.Fatalf("FATAL: jwt.secret is not configured")
	}
	loc, err := cfg.Calendar.Location()
	if err != nil {
		log.Fatalf("FATAL: Invalid calendar.timezone %q: %v", cfg.Calendar.Timezone, err)
	}
	log.Println("Configuration loaded.")

	// --- Storage ---
	stores, err := app.OpenStores(cfg)
	if err != nil {
		log.Fatalf("FATAL: Could not open storage: %v", err)
	}
	defer stores.Close()

	// --- Realtime relay ---
	// The server's own writes reach websocket observers through the hub;
	// row-level observers watch the database directly.
	hub := broadcast.NewHub()
	defer hub.Close()
	engine := broadcast.NewEngine(
		broadcast.WithTransport(broadcast.NewHubTransport(hub)),
		broadcast.WithDedupeSize(cfg.Sync.DedupeSize),
	)

	// --- Services ---
	calendarService := service.NewCalendarService(stores.Workouts, stores.Exercises, stores.Programs, stores.Users, engine)

	// --- Gin ---
	router := gin.Default() // Includes Logger and Recovery middleware
	api.SetupRoutes(router, cfg.JWT.Secret, calendarService, hub, loc)

	server := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: realtime connections are long-lived.
		IdleTimeout: 120 * time.Second,
	}

	log.Printf("Server starting on %s", cfg.Server.Address)

	// --- Graceful Shutdown ---
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("FATAL: ListenAndServe Error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	hub.Close()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Printf("ERROR: Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting.")
}
