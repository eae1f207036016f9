package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"growhub-backend/config"
	"growhub-backend/internal/api"
	"growhub-backend/internal/assignment"
	"growhub-backend/internal/db"
	"growhub-backend/internal/device"
	"growhub-backend/internal/ingest"
	"growhub-backend/internal/lifecycle"
	"growhub-backend/internal/location"
	"growhub-backend/internal/notification"
	"growhub-backend/internal/share"
	"growhub-backend/internal/sweeper"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "growhub-backend ", log.LstdFlags)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	// Check for VAPID keys
	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Fatalf("VAPID keys must be configured. Please generate them and add them to your config file.")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Notification worker pool
	pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, &webpushOptions)
	pool.Start(ctx)

	// Domain services
	locations := location.NewService(gormDB)
	shares := share.NewService(gormDB, cfg.Sharing.CodeLength, cfg.Sharing.DefaultExpiryDays)
	devices := device.NewService(gormDB)
	assignments := assignment.NewService(gormDB, shares)
	lifecycleSvc := lifecycle.NewService(gormDB)
	ingestSvc := ingest.NewService(gormDB, devices, assignments, lifecycleSvc, pool)

	// Background sweeper: offline detection and data retention
	sweep := sweeper.NewService(cfg, gormDB, pool)
	go sweep.Run(ctx)

	// Initialize router
	router := api.NewRouter(cfg, gormDB, api.Services{
		Locations:   locations,
		Shares:      shares,
		Devices:     devices,
		Assignments: assignments,
		Lifecycle:   lifecycleSvc,
		Ingest:      ingestSvc,
		Notify:      pool,
	}, &webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	// Create a deadline to wait for.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
