package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beiliao-mobile/BLIAP/internal/api"
	"github.com/beiliao-mobile/BLIAP/internal/authority"
	"github.com/beiliao-mobile/BLIAP/internal/config"
	"github.com/beiliao-mobile/BLIAP/internal/database"
	"github.com/beiliao-mobile/BLIAP/internal/services"
	"github.com/beiliao-mobile/BLIAP/internal/verify"
	"github.com/beiliao-mobile/BLIAP/pkg/logging"

	"github.com/gin-gonic/gin"
)

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatal("Failed to initialize config:", err)
	}

	// Initialize logging
	logging.InitLogging()

	// Initialize database
	if err := database.InitDatabase(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}

	// Build the verify queue manager
	store := database.NewGormTransactionStore(nil)
	client := authority.NewHTTPClientFromConfig()
	dispatcher := services.NewEventDispatcher()
	manager := verify.NewManager(
		store,
		client,
		dispatcher,
		time.Duration(config.AppConfig.RetryStepSeconds)*time.Second,
		time.Duration(config.AppConfig.RetryMaxStepSeconds)*time.Second,
	)

	// Cancel in-flight verification on shutdown; persisted records resume
	// on the next start.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logging.Infof("Shutting down, cancelling verify queues")
		manager.StopAll()
		database.CloseDatabase()
		os.Exit(0)
	}()

	// Set Gin mode
	gin.SetMode(config.AppConfig.Mode)

	// Create Gin engine
	r := gin.Default()

	// Setup routes
	api.SetupRoutes(r, manager)

	// Start server
	port := config.AppConfig.Port
	logging.Infof("Starting server on port %s", port)

	if err := r.Run(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
