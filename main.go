// Package main provides the main entry point for the Kura document and identifier service
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/amirphl/Kura/app/bootstrap"
	"github.com/amirphl/Kura/app/handlers"
	"github.com/amirphl/Kura/app/middleware"
	"github.com/amirphl/Kura/app/router"
	"github.com/amirphl/Kura/app/services"
	businessflow "github.com/amirphl/Kura/business_flow"
	"github.com/amirphl/Kura/config"
	"github.com/gofiber/fiber/v3"
)

// Application represents the main application structure
type Application struct {
	router    router.Router
	config    *config.ProductionConfig
	server    *fiber.App
	logger    *log.Logger
	stores    *bootstrap.Stores
	stopFuncs []func()
}

func main() {
	log.Println("Starting Kura application...")

	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, logCloser := bootstrap.NewLogger(cfg.Logging)
	defer logCloser.Close()

	app, err := initializeApplication(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize application: %v", err)
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		logger.Printf("Server starting on %s", address)

		if err := app.server.Listen(address); err != nil {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-sigChan
	logger.Println("Shutting down gracefully...")

	for _, fn := range app.stopFuncs {
		fn()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Printf("Error during shutdown: %v", err)
	}
	if err := app.stores.Close(); err != nil {
		logger.Printf("Error closing stores: %v", err)
	}

	logger.Println("Server stopped")
}

// initializeApplication initializes the main application components
func initializeApplication(ctx context.Context, cfg *config.ProductionConfig, logger *log.Logger) (*Application, error) {
	var stopFuncs []func()

	stores, err := bootstrap.OpenStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if stores.Redis != nil {
		stopFuncs = append(stopFuncs, bootstrap.StartCacheHealthMonitor(context.Background(), stores.Redis, cfg.Cache.HealthPeriod, logger))
	}

	registry, err := config.LoadCollectionRegistry(cfg.IDGen.CollectionsFile, cfg.IDGen)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}
	logger.Printf("Collection registry loaded with %d configured collections", len(registry.Collections()))

	// Initialize services
	idService := services.NewIDService(stores.Counters, logger)

	tokenService, err := services.NewTokenService(
		cfg.JWT.TokenTTL,
		cfg.JWT.Issuer,
		cfg.JWT.Audience,
		cfg.JWT.UseRSAKeys,
		cfg.JWT.PrivateKey,
		cfg.JWT.PublicKey,
		cfg.JWT.SecretKey,
	)
	if err != nil {
		_ = stores.Close()
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}
	logger.Printf("Token service initialized with issuer: %s, audience: %s", cfg.JWT.Issuer, cfg.JWT.Audience)

	// Initialize flows
	collectionFlow := businessflow.NewCollectionFlow(stores.Documents, idService, registry, logger)
	counterAdminFlow := businessflow.NewCounterAdminFlow(idService, registry, logger)

	// Initialize handlers
	collectionHandler := handlers.NewCollectionHandler(collectionFlow, logger, cfg.Server.RequestTimeout)
	counterAdminHandler := handlers.NewCounterAdminHandler(counterAdminFlow, logger, cfg.Server.RequestTimeout)

	authMiddleware := middleware.NewAuthMiddleware(tokenService)

	appRouter := router.NewFiberRouter(
		cfg,
		logger,
		collectionHandler,
		counterAdminHandler,
		authMiddleware,
		stores.Ping,
	)

	return &Application{
		router:    appRouter,
		config:    cfg,
		server:    appRouter.GetApp(),
		logger:    logger,
		stores:    stores,
		stopFuncs: stopFuncs,
	}, nil
}
