package app

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/guttosm/spimexpulse/config"
	"github.com/guttosm/spimexpulse/internal/api"
	"github.com/guttosm/spimexpulse/internal/cache"
	"github.com/guttosm/spimexpulse/internal/filestore"
	"github.com/guttosm/spimexpulse/internal/service"
	"github.com/guttosm/spimexpulse/internal/storage"
)

// storeOpener is an indirection used by InitializeApp and the batch jobs; overridden in tests.
var storeOpener = filestore.NewOS

// InitializeApp sets up all application dependencies and returns
// a fully configured Gin router, a cleanup function for graceful shutdown,
// and any error encountered during initialization.
//
// Responsibilities:
//   - Connects to PostgreSQL using InitPostgres().
//   - Initializes the repository layer (TradingRepository).
//   - Builds the in-memory read cache gated by CACHE_REFRESH_AT.
//   - Creates the service and HTTP handler layers.
//   - Configures the Gin router with all API routes.
//   - Registers health and readiness probes (database and data directory).
//   - Provides a cleanup function to close resources (e.g., DB connection).
//
// Returns:
//   - *gin.Engine: the configured Gin HTTP router.
//   - func(): cleanup function to be executed on shutdown.
//   - error: any initialization error that occurred.
func InitializeApp() (*gin.Engine, func(), error) {
	// Load global configuration
	cfg := config.AppConfig

	gate, err := cache.NewGate(cfg.Cache.RefreshAt)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid cache refresh time: %w", err)
	}

	// Connect to PostgreSQL
	// indirection for unit testing
	db, err := postgresOpener(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	// Initialize repository layer (responsible for DB access)
	repo := storage.NewTradingRepository(db)

	// Initialize service layer with the daily-refresh read cache
	svc := service.NewTradingService(repo, cache.New(cache.NewMemoryStore(), gate))

	// Initialize HTTP handler layer (business logic to HTTP mapping)
	handler := api.NewHandler(svc)

	// Setup Gin router with routes
	router := api.NewRouter(handler)

	// Register health and readiness probes
	healthHandler := api.NewHealthHandler(db.Ping)
	if cfg.Crawler.DataDir != "" {
		store, err := storeOpener(cfg.Crawler.DataDir)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to open data directory: %w", err)
		}
		healthHandler.WithCheck("data_dir", store.Ready)
	}
	healthHandler.Register(router)

	// Cleanup resources on shutdown
	cleanup := func() {
		_ = db.Close()
	}

	return router, cleanup, nil
}
