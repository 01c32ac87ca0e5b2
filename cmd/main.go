package main

//
//  @title           spimexpulse API
//  @version         1.0
//  @description     SPIMEX oil products trading results: crawl, ingest and read API.
//  @termsOfService  https://github.com/guttosm/spimexpulse
//  @contact.name    API Support
//  @contact.url     https://github.com/guttosm/spimexpulse
//  @contact.email   support@example.com
//  @license.name    MIT
//  @license.url     https://opensource.org/licenses/MIT
//  @host            localhost:8080
//  @BasePath        /
//  @schemes         http
//
//  @tag.name        trading
//  @tag.description Endpoints for querying stored trading results
//
//  @tag.name        health
//  @tag.description Liveness and readiness probes

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guttosm/spimexpulse/config"
	_ "github.com/guttosm/spimexpulse/docs" // swagger docs
	"github.com/guttosm/spimexpulse/internal/app"
	"github.com/guttosm/spimexpulse/internal/logger"
)

// startServer initializes and starts the HTTP server in a separate goroutine.
//
// Parameters:
//   - router (http.Handler): The HTTP router (Gin Engine) configured with all routes.
//   - port (string): The port where the server will listen for incoming requests.
//
// Returns:
//   - *http.Server: The initialized HTTP server instance.
func startServer(router http.Handler, port string) *http.Server {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.L().Info().Str("port", port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Fatal().Err(err).Msg("server failed to start")
		}
	}()

	return server
}

// gracefulShutdown waits until ctx is done (SIGINT, SIGTERM) and then terminates
// the HTTP server and cleans up resources.
//
// Parameters:
//   - ctx (context.Context): Canceled when the process receives a shutdown signal.
//   - server (*http.Server): The HTTP server instance to shut down.
//   - cleanup (func()): Cleanup callback to release resources (e.g., DB connections).
func gracefulShutdown(ctx context.Context, server *http.Server, cleanup func()) {
	<-ctx.Done()
	logger.L().Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.L().Fatal().Err(err).Msg("server forced to shutdown")
	}

	cleanup()
	logger.L().Info().Msg("server exited gracefully")
}

// run executes one batch mode and reports its failure.
func run(ctx context.Context, mode string, cfg config.Config) error {
	switch mode {
	case "crawl":
		_, err := app.RunCrawl(ctx, cfg)
		return err
	case "ingest":
		_, err := app.RunIngest(ctx, cfg)
		return err
	case "sync":
		return app.RunSync(ctx, cfg)
	default:
		return errUnknownMode
	}
}

var errUnknownMode = errors.New("unknown mode")

// main is the entry point of the spimexpulse application.
//
// Modes (selected via --mode flag):
//   - crawl:  Downloads new bulletins from the archive into DATA_DIR.
//   - ingest: Parses every stored bulletin and appends new records to PostgreSQL.
//   - sync:   crawl followed by ingest.
//   - api:    Starts the REST API over the stored records.
//
// Flags:
//   - --mode:   Execution mode. Default: "sync".
//   - --port:   Port for the API server. Defaults to value from config (SERVER_PORT).
//   - --cutoff: Overrides CRAWLER_CUTOFF_YEAR when > 0.
//   - --dedup:  Overrides INGEST_DEDUP_MODE ("descriptive" or "daily").
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration from environment or .env file
	config.LoadConfig()

	// Initialize JSON logger
	logger.Init()
	defer logger.Close()

	// Parse CLI flags (override config defaults if provided)
	mode := flag.String("mode", "sync", "Mode: crawl, ingest, sync or api")
	port := flag.String("port", config.AppConfig.Server.Port, "Port for API mode")
	cutoff := flag.Int("cutoff", 0, "Earliest publication year to crawl (0 = CRAWLER_CUTOFF_YEAR)")
	dedup := flag.String("dedup", "", "Dedup mode: descriptive or daily (empty = INGEST_DEDUP_MODE)")
	flag.Parse()

	cfg := config.AppConfig
	if *cutoff > 0 {
		cfg.Crawler.CutoffYear = *cutoff
	}
	if *dedup != "" {
		cfg.Ingest.DedupMode = *dedup
	}

	if *mode == "api" {
		// API mode: start the HTTP server
		logger.L().Info().Msg("starting API server")

		router, cleanup, err := app.InitializeApp()
		if err != nil {
			logger.L().Fatal().Err(err).Msg("app init error")
		}

		server := startServer(router, *port)
		gracefulShutdown(ctx, server, cleanup)
		return
	}

	logger.L().Info().Str("mode", *mode).Msg("running batch job")
	if err := run(ctx, *mode, cfg); err != nil {
		logger.L().Fatal().Err(err).Str("mode", *mode).Msg("job failed")
	}
	logger.L().Info().Str("mode", *mode).Msg("job completed successfully")
}
