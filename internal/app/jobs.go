package app

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/sync/semaphore"

	"github.com/guttosm/spimexpulse/config"
	"github.com/guttosm/spimexpulse/internal/crawler"
	"github.com/guttosm/spimexpulse/internal/discovery"
	"github.com/guttosm/spimexpulse/internal/fetcher"
	"github.com/guttosm/spimexpulse/internal/ingestion"
	"github.com/guttosm/spimexpulse/internal/logger"
)

// NewCrawler wires fetcher, discovery and file store into a crawl orchestrator.
//
// One semaphore sized CRAWLER_CONCURRENCY bounds every outbound request of the run,
// index pages and downloads alike.
func NewCrawler(cfg config.Config) (*crawler.Orchestrator, error) {
	store, err := storeOpener(cfg.Crawler.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open data directory: %w", err)
	}

	headers := http.Header{}
	if cfg.Crawler.UserAgent != "" {
		headers.Set("User-Agent", cfg.Crawler.UserAgent)
	}
	f := fetcher.New(fetcher.NewHTTPClient(cfg.Crawler.RequestTimeout), semaphore.NewWeighted(int64(max(cfg.Crawler.Concurrency, 1))), fetcher.Options{
		MaxRetries: cfg.Crawler.MaxRetries,
		Backoff:    cfg.Crawler.Backoff,
		Headers:    headers,
	})

	pages, err := discovery.New(cfg.Crawler.BaseURL, f)
	if err != nil {
		return nil, err
	}

	return crawler.NewOrchestrator(pages, crawler.NewDownloader(f, store), crawler.Options{
		CutoffYear:   cfg.Crawler.CutoffYear,
		MaxDownloads: cfg.Crawler.MaxDownloads,
		MaxPages:     cfg.Crawler.MaxPages,
	}), nil
}

// RunCrawl downloads every new bulletin published since the cutoff year.
func RunCrawl(ctx context.Context, cfg config.Config) (crawler.Summary, error) {
	o, err := NewCrawler(cfg)
	if err != nil {
		return crawler.Summary{}, err
	}
	return o.Run(ctx)
}

// RunIngest loads every stored bulletin into PostgreSQL.
func RunIngest(ctx context.Context, cfg config.Config) (ingestion.Summary, error) {
	store, err := storeOpener(cfg.Crawler.DataDir)
	if err != nil {
		return ingestion.Summary{}, fmt.Errorf("failed to open data directory: %w", err)
	}

	db, err := postgresOpener(cfg)
	if err != nil {
		return ingestion.Summary{}, fmt.Errorf("failed to initialize postgres: %w", err)
	}
	defer func() { _ = db.Close() }()

	return ingestion.ProcessStore(ctx, store, db, ingestion.Options{
		Workers:   cfg.Ingest.Workers,
		BatchSize: cfg.Ingest.BatchSize,
		DedupMode: ingestion.DedupMode(cfg.Ingest.DedupMode),
	})
}

// RunSync crawls and then ingests. The ingest step still runs when the crawl
// stopped early on its own; it is skipped only when ctx is done.
func RunSync(ctx context.Context, cfg config.Config) error {
	crawled, err := RunCrawl(ctx, cfg)
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	logger.L().Info().Int("downloaded", crawled.Downloaded).Str("stop_reason", string(crawled.StopReason)).Msg("crawl finished, ingesting")

	if _, err := RunIngest(ctx, cfg); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	return nil
}
