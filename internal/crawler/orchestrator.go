// Package crawler drives pagination over the archive index and downloads
// bulletins concurrently under a shared stop signal.
//
// A run is a small state machine: RUNNING until a page yields no links, a link
// predates the cutoff year, the download quota is reached, or the page bound is hit;
// then STOPPING while the current page's in-flight downloads drain; then DONE.
// Pages are processed strictly in sequence; downloads of one page run concurrently,
// limited by the fetcher's global concurrency limiter.
package crawler

import (
	"context"
	"sync"
	"time"

	"github.com/guttosm/spimexpulse/internal/discovery"
	"github.com/guttosm/spimexpulse/internal/domain/models"
	"github.com/guttosm/spimexpulse/internal/logger"
)

// PageDiscoverer returns the links of one index page.
type PageDiscoverer interface {
	DiscoverPage(ctx context.Context, n int) discovery.Page
}

// Options tune one crawl run.
type Options struct {
	CutoffYear   int // links published before this year stop the run
	MaxDownloads int // 0 = unlimited
	MaxPages     int // 0 = unlimited
	StartPage    int // defaults to 1
}

// Summary reports what one run did.
type Summary struct {
	Pages      int
	Scheduled  int
	Downloaded int
	Skipped    int
	Failed     int
	Withheld   int // scheduled but not fetched once the quota was held
	StopReason StopReason
	Files      []models.DownloadedFile // downloaded in this run
	Elapsed    time.Duration
}

// Orchestrator runs crawls.
type Orchestrator struct {
	pages      PageDiscoverer
	downloader *Downloader
	opts       Options
}

// NewOrchestrator wires an Orchestrator.
func NewOrchestrator(pages PageDiscoverer, downloader *Downloader, opts Options) *Orchestrator {
	if opts.StartPage < 1 {
		opts.StartPage = 1
	}
	return &Orchestrator{pages: pages, downloader: downloader, opts: opts}
}

// Run crawls until a stop condition and returns the run summary. Per-link and
// per-page failures are logged and counted; only context cancellation is returned
// as an error, after in-flight downloads have drained.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	cursor := NewCursor(o.opts.MaxDownloads)
	log := logger.Component("crawler")
	summary := Summary{}

	var (
		mu    sync.Mutex
		files []models.DownloadedFile
	)

	log.Info().Int("cutoff_year", o.opts.CutoffYear).Int("max_downloads", o.opts.MaxDownloads).Msg("crawl start")

	for page := o.opts.StartPage; ; page++ {
		if ctx.Err() != nil {
			cursor.Stop(StopCanceled)
			break
		}
		if o.opts.MaxPages > 0 && page-o.opts.StartPage >= o.opts.MaxPages {
			cursor.Stop(StopMaxPages)
			break
		}

		cursor.SetPage(page)
		p := o.pages.DiscoverPage(ctx, page)
		summary.Pages++
		// discovery reports a canceled fetch as an empty page
		if ctx.Err() != nil {
			cursor.Stop(StopCanceled)
			break
		}
		if len(p.Links) == 0 {
			cursor.Stop(StopNoMoreLinks)
			break
		}

		var wg sync.WaitGroup
		for _, link := range p.Links {
			if cursor.Stopping() {
				break
			}
			if link.Year() < o.opts.CutoffYear {
				if cursor.Stop(StopCutoff) {
					log.Warn().Int("page", page).Str("href", link.Href).Int("year", link.Year()).
						Int("cutoff_year", o.opts.CutoffYear).Msg("document predates cutoff year, stopping")
				}
				break
			}

			summary.Scheduled++
			wg.Add(1)
			go func(link discovery.Link) {
				defer wg.Done()
				if outcome, f := o.downloader.run(ctx, cursor, link); outcome == Downloaded {
					mu.Lock()
					files = append(files, f)
					mu.Unlock()
				}
			}(link)
		}
		wg.Wait()

		log.Info().Int("page", page).Int("links", len(p.Links)).Int("downloaded", cursor.Downloaded()).
			Int("skipped", cursor.Skipped()).Int("failed", cursor.Failed()).Msg("page done")

		if cursor.Stopping() {
			break
		}
	}

	cursor.Finish(StopNoMoreLinks)

	summary.Downloaded = cursor.Downloaded()
	summary.Skipped = cursor.Skipped()
	summary.Failed = cursor.Failed()
	summary.Withheld = cursor.Withheld()
	summary.StopReason = cursor.Reason()
	summary.Files = files
	summary.Elapsed = time.Since(start)

	log.Info().Int("pages", summary.Pages).Int("scheduled", summary.Scheduled).Int("downloaded", summary.Downloaded).
		Int("skipped", summary.Skipped).Int("failed", summary.Failed).Int("withheld", summary.Withheld).Str("stop_reason", string(summary.StopReason)).
		Dur("elapsed", summary.Elapsed).Msg("crawl done")

	if summary.StopReason == StopCanceled {
		return summary, ctx.Err()
	}
	return summary, nil
}
