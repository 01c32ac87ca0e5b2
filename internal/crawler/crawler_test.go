package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/guttosm/spimexpulse/internal/discovery"
	"github.com/guttosm/spimexpulse/internal/fetcher"
	"github.com/guttosm/spimexpulse/internal/filestore"
)

// archive is a fake bulletin archive: pages maps "page-N" to the hrefs it lists.
type archive struct {
	pages   map[string][]string
	missing map[string]bool // document paths answering 404

	mu   sync.Mutex
	hits map[string]int
}

func newArchive(pages map[string][]string) *archive {
	return &archive{pages: pages, missing: map[string]bool{}, hits: map[string]int{}}
}

func (a *archive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path
	if p := r.URL.Query().Get("page"); p != "" {
		key = "index:" + p
	}
	a.mu.Lock()
	a.hits[key]++
	a.mu.Unlock()

	if p := r.URL.Query().Get("page"); p != "" {
		var b strings.Builder
		b.WriteString("<html><body>")
		for _, href := range a.pages[p] {
			fmt.Fprintf(&b, `<a class="accordeon-inner__item-title link xls" href="%s">bulletin</a>`, href)
		}
		b.WriteString("</body></html>")
		_, _ = w.Write([]byte(b.String()))
		return
	}
	if a.missing[r.URL.Path] {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write([]byte("xls:" + r.URL.Path))
}

func (a *archive) count(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hits[key]
}

func href(ts string) string { return "/upload/reports/oil_xls/oil_xls_" + ts + ".xls" }

type harness struct {
	srv   *httptest.Server
	arch  *archive
	store *filestore.Store
	fs    afero.Fs
	limit int64 // fetcher concurrency
}

func newHarness(t *testing.T, pages map[string][]string) *harness {
	t.Helper()
	arch := newArchive(pages)
	srv := httptest.NewServer(arch)
	t.Cleanup(srv.Close)
	fs := afero.NewMemMapFs()
	store, err := filestore.New(fs, "/data")
	require.NoError(t, err)
	return &harness{srv: srv, arch: arch, store: store, fs: fs, limit: 100}
}

func (h *harness) orchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	f := fetcher.New(h.srv.Client(), semaphore.NewWeighted(h.limit), fetcher.Options{MaxRetries: 2})
	disc, err := discovery.New(h.srv.URL+"/markets/oil_products/trades/results/", f)
	require.NoError(t, err)
	return NewOrchestrator(disc, NewDownloader(f, h.store), opts)
}

func TestRun_CutoffStopsWithoutNextPage(t *testing.T) {
	h := newHarness(t, map[string][]string{
		"page-1": {href("20240105120000"), href("20230105120000"), href("20220105120000")},
		"page-2": {href("20210105120000")},
	})

	sum, err := h.orchestrator(t, Options{CutoffYear: 2023}).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, StopCutoff, sum.StopReason)
	require.Equal(t, 1, sum.Pages)
	require.Equal(t, 2, sum.Scheduled)
	require.Equal(t, 2, sum.Downloaded)
	require.Len(t, sum.Files, 2)
	require.Equal(t, 0, h.arch.count("index:page-2"))
	require.Equal(t, 0, h.arch.count(href("20220105120000")))

	for _, ts := range []time.Time{
		time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 5, 12, 0, 0, 0, time.UTC),
	} {
		ok, err := h.store.Exists(filestore.NameFor(ts))
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestRun_PaginatesUntilEmptyPage(t *testing.T) {
	h := newHarness(t, map[string][]string{
		"page-1": {href("20240301103000"), href("20240229103000")},
		"page-2": {href("20240228103000")},
	})

	sum, err := h.orchestrator(t, Options{CutoffYear: 2023}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StopNoMoreLinks, sum.StopReason)
	require.Equal(t, 3, sum.Pages)
	require.Equal(t, 3, sum.Downloaded)
	require.Equal(t, 1, h.arch.count("index:page-3"))
	require.Equal(t, 0, h.arch.count("index:page-4"))
}

func TestRun_SecondRunDownloadsNothing(t *testing.T) {
	h := newHarness(t, map[string][]string{
		"page-1": {href("20240301103000"), href("20240229103000")},
	})
	o := h.orchestrator(t, Options{CutoffYear: 2024})

	first, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, first.Downloaded)

	second, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, second.Downloaded)
	require.Equal(t, 2, second.Skipped)
	require.Empty(t, second.Files)
	require.Equal(t, 1, h.arch.count(href("20240301103000")))
}

func TestRun_QuotaStopsBeforeNextPage(t *testing.T) {
	h := newHarness(t, map[string][]string{
		"page-1": {href("20240301103000")},
		"page-2": {href("20240229103000")},
	})

	sum, err := h.orchestrator(t, Options{CutoffYear: 2020, MaxDownloads: 1}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StopQuota, sum.StopReason)
	require.Equal(t, 1, sum.Downloaded)
	require.Equal(t, 0, h.arch.count("index:page-2"))
}

func TestRun_QuotaHoldsWithinPage(t *testing.T) {
	var hrefs []string
	for day := 1; day <= 10; day++ {
		hrefs = append(hrefs, href(fmt.Sprintf("202403%02d103000", day)))
	}
	h := newHarness(t, map[string][]string{"page-1": hrefs, "page-2": {href("20240229103000")}})
	h.limit = 1

	sum, err := h.orchestrator(t, Options{CutoffYear: 2020, MaxDownloads: 2}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StopQuota, sum.StopReason)
	require.Equal(t, 10, sum.Scheduled)
	require.Equal(t, 2, sum.Downloaded)
	require.Equal(t, 8, sum.Withheld)
	require.Len(t, sum.Files, 2)
	require.Equal(t, 0, h.arch.count("index:page-2"))

	fetched := 0
	for _, p := range hrefs {
		fetched += h.arch.count(p)
	}
	require.Equal(t, 2, fetched, "documents past the quota must not be requested")
}

func TestRun_StoredDocumentsDoNotConsumeQuota(t *testing.T) {
	h := newHarness(t, map[string][]string{
		"page-1": {href("20240303103000"), href("20240302103000"), href("20240301103000")},
	})
	_, err := h.store.Save(filestore.NameFor(time.Date(2024, 3, 3, 10, 30, 0, 0, time.UTC)),
		time.Date(2024, 3, 3, 10, 30, 0, 0, time.UTC), []byte("stored"))
	require.NoError(t, err)

	sum, err := h.orchestrator(t, Options{CutoffYear: 2020, MaxDownloads: 1}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StopQuota, sum.StopReason)
	require.Equal(t, 1, sum.Skipped)
	require.Equal(t, 1, sum.Downloaded)
	require.Equal(t, 1, sum.Withheld)
}

func TestRun_FailedDownloadDoesNotAbort(t *testing.T) {
	h := newHarness(t, map[string][]string{
		"page-1": {href("20240301103000"), href("20240229103000")},
	})
	h.arch.missing[href("20240301103000")] = true

	sum, err := h.orchestrator(t, Options{CutoffYear: 2024}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sum.Failed)
	require.Equal(t, 1, sum.Downloaded)
	require.Equal(t, StopNoMoreLinks, sum.StopReason)
}

func TestRun_CutoffBoundaryYearIncluded(t *testing.T) {
	h := newHarness(t, map[string][]string{
		"page-1": {href("20230101000000"), href("20221231235959")},
	})
	sum, err := h.orchestrator(t, Options{CutoffYear: 2023}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sum.Downloaded)
	require.Equal(t, StopCutoff, sum.StopReason)
}

func TestRun_MaxPages(t *testing.T) {
	h := newHarness(t, map[string][]string{
		"page-1": {href("20240301103000")},
		"page-2": {href("20240229103000")},
	})
	sum, err := h.orchestrator(t, Options{CutoffYear: 2020, MaxPages: 1}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StopMaxPages, sum.StopReason)
	require.Equal(t, 1, sum.Pages)
}

func TestRun_CanceledContext(t *testing.T) {
	h := newHarness(t, map[string][]string{"page-1": {href("20240301103000")}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := h.orchestrator(t, Options{CutoffYear: 2020}).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StopCanceled, sum.StopReason)
	require.Equal(t, 0, sum.Pages)
}

// cancelingPages cancels the run while a page is being discovered, the way a
// canceled fetch surfaces from the discoverer: as a page without links.
type cancelingPages struct {
	cancel context.CancelFunc
	calls  int
}

func (p *cancelingPages) DiscoverPage(_ context.Context, n int) discovery.Page {
	p.calls++
	p.cancel()
	return discovery.Page{Number: n}
}

func TestRun_CanceledDuringDiscovery(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pages := &cancelingPages{cancel: cancel}
	f := fetcher.New(h.srv.Client(), semaphore.NewWeighted(1), fetcher.Options{})

	sum, err := NewOrchestrator(pages, NewDownloader(f, h.store), Options{CutoffYear: 2020}).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StopCanceled, sum.StopReason)
	require.Equal(t, 1, sum.Pages)
	require.Equal(t, 1, pages.calls)
}

func TestCursor_Reserve(t *testing.T) {
	c := NewCursor(2)
	require.True(t, c.Reserve())
	require.True(t, c.Reserve())
	require.False(t, c.Reserve(), "all slots are held")

	c.Release()
	require.True(t, c.Reserve(), "a released slot can be claimed again")
	require.False(t, c.Reserve())

	unlimited := NewCursor(0)
	for i := 0; i < 10; i++ {
		require.True(t, unlimited.Reserve())
	}
	unlimited.Release()
}

func TestCursor_ReserveConcurrent(t *testing.T) {
	c := NewCursor(3)
	var (
		wg      sync.WaitGroup
		granted atomic.Int64
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Reserve() {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(3), granted.Load())
}

func TestCursor(t *testing.T) {
	c := NewCursor(2)
	require.Equal(t, StateRunning, c.State())
	c.RecordDownload()
	require.False(t, c.Stopping())
	c.RecordDownload()
	require.True(t, c.Stopping())
	require.Equal(t, StopQuota, c.Reason())

	require.False(t, c.Stop(StopCutoff), "first reason wins")
	c.Finish(StopNoMoreLinks)
	require.Equal(t, StateDone, c.State())
	require.Equal(t, StopQuota, c.Reason())
	require.Equal(t, "done", c.State().String())
}
