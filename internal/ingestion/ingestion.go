package ingestion

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/guttosm/spimexpulse/internal/domain/models"
	"github.com/guttosm/spimexpulse/internal/logger"
	"github.com/guttosm/spimexpulse/internal/metrics"
	"github.com/guttosm/spimexpulse/internal/storage"
)

// repoCtor is an indirection for creating the repository; tests can override this.
var repoCtor = func(db *sql.DB) storage.TradingRepository {
	return storage.NewTradingRepository(db)
}

// gridReader decodes a stored bulletin; tests swap it for a plain-text reader.
var gridReader = ReadXLS

// Source lists and opens stored bulletins. *filestore.Store satisfies it.
type Source interface {
	List() ([]models.DownloadedFile, error)
	Open(name string) (afero.File, error)
}

// Options tunes one ingest run.
type Options struct {
	Workers   int // parse pool size; <= 0 means NumCPU
	BatchSize int
	DedupMode DedupMode
}

// Summary reports one ingest run.
type Summary struct {
	Files       int
	FailedFiles int
	Rows        int // data rows kept by the reader
	Filtered    int // rows dropped by the reader (count <= 0, totals)
	Dropped     int // rows rejected by the normalizer
	Write       WriteStats
	Stored      int64 // rows in the table after the run; -1 when the count failed
	Elapsed     time.Duration
}

// Pipeline runs files through the parse pool and funnels the records into one Writer.
type Pipeline struct {
	src     Source
	repo    storage.TradingRepository
	writer  *Writer
	workers int
}

func NewPipeline(src Source, repo storage.TradingRepository, opts Options) *Pipeline {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pipeline{
		src:     src,
		repo:    repo,
		writer:  NewWriter(repo, opts.DedupMode, opts.BatchSize),
		workers: workers,
	}
}

// ProcessStore ingests every bulletin of src into the database behind db.
//
// Behavior:
//   - Files are parsed concurrently by a bounded pool.
//   - Records reach the writer oldest file first, so dedup keeps the earliest occurrence.
//   - A file that cannot be read or parsed is logged and contributes no records.
//   - A storage failure rolls back the whole run and is returned.
func ProcessStore(ctx context.Context, src Source, db *sql.DB, opts Options) (Summary, error) {
	return NewPipeline(src, repoCtor(db), opts).Run(ctx)
}

type fileResult struct {
	file     models.DownloadedFile
	sheet    Sheet
	records  []models.TradeRecord
	dropped  int
	err      error
	duration time.Duration
}

// Run ingests every listed file.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	var sum Summary

	files, err := p.src.List()
	if err != nil {
		return sum, fmt.Errorf("list files: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].PublishedAt.Before(files[j].PublishedAt) })
	sum.Files = len(files)

	logger.L().Info().Int("files", len(files)).Int("workers", p.workers).Msg("ingestion start")

	g, gctx := errgroup.WithContext(ctx)

	slots := make([]chan fileResult, len(files))
	for i := range slots {
		slots[i] = make(chan fileResult, 1)
	}
	records := make(chan models.TradeRecord, p.writer.batchSize)

	// parse pool
	g.Go(func() error {
		var pool errgroup.Group
		pool.SetLimit(p.workers)
		for i, f := range files {
			i, f := i, f
			pool.Go(func() error {
				slots[i] <- p.parseFile(gctx, f)
				return nil
			})
		}
		return pool.Wait()
	})

	// feeder: hands records to the writer in file order
	g.Go(func() error {
		defer close(records)
		for i := range slots {
			var res fileResult
			select {
			case res = <-slots[i]:
			case <-gctx.Done():
				return gctx.Err()
			}
			p.account(&sum, res)
			for _, rec := range res.records {
				select {
				case records <- rec:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		}
		return nil
	})

	// single writer
	g.Go(func() error {
		stats, err := p.writer.Run(gctx, records)
		sum.Write = stats
		return err
	})

	err = g.Wait()
	sum.Elapsed = time.Since(start)
	if err != nil {
		return sum, err
	}

	sum.Stored, err = p.repo.CountRecords(ctx)
	if err != nil {
		logger.L().Warn().Err(err).Msg("could not count stored records")
		sum.Stored = -1
	}

	logger.L().Info().
		Int("files", sum.Files).
		Int("failed_files", sum.FailedFiles).
		Int("rows", sum.Rows).
		Int("filtered", sum.Filtered).
		Int("dropped", sum.Dropped).
		Int("written", sum.Write.Written).
		Int("duplicates", sum.Write.Duplicates).
		Int64("stored", sum.Stored).
		Dur("elapsed", sum.Elapsed).
		Msg("ingestion done")
	return sum, nil
}

func (p *Pipeline) account(sum *Summary, res fileResult) {
	log := logger.L().With().Str("file", res.file.Name).Logger()
	if res.err != nil {
		sum.FailedFiles++
		metrics.ObserveFile("failed")
		log.Error().Err(res.err).Msg("file skipped")
		return
	}
	metrics.ObserveFile("parsed")
	metrics.ObserveRecords("dropped", res.dropped)
	sum.Rows += len(res.sheet.Rows)
	sum.Filtered += res.sheet.Filtered
	sum.Dropped += res.dropped
	log.Info().
		Int("rows", len(res.records)).
		Int("filtered", res.sheet.Filtered).
		Int("dropped", res.dropped).
		Dur("elapsed", res.duration).
		Msg("file parsed")
}

func (p *Pipeline) parseFile(ctx context.Context, f models.DownloadedFile) (res fileResult) {
	start := time.Now()
	res.file = f
	defer func() { res.duration = time.Since(start) }()

	if err := ctx.Err(); err != nil {
		res.err = err
		return res
	}

	fh, err := p.src.Open(f.Name)
	if err != nil {
		res.err = fmt.Errorf("open: %w", err)
		return res
	}
	defer func() { _ = fh.Close() }()

	grid, err := gridReader(fh)
	if err != nil {
		res.err = err
		return res
	}
	sheet, err := ParseSheet(grid)
	if err != nil {
		res.err = err
		return res
	}
	res.sheet = sheet

	if sheet.Date == nil && len(sheet.Rows) > 0 {
		logger.L().Warn().Str("file", f.Name).Int("rows", len(sheet.Rows)).Msg("header date missing, dropping rows")
	}

	res.records = make([]models.TradeRecord, 0, len(sheet.Rows))
	var firstErr error
	for _, raw := range sheet.Rows {
		rec, err := Normalize(raw, sheet.Date)
		if err != nil {
			res.dropped++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		res.records = append(res.records, rec)
	}
	if firstErr != nil && !errors.Is(firstErr, ErrMissingDate) {
		logger.L().Warn().Str("file", f.Name).Int("dropped", res.dropped).Err(firstErr).Msg("rows dropped")
	}
	return res
}
