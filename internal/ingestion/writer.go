package ingestion

import (
	"context"
	"fmt"

	"github.com/guttosm/spimexpulse/internal/domain/models"
	"github.com/guttosm/spimexpulse/internal/logger"
	"github.com/guttosm/spimexpulse/internal/metrics"
	"github.com/guttosm/spimexpulse/internal/storage"
)

// DedupMode selects the field subset two records must share to count as duplicates.
type DedupMode string

const (
	// DedupDescriptive compares product code, name and the delivery fields.
	DedupDescriptive DedupMode = "descriptive"
	// DedupDaily additionally compares the trade date.
	DedupDaily DedupMode = "daily"

	defaultBatchSize = 1000
)

// WriteStats summarises one writer run.
type WriteStats struct {
	Received   int
	Written    int
	Duplicates int
}

// Writer appends records that do not duplicate a stored or already staged row.
// All rows of one run go through a single transaction.
type Writer struct {
	repo      storage.TradingRepository
	mode      DedupMode
	batchSize int
}

func NewWriter(repo storage.TradingRepository, mode DedupMode, batchSize int) *Writer {
	if mode != DedupDaily {
		mode = DedupDescriptive
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Writer{repo: repo, mode: mode, batchSize: batchSize}
}

// UpsertBatch writes the non-duplicate subset of records and returns how many were written.
// On any storage error the whole batch is rolled back.
func (w *Writer) UpsertBatch(ctx context.Context, records []models.TradeRecord) (int, error) {
	ch := make(chan models.TradeRecord, len(records))
	for _, r := range records {
		ch <- r
	}
	close(ch)
	stats, err := w.Run(ctx, ch)
	return stats.Written, err
}

// Run consumes in until it is closed and commits once at the end.
// Records are flushed with COPY every batchSize rows inside the run transaction.
func (w *Writer) Run(ctx context.Context, in <-chan models.TradeRecord) (WriteStats, error) {
	var stats WriteStats
	err := w.repo.WithTx(ctx, func(tx storage.TradingRepository) error {
		s := &session{
			w:     w,
			tx:    tx,
			known: make(map[productKey][]models.TradeRecord),
			stats: &stats,
		}
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case rec, ok := <-in:
				if !ok {
					return s.flush(ctx)
				}
				if err := s.add(ctx, rec); err != nil {
					return err
				}
			}
		}
	})
	if err != nil {
		logger.L().Error().Err(err).Int("received", stats.Received).Msg("writer rolled back")
		return WriteStats{Received: stats.Received}, fmt.Errorf("write records: %w", err)
	}

	metrics.ObserveRecords("written", stats.Written)
	metrics.ObserveRecords("duplicate", stats.Duplicates)
	logger.L().Info().
		Int("received", stats.Received).
		Int("written", stats.Written).
		Int("duplicates", stats.Duplicates).
		Str("mode", string(w.mode)).
		Msg("writer committed")
	return stats, nil
}

// Duplicate reports whether a and b agree on the dedup subset of mode.
func Duplicate(mode DedupMode, a, b models.TradeRecord) bool {
	same := models.EqualPtr(a.ExchangeProductID, b.ExchangeProductID) &&
		models.EqualPtr(a.ProductName, b.ProductName) &&
		models.EqualPtr(a.OilID, b.OilID) &&
		models.EqualPtr(a.DeliveryBasisID, b.DeliveryBasisID) &&
		models.EqualPtr(a.DeliveryBasisName, b.DeliveryBasisName) &&
		models.EqualPtr(a.DeliveryTypeID, b.DeliveryTypeID)
	if !same || mode != DedupDaily {
		return same
	}
	ay, am, ad := a.TradeDate.Date()
	by, bm, bd := b.TradeDate.Date()
	return ay == by && am == bm && ad == bd
}

// productKey distinguishes a NULL product code from an empty one.
type productKey struct {
	code  string
	valid bool
}

func keyOf(p *string) productKey {
	if p == nil {
		return productKey{}
	}
	return productKey{code: *p, valid: true}
}

type session struct {
	w       *Writer
	tx      storage.TradingRepository
	known   map[productKey][]models.TradeRecord // stored plus staged rows per product
	pending []models.TradeRecord
	stats   *WriteStats
}

func (s *session) add(ctx context.Context, rec models.TradeRecord) error {
	s.stats.Received++

	key := keyOf(rec.ExchangeProductID)
	rows, loaded := s.known[key]
	if !loaded {
		stored, err := s.tx.FindByProductID(ctx, rec.ExchangeProductID)
		if err != nil {
			return err
		}
		rows = stored
	}

	for _, existing := range rows {
		if Duplicate(s.w.mode, rec, existing) {
			s.stats.Duplicates++
			logger.L().Debug().
				Str("product_id", models.Deref(rec.ExchangeProductID)).
				Time("date", rec.TradeDate).
				Msg("duplicate skipped")
			s.known[key] = rows
			return nil
		}
	}

	s.known[key] = append(rows, rec)
	s.pending = append(s.pending, rec)
	if len(s.pending) >= s.w.batchSize {
		return s.flush(ctx)
	}
	return nil
}

func (s *session) flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	if err := s.tx.InsertBatch(ctx, s.pending); err != nil {
		return err
	}
	s.stats.Written += len(s.pending)
	s.pending = s.pending[:0]
	return nil
}
