package ingestion

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/guttosm/spimexpulse/internal/domain/models"
	"github.com/guttosm/spimexpulse/internal/filestore"
	"github.com/guttosm/spimexpulse/internal/storage"
)

// sourceHeader is the column header row as it appears in bulletins, line breaks included.
var sourceHeader = []string{
	"Код\nИнструмента",
	"Наименование\nИнструмента",
	"Базис\nпоставки",
	"Объем\nДоговоров\nв единицах\nизмерения",
	"Обьем\nДоговоров,\nруб.",
	"Изменение рыночной\nцены к цене\nпредыдущего дня",
	"Количество\nДоговоров,\nшт.",
}

// grid builds a bulletin grid: six metadata rows, the header and the data lines.
// Data lines are {code, name, basis, volume, total, count}.
func grid(headerDate string, lines ...[]string) [][]string {
	g := [][]string{
		{"", "Бюллетень"},
		{"", "по итогам торгов"},
		{},
		{"", headerDate},
		{},
		{"", "Единица измерения: Метрическая тонна"},
		sourceHeader,
	}
	for _, l := range lines {
		g = append(g, []string{l[0], l[1], l[2], l[3], l[4], "-", l[5]})
	}
	return g
}

// encodeGrid serialises a grid as TSV; decodeGrid is its gridReader counterpart.
func encodeGrid(t *testing.T, g [][]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = '\t'
	for _, row := range g {
		// csv.Reader drops empty lines, so blank rows need a separator
		if len(row) < 2 {
			row = append(row, "", "")
		}
		if err := w.Write(row); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	w.Flush()
	return buf.Bytes()
}

func decodeGrid(r io.ReadSeeker) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	return cr.ReadAll()
}

// useTSV swaps the xls decoder for decodeGrid for the duration of a test.
func useTSV(t *testing.T) {
	t.Helper()
	old := gridReader
	gridReader = decodeGrid
	t.Cleanup(func() { gridReader = old })
}

func newStore(t *testing.T) *filestore.Store {
	t.Helper()
	s, err := filestore.New(afero.NewMemMapFs(), "/data")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return s
}

func saveBulletin(t *testing.T, s *filestore.Store, published time.Time, g [][]string) {
	t.Helper()
	if _, err := s.Save(filestore.NameFor(published), published, encodeGrid(t, g)); err != nil {
		t.Fatalf("save: %v", err)
	}
}

// memRepo is an in-memory TradingRepository whose transactions stage rows until commit.
type memRepo struct {
	mu        sync.Mutex
	rows      []models.TradeRecord
	nextID    int64
	insertErr error
	findErr   error
	commits   int
	rollbacks int
	batches   []int
}

type memTx struct {
	*memRepo
	staged []models.TradeRecord
}

func (m *memRepo) FindByProductID(_ context.Context, id *string) ([]models.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []models.TradeRecord
	for i := len(m.rows) - 1; i >= 0; i-- {
		if models.EqualPtr(m.rows[i].ExchangeProductID, id) {
			out = append(out, m.rows[i])
		}
	}
	return out, nil
}

func (m *memRepo) InsertBatch(ctx context.Context, recs []models.TradeRecord) error {
	return m.WithTx(ctx, func(tx storage.TradingRepository) error { return tx.InsertBatch(ctx, recs) })
}

func (m *memRepo) LastTradingDates(context.Context, int) ([]time.Time, error) { return nil, nil }
func (m *memRepo) Dynamics(context.Context, time.Time, time.Time, models.TradeFilter) ([]models.TradeRecord, error) {
	return nil, nil
}
func (m *memRepo) TradingResults(context.Context, int, models.TradeFilter) ([]models.TradeRecord, error) {
	return nil, nil
}

func (m *memRepo) CountRecords(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.rows)), nil
}

func (m *memRepo) WithTx(ctx context.Context, fn func(storage.TradingRepository) error) error {
	tx := &memTx{memRepo: m}
	if err := fn(tx); err != nil {
		m.mu.Lock()
		m.rollbacks++
		m.mu.Unlock()
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range tx.staged {
		m.nextID++
		r.ID = m.nextID
		m.rows = append(m.rows, r)
	}
	m.commits++
	return nil
}

func (tx *memTx) InsertBatch(_ context.Context, recs []models.TradeRecord) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.insertErr != nil {
		return tx.insertErr
	}
	tx.batches = append(tx.batches, len(recs))
	tx.staged = append(tx.staged, append([]models.TradeRecord(nil), recs...)...)
	return nil
}

func (tx *memTx) WithTx(_ context.Context, fn func(storage.TradingRepository) error) error {
	return fn(tx)
}
