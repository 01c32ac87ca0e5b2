package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/guttosm/spimexpulse/internal/domain/models"
)

func record(code, name string, day int, volume int64) models.TradeRecord {
	date := time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC).Format(headerDateLayout)
	rec, _ := Normalize(RawRow{
		ProductID:         models.StringPtr(code),
		ProductName:       models.StringPtr(name),
		DeliveryBasisName: models.StringPtr("Уфа"),
		Volume:            decimal.NewNullDecimal(decimal.NewFromInt(volume)),
		Count:             decimal.NewFromInt(1),
	}, &date)
	return rec
}

func TestDuplicate(t *testing.T) {
	a := record("A592UFM060F", "Бензин", 1, 60)
	cases := []struct {
		name        string
		b           models.TradeRecord
		descriptive bool
		daily       bool
	}{
		{name: "volume differs", b: record("A592UFM060F", "Бензин", 1, 99), descriptive: true, daily: true},
		{name: "date differs", b: record("A592UFM060F", "Бензин", 2, 60), descriptive: true, daily: false},
		{name: "name differs", b: record("A592UFM060F", "Бензин АИ-92", 1, 60), descriptive: false, daily: false},
		{name: "code differs", b: record("A592UFM065F", "Бензин", 1, 60), descriptive: false, daily: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Duplicate(DedupDescriptive, a, tc.b); got != tc.descriptive {
				t.Fatalf("descriptive: want %v got %v", tc.descriptive, got)
			}
			if got := Duplicate(DedupDaily, a, tc.b); got != tc.daily {
				t.Fatalf("daily: want %v got %v", tc.daily, got)
			}
		})
	}

	nilCode := models.TradeRecord{}
	if !Duplicate(DedupDescriptive, nilCode, models.TradeRecord{}) {
		t.Fatalf("two records without product code and fields are duplicates")
	}
	if Duplicate(DedupDescriptive, nilCode, models.TradeRecord{ExchangeProductID: models.StringPtr("")}) {
		t.Fatalf("absent and empty product codes must differ")
	}
}

func TestWriter_UpsertBatch_SkipsDuplicates(t *testing.T) {
	repo := &memRepo{}
	w := NewWriter(repo, DedupDescriptive, 2)
	ctx := context.Background()

	batch := []models.TradeRecord{
		record("A592UFM060F", "Бензин", 1, 60),
		record("A592UFM060F", "Бензин", 2, 30), // same descriptive subset, staged in this run
		record("DTE5NVY065W", "Дизель", 1, 65),
		record("A100ANK060F", "Бензин", 1, 10),
	}
	n, err := w.UpsertBatch(ctx, batch)
	if err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	if n != 3 {
		t.Fatalf("want 3 written, got %d", n)
	}
	if repo.commits != 1 || len(repo.batches) != 2 {
		t.Fatalf("want one commit and two COPY flushes, got commits=%d batches=%v", repo.commits, repo.batches)
	}

	// second run over the same records writes nothing
	n, err = w.UpsertBatch(ctx, batch)
	if err != nil || n != 0 {
		t.Fatalf("second run: n=%d err=%v", n, err)
	}
	if c, _ := repo.CountRecords(ctx); c != 3 {
		t.Fatalf("stored rows must not grow, got %d", c)
	}
}

func TestWriter_DailyMode(t *testing.T) {
	repo := &memRepo{}
	w := NewWriter(repo, DedupDaily, 0)
	ctx := context.Background()

	batch := []models.TradeRecord{
		record("A592UFM060F", "Бензин", 1, 60),
		record("A592UFM060F", "Бензин", 2, 30),
		record("A592UFM060F", "Бензин", 1, 60),
	}
	n, err := w.UpsertBatch(ctx, batch)
	if err != nil || n != 2 {
		t.Fatalf("daily: n=%d err=%v", n, err)
	}
	// older day after newer one still matches its own stored row
	n, err = w.UpsertBatch(ctx, batch[:1])
	if err != nil || n != 0 {
		t.Fatalf("daily rerun: n=%d err=%v", n, err)
	}
}

func TestWriter_RollbackOnFailure(t *testing.T) {
	cases := []struct {
		name string
		repo *memRepo
	}{
		{name: "insert", repo: &memRepo{insertErr: errors.New("disk full")}},
		{name: "lookup", repo: &memRepo{findErr: errors.New("conn reset")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := NewWriter(tc.repo, DedupDescriptive, 10)
			n, err := w.UpsertBatch(context.Background(), []models.TradeRecord{record("A592UFM060F", "Бензин", 1, 60)})
			if err == nil {
				t.Fatalf("expected error")
			}
			if n != 0 || tc.repo.rollbacks != 1 || len(tc.repo.rows) != 0 {
				t.Fatalf("want full rollback, got n=%d rollbacks=%d rows=%d", n, tc.repo.rollbacks, len(tc.repo.rows))
			}
		})
	}
}

func TestWriter_Run_Canceled(t *testing.T) {
	repo := &memRepo{}
	w := NewWriter(repo, DedupDescriptive, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	in := make(chan models.TradeRecord) // never closed
	if _, err := w.Run(ctx, in); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if repo.commits != 0 {
		t.Fatalf("canceled run must not commit")
	}
}
