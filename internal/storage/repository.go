package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/guttosm/spimexpulse/internal/domain/models"
	pq "github.com/lib/pq"
)

const table = "spimex_trading_results"

// recordColumns is the SELECT list shared by every read query, in scanRecord order.
const recordColumns = `id, exchange_product_id, exchange_product_name, oil_id, delivery_basis_id,
	delivery_basis_name, delivery_type_id, volume, total, count, date, created_on, updated_on`

// TradingRepository defines contract for DB operations on spimex_trading_results.
type TradingRepository interface {
	// FindByProductID returns every stored row for a product code, newest first.
	// A nil productID matches rows whose code is NULL.
	FindByProductID(ctx context.Context, productID *string) ([]models.TradeRecord, error)
	// InsertBatch appends records with COPY.
	InsertBatch(ctx context.Context, records []models.TradeRecord) error
	LastTradingDates(ctx context.Context, limit int) ([]time.Time, error)
	Dynamics(ctx context.Context, start, end time.Time, filter models.TradeFilter) ([]models.TradeRecord, error)
	TradingResults(ctx context.Context, limit int, filter models.TradeFilter) ([]models.TradeRecord, error)
	CountRecords(ctx context.Context) (int64, error)
	// WithTx runs fn against a repository bound to a single transaction.
	// The transaction commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(TradingRepository) error) error
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type tradingRepository struct {
	db *sql.DB
	q  querier
	tx *sql.Tx
}

func NewTradingRepository(db *sql.DB) TradingRepository {
	return &tradingRepository{db: db, q: db}
}

// WithTx begins a transaction unless the repository is already bound to one.
func (r *tradingRepository) WithTx(ctx context.Context, fn func(TradingRepository) error) error {
	if r.tx != nil {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&tradingRepository{db: r.db, q: tx, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *tradingRepository) FindByProductID(ctx context.Context, productID *string) ([]models.TradeRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM ` + table + `
		WHERE exchange_product_id IS NOT DISTINCT FROM $1
		ORDER BY id DESC`
	out, err := r.queryRecords(ctx, query, nullString(productID))
	if err != nil {
		return nil, fmt.Errorf("find by product id: %w", err)
	}
	return out, nil
}

// InsertBatch streams records through pq.CopyIn. Outside a transaction it opens one of its own,
// since COPY must run inside a transaction.
func (r *tradingRepository) InsertBatch(ctx context.Context, records []models.TradeRecord) error {
	if len(records) == 0 {
		return nil
	}
	if r.tx == nil {
		return r.WithTx(ctx, func(tx TradingRepository) error {
			return tx.InsertBatch(ctx, records)
		})
	}

	stmt, err := r.q.PrepareContext(ctx, pq.CopyIn(
		table,
		"exchange_product_id",
		"exchange_product_name",
		"oil_id",
		"delivery_basis_id",
		"delivery_basis_name",
		"delivery_type_id",
		"volume",
		"total",
		"count",
		"date",
		"created_on",
		"updated_on",
	))
	if err != nil {
		return fmt.Errorf("prepare copy: %w", err)
	}

	now := time.Now().UTC()
	for _, rec := range records {
		created, updated := rec.CreatedAt, rec.UpdatedAt
		if created.IsZero() {
			created = now
		}
		if updated.IsZero() {
			updated = now
		}
		if _, err := stmt.ExecContext(ctx,
			nullString(rec.ExchangeProductID),
			nullString(rec.ProductName),
			nullString(rec.OilID),
			nullString(rec.DeliveryBasisID),
			nullString(rec.DeliveryBasisName),
			nullString(rec.DeliveryTypeID),
			rec.Volume.String(),
			rec.Total.String(),
			rec.Count.String(),
			rec.TradeDate,
			created,
			updated,
		); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("copy row: %w", err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("close copy: %w", err)
	}
	return nil
}

// LastTradingDates returns up to limit distinct trade dates, newest first.
func (r *tradingRepository) LastTradingDates(ctx context.Context, limit int) ([]time.Time, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT DISTINCT date FROM `+table+` ORDER BY date DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("last trading dates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Dynamics returns the records traded within [start, end], optionally narrowed by filter.
func (r *tradingRepository) Dynamics(ctx context.Context, start, end time.Time, filter models.TradeFilter) ([]models.TradeRecord, error) {
	conditions := []string{"date >= $1", "date <= $2"}
	args := []any{start, end}
	conditions, args = applyFilter(conditions, args, filter)

	query := `SELECT ` + recordColumns + ` FROM ` + table +
		` WHERE ` + strings.Join(conditions, " AND ") +
		` ORDER BY date DESC, id DESC`
	out, err := r.queryRecords(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dynamics: %w", err)
	}
	return out, nil
}

// TradingResults returns the latest limit records, optionally narrowed by filter.
func (r *tradingRepository) TradingResults(ctx context.Context, limit int, filter models.TradeFilter) ([]models.TradeRecord, error) {
	conditions, args := applyFilter(nil, nil, filter)

	query := `SELECT ` + recordColumns + ` FROM ` + table
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY date DESC, id DESC LIMIT $%d`, len(args))

	out, err := r.queryRecords(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("trading results: %w", err)
	}
	return out, nil
}

func (r *tradingRepository) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// applyFilter appends one positional condition per non-empty filter field.
func applyFilter(conditions []string, args []any, f models.TradeFilter) ([]string, []any) {
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("oil_id", f.OilID)
	add("delivery_type_id", f.DeliveryTypeID)
	add("delivery_basis_id", f.DeliveryBasisID)
	return conditions, args
}

func (r *tradingRepository) queryRecords(ctx context.Context, query string, args ...any) ([]models.TradeRecord, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.TradeRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(rows *sql.Rows) (models.TradeRecord, error) {
	var (
		rec                                              models.TradeRecord
		productID, name, oil, basis, bname, deliveryType sql.NullString
	)
	err := rows.Scan(
		&rec.ID, &productID, &name, &oil, &basis, &bname, &deliveryType,
		&rec.Volume, &rec.Total, &rec.Count, &rec.TradeDate, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return models.TradeRecord{}, fmt.Errorf("scan record: %w", err)
	}
	rec.ExchangeProductID = fromNull(productID)
	rec.ProductName = fromNull(name)
	rec.OilID = fromNull(oil)
	rec.DeliveryBasisID = fromNull(basis)
	rec.DeliveryBasisName = fromNull(bname)
	rec.DeliveryTypeID = fromNull(deliveryType)
	return rec, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func fromNull(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
