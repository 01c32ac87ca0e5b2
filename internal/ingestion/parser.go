package ingestion

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/extrame/xls"
	"github.com/shopspring/decimal"
)

const (
	// skipRows is the metadata block above the column header of every bulletin.
	skipRows = 6
	// dateRow/dateCol address the "Дата торгов: dd.mm.yyyy" cell inside the metadata block.
	dateRow = 3
	dateCol = 1

	totalsMarker = "Итого"
	xlsCharset   = "utf-8"
)

var (
	// ErrMissingColumn is returned when a bulletin lacks one of the expected columns.
	ErrMissingColumn = errors.New("expected column not found")

	datePattern = regexp.MustCompile(`\d{2}\.\d{2}\.\d{4}`)
)

// column identifies one semantic field of a bulletin row.
type column int

const (
	colProductID column = iota
	colProductName
	colBasisName
	colVolume
	colTotal
	colCount
	numColumns
)

// headers maps each semantic column to its header text after whitespace normalisation.
// The source headers wrap over several lines ("Код\nИнструмента").
var headers = [numColumns]string{
	colProductID:   "Код Инструмента",
	colProductName: "Наименование Инструмента",
	colBasisName:   "Базис поставки",
	colVolume:      "Объем Договоров в единицах измерения",
	colTotal:       "Обьем Договоров, руб.",
	colCount:       "Количество Договоров, шт.",
}

// RawRow is one data line of a bulletin before normalisation.
// Text fields are nil when the cell is empty; Volume and Total are invalid when the
// cell is not numeric.
type RawRow struct {
	Line              int
	ProductID         *string
	ProductName       *string
	DeliveryBasisName *string
	Volume            decimal.NullDecimal
	Total             decimal.NullDecimal
	Count             decimal.Decimal
}

// Sheet is the parsed content of one bulletin.
type Sheet struct {
	// Date is the raw dd.mm.yyyy trade date of the header cell, nil when it has none.
	Date *string
	Rows []RawRow
	// Filtered counts data lines dropped for a non-positive contract count or as totals.
	Filtered int
}

// ReadXLS loads the first worksheet of a legacy .xls workbook as a grid of cell texts.
func ReadXLS(r io.ReadSeeker) (grid [][]string, err error) {
	// the BIFF decoder panics on some truncated inputs
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("decode xls: %v", p)
		}
	}()

	wb, err := xls.OpenReader(r, xlsCharset)
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, fmt.Errorf("open xls: workbook has no sheets")
	}
	// Row(i) panics on rows without records; ReadAllCells leaves them nil.
	// It skips a sheet whose MaxRow is 0, which cannot hold a header anyway.
	if sheet.MaxRow == 0 {
		return [][]string{}, nil
	}
	return wb.ReadAllCells(int(sheet.MaxRow) + 1), nil
}

// ParseSheet extracts the header date and the data rows from a bulletin grid.
//
// Layout:
//   - rows [0, skipRows) are metadata; the trade date is read from (dateRow, dateCol)
//   - row skipRows holds the column headers, located by name
//   - following rows are data; totals lines and rows with count <= 0 are dropped
//
// The header date being absent is not an error; Sheet.Date is nil and callers decide.
func ParseSheet(grid [][]string) (Sheet, error) {
	var out Sheet
	if m := datePattern.FindString(cell(grid, dateRow, dateCol)); m != "" {
		out.Date = &m
	}

	if len(grid) <= skipRows {
		return out, fmt.Errorf("%w: sheet has %d rows, header expected at row %d", ErrMissingColumn, len(grid), skipRows+1)
	}
	idx, err := locateColumns(grid[skipRows])
	if err != nil {
		return out, err
	}

	for i := skipRows + 1; i < len(grid); i++ {
		line := grid[i]
		if isBlank(line) {
			continue
		}
		code := optional(cellAt(line, idx[colProductID]))
		if code != nil && strings.HasPrefix(*code, totalsMarker) {
			out.Filtered++
			continue
		}

		count := coerceCount(cellAt(line, idx[colCount]))
		if !count.IsPositive() {
			out.Filtered++
			continue
		}

		out.Rows = append(out.Rows, RawRow{
			Line:              i + 1,
			ProductID:         code,
			ProductName:       optional(cellAt(line, idx[colProductName])),
			DeliveryBasisName: optional(cellAt(line, idx[colBasisName])),
			Volume:            parseNumber(cellAt(line, idx[colVolume])),
			Total:             parseNumber(cellAt(line, idx[colTotal])),
			Count:             count,
		})
	}
	return out, nil
}

func locateColumns(header []string) ([numColumns]int, error) {
	var idx [numColumns]int
	found := make(map[string]int, len(header))
	for i, h := range header {
		key := normalizeHeader(h)
		if _, dup := found[key]; !dup && key != "" {
			found[key] = i
		}
	}

	var missing []string
	for c := column(0); c < numColumns; c++ {
		i, ok := found[headers[c]]
		if !ok {
			missing = append(missing, headers[c])
			continue
		}
		idx[c] = i
	}
	if len(missing) > 0 {
		return idx, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, "; "))
	}
	return idx, nil
}

// normalizeHeader collapses every whitespace run (including line breaks) into one space.
func normalizeHeader(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// coerceCount treats non-numeric or missing counts as zero.
func coerceCount(s string) decimal.Decimal {
	n := parseNumber(s)
	if !n.Valid {
		return decimal.Zero
	}
	return n.Decimal
}

// parseNumber accepts plain and exponent notation, a comma decimal separator and
// space-grouped thousands. Anything else (including "-") is invalid.
func parseNumber(s string) decimal.NullDecimal {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f':
			return -1
		case ',':
			return '.'
		}
		return r
	}, s)
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func cell(grid [][]string, row, col int) string {
	if row >= len(grid) {
		return ""
	}
	return cellAt(grid[row], col)
}

func cellAt(line []string, col int) string {
	if col < 0 || col >= len(line) {
		return ""
	}
	return line[col]
}

func isBlank(line []string) bool {
	for _, c := range line {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
