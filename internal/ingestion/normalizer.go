package ingestion

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/guttosm/spimexpulse/internal/domain/models"
)

const (
	headerDateLayout = "02.01.2006" // day.month.year
	minCodeLength    = 8
)

var (
	// ErrMissingDate is returned for rows of a bulletin whose header carries no trade date.
	ErrMissingDate = errors.New("trade date missing")
	// ErrInvalidDate is returned when the header date is not day.month.year.
	ErrInvalidDate = errors.New("trade date malformed")
)

// Normalize turns one raw row into a TradeRecord dated by its bulletin.
//
//   - invalid numeric cells become zero
//   - identifiers derived from the product code are set only for codes of at least 8 characters
//   - a missing or malformed fileDate is a per-row failure
func Normalize(raw RawRow, fileDate *string) (models.TradeRecord, error) {
	if fileDate == nil {
		return models.TradeRecord{}, fmt.Errorf("line %d: %w", raw.Line, ErrMissingDate)
	}
	day, err := time.ParseInLocation(headerDateLayout, *fileDate, time.UTC)
	if err != nil {
		return models.TradeRecord{}, fmt.Errorf("line %d: %w: %q", raw.Line, ErrInvalidDate, *fileDate)
	}

	oil, basis, deliveryType := splitProductCode(raw.ProductID)
	return models.TradeRecord{
		ExchangeProductID: raw.ProductID,
		ProductName:       raw.ProductName,
		OilID:             oil,
		DeliveryBasisID:   basis,
		DeliveryBasisName: raw.DeliveryBasisName,
		DeliveryTypeID:    deliveryType,
		Volume:            orZero(raw.Volume),
		Total:             orZero(raw.Total),
		Count:             raw.Count,
		TradeDate:         day,
	}, nil
}

// splitProductCode slices "A100NVY060F" into oil "A100", basis "NVY" and type "F".
// Codes shorter than minCodeLength yield three nils.
func splitProductCode(code *string) (oil, basis, deliveryType *string) {
	if code == nil {
		return nil, nil, nil
	}
	r := []rune(*code)
	if len(r) < minCodeLength {
		return nil, nil, nil
	}
	return models.StringPtr(string(r[:4])),
		models.StringPtr(string(r[4:7])),
		models.StringPtr(string(r[len(r)-1:]))
}

func orZero(n decimal.NullDecimal) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	return n.Decimal
}
