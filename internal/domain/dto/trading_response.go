package dto

import (
	"time"

	"github.com/guttosm/spimexpulse/internal/domain/models"
)

// DateResponse is one element of GET /api/v1/last_dates.
type DateResponse struct {
	Date string `json:"date" example:"2024-10-14"`
}

// TradeResponse is one element of GET /api/v1/dynamics and GET /api/v1/trading_results.
//
// Fields match the API contract and may differ from internal domain models.
type TradeResponse struct {
	ID                int64   `json:"id" example:"42"`
	ExchangeProductID string  `json:"exchange_product_id" example:"A100NVY060F"`
	ProductName       string  `json:"exchange_product_name" example:"Бензин (АИ-100-К5)"`
	OilID             string  `json:"oil_id,omitempty" example:"A100"`
	DeliveryBasisID   string  `json:"delivery_basis_id,omitempty" example:"NVY"`
	DeliveryBasisName string  `json:"delivery_basis_name" example:"ст. Новоярославская"`
	DeliveryTypeID    string  `json:"delivery_type_id,omitempty" example:"F"`
	Volume            float64 `json:"volume" example:"60"`
	Total             float64 `json:"total" example:"5241660"`
	Count             float64 `json:"count" example:"1"`
	Date              string  `json:"date" example:"2024-10-14"`
}

// NewDateResponses maps trading dates to their DTO form.
func NewDateResponses(dates []time.Time) []DateResponse {
	out := make([]DateResponse, 0, len(dates))
	for _, d := range dates {
		out = append(out, DateResponse{Date: d.Format("2006-01-02")})
	}
	return out
}

// NewTradeResponses maps stored records to their DTO form.
func NewTradeResponses(records []models.TradeRecord) []TradeResponse {
	out := make([]TradeResponse, 0, len(records))
	for _, r := range records {
		out = append(out, TradeResponse{
			ID:                r.ID,
			ExchangeProductID: models.Deref(r.ExchangeProductID),
			ProductName:       models.Deref(r.ProductName),
			OilID:             models.Deref(r.OilID),
			DeliveryBasisID:   models.Deref(r.DeliveryBasisID),
			DeliveryBasisName: models.Deref(r.DeliveryBasisName),
			DeliveryTypeID:    models.Deref(r.DeliveryTypeID),
			Volume:            r.Volume.InexactFloat64(),
			Total:             r.Total.InexactFloat64(),
			Count:             r.Count.InexactFloat64(),
			Date:              r.TradeDate.Format("2006-01-02"),
		})
	}
	return out
}
