package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is the canonical unit stored in spimex_trading_results.
// Each record corresponds to one instrument line of a daily trading results bulletin.
//
// Product code layout (ExchangeProductID, e.g. "A100NVY060F"):
//
//	[0:4] OilID            oil product type
//	[4:7] DeliveryBasisID  delivery basis
//	[-1]  DeliveryTypeID   delivery type
//
// Optional text fields are nil when the source cell was absent, so an absent value
// is never confused with an empty string.
//
// swagger:model TradeRecord
type TradeRecord struct {
	ID                int64           `json:"id" example:"1"`
	ExchangeProductID *string         `json:"exchange_product_id" example:"A100NVY060F"`
	ProductName       *string         `json:"exchange_product_name" example:"Бензин (АИ-100-К5)"`
	OilID             *string         `json:"oil_id" example:"A100"`
	DeliveryBasisID   *string         `json:"delivery_basis_id" example:"NVY"`
	DeliveryBasisName *string         `json:"delivery_basis_name" example:"ст. Новоярославская"`
	DeliveryTypeID    *string         `json:"delivery_type_id" example:"F"`
	Volume            decimal.Decimal `json:"volume" swaggertype:"string" example:"60"`
	Total             decimal.Decimal `json:"total" swaggertype:"string" example:"5241660"`
	Count             decimal.Decimal `json:"count" swaggertype:"string" example:"1"`
	TradeDate         time.Time       `json:"date" example:"2024-10-14T00:00:00Z"`
	CreatedAt         time.Time       `json:"created_on"`
	UpdatedAt         time.Time       `json:"updated_on"`
}

// TradeFilter narrows read queries by the identifiers derived from the product code.
// Empty strings mean "no filter".
type TradeFilter struct {
	OilID           string
	DeliveryTypeID  string
	DeliveryBasisID string
}

// DownloadedFile is one fetched bulletin persisted in the local file store.
// Its Name is derived from the publication timestamp embedded in the archive link,
// so existence of Name is the re-download dedup key.
type DownloadedFile struct {
	Name        string
	Path        string
	PublishedAt time.Time
}
