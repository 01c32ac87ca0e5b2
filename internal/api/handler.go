package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/guttosm/spimexpulse/internal/domain/dto"
	"github.com/guttosm/spimexpulse/internal/domain/models"
	"github.com/guttosm/spimexpulse/internal/middleware"
	"github.com/guttosm/spimexpulse/internal/service"
)

const (
	defaultLimit = 10
	maxLimit     = 1000
)

// dateLayouts are the accepted spellings of start_date and end_date.
var dateLayouts = []string{"2006-01-02", "2006.01.02", "02.01.2006", "02-01-2006"}

// Handler provides HTTP handlers for the trading results endpoints.
//
// Responsibilities:
//   - Validate incoming HTTP query parameters
//   - Interact with the service layer, which applies the read cache
//   - Translate results into response DTOs
//   - Return structured JSON responses with appropriate HTTP status codes
type Handler struct {
	svc service.TradingService
}

// NewHandler constructs a new Handler instance.
func NewHandler(svc service.TradingService) *Handler {
	return &Handler{svc: svc}
}

// GetLastDates godoc
// @Summary      Last trading dates
// @Description  Returns the most recent distinct trading dates, newest first
// @Tags         trading
// @Produce      json
// @Param        limit_days  query     int  false  "Number of dates (1-1000)"  default(10)
// @Success      200         {array}   dto.DateResponse  "Success"
// @Failure      400         {object}  dto.ErrorResponse "Bad Request"
// @Failure      503         {object}  dto.ErrorResponse "Unavailable"
// @Router       /api/v1/last_dates [get]
func (h *Handler) GetLastDates(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit_days"))
	if err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "invalid limit_days", err)
		return
	}

	dates, err := h.svc.LastTradingDates(c.Request.Context(), limit)
	if err != nil {
		respondServiceError(c, "failed to fetch trading dates", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewDateResponses(dates))
}

// GetDynamics godoc
// @Summary      Trading dynamics
// @Description  Returns the records traded between start_date and end_date (inclusive)
// @Tags         trading
// @Produce      json
// @Param        start_date         query     string  true   "Range start: YYYY-MM-DD, YYYY.MM.DD, DD.MM.YYYY or DD-MM-YYYY"  example(2024-03-01)
// @Param        end_date           query     string  true   "Range end, same formats as start_date"  example(2024-03-05)
// @Param        oil_id             query     string  false  "Oil product type, first 4 characters of the product code"  example(A592)
// @Param        delivery_type_id   query     string  false  "Delivery type, last character of the product code"  example(F)
// @Param        delivery_basis_id  query     string  false  "Delivery basis, characters 5-7 of the product code"  example(UFM)
// @Success      200                {array}   dto.TradeResponse  "Success"
// @Failure      400                {object}  dto.ErrorResponse  "Bad Request"
// @Failure      503                {object}  dto.ErrorResponse  "Unavailable"
// @Router       /api/v1/dynamics [get]
func (h *Handler) GetDynamics(c *gin.Context) {
	start, err := parseDate(c.Query("start_date"))
	if err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "invalid start_date", err)
		return
	}
	end, err := parseDate(c.Query("end_date"))
	if err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "invalid end_date", err)
		return
	}
	if end.Before(start) {
		middleware.AbortWithError(c, http.StatusBadRequest, "end_date must not be before start_date", nil)
		return
	}

	records, err := h.svc.Dynamics(c.Request.Context(), start, end, filterFrom(c))
	if err != nil {
		respondServiceError(c, "failed to fetch dynamics", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewTradeResponses(records))
}

// GetTradingResults godoc
// @Summary      Latest trading results
// @Description  Returns the latest records, optionally filtered by the product code parts
// @Tags         trading
// @Produce      json
// @Param        limit_trades       query     int     false  "Number of records (1-1000)"  default(10)
// @Param        oil_id             query     string  false  "Oil product type"  example(A592)
// @Param        delivery_type_id   query     string  false  "Delivery type"  example(F)
// @Param        delivery_basis_id  query     string  false  "Delivery basis"  example(UFM)
// @Success      200                {array}   dto.TradeResponse  "Success"
// @Failure      400                {object}  dto.ErrorResponse  "Bad Request"
// @Failure      503                {object}  dto.ErrorResponse  "Unavailable"
// @Router       /api/v1/trading_results [get]
func (h *Handler) GetTradingResults(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit_trades"))
	if err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "invalid limit_trades", err)
		return
	}

	records, err := h.svc.TradingResults(c.Request.Context(), limit, filterFrom(c))
	if err != nil {
		respondServiceError(c, "failed to fetch trading results", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewTradeResponses(records))
}

// respondServiceError maps an uncached, uncomputable value to 503 and anything else to 500.
func respondServiceError(c *gin.Context, message string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, service.ErrUnavailable) {
		status = http.StatusServiceUnavailable
	}
	middleware.AbortWithError(c, status, message, err)
}

func filterFrom(c *gin.Context) models.TradeFilter {
	return models.TradeFilter{
		OilID:           strings.ToUpper(strings.TrimSpace(c.Query("oil_id"))),
		DeliveryTypeID:  strings.ToUpper(strings.TrimSpace(c.Query("delivery_type_id"))),
		DeliveryBasisID: strings.ToUpper(strings.TrimSpace(c.Query("delivery_basis_id"))),
	}
}

func parseLimit(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("expected an integer, got %q", s)
	}
	if n < 1 || n > maxLimit {
		return 0, fmt.Errorf("must be between 1 and %d, got %d", maxLimit, n)
	}
	return n, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("date is required")
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q, expected one of YYYY-MM-DD, YYYY.MM.DD, DD.MM.YYYY, DD-MM-YYYY", s)
}
