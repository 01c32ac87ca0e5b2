package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/guttosm/spimexpulse/internal/cache"
	"github.com/guttosm/spimexpulse/internal/domain/models"
	"github.com/guttosm/spimexpulse/internal/storage"
)

// Cache key names; each is suffixed with the request parameters.
const (
	KeyLastTradingDates = "last_trading_dates"
	KeyDynamics         = "dynamics"
	KeyTradingResults   = "trading_results"
)

// ErrUnavailable is returned when a value is neither cached nor computable.
var ErrUnavailable = errors.New("trading data unavailable")

// TradingService defines the read-side queries served by the API.
type TradingService interface {
	LastTradingDates(ctx context.Context, limit int) ([]time.Time, error)
	Dynamics(ctx context.Context, start, end time.Time, filter models.TradeFilter) ([]models.TradeRecord, error)
	TradingResults(ctx context.Context, limit int, filter models.TradeFilter) ([]models.TradeRecord, error)
}

type tradingService struct {
	repo  storage.TradingRepository
	cache *cache.Cache
}

func NewTradingService(repo storage.TradingRepository, c *cache.Cache) TradingService {
	return &tradingService{repo: repo, cache: c}
}

func (s *tradingService) LastTradingDates(ctx context.Context, limit int) ([]time.Time, error) {
	key := cache.Key(KeyLastTradingDates, strconv.Itoa(limit))
	return unavailable(cache.Fetch(ctx, s.cache, key, func(ctx context.Context) ([]time.Time, error) {
		return s.repo.LastTradingDates(ctx, limit)
	}))
}

func (s *tradingService) Dynamics(ctx context.Context, start, end time.Time, filter models.TradeFilter) ([]models.TradeRecord, error) {
	key := cache.Key(KeyDynamics, append([]string{start.Format(time.DateOnly), end.Format(time.DateOnly)}, filterParts(filter)...)...)
	return unavailable(cache.Fetch(ctx, s.cache, key, func(ctx context.Context) ([]models.TradeRecord, error) {
		return s.repo.Dynamics(ctx, start, end, filter)
	}))
}

func (s *tradingService) TradingResults(ctx context.Context, limit int, filter models.TradeFilter) ([]models.TradeRecord, error) {
	key := cache.Key(KeyTradingResults, append([]string{strconv.Itoa(limit)}, filterParts(filter)...)...)
	return unavailable(cache.Fetch(ctx, s.cache, key, func(ctx context.Context) ([]models.TradeRecord, error) {
		return s.repo.TradingResults(ctx, limit, filter)
	}))
}

func filterParts(f models.TradeFilter) []string {
	return []string{f.OilID, f.DeliveryTypeID, f.DeliveryBasisID}
}

func unavailable[T any](v T, err error) (T, error) {
	if err != nil {
		return v, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return v, nil
}
