package reorder

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
)

const (
	historyWeeks = 12
	averageWeeks = 4
	week         = 7 * 24 * time.Hour
)

// Trend directions.
const (
	TrendIncreasing = "INCREASING"
	TrendDecreasing = "DECREASING"
	TrendStable     = "STABLE"
)

var trendBand = decimal.RequireFromString("0.1")

// MovementSource lists outbound movements.
type MovementSource interface {
	ListOutbound(ctx context.Context, productID, warehouseID int64, since time.Time) ([]inventory.StockMovement, error)
}

// ProductLister lists products to forecast.
type ProductLister interface {
	ListProducts(ctx context.Context, activeOnly bool) ([]masterdata.Product, error)
}

// Forecast is a weekly demand projection for one product across warehouses.
type Forecast struct {
	ProductID       int64           `json:"product_id"`
	WeeklyDemand    []int64         `json:"weekly_demand"`
	WeeklyForecast  decimal.Decimal `json:"weekly_forecast"`
	PreviousAverage decimal.Decimal `json:"previous_average"`
	Trend           string          `json:"trend"`
	GeneratedAt     time.Time       `json:"generated_at"`
	ForecastDate    time.Time       `json:"forecast_date"`
}

// Forecaster builds weekly moving-average forecasts and caches them.
type Forecaster struct {
	movements MovementSource
	products  ProductLister
	cache     *ForecastCache
	logger    *slog.Logger
	now       func() time.Time
}

// NewForecaster constructs a Forecaster. cache may be nil.
func NewForecaster(movements MovementSource, products ProductLister, cache *ForecastCache, logger *slog.Logger) *Forecaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forecaster{
		movements: movements,
		products:  products,
		cache:     cache,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Weekly computes the forecast for productID from the last twelve weeks of
// outbound movements. The forecast is the average of the most recent four
// weeks; the trend compares it with the four weeks before.
func (f *Forecaster) Weekly(ctx context.Context, productID int64) (Forecast, error) {
	now := f.now()
	movements, err := f.movements.ListOutbound(ctx, productID, 0, now.Add(-historyWeeks*week))
	if err != nil {
		return Forecast{}, fmt.Errorf("reorder: forecast history: %w", err)
	}
	buckets := make([]int64, historyWeeks)
	for _, mv := range movements {
		age := int(now.Sub(mv.OccurredAt) / week)
		if age < 0 || age >= historyWeeks {
			continue
		}
		buckets[historyWeeks-1-age] += mv.Quantity
	}
	recent := averageOf(buckets[historyWeeks-averageWeeks:])
	previous := averageOf(buckets[historyWeeks-2*averageWeeks : historyWeeks-averageWeeks])
	return Forecast{
		ProductID:       productID,
		WeeklyDemand:    buckets,
		WeeklyForecast:  recent,
		PreviousAverage: previous,
		Trend:           trendOf(recent, previous),
		GeneratedAt:     now,
		ForecastDate:    now.Add(averageWeeks * week),
	}, nil
}

// Get returns the cached forecast for productID, computing it on a miss.
func (f *Forecaster) Get(ctx context.Context, productID int64) (Forecast, error) {
	var forecast Forecast
	err := f.cache.FetchJSON(ctx, forecastKey(productID), &forecast, func(ctx context.Context) (any, error) {
		return f.Weekly(ctx, productID)
	})
	return forecast, err
}

// Refresh recomputes and caches forecasts for every active product. It
// returns the number of forecasts stored.
func (f *Forecaster) Refresh(ctx context.Context) (int, error) {
	products, err := f.products.ListProducts(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("reorder: list products: %w", err)
	}
	stored := 0
	for _, product := range products {
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		forecast, err := f.Weekly(ctx, product.ID)
		if err != nil {
			f.logger.Warn("forecast failed", slog.Int64("product_id", product.ID), slog.Any("error", err))
			continue
		}
		if err := f.cache.Store(ctx, forecastKey(product.ID), forecast); err != nil {
			return stored, err
		}
		stored++
		f.logger.Debug("forecast stored", slog.String("sku", product.SKU), slog.String("weekly", forecast.WeeklyForecast.StringFixed(1)),
			slog.String("trend", forecast.Trend))
	}
	return stored, nil
}

func averageOf(values []int64) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	return decimal.NewFromInt(sum).Div(decimal.NewFromInt(int64(len(values))))
}

// trendOf treats changes within 10% of the previous average as stable.
func trendOf(recent, previous decimal.Decimal) string {
	if previous.IsZero() {
		if recent.IsPositive() {
			return TrendIncreasing
		}
		return TrendStable
	}
	change := recent.Sub(previous).Div(previous)
	switch {
	case change.GreaterThan(trendBand):
		return TrendIncreasing
	case change.LessThan(trendBand.Neg()):
		return TrendDecreasing
	}
	return TrendStable
}

func forecastKey(productID int64) string {
	return "reorder:forecast:" + strconv.FormatInt(productID, 10)
}
