package app

import (
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/alerts"
	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
	"github.com/odyssey-erp/odyssey-stock/internal/reorder"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Services is the wired domain layer shared by the API, the worker and the CLI.
type Services struct {
	Catalog     *masterdata.Catalog
	Inventory   *inventory.Service
	Procurement *procurement.Service
	Alerts      *alerts.Service
	Reorder     *reorder.Engine
	Forecaster  *reorder.Forecaster
	Idempotency *shared.IdempotencyStore
	Locker      *shared.Locker
}

// NewServices wires repositories and services. Alerts observe committed
// inventory and order changes; the reorder engine raises orders through
// procurement so receipts and drafts share one code path.
func NewServices(cfg *Config, pool *pgxpool.Pool, redisClient *redis.Client, metrics *jobmetrics.Metrics, logger *slog.Logger) *Services {
	catalog := masterdata.NewCatalog(pool)
	audit := shared.NewAuditLogger(pool)
	idem := shared.NewIdempotencyStore(pool)
	locker := shared.NewLocker(redisClient)

	inventorySvc := inventory.NewService(inventory.NewRepository(pool), catalog, audit, idem, logger.With(slog.String("component", "inventory")))
	procurementSvc := procurement.NewService(procurement.NewRepository(pool), inventorySvc, catalog, audit, logger.With(slog.String("component", "procurement")))

	alertsSvc := alerts.NewService(alerts.NewRepository(pool), catalog, inventorySvc, procurementSvc, audit, logger.With(slog.String("component", "alerts")))
	inventorySvc.SetObserver(alertsSvc)
	procurementSvc.SetObserver(alertsSvc)

	engine := reorder.NewEngine(cfg.ReorderConfig(), inventorySvc, catalog, procurementSvc, supplierSelector(cfg, catalog, procurementSvc), logger.With(slog.String("component", "reorder")))
	engine.SetLocker(locker)

	forecaster := reorder.NewForecaster(inventorySvc, catalog, reorder.NewForecastCache(redisClient, cfg.ForecastCacheTTL), logger.With(slog.String("component", "forecast")))

	if metrics != nil {
		alertsSvc.SetCounter(metrics)
		engine.SetCounter(metrics)
	}

	return &Services{
		Catalog:     catalog,
		Inventory:   inventorySvc,
		Procurement: procurementSvc,
		Alerts:      alertsSvc,
		Reorder:     engine,
		Forecaster:  forecaster,
		Idempotency: idem,
		Locker:      locker,
	}
}

// ReorderConfig converts the environment settings into engine settings.
func (c *Config) ReorderConfig() reorder.Config {
	return reorder.Config{
		LeadTimeDays:     c.ReorderLeadTimeDays,
		DemandWindowDays: c.ReorderDemandWindowDays,
		SafetyFactor:     decimal.NewFromFloat(c.ReorderSafetyFactor),
		MinOrderQuantity: c.ReorderMinOrderQty,
	}
}

func supplierSelector(cfg *Config, catalog *masterdata.Catalog, history reorder.DeliveryHistory) reorder.SupplierSelector {
	if strings.EqualFold(cfg.ReorderSupplierStrategy, SupplierPerformance) {
		return reorder.NewPerformance(catalog, history)
	}
	return reorder.FirstActive{Suppliers: catalog}
}
