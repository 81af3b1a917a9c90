package services

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"sales-forecast/internal/errors"
	"sales-forecast/internal/models"
)

const topItemsLimit = 20

type precomputedSummary struct {
	summary      models.Summary
	categories   int
	items        int
	lastComputed time.Time
}

// Analytics summarises the stored transactions for the dashboard. Rows are
// append-only, so a summary stays valid until the row count changes.
type Analytics struct {
	store  RecordStore
	logger *slog.Logger

	mu          sync.RWMutex
	precomputed *precomputedSummary
}

func NewAnalytics(store RecordStore, logger *slog.Logger) *Analytics {
	return &Analytics{
		store:  store,
		logger: logger,
	}
}

func (a *Analytics) Summary(ctx context.Context) (models.Summary, error) {
	p, err := a.load(ctx)
	if err != nil {
		return models.Summary{}, err
	}
	return p.summary, nil
}

// Stats reports the size of the current summary for monitoring.
func (a *Analytics) Stats(ctx context.Context) (map[string]any, error) {
	p, err := a.load(ctx)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"record_count":   p.summary.RecordCount,
		"last_processed": p.lastComputed,
		"categories":     p.categories,
		"items":          p.items,
		"months":         len(p.summary.MonthlySales),
	}, nil
}

func (a *Analytics) load(ctx context.Context) (*precomputedSummary, error) {
	count, err := a.store.Count(ctx, models.Filter{})
	if err != nil {
		return nil, errors.InternalWrap(err, "Failed to count transactions")
	}

	a.mu.RLock()
	cached := a.precomputed
	a.mu.RUnlock()
	if cached != nil && cached.summary.RecordCount == count {
		return cached, nil
	}

	start := time.Now()
	txs, err := a.store.Query(ctx, models.Filter{})
	if err != nil {
		return nil, errors.InternalWrap(err, "Failed to load transactions")
	}

	p := computeSummary(txs)

	a.mu.Lock()
	a.precomputed = p
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "summary recomputed",
		"records", len(txs),
		"duration", time.Since(start),
	)
	return p, nil
}

func computeSummary(txs []models.Transaction) *precomputedSummary {
	categoryGroups := make(map[string]*models.CategoryRevenue)
	itemGroups := make(map[string]*models.ItemSales)
	monthlyGroups := make(map[string]float64)

	for _, tx := range txs {
		aggregateTransaction(tx, categoryGroups, itemGroups, monthlyGroups)
	}

	return &precomputedSummary{
		summary: models.Summary{
			CategoryRevenue: sortCategoryRevenue(categoryGroups),
			TopItems:        topItems(itemGroups, topItemsLimit),
			MonthlySales:    sortMonthlySales(monthlyGroups),
			RecordCount:     int64(len(txs)),
		},
		categories:   len(categoryGroups),
		items:        len(itemGroups),
		lastComputed: time.Now(),
	}
}

func aggregateTransaction(tx models.Transaction,
	categoryGroups map[string]*models.CategoryRevenue,
	itemGroups map[string]*models.ItemSales,
	monthlyGroups map[string]float64) {

	total := tx.TotalPayment.InexactFloat64()

	if categoryGroups[tx.Category] == nil {
		categoryGroups[tx.Category] = &models.CategoryRevenue{Category: tx.Category}
	}
	categoryGroups[tx.Category].TotalRevenue += total
	categoryGroups[tx.Category].Transactions++

	itemKey := tx.Category + "|" + tx.ItemName
	if itemGroups[itemKey] == nil {
		itemGroups[itemKey] = &models.ItemSales{
			ItemName: tx.ItemName,
			Category: tx.Category,
		}
	}
	itemGroups[itemKey].QuantitySold += tx.Quantity
	itemGroups[itemKey].Frequency++

	monthlyGroups[tx.Date.Format("2006-01")] += total
}

func sortCategoryRevenue(groups map[string]*models.CategoryRevenue) []models.CategoryRevenue {
	result := make([]models.CategoryRevenue, 0, len(groups))
	for _, cr := range groups {
		result = append(result, *cr)
	}
	slices.SortFunc(result, func(a, b models.CategoryRevenue) int {
		if a.TotalRevenue > b.TotalRevenue {
			return -1
		}
		if a.TotalRevenue < b.TotalRevenue {
			return 1
		}
		return strings.Compare(a.Category, b.Category)
	})
	return result
}

func topItems(groups map[string]*models.ItemSales, limit int) []models.ItemSales {
	result := make([]models.ItemSales, 0, len(groups))
	for _, is := range groups {
		result = append(result, *is)
	}
	slices.SortFunc(result, func(a, b models.ItemSales) int {
		if a.QuantitySold != b.QuantitySold {
			return b.QuantitySold - a.QuantitySold
		}
		if c := strings.Compare(a.ItemName, b.ItemName); c != 0 {
			return c
		}
		return strings.Compare(a.Category, b.Category)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result
}

// sortMonthlySales orders months chronologically; YYYY-MM sorts as text.
func sortMonthlySales(groups map[string]float64) []models.MonthlyData {
	result := make([]models.MonthlyData, 0, len(groups))
	for month, volume := range groups {
		result = append(result, models.MonthlyData{Month: month, Volume: volume})
	}
	slices.SortFunc(result, func(a, b models.MonthlyData) int {
		return strings.Compare(a.Month, b.Month)
	})
	return result
}
