package restock

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"stockroom/backend/internal/cache"
	"stockroom/backend/internal/domain"
)

const (
	LowStockThreshold = 3

	ReasonOutOfStock = "out_of_stock"
	ReasonLowStock   = "low_stock"
	ReasonLowCover   = "low_cover"
)

type Engine struct {
	cache        cache.RestockCache
	cacheTTL     time.Duration
	windowDays   int
	targetDays   int
	minCoverDays float64
}

func NewEngine(cacheStore cache.RestockCache, cacheTTL time.Duration) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopRestockCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}

	return &Engine{
		cache:        cacheStore,
		cacheTTL:     cacheTTL,
		windowDays:   30,
		targetDays:   14,
		minCoverDays: 7,
	}
}

type velocity struct {
	units int
}

// Recommend scores every stock item by sales velocity over the trailing window
// and suggests a reorder quantity for items that will run out soon.
func (e *Engine) Recommend(ctx context.Context, stock []domain.StockItem, sales []domain.Sale, now time.Time) domain.RestockReport {
	cacheKey := buildCacheKey(stock, sales, now)
	if cached, ok, err := e.cache.Get(ctx, cacheKey); err == nil && ok {
		return *cached
	}

	since := now.AddDate(0, 0, -e.windowDays)
	byID := make(map[string]*velocity, len(stock))
	byName := make(map[string]*velocity, len(stock))
	for _, item := range stock {
		v := &velocity{}
		if key := item.ID.Key(); key != "" {
			byID[key] = v
		}
		if name := domain.NormalizeName(item.Name); name != "" {
			if _, exists := byName[name]; !exists {
				byName[name] = v
			}
		}
	}

	for _, sale := range sales {
		if sale.IsCreditPayment() || sale.Quantity <= 0 {
			continue
		}
		soldAt, ok := sale.SoldAt()
		if !ok || soldAt.Before(since) || soldAt.After(now) {
			continue
		}
		v := byID[sale.ItemID.Key()]
		if v == nil {
			v = byName[domain.NormalizeName(sale.ProductName)]
		}
		if v == nil {
			continue
		}
		v.units += sale.Quantity.Int()
	}

	recommendations := make([]domain.RestockRecommendation, 0, 16)
	for _, item := range stock {
		if item.IsOpaque() {
			continue
		}
		v := byID[item.ID.Key()]
		if v == nil {
			v = byName[domain.NormalizeName(item.Name)]
		}
		units := 0
		if v != nil {
			units = v.units
		}
		if rec, ok := e.score(item, units); ok {
			recommendations = append(recommendations, rec)
		}
	}

	sort.SliceStable(recommendations, func(i, j int) bool {
		a, b := recommendations[i], recommendations[j]
		if a.CurrentQuantity != b.CurrentQuantity {
			return a.CurrentQuantity < b.CurrentQuantity
		}
		return a.DailyVelocity > b.DailyVelocity
	})

	report := domain.RestockReport{
		GeneratedAt:     now.UTC().Format(time.RFC3339),
		WindowDays:      e.windowDays,
		Recommendations: recommendations,
	}
	_ = e.cache.Set(ctx, cacheKey, &report, e.cacheTTL)
	return report
}

func (e *Engine) score(item domain.StockItem, units int) (domain.RestockRecommendation, bool) {
	qty := item.Quantity.Int()
	daily := float64(units) / float64(e.windowDays)

	var cover *float64
	if daily > 0 {
		c := round2(float64(max(qty, 0)) / daily)
		cover = &c
	}

	lowCover := cover != nil && *cover < e.minCoverDays
	if !lowCover && qty > LowStockThreshold {
		return domain.RestockRecommendation{}, false
	}

	target := int(math.Ceil(daily * float64(e.targetDays)))
	if target <= LowStockThreshold && qty <= LowStockThreshold {
		target = LowStockThreshold + 1
	}
	suggested := target - qty
	if suggested < 1 {
		return domain.RestockRecommendation{}, false
	}

	reason := ReasonLowCover
	switch {
	case qty <= 0:
		reason = ReasonOutOfStock
	case qty <= LowStockThreshold:
		reason = ReasonLowStock
	}

	return domain.RestockRecommendation{
		ItemID:          item.ID,
		Name:            item.Name,
		CurrentQuantity: qty,
		UnitsSold:       units,
		DailyVelocity:   round2(daily),
		DaysOfCover:     cover,
		SuggestedQty:    suggested,
		ReasonCode:      reason,
	}, true
}

func buildCacheKey(stock []domain.StockItem, sales []domain.Sale, now time.Time) string {
	parts := make([]string, 0, len(stock)+3)
	parts = append(parts, now.Format(domain.DateLayout))
	for _, item := range stock {
		parts = append(parts, fmt.Sprintf("%s:%s:%d", item.ID.Key(), domain.NormalizeName(item.Name), item.Quantity))
	}
	parts = append(parts, fmt.Sprintf("sales:%d", len(sales)))
	if n := len(sales); n > 0 {
		last := sales[n-1]
		parts = append(parts, fmt.Sprintf("last:%s:%s:%d", last.ID.Key(), last.Timestamp, last.Quantity))
	}

	hash := sha1.Sum([]byte(strings.Join(parts, "|")))
	return "stockroom:restock:" + hex.EncodeToString(hash[:])
}

func round2(val float64) float64 {
	return math.Round(val*100) / 100
}
