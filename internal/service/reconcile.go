package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"stockroom/backend/internal/domain"
	"stockroom/backend/internal/store"
	"stockroom/backend/internal/xid"
)

const maxUnmatchedNames = 200

// History actions that count as a sale when migrating hasBeenSold.
var soldActions = map[string]struct{}{
	"Item Sold":     {},
	"Sale Recorded": {},
}

// EnsureStockHasIDs gives every stock item without an id a fresh one.
func (s *Service) EnsureStockHasIDs(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stock, rev, err := store.LoadList[domain.StockItem](ctx, s.records, store.Stock)
	if err != nil {
		return 0, err
	}
	assigned := 0
	for i := range stock {
		if stock[i].ID.IsZero() {
			stock[i].ID = domain.Ref(xid.Stock())
			assigned++
		}
	}
	if assigned == 0 {
		return 0, nil
	}
	if _, err := store.SaveList(ctx, s.records, store.Stock, stock, rev); err != nil {
		return 0, err
	}
	s.metrics.AddReconciled("stock_ids", assigned)
	s.log.Infow("assigned stock ids", "count", assigned)
	return assigned, nil
}

func (s *Service) LinkHistoryToStock(ctx context.Context) (domain.HistoryLinkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linkHistoryLocked(ctx)
}

func (s *Service) linkHistoryLocked(ctx context.Context) (domain.HistoryLinkResult, error) {
	stock, _, err := store.LoadList[domain.StockItem](ctx, s.records, store.Stock)
	if err != nil {
		return domain.HistoryLinkResult{}, err
	}
	history, rev, err := store.LoadList[domain.StockHistoryEntry](ctx, s.records, store.StockHistory)
	if err != nil {
		return domain.HistoryLinkResult{}, err
	}

	byID := make(map[string]domain.StockItem, len(stock))
	for _, item := range stock {
		if key := item.ID.Key(); key != "" {
			byID[key] = item
		}
	}

	var result domain.HistoryLinkResult
	for i := range history {
		entry := &history[i]
		if key := entry.ItemID.Key(); key != "" {
			if item, ok := byID[key]; ok && entry.ItemName != "" && entry.ItemName != item.Name {
				entry.ItemName = item.Name
				result.UpdatedCount++
			}
			continue
		}
		if strings.TrimSpace(entry.ItemName) == "" {
			continue
		}
		res := Resolve(stock, "", entry.ItemName)
		if !res.Found() || stock[res.Index].ID.IsZero() {
			continue
		}
		entry.ItemID = stock[res.Index].ID
		result.UpdatedCount++
		result.MatchedByNameCount++
	}

	if result.UpdatedCount == 0 {
		return result, nil
	}
	if _, err := store.SaveList(ctx, s.records, store.StockHistory, history, rev); err != nil {
		return domain.HistoryLinkResult{}, err
	}
	s.metrics.AddReconciled("history", result.UpdatedCount)
	s.log.Infow("linked history to stock", "updated", result.UpdatedCount, "byName", result.MatchedByNameCount)
	return result, nil
}

// LinkSalesToStock backfills itemId on sales recorded by name and returns the
// per-item aggregate of every sale.
func (s *Service) LinkSalesToStock(ctx context.Context) (domain.SalesLinkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stock, _, err := store.LoadList[domain.StockItem](ctx, s.records, store.Stock)
	if err != nil {
		return domain.SalesLinkResult{}, err
	}
	sales, rev, err := store.LoadList[domain.Sale](ctx, s.records, store.Sales)
	if err != nil {
		return domain.SalesLinkResult{}, err
	}

	byName := make(map[string]domain.StockItem, len(stock))
	for _, item := range stock {
		key := domain.NormalizeName(item.Name)
		if _, seen := byName[key]; key != "" && !seen {
			byName[key] = item
		}
	}

	result := domain.SalesLinkResult{UnmatchedNames: []string{}}
	unmatched := make(map[string]struct{})
	for i := range sales {
		sale := &sales[i]
		if !sale.ItemID.IsZero() || strings.TrimSpace(sale.ProductName) == "" {
			continue
		}
		item, ok := byName[domain.NormalizeName(sale.ProductName)]
		if !ok || item.ID.IsZero() {
			name := strings.TrimSpace(sale.ProductName)
			if _, seen := unmatched[name]; !seen && len(result.UnmatchedNames) < maxUnmatchedNames {
				unmatched[name] = struct{}{}
				result.UnmatchedNames = append(result.UnmatchedNames, name)
			}
			continue
		}
		sale.ItemID = item.ID
		sale.ProductName = item.Name
		result.UpdatedCount++
	}

	if result.UpdatedCount > 0 {
		if _, err := store.SaveList(ctx, s.records, store.Sales, sales, rev); err != nil {
			return domain.SalesLinkResult{}, err
		}
		s.metrics.AddReconciled("sales", result.UpdatedCount)
		s.log.Infow("linked sales to stock", "updated", result.UpdatedCount, "unmatched", len(result.UnmatchedNames))
	}

	result.Aggregated = aggregateSales(sales)
	return result, nil
}

// AggregateSales groups sales per item without touching storage.
func (s *Service) AggregateSales(ctx context.Context) ([]domain.AggregateRow, error) {
	sales, _, err := store.LoadList[domain.Sale](ctx, s.records, store.Sales)
	if err != nil {
		return nil, err
	}
	return aggregateSales(sales), nil
}

func aggregateSales(sales []domain.Sale) []domain.AggregateRow {
	rows := make([]domain.AggregateRow, 0)
	index := make(map[string]int)
	for _, sale := range sales {
		if sale.IsOpaque() {
			continue
		}
		key := "name:" + domain.NormalizeName(sale.ProductName)
		if id := sale.ItemID.Key(); id != "" {
			key = "id:" + id
		}
		pos, ok := index[key]
		if !ok {
			name := strings.TrimSpace(sale.ProductName)
			if name == "" {
				name = "UNKNOWN"
			}
			rows = append(rows, domain.AggregateRow{ItemID: sale.ItemID, ItemName: name, TotalAmount: decimal.Zero})
			pos = len(rows) - 1
			index[key] = pos
		}
		rows[pos].TotalQuantity += sale.Quantity.Int()
		if sale.TotalAmount.Valid {
			rows[pos].TotalAmount = rows[pos].TotalAmount.Add(sale.TotalAmount.Decimal)
		}
	}
	return rows
}

// MigrateHasBeenSold marks items that appear in sales or sale history entries.
func (s *Service) MigrateHasBeenSold(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stock, rev, err := store.LoadList[domain.StockItem](ctx, s.records, store.Stock)
	if err != nil {
		return 0, err
	}
	sales, _, err := store.LoadList[domain.Sale](ctx, s.records, store.Sales)
	if err != nil {
		return 0, err
	}
	history, _, err := store.LoadList[domain.StockHistoryEntry](ctx, s.records, store.StockHistory)
	if err != nil {
		return 0, err
	}

	ids := make(map[string]struct{})
	names := make(map[string]struct{})
	note := func(id domain.Ref, name string) {
		if key := id.Key(); key != "" {
			ids[key] = struct{}{}
		}
		if key := domain.NormalizeName(name); key != "" {
			names[key] = struct{}{}
		}
	}
	for _, sale := range sales {
		note(sale.ItemID, sale.ProductName)
	}
	for _, entry := range history {
		if _, ok := soldActions[entry.Action]; ok {
			note(entry.ItemID, entry.ItemName)
		}
	}

	marked := 0
	for i := range stock {
		if stock[i].HasBeenSold {
			continue
		}
		_, byID := ids[stock[i].ID.Key()]
		_, byName := names[domain.NormalizeName(stock[i].Name)]
		if (byID && !stock[i].ID.IsZero()) || byName {
			stock[i].HasBeenSold = true
			marked++
		}
	}
	if marked == 0 {
		return 0, nil
	}
	if _, err := store.SaveList(ctx, s.records, store.Stock, stock, rev); err != nil {
		return 0, err
	}
	s.metrics.AddReconciled("has_been_sold", marked)
	s.log.Infow("marked sold items", "count", marked)
	return marked, nil
}

// ReconcileStock assigns missing ids and then migrates hasBeenSold.
func (s *Service) ReconcileStock(ctx context.Context) (domain.StockReconcileResult, error) {
	assigned, err := s.EnsureStockHasIDs(ctx)
	if err != nil {
		return domain.StockReconcileResult{}, err
	}
	marked, err := s.MigrateHasBeenSold(ctx)
	if err != nil {
		return domain.StockReconcileResult{IDsAssigned: assigned}, err
	}
	return domain.StockReconcileResult{IDsAssigned: assigned, MarkedHasBeenSold: marked}, nil
}

// RunStartupReconciliation runs every repair job once. A failed step is logged
// and the rest still run.
func (s *Service) RunStartupReconciliation(ctx context.Context) {
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"stock_ids", func(ctx context.Context) error { _, err := s.EnsureStockHasIDs(ctx); return err }},
		{"history", func(ctx context.Context) error { _, err := s.LinkHistoryToStock(ctx); return err }},
		{"sales", func(ctx context.Context) error { _, err := s.LinkSalesToStock(ctx); return err }},
		{"has_been_sold", func(ctx context.Context) error { _, err := s.MigrateHasBeenSold(ctx); return err }},
		{"sale_dates", func(ctx context.Context) error { _, err := s.FixMissingSaleDates(ctx, false); return err }},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			s.log.Warnw("startup reconciliation step failed", "step", step.name, "error", err)
		}
	}
}
