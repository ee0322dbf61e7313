package service

import (
	"context"
	"encoding/json"
	"strings"

	"stockroom/backend/internal/domain"
	"stockroom/backend/internal/store"
	"stockroom/backend/internal/xid"
)

// UpsertStock creates or updates a stock item and returns the stored record.
// Renaming an item through OldName rewrites the product name on past sales and
// credit sales.
func (s *Service) UpsertStock(ctx context.Context, req domain.StockUpsert) (domain.StockItem, error) {
	if strings.TrimSpace(req.Item.Name) == "" {
		return domain.StockItem{}, validation("stock item needs a name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stock, stockRev, err := store.LoadList[domain.StockItem](ctx, s.records, store.Stock)
	if err != nil {
		return domain.StockItem{}, err
	}

	incoming := req.Item
	if incoming.ID.IsZero() {
		incoming.ID = domain.Ref(xid.Stock())
	}

	renamed := req.OldName != "" && domain.NormalizeName(req.OldName) != domain.NormalizeName(incoming.Name)
	idx := findStock(stock, req.Item.ID, req.OldName, incoming.Name, renamed)

	var saved domain.StockItem
	writes := make([]store.Write, 0, 4)
	if idx >= 0 {
		existing := stock[idx]
		fields, err := upsertFields(req)
		if err != nil {
			return domain.StockItem{}, err
		}
		merged, err := domain.MergePatch(existing, fields)
		if err != nil {
			return domain.StockItem{}, validation("stock item: %v", err)
		}
		merged.ID = existing.ID
		if merged.ID.IsZero() {
			merged.ID = incoming.ID
		}
		stock[idx] = merged
		saved = merged

		if renamed {
			renameWrites, err := s.propagateRename(ctx, req.OldName, merged.Name)
			if err != nil {
				return domain.StockItem{}, err
			}
			writes = append(writes, renameWrites...)
		}
	} else {
		stock = append(stock, incoming)
		saved = incoming
	}

	stockWrite, err := store.Encode(store.Stock, stock, stockRev)
	if err != nil {
		return domain.StockItem{}, err
	}
	writes = append([]store.Write{stockWrite}, writes...)

	notifications, notifRev, err := store.LoadList[domain.Notification](ctx, s.records, store.Notifications)
	if err != nil {
		return domain.StockItem{}, err
	}
	created := s.upsertLowStockNotifications(stock, notifications)
	if len(created) > 0 {
		for _, n := range created {
			notifications = unshift(notifications, n)
		}
		notifWrite, err := store.Encode(store.Notifications, notifications, notifRev)
		if err != nil {
			return domain.StockItem{}, err
		}
		writes = append(writes, notifWrite)
	}

	if err := s.records.Commit(ctx, writes...); err != nil {
		return domain.StockItem{}, err
	}
	for range created {
		s.metrics.IncLowStock("upsert")
	}
	s.log.Infow("stock upserted", "item", saved.Name, "id", saved.ID.String(), "quantity", saved.Quantity.Int(), "renamed", renamed)
	return saved, nil
}

// upsertFields is the set of keys the request overrides. Requests built in code
// rather than decoded from JSON override every field of Item.
func upsertFields(req domain.StockUpsert) (map[string]json.RawMessage, error) {
	if req.Fields != nil {
		return req.Fields, nil
	}
	body, err := json.Marshal(req.Item)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func findStock(stock []domain.StockItem, id domain.Ref, oldName string, name string, renamed bool) int {
	if key := id.Key(); key != "" {
		for i, item := range stock {
			if item.ID.Key() == key {
				return i
			}
		}
	}
	want := domain.NormalizeName(name)
	if renamed {
		want = domain.NormalizeName(oldName)
	}
	for i, item := range stock {
		if domain.NormalizeName(item.Name) == want {
			return i
		}
	}
	return -1
}

// propagateRename returns writes for the sales and credit sales whose product
// name matched oldName. Collections with no match produce no write.
func (s *Service) propagateRename(ctx context.Context, oldName string, newName string) ([]store.Write, error) {
	old := domain.NormalizeName(oldName)
	var writes []store.Write

	sales, salesRev, err := store.LoadList[domain.Sale](ctx, s.records, store.Sales)
	if err != nil {
		return nil, err
	}
	changed := 0
	for i := range sales {
		if domain.NormalizeName(sales[i].ProductName) == old {
			sales[i].ProductName = newName
			changed++
		}
	}
	if changed > 0 {
		w, err := store.Encode(store.Sales, sales, salesRev)
		if err != nil {
			return nil, err
		}
		writes = append(writes, w)
	}

	credits, creditRev, err := store.LoadList[domain.CreditSale](ctx, s.records, store.CreditSales)
	if err != nil {
		return nil, err
	}
	creditChanged := 0
	for i := range credits {
		if domain.NormalizeName(credits[i].ProductName) == old {
			credits[i].ProductName = newName
			creditChanged++
		}
	}
	if creditChanged > 0 {
		w, err := store.Encode(store.CreditSales, credits, creditRev)
		if err != nil {
			return nil, err
		}
		writes = append(writes, w)
	}

	if changed+creditChanged > 0 {
		s.log.Infow("rename propagated", "from", oldName, "to", newName, "sales", changed, "creditSales", creditChanged)
	}
	return writes, nil
}

// DeleteStock removes every item whose name matches case-insensitively.
// History entries that point at it are left alone.
func (s *Service) DeleteStock(ctx context.Context, name string) error {
	want := domain.NormalizeName(name)
	if want == "" {
		return validation("stock item name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stock, rev, err := store.LoadList[domain.StockItem](ctx, s.records, store.Stock)
	if err != nil {
		return err
	}
	kept := make([]domain.StockItem, 0, len(stock))
	for _, item := range stock {
		if domain.NormalizeName(item.Name) != want {
			kept = append(kept, item)
		}
	}
	if len(kept) == len(stock) {
		return notFound("stock item %q", name)
	}
	if _, err := store.SaveList(ctx, s.records, store.Stock, kept, rev); err != nil {
		return err
	}
	s.log.Infow("stock deleted", "item", name)
	return nil
}
