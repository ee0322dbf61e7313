package service

import (
	"context"
	"strings"
	"time"

	"stockroom/backend/internal/domain"
	"stockroom/backend/internal/store"
	"stockroom/backend/internal/xid"
)

// AddHistoryEntry links the entry to stock by id or name before appending it.
func (s *Service) AddHistoryEntry(ctx context.Context, entry domain.StockHistoryEntry) (domain.StockHistoryEntry, error) {
	if entry.ItemID.IsZero() && strings.TrimSpace(entry.ItemName) == "" && strings.TrimSpace(entry.Action) == "" {
		return domain.StockHistoryEntry{}, validation("history entry needs an item or an action")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stock, _, err := store.LoadList[domain.StockItem](ctx, s.records, store.Stock)
	if err != nil {
		return domain.StockHistoryEntry{}, err
	}
	history, rev, err := store.LoadList[domain.StockHistoryEntry](ctx, s.records, store.StockHistory)
	if err != nil {
		return domain.StockHistoryEntry{}, err
	}

	if res := Resolve(stock, entry.ItemID, ""); res.Found() {
		entry.ItemName = stock[res.Index].Name
	} else if entry.ItemName != "" {
		if res := Resolve(stock, "", entry.ItemName); res.Found() {
			entry.ItemID = stock[res.Index].ID
			entry.ItemName = stock[res.Index].Name
		}
	}

	switch ts := strings.TrimSpace(entry.Timestamp); {
	case ts == "":
		entry.Timestamp = s.timestamp()
	case strings.Contains(ts, "/"):
		if t, err := time.ParseInLocation(domain.LegacyTimestampLayout, ts, time.Local); err == nil {
			entry.Timestamp = t.UTC().Format(time.RFC3339)
		}
	}
	if entry.ID.IsZero() {
		entry.ID = domain.Ref(xid.New("hist"))
	}

	if _, err := store.SaveList(ctx, s.records, store.StockHistory, append(history, entry), rev); err != nil {
		return domain.StockHistoryEntry{}, err
	}
	return entry, nil
}

// ListHistory returns entries dated within [start, end], or everything when
// no range is given.
func (s *Service) ListHistory(ctx context.Context, start string, end string) ([]domain.StockHistoryEntry, error) {
	history, _, err := store.LoadList[domain.StockHistoryEntry](ctx, s.records, store.StockHistory)
	if err != nil {
		return nil, err
	}
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" || end == "" {
		return history, nil
	}
	return filterHistory(history, start, end), nil
}

// ListHistoryLinked relinks history first and annotates each entry in range
// (today by default) with the stock item it currently points at.
func (s *Service) ListHistoryLinked(ctx context.Context, start string, end string) ([]domain.LinkedHistoryEntry, error) {
	s.mu.Lock()
	_, err := s.linkHistoryLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	stock, _, err := store.LoadList[domain.StockItem](ctx, s.records, store.Stock)
	if err != nil {
		return nil, err
	}
	history, _, err := store.LoadList[domain.StockHistoryEntry](ctx, s.records, store.StockHistory)
	if err != nil {
		return nil, err
	}
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" || end == "" {
		start, end = s.today(), s.today()
	}

	entries := filterHistory(history, start, end)
	out := make([]domain.LinkedHistoryEntry, 0, len(entries))
	for _, entry := range entries {
		linked := domain.LinkedHistoryEntry{Entry: entry}
		if res := Resolve(stock, entry.ItemID, entry.ItemName); res.Found() {
			item := stock[res.Index]
			linked.HasMatchingStockItem = true
			linked.CurrentQuantity = intPtr(item.Quantity.Int())
			linked.Entry.ItemID = item.ID
			linked.Entry.ItemName = item.Name
		}
		out = append(out, linked)
	}
	return out, nil
}

// UpdateHistoryEntry relinks a single entry. entryKey matches the entry id,
// then its timestamp, then its item name.
func (s *Service) UpdateHistoryEntry(ctx context.Context, entryKey string, itemID domain.Ref, itemName string) (domain.StockHistoryEntry, error) {
	entryKey = strings.TrimSpace(entryKey)
	if entryKey == "" {
		return domain.StockHistoryEntry{}, validation("history entry key is required")
	}
	if itemID.IsZero() && strings.TrimSpace(itemName) == "" {
		return domain.StockHistoryEntry{}, validation("itemId or itemName is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history, rev, err := store.LoadList[domain.StockHistoryEntry](ctx, s.records, store.StockHistory)
	if err != nil {
		return domain.StockHistoryEntry{}, err
	}
	idx := findHistoryEntry(history, entryKey)
	if idx < 0 {
		return domain.StockHistoryEntry{}, notFound("history entry %q", entryKey)
	}
	stock, _, err := store.LoadList[domain.StockItem](ctx, s.records, store.Stock)
	if err != nil {
		return domain.StockHistoryEntry{}, err
	}

	entry := history[idx]
	if !itemID.IsZero() {
		res := Resolve(stock, itemID, "")
		if !res.Found() {
			return domain.StockHistoryEntry{}, validation("no stock item with id %q", itemID.String())
		}
		entry.ItemID = stock[res.Index].ID
		entry.ItemName = stock[res.Index].Name
	} else {
		entry.ItemName = strings.TrimSpace(itemName)
		if res := Resolve(stock, "", itemName); res.Found() {
			entry.ItemID = stock[res.Index].ID
			entry.ItemName = stock[res.Index].Name
		}
	}
	history[idx] = entry

	if _, err := store.SaveList(ctx, s.records, store.StockHistory, history, rev); err != nil {
		return domain.StockHistoryEntry{}, err
	}
	return entry, nil
}

func findHistoryEntry(history []domain.StockHistoryEntry, key string) int {
	for i, entry := range history {
		if entry.ID.Key() == key {
			return i
		}
	}
	for i, entry := range history {
		if strings.TrimSpace(entry.Timestamp) == key {
			return i
		}
	}
	for i, entry := range history {
		if strings.TrimSpace(entry.ItemName) == key {
			return i
		}
	}
	return -1
}

func filterHistory(history []domain.StockHistoryEntry, start string, end string) []domain.StockHistoryEntry {
	out := make([]domain.StockHistoryEntry, 0, len(history))
	for _, entry := range history {
		date := historyDate(entry)
		if date != "" && date >= start && date <= end {
			out = append(out, entry)
		}
	}
	return out
}

// historyDate is the entry's date field, else the date part of its timestamp.
func historyDate(entry domain.StockHistoryEntry) string {
	if d := strings.TrimSpace(entry.Date); d != "" {
		return d
	}
	t, ok := domain.ParseTimestamp(entry.Timestamp)
	if !ok {
		return ""
	}
	return t.UTC().Format(domain.DateLayout)
}
