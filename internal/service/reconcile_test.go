package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockroom/backend/internal/domain"
	"stockroom/backend/internal/store"
)

func TestEnsureStockHasIDsIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.seedRaw(store.Stock, `[{"name":"Oil","quantity":1},{"id":"A1","name":"Rice","quantity":2},{"id":"  ","name":"Salt","quantity":3}]`)

	assigned, err := f.svc.EnsureStockHasIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, assigned)

	before, err := f.mem.Read(context.Background(), store.Stock)
	require.NoError(t, err)
	assigned, err = f.svc.EnsureStockHasIDs(context.Background())
	require.NoError(t, err)
	assert.Zero(t, assigned)
	after, err := f.mem.Read(context.Background(), store.Stock)
	require.NoError(t, err)
	assert.Equal(t, before.Revision, after.Revision)

	stock := loadAll[domain.StockItem](t, f, store.Stock)
	assert.Equal(t, domain.Ref("A1"), stock[1].ID)
	assert.NotEqual(t, stock[0].ID, stock[2].ID)
}

func TestLinkHistoryToStock(t *testing.T) {
	f := newFixture(t, nil)
	f.seedRaw(store.Stock, `[{"id":"A1","name":"Jasmine Rice","quantity":5},{"id":"B1","name":"Oil","quantity":2}]`)
	f.seedRaw(store.StockHistory, `[
		{"itemId":"A1","itemName":"Rice","action":"Stock Added"},
		{"itemName":" oil ","action":"Item Sold"},
		{"itemName":"Ghost","action":"Item Sold"},
		{"itemId":"A1","itemName":"Jasmine Rice","action":"Stock Added"}
	]`)

	res, err := f.svc.LinkHistoryToStock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HistoryLinkResult{UpdatedCount: 2, MatchedByNameCount: 1}, res)

	history := loadAll[domain.StockHistoryEntry](t, f, store.StockHistory)
	require.Len(t, history, 4)
	assert.Equal(t, "Jasmine Rice", history[0].ItemName)
	assert.Equal(t, domain.Ref("B1"), history[1].ItemID)
	assert.Equal(t, " oil ", history[1].ItemName)
	assert.True(t, history[2].ItemID.IsZero())

	// The entry linked by name is now id-linked, so the next run refreshes its name.
	res, err = f.svc.LinkHistoryToStock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HistoryLinkResult{UpdatedCount: 1}, res)
	assert.Equal(t, "Oil", loadAll[domain.StockHistoryEntry](t, f, store.StockHistory)[1].ItemName)

	res, err = f.svc.LinkHistoryToStock(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.UpdatedCount)
}

func TestLinkSalesToStockAndAggregate(t *testing.T) {
	f := newFixture(t, nil)
	f.seedRaw(store.Stock, `[{"id":"A1","name":"Rice","quantity":5}]`)
	f.seedRaw(store.Sales, `[
		{"productName":" rice","quantity":2,"totalAmount":3000},
		{"itemId":"A1","productName":"Rice","quantity":1,"totalAmount":"1500.50"},
		{"productName":"Ghost","quantity":4},
		{"productName":"ghost","quantity":1},
		{"productName":"","quantity":1}
	]`)

	res, err := f.svc.LinkSalesToStock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.UpdatedCount)
	assert.Equal(t, []string{"Ghost", "ghost"}, res.UnmatchedNames)

	require.Len(t, res.Aggregated, 3)
	assert.Equal(t, domain.Ref("A1"), res.Aggregated[0].ItemID)
	assert.Equal(t, 3, res.Aggregated[0].TotalQuantity)
	assert.True(t, decimal.RequireFromString("4500.50").Equal(res.Aggregated[0].TotalAmount))
	assert.Equal(t, "Ghost", res.Aggregated[1].ItemName)
	assert.Equal(t, 5, res.Aggregated[1].TotalQuantity)
	assert.Equal(t, "UNKNOWN", res.Aggregated[2].ItemName)

	sales := loadAll[domain.Sale](t, f, store.Sales)
	assert.Equal(t, domain.Ref("A1"), sales[0].ItemID)
	assert.Equal(t, "Rice", sales[0].ProductName)

	before, err := f.mem.Read(context.Background(), store.Sales)
	require.NoError(t, err)
	res, err = f.svc.LinkSalesToStock(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.UpdatedCount)
	after, err := f.mem.Read(context.Background(), store.Sales)
	require.NoError(t, err)
	assert.Equal(t, before.Revision, after.Revision)
}

func TestMigrateHasBeenSold(t *testing.T) {
	f := newFixture(t, nil)
	f.seedRaw(store.Stock, `[
		{"id":"A1","name":"Rice","quantity":5},
		{"id":"B1","name":"Oil","quantity":5},
		{"id":"C1","name":"Salt","quantity":5},
		{"id":"D1","name":"Sugar","quantity":5}
	]`)
	f.seedRaw(store.Sales, `[{"itemId":"A1","productName":"Rice","quantity":1}]`)
	f.seedRaw(store.StockHistory, `[
		{"itemName":"oil","action":"Sale Recorded"},
		{"itemId":"C1","itemName":"Salt","action":"Stock Added"}
	]`)

	marked, err := f.svc.MigrateHasBeenSold(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	stock := loadAll[domain.StockItem](t, f, store.Stock)
	assert.True(t, stock[0].HasBeenSold)
	assert.True(t, stock[1].HasBeenSold)
	assert.False(t, stock[2].HasBeenSold)
	assert.False(t, stock[3].HasBeenSold)

	marked, err = f.svc.MigrateHasBeenSold(context.Background())
	require.NoError(t, err)
	assert.Zero(t, marked)
}

func TestStartupReconciliationRunsEveryStep(t *testing.T) {
	f := newFixture(t, nil)
	f.seedRaw(store.Stock, `[{"name":"Rice","quantity":5}]`)
	f.seedRaw(store.Sales, `[{"productName":"Rice","quantity":1,"timestamp":"01/03/2026 10:00:00"}]`)
	f.seedRaw(store.StockHistory, `[{"itemName":"rice","action":"Item Sold"}]`)

	f.svc.RunStartupReconciliation(context.Background())

	stock := loadAll[domain.StockItem](t, f, store.Stock)
	require.False(t, stock[0].ID.IsZero())
	assert.True(t, stock[0].HasBeenSold)

	sales := loadAll[domain.Sale](t, f, store.Sales)
	assert.Equal(t, stock[0].ID, sales[0].ItemID)
	assert.Equal(t, "2026-03-01", sales[0].DateSold)

	history := loadAll[domain.StockHistoryEntry](t, f, store.StockHistory)
	assert.Equal(t, stock[0].ID, history[0].ItemID)
}

func TestHistoryAddNormalizesEntry(t *testing.T) {
	f := newFixture(t, nil)
	f.seedRaw(store.Stock, `[{"id":"A1","name":"Rice","quantity":5}]`)

	byID, err := f.svc.AddHistoryEntry(context.Background(), domain.StockHistoryEntry{ItemID: "A1", ItemName: "old rice", Action: "Stock Added"})
	require.NoError(t, err)
	assert.Equal(t, "Rice", byID.ItemName)
	assert.Equal(t, "2026-03-10T09:30:00Z", byID.Timestamp)
	assert.False(t, byID.ID.IsZero())

	byName, err := f.svc.AddHistoryEntry(context.Background(), domain.StockHistoryEntry{
		ItemName:  "RICE",
		Action:    "Item Sold",
		Timestamp: "09/03/2026 08:15:00",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Ref("A1"), byName.ItemID)
	assert.Equal(t, "Rice", byName.ItemName)
	assert.Contains(t, byName.Timestamp, "2026-03-0")
	assert.Contains(t, byName.Timestamp, "T")

	_, err = f.svc.AddHistoryEntry(context.Background(), domain.StockHistoryEntry{})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestListHistoryRanges(t *testing.T) {
	f := newFixture(t, nil)
	f.seedRaw(store.StockHistory, `[
		{"itemName":"Rice","timestamp":"2026-03-10T08:00:00Z"},
		{"itemName":"Oil","date":"2026-03-02"},
		{"itemName":"Salt"}
	]`)

	all, err := f.svc.ListHistory(context.Background(), "", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	march, err := f.svc.ListHistory(context.Background(), "2026-03-01", "2026-03-05")
	require.NoError(t, err)
	require.Len(t, march, 1)
	assert.Equal(t, "Oil", march[0].ItemName)
}

func TestListHistoryLinkedAnnotates(t *testing.T) {
	f := newFixture(t, nil)
	f.seedRaw(store.Stock, `[{"id":"A1","name":"Rice","quantity":7}]`)
	f.seedRaw(store.StockHistory, `[
		{"itemName":"rice","timestamp":"2026-03-10T08:00:00Z"},
		{"itemName":"Ghost","timestamp":"2026-03-10T08:30:00Z"},
		{"itemName":"Rice","timestamp":"2026-02-01T08:00:00Z"}
	]`)

	linked, err := f.svc.ListHistoryLinked(context.Background(), "", "")
	require.NoError(t, err)
	require.Len(t, linked, 2)
	assert.True(t, linked[0].HasMatchingStockItem)
	assert.Equal(t, 7, *linked[0].CurrentQuantity)
	assert.Equal(t, domain.Ref("A1"), linked[0].Entry.ItemID)
	assert.False(t, linked[1].HasMatchingStockItem)

	body, err := linked[1].MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(body), `"currentQuantity":"N/A"`)

	history := loadAll[domain.StockHistoryEntry](t, f, store.StockHistory)
	assert.Equal(t, domain.Ref("A1"), history[2].ItemID, "linking runs over the whole collection")
}

func TestUpdateHistoryEntry(t *testing.T) {
	f := newFixture(t, nil)
	f.seedRaw(store.Stock, `[{"id":"A1","name":"Rice","quantity":7}]`)
	f.seedRaw(store.StockHistory, `[
		{"id":"h1","itemName":"Unknown","timestamp":"2026-03-10T08:00:00Z"},
		{"itemName":"Mystery","timestamp":"2026-03-10T09:00:00Z"}
	]`)

	entry, err := f.svc.UpdateHistoryEntry(context.Background(), "h1", "A1", "")
	require.NoError(t, err)
	assert.Equal(t, "Rice", entry.ItemName)

	entry, err = f.svc.UpdateHistoryEntry(context.Background(), "2026-03-10T09:00:00Z", "", "rice")
	require.NoError(t, err)
	assert.Equal(t, domain.Ref("A1"), entry.ItemID)

	_, err = f.svc.UpdateHistoryEntry(context.Background(), "h1", "Z9", "")
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown item id, got %v", err)
	}
	_, err = f.svc.UpdateHistoryEntry(context.Background(), "nope", "A1", "")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
