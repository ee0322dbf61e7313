package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type SaleResult struct {
	Message               string `json:"message"`
	Sale                  Sale   `json:"sale"`
	IsCreditPayment       bool   `json:"isCreditPayment,omitempty"`
	LowStockNotification  bool   `json:"lowStockNotification"`
	EmailStatus           string `json:"emailStatus,omitempty"`
	CurrentQuantityBefore *int   `json:"currentQuantityBefore,omitempty"`
	NewQuantityAfter      *int   `json:"newQuantityAfter,omitempty"`
}

type HistoryLinkResult struct {
	UpdatedCount       int `json:"updatedCount"`
	MatchedByNameCount int `json:"matchedByNameCount"`
}

type AggregateRow struct {
	ItemID        Ref             `json:"itemId"`
	ItemName      string          `json:"itemName"`
	TotalQuantity int             `json:"totalQuantity"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
}

type SalesLinkResult struct {
	UpdatedCount   int            `json:"updatedCount"`
	UnmatchedNames []string       `json:"unmatchedNames"`
	Aggregated     []AggregateRow `json:"aggregated"`
}

type StockReconcileResult struct {
	IDsAssigned       int `json:"idsAssigned"`
	MarkedHasBeenSold int `json:"markedHasBeenSold"`
}

// LinkedHistoryEntry is a history entry annotated with its current stock match.
type LinkedHistoryEntry struct {
	Entry                StockHistoryEntry
	HasMatchingStockItem bool
	CurrentQuantity      *int
}

func (l LinkedHistoryEntry) MarshalJSON() ([]byte, error) {
	current := json.RawMessage(`"N/A"`)
	if l.CurrentQuantity != nil {
		raw, err := json.Marshal(*l.CurrentQuantity)
		if err != nil {
			return nil, err
		}
		current = raw
	}
	matched, _ := json.Marshal(l.HasMatchingStockItem)
	return encodeRecord(l.Entry, Extra{
		"hasMatchingStockItem": matched,
		"currentQuantity":      current,
	})
}

type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type CustomerDirectory struct {
	Count     int        `json:"count"`
	Customers []Customer `json:"customers"`
}

type CustomerTransaction struct {
	Type        string          `json:"type"`
	ID          string          `json:"id"`
	Date        string          `json:"date"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	Total       decimal.Decimal `json:"total"`
	PaymentType string          `json:"paymentType,omitempty"`
	Status      string          `json:"status"`
	BalanceDue  Money           `json:"balanceDue,omitzero"`
	Data        any             `json:"data"`
}

type CustomerSummary struct {
	TotalSales    int             `json:"totalSales"`
	TotalCredits  int             `json:"totalCredits"`
	TotalReceipts int             `json:"totalReceipts"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
}

type CustomerTransactions struct {
	CustomerName     string                `json:"customerName"`
	TransactionCount int                   `json:"transactionCount"`
	Transactions     []CustomerTransaction `json:"transactions"`
	Summary          CustomerSummary       `json:"summary"`
}

type RestockRecommendation struct {
	ItemID          Ref      `json:"itemId"`
	Name            string   `json:"name"`
	CurrentQuantity int      `json:"currentQuantity"`
	UnitsSold       int      `json:"unitsSold"`
	DailyVelocity   float64  `json:"dailyVelocity"`
	DaysOfCover     *float64 `json:"daysOfCover,omitempty"`
	SuggestedQty    int      `json:"suggestedQty"`
	ReasonCode      string   `json:"reasonCode"`
}

type RestockReport struct {
	GeneratedAt     string                  `json:"generatedAt"`
	WindowDays      int                     `json:"windowDays"`
	Recommendations []RestockRecommendation `json:"recommendations"`
}

type SendReport struct {
	LowStockAlerts         int    `json:"lowStockAlerts"`
	RestockRecommendations int    `json:"restockRecommendations"`
	Timestamp              string `json:"timestamp"`
}

type CreditPaymentResult struct {
	Message             string `json:"message"`
	Payment             Sale   `json:"payment"`
	NotificationCreated bool   `json:"notificationCreated"`
}
