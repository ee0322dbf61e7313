package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SaleTypeProduct       = "product"
	SaleTypeCreditPayment = "credit-payment"

	NotificationSale          = "sale"
	NotificationLowStock      = "low-stock"
	NotificationCreditPayment = "credit-payment"

	EmailSentSuccessfully = "email_sent_successfully"
	EmailFailed           = "email_failed"
	EmailNotNeeded        = "not_needed"
	EmailNotProduct       = "not_product"

	RoleManager = "manager"
	RoleSales   = "sales"

	// CustomerPlaceholder is the hint text the sale form submits when no name was typed.
	CustomerPlaceholder = "Tapez le nom du client"
)

type StockItem struct {
	ID          Ref      `json:"id,omitempty"`
	Name        string   `json:"name"`
	Quantity    Quantity `json:"quantity"`
	HasBeenSold bool     `json:"hasBeenSold"`
	ImageURL    string   `json:"imageUrl,omitempty"`
	Image       string   `json:"image,omitempty"`
	Price       Money    `json:"price,omitzero"`
	Category    string   `json:"category,omitempty"`
	Extra       Extra    `json:"-"`

	opaque
}

func (s *StockItem) UnmarshalJSON(data []byte) error {
	type plain StockItem
	var p plain
	extra, err := decodeRecord(coerceFlags(data, "hasBeenSold"), &p)
	if err != nil {
		return err
	}
	p.Extra = extra
	*s = StockItem(p)
	return nil
}

func (s StockItem) MarshalJSON() ([]byte, error) {
	if s.IsOpaque() {
		return s.raw, nil
	}
	type plain StockItem
	return encodeRecord(plain(s), s.Extra)
}

// StockUpsert is a stock write request. Fields keeps the raw keys the client sent
// so an update only overrides what was supplied.
type StockUpsert struct {
	Item    StockItem
	OldName string
	Fields  map[string]json.RawMessage
}

func (u *StockUpsert) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var oldName string
	if raw, ok := fields["oldName"]; ok {
		_ = json.Unmarshal(raw, &oldName)
		delete(fields, "oldName")
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	var item StockItem
	if err := json.Unmarshal(body, &item); err != nil {
		return err
	}
	*u = StockUpsert{Item: item, OldName: oldName, Fields: fields}
	return nil
}

type HybridBreakdown struct {
	CustomerName        string `json:"customerName,omitempty"`
	CustomerPhoneNumber string `json:"customerPhoneNumber,omitempty"`
	Extra               Extra  `json:"-"`
}

func (h *HybridBreakdown) UnmarshalJSON(data []byte) error {
	type plain HybridBreakdown
	var p plain
	extra, err := decodeRecord(data, &p)
	if err != nil {
		return err
	}
	p.Extra = extra
	*h = HybridBreakdown(p)
	return nil
}

func (h HybridBreakdown) MarshalJSON() ([]byte, error) {
	type plain HybridBreakdown
	return encodeRecord(plain(h), h.Extra)
}

type Sale struct {
	ID                  Ref              `json:"id,omitempty"`
	ItemID              Ref              `json:"itemId,omitempty"`
	ProductName         string           `json:"productName"`
	Quantity            Quantity         `json:"quantity"`
	Price               Money            `json:"price,omitzero"`
	TotalAmount         Money            `json:"totalAmount,omitzero"`
	Amount              Money            `json:"amount,omitzero"`
	OriginalTotal       Money            `json:"originalTotal,omitzero"`
	DateSold            string           `json:"dateSold,omitempty"`
	Timestamp           string           `json:"timestamp,omitempty"`
	Type                string           `json:"type,omitempty"`
	PaymentType         string           `json:"paymentType,omitempty"`
	Username            string           `json:"username,omitempty"`
	CustomerName        string           `json:"customerName,omitempty"`
	CustomerPhoneNumber string           `json:"customerPhoneNumber,omitempty"`
	HybridBreakdown     *HybridBreakdown `json:"hybridBreakdown,omitempty"`
	Extra               Extra            `json:"-"`

	opaque
}

func (s *Sale) UnmarshalJSON(data []byte) error {
	type plain Sale
	var p plain
	extra, err := decodeRecord(data, &p)
	if err != nil {
		return err
	}
	p.Extra = extra
	*s = Sale(p)
	return nil
}

func (s Sale) MarshalJSON() ([]byte, error) {
	if s.IsOpaque() {
		return s.raw, nil
	}
	type plain Sale
	return encodeRecord(plain(s), s.Extra)
}

// PaidAmount is totalAmount, else amount, else zero.
func (s Sale) PaidAmount() decimal.Decimal {
	if s.TotalAmount.Valid {
		return s.TotalAmount.Decimal
	}
	if s.Amount.Valid {
		return s.Amount.Decimal
	}
	return decimal.Zero
}

type StockHistoryEntry struct {
	ID        Ref    `json:"id,omitempty"`
	ItemID    Ref    `json:"itemId,omitempty"`
	ItemName  string `json:"itemName,omitempty"`
	Action    string `json:"action,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Date      string `json:"date,omitempty"`
	Extra     Extra  `json:"-"`

	opaque
}

func (h *StockHistoryEntry) UnmarshalJSON(data []byte) error {
	type plain StockHistoryEntry
	var p plain
	extra, err := decodeRecord(data, &p)
	if err != nil {
		return err
	}
	p.Extra = extra
	*h = StockHistoryEntry(p)
	return nil
}

func (h StockHistoryEntry) MarshalJSON() ([]byte, error) {
	if h.IsOpaque() {
		return h.raw, nil
	}
	type plain StockHistoryEntry
	return encodeRecord(plain(h), h.Extra)
}

type Notification struct {
	ID                        Millis     `json:"id"`
	Type                      string     `json:"type"`
	Message                   string     `json:"message"`
	Date                      string     `json:"date"`
	User                      string     `json:"user,omitempty"`
	ProductName               string     `json:"productName,omitempty"`
	ProductImage              string     `json:"productImage,omitempty"`
	ItemID                    Ref        `json:"itemId,omitempty"`
	StockQuantity             *Quantity  `json:"stockQuantity,omitempty"`
	PreviousQuantity          *Quantity  `json:"previousQuantity,omitempty"`
	CurrentQuantityBeforeSale *Quantity  `json:"currentQuantityBeforeSale,omitempty"`
	Amount                    Money      `json:"amount,omitzero"`
	CustomerName              string     `json:"customerName,omitempty"`
	ItemData                  *StockItem `json:"itemData,omitempty"`
	SaleData                  *Sale      `json:"saleData,omitempty"`
	Extra                     Extra      `json:"-"`

	opaque
}

func (n *Notification) UnmarshalJSON(data []byte) error {
	type plain Notification
	var p plain
	extra, err := decodeRecord(data, &p)
	if err != nil {
		return err
	}
	p.Extra = extra
	*n = Notification(p)
	return nil
}

func (n Notification) MarshalJSON() ([]byte, error) {
	if n.IsOpaque() {
		return n.raw, nil
	}
	type plain Notification
	return encodeRecord(plain(n), n.Extra)
}

type CreditSale struct {
	ID                  Ref      `json:"id,omitempty"`
	ProductName         string   `json:"productName,omitempty"`
	CustomerName        string   `json:"customerName,omitempty"`
	CustomerPhoneNumber string   `json:"customerPhoneNumber,omitempty"`
	Quantity            Quantity `json:"quantity"`
	Price               Money    `json:"price,omitzero"`
	OriginalTotal       Money    `json:"originalTotal,omitzero"`
	CreditBalance       Money    `json:"creditBalance,omitzero"`
	Status              string   `json:"status,omitempty"`
	PaymentType         string   `json:"paymentType,omitempty"`
	DateSold            string   `json:"dateSold,omitempty"`
	Timestamp           string   `json:"timestamp,omitempty"`
	Extra               Extra    `json:"-"`

	opaque
}

func (c *CreditSale) UnmarshalJSON(data []byte) error {
	type plain CreditSale
	var p plain
	extra, err := decodeRecord(data, &p)
	if err != nil {
		return err
	}
	p.Extra = extra
	*c = CreditSale(p)
	return nil
}

func (c CreditSale) MarshalJSON() ([]byte, error) {
	if c.IsOpaque() {
		return c.raw, nil
	}
	type plain CreditSale
	return encodeRecord(plain(c), c.Extra)
}

type ReceiptItem struct {
	Name  string `json:"name"`
	Extra Extra  `json:"-"`
}

func (r *ReceiptItem) UnmarshalJSON(data []byte) error {
	type plain ReceiptItem
	var p plain
	extra, err := decodeRecord(data, &p)
	if err != nil {
		return err
	}
	p.Extra = extra
	*r = ReceiptItem(p)
	return nil
}

func (r ReceiptItem) MarshalJSON() ([]byte, error) {
	type plain ReceiptItem
	return encodeRecord(plain(r), r.Extra)
}

type CustomerReceipt struct {
	ReceiptID           Ref           `json:"receiptId"`
	CustomerName        string        `json:"customerName,omitempty"`
	CustomerPhoneNumber string        `json:"customerPhoneNumber,omitempty"`
	Items               []ReceiptItem `json:"items,omitempty"`
	Total               Money         `json:"total,omitzero"`
	PaymentType         string        `json:"paymentType,omitempty"`
	Date                string        `json:"date,omitempty"`
	CreatedAt           string        `json:"createdAt,omitempty"`
	UpdatedAt           string        `json:"updatedAt,omitempty"`
	Extra               Extra         `json:"-"`

	opaque
}

func (c *CustomerReceipt) UnmarshalJSON(data []byte) error {
	type plain CustomerReceipt
	var p plain
	extra, err := decodeRecord(data, &p)
	if err != nil {
		return err
	}
	p.Extra = extra
	*c = CustomerReceipt(p)
	return nil
}

func (c CustomerReceipt) MarshalJSON() ([]byte, error) {
	if c.IsOpaque() {
		return c.raw, nil
	}
	type plain CustomerReceipt
	return encodeRecord(plain(c), c.Extra)
}

type UserAccount struct {
	Username      string     `json:"username"`
	Password      string     `json:"password"`
	Role          string     `json:"role"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"createdAt"`
	PromotionDate *time.Time `json:"promotionDate,omitempty"`

	opaque
}

func (u UserAccount) MarshalJSON() ([]byte, error) {
	if u.IsOpaque() {
		return u.raw, nil
	}
	type plain UserAccount
	return json.Marshal(plain(u))
}

type User struct {
	Username      string     `json:"username"`
	Role          string     `json:"role"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"createdAt"`
	PromotionDate *time.Time `json:"promotionDate,omitempty"`
}

type UserPresence struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	IsOnline bool   `json:"isOnline"`
}

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type RoleChangeRequest struct {
	Role string `json:"role"`
}

const (
	FrequencyDaily      = "daily"
	FrequencyEvery3Days = "every3days"
	FrequencyWeekly     = "weekly"
)

type EmailSchedule struct {
	Enabled     bool       `json:"enabled"`
	Frequency   string     `json:"frequency"`
	Email       string     `json:"email,omitempty"`
	LastSent    *time.Time `json:"lastSent,omitempty"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
}

type EmailScheduleUpdate struct {
	Frequency *string `json:"frequency,omitempty"`
	Enabled   *bool   `json:"enabled,omitempty"`
	Email     *string `json:"email,omitempty"`
}

type ScheduleLogEntry struct {
	Kind          string    `json:"kind"`
	Timestamp     time.Time `json:"timestamp"`
	LowStockItems int       `json:"lowStockItems"`
	Restock       int       `json:"restockRecommendations"`
}
