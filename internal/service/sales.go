package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockroom/backend/internal/domain"
	"stockroom/backend/internal/fanout"
	"stockroom/backend/internal/store"
	"stockroom/backend/internal/xid"
)

// ProcessSale records a sale and moves stock. Credit payments are recorded
// without touching stock.
func (s *Service) ProcessSale(ctx context.Context, sale domain.Sale) (domain.SaleResult, error) {
	ctx, span := s.tracer.Start(ctx, "service.process_sale", trace.WithAttributes(
		attribute.String("sale.product", sale.ProductName),
		attribute.String("sale.item_id", sale.ItemID.String()),
		attribute.Int("sale.quantity", sale.Quantity.Int()),
	))
	defer span.End()

	result, err := s.processSale(ctx, sale)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (s *Service) processSale(ctx context.Context, sale domain.Sale) (domain.SaleResult, error) {
	if sale.IsCreditPayment() {
		notification, err := s.persistCreditPayment(ctx, sale)
		if err != nil {
			s.metrics.IncSaleFailure("storage")
			return domain.SaleResult{}, err
		}
		s.metrics.IncSale(domain.SaleTypeCreditPayment)
		s.broadcast(fanout.EventNewSale, "sale", sale)
		s.broadcast(fanout.EventNewNotification, "notification", notification)
		return domain.SaleResult{
			Message:         "Credit payment recorded successfully",
			Sale:            sale,
			IsCreditPayment: true,
		}, nil
	}

	if sale.ItemID.IsZero() && strings.TrimSpace(sale.ProductName) == "" {
		s.metrics.IncSaleFailure("validation")
		return domain.SaleResult{}, validation("sale needs itemId or productName")
	}
	if sale.Quantity <= 0 {
		s.metrics.IncSaleFailure("validation")
		return domain.SaleResult{}, validation("sale quantity must be positive")
	}

	s.mu.Lock()
	committed, err := s.commitProductSale(ctx, sale)
	s.mu.Unlock()
	if err != nil {
		reason := "storage"
		switch {
		case errors.Is(err, store.ErrNotFound):
			reason = "not_found"
		case errors.Is(err, store.ErrRevisionConflict):
			reason = "conflict"
		}
		s.metrics.IncSaleFailure(reason)
		return domain.SaleResult{}, err
	}
	s.metrics.IncSale(domain.SaleTypeProduct)

	s.broadcast(fanout.EventNewSale, "sale", sale)

	emailStatus := domain.EmailNotProduct
	if committed.stockMoved {
		emailStatus = domain.EmailNotNeeded
	}
	if committed.lowStock != nil {
		s.metrics.IncLowStock("sale")
		s.broadcast(fanout.EventLowStock, "notification", *committed.lowStock)
		emailStatus = s.dispatchLowStock(ctx, committed.item)
	}

	s.broadcast(fanout.EventNewNotification, "notification", committed.saleNotification)

	s.log.Infow("sale processed",
		"product", sale.ProductName,
		"item", committed.item.ID.String(),
		"quantity", sale.Quantity.Int(),
		"before", committed.before,
		"after", committed.item.Quantity.Int(),
		"emailStatus", emailStatus,
	)

	return domain.SaleResult{
		Message:               "Sale added successfully",
		Sale:                  sale,
		LowStockNotification:  committed.lowStock != nil,
		EmailStatus:           emailStatus,
		CurrentQuantityBefore: intPtr(committed.before),
		NewQuantityAfter:      intPtr(committed.item.Quantity.Int()),
	}, nil
}

type committedSale struct {
	item             domain.StockItem
	before           int
	stockMoved       bool
	lowStock         *domain.Notification
	saleNotification domain.Notification
}

// commitProductSale runs the resolve-mutate-persist sequence. The caller holds s.mu.
func (s *Service) commitProductSale(ctx context.Context, sale domain.Sale) (committedSale, error) {
	stock, stockRev, err := store.LoadList[domain.StockItem](ctx, s.records, store.Stock)
	if err != nil {
		return committedSale{}, err
	}
	res := Resolve(stock, sale.ItemID, sale.ProductName)
	if !res.Found() {
		return committedSale{}, notFound("item %q (id %q) not in stock", sale.ProductName, sale.ItemID.String())
	}

	sales, salesRev, err := store.LoadList[domain.Sale](ctx, s.records, store.Sales)
	if err != nil {
		return committedSale{}, err
	}
	notifications, notifRev, err := store.LoadList[domain.Notification](ctx, s.records, store.Notifications)
	if err != nil {
		return committedSale{}, err
	}

	item := stock[res.Index]
	out := committedSale{before: item.Quantity.Int()}

	writes := make([]store.Write, 0, 3)
	salesWrite, err := store.Encode(store.Sales, append(sales, sale), salesRev)
	if err != nil {
		return committedSale{}, err
	}
	writes = append(writes, salesWrite)

	snapshot := item
	saleNotification := s.newNotification(domain.NotificationSale,
		fmt.Sprintf("New sale: %s x%d for %s FCFA", sale.ProductName, sale.Quantity.Int(), priceLabel(sale)))
	saleNotification.User = usernameOr(sale.Username)
	saleNotification.ProductName = sale.ProductName
	saleNotification.ProductImage = item.Image
	saleNotification.ItemData = &snapshot
	saleNotification.SaleData = &sale
	saleNotification.CurrentQuantityBeforeSale = quantityPtr(out.before)
	notifications = unshift(notifications, saleNotification)

	if sale.Type == "" || sale.Type == domain.SaleTypeProduct {
		if item.ID.IsZero() {
			item.ID = domain.Ref(xid.Stock())
		}
		item.Quantity = domain.Quantity(out.before - sale.Quantity.Int())
		item.HasBeenSold = true
		stock[res.Index] = item
		out.stockMoved = true

		stockWrite, err := store.Encode(store.Stock, stock, stockRev)
		if err != nil {
			return committedSale{}, err
		}
		writes = append(writes, stockWrite)

		if low, ok := s.saleLowStockNotification(item, out.before); ok {
			notifications = unshift(notifications, low)
			out.lowStock = &low
		}
	}

	notifWrite, err := store.Encode(store.Notifications, notifications, notifRev)
	if err != nil {
		return committedSale{}, err
	}
	writes = append(writes, notifWrite)

	if err := s.records.Commit(ctx, writes...); err != nil {
		s.log.Errorw("sale commit failed", "product", sale.ProductName, "error", err)
		return committedSale{}, err
	}

	out.item = item
	out.saleNotification = saleNotification
	return out, nil
}

// RecordCreditPayment stores a credit payment sent to the dedicated endpoint.
func (s *Service) RecordCreditPayment(ctx context.Context, payment domain.Sale) (domain.CreditPaymentResult, error) {
	notification, err := s.persistCreditPayment(ctx, payment)
	if err != nil {
		s.metrics.IncSaleFailure("storage")
		return domain.CreditPaymentResult{}, err
	}
	s.metrics.IncSale(domain.SaleTypeCreditPayment)
	s.broadcast(fanout.EventNewCreditPayment, "payment", payment)
	s.broadcast(fanout.EventNewNotification, "notification", notification)
	return domain.CreditPaymentResult{
		Message:             "Credit payment recorded successfully",
		Payment:             payment,
		NotificationCreated: true,
	}, nil
}

func (s *Service) persistCreditPayment(ctx context.Context, payment domain.Sale) (domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sales, salesRev, err := store.LoadList[domain.Sale](ctx, s.records, store.Sales)
	if err != nil {
		return domain.Notification{}, err
	}
	notifications, notifRev, err := store.LoadList[domain.Notification](ctx, s.records, store.Notifications)
	if err != nil {
		return domain.Notification{}, err
	}

	amount := payment.PaidAmount()
	n := s.newNotification(domain.NotificationCreditPayment,
		fmt.Sprintf("Credit payment received: %s - %s FCFA", payment.ProductName, amount.String()))
	n.User = usernameOr(payment.Username)
	n.ProductName = payment.ProductName
	n.Amount.Decimal, n.Amount.Valid = amount, true
	n.CustomerName = payment.CustomerName

	salesWrite, err := store.Encode(store.Sales, append(sales, payment), salesRev)
	if err != nil {
		return domain.Notification{}, err
	}
	notifWrite, err := store.Encode(store.Notifications, unshift(notifications, n), notifRev)
	if err != nil {
		return domain.Notification{}, err
	}
	if err := s.records.Commit(ctx, salesWrite, notifWrite); err != nil {
		return domain.Notification{}, err
	}
	return n, nil
}

// ListSales returns sales whose dateSold lies in [start, end]. Without a full
// range it returns today's sales.
func (s *Service) ListSales(ctx context.Context, start string, end string) ([]domain.Sale, error) {
	sales, _, err := store.LoadList[domain.Sale](ctx, s.records, store.Sales)
	if err != nil {
		return nil, err
	}
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" || end == "" {
		start, end = s.today(), s.today()
	}
	out := make([]domain.Sale, 0, len(sales))
	for _, sale := range sales {
		if sale.DateSold == "" {
			continue
		}
		if sale.DateSold >= start && sale.DateSold <= end {
			out = append(out, sale)
		}
	}
	return out, nil
}

// FixMissingSaleDates fills dateSold from the legacy DD/MM/YYYY timestamp.
// With fallbackToday, sales without a timestamp get today's date.
func (s *Service) FixMissingSaleDates(ctx context.Context, fallbackToday bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sales, rev, err := store.LoadList[domain.Sale](ctx, s.records, store.Sales)
	if err != nil {
		return 0, err
	}
	updated := 0
	for i := range sales {
		if strings.TrimSpace(sales[i].DateSold) != "" {
			continue
		}
		if strings.TrimSpace(sales[i].Timestamp) != "" {
			if date, ok := domain.ParseLegacyDate(sales[i].Timestamp); ok {
				sales[i].DateSold = date
				updated++
			}
			continue
		}
		if fallbackToday {
			sales[i].DateSold = s.today()
			updated++
		}
	}
	if updated == 0 {
		return 0, nil
	}
	if _, err := store.SaveList(ctx, s.records, store.Sales, sales, rev); err != nil {
		return 0, err
	}
	s.metrics.AddReconciled("sale_dates", updated)
	return updated, nil
}

func priceLabel(sale domain.Sale) string {
	if sale.Price.Valid {
		return sale.Price.Decimal.String()
	}
	return "0"
}

func usernameOr(username string) string {
	if strings.TrimSpace(username) == "" {
		return "Unknown"
	}
	return username
}
