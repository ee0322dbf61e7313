package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockroom/backend/internal/alert"
	"stockroom/backend/internal/domain"
	"stockroom/backend/internal/restock"
)

const (
	LowStockThreshold = restock.LowStockThreshold
	// UpsertDedupWindow suppresses repeat upsert-path alerts for the same product.
	UpsertDedupWindow = time.Hour
)

func (s *Service) saleLowStockNotification(item domain.StockItem, before int) (domain.Notification, bool) {
	after := item.Quantity.Int()
	if after > LowStockThreshold || !item.HasBeenSold {
		return domain.Notification{}, false
	}
	message := fmt.Sprintf("Low stock alert: %s (Was %d, now %d left)", item.Name, before, after)
	if after == 0 {
		message = fmt.Sprintf("%s is out of stock! (Was %d, now 0)", item.Name, before)
	}
	n := s.newNotification(domain.NotificationLowStock, message)
	n.ProductName = item.Name
	n.ProductImage = item.Image
	n.ItemID = item.ID
	n.StockQuantity = quantityPtr(after)
	n.PreviousQuantity = quantityPtr(before)
	snapshot := item
	n.ItemData = &snapshot
	return n, true
}

// dispatchLowStock calls the alerter and reports the outcome as an emailStatus.
// Failures are logged, never returned.
func (s *Service) dispatchLowStock(ctx context.Context, item domain.StockItem) string {
	if err := s.alerter.SendLowStockAlert(s.withAlertRecipient(ctx), []domain.StockItem{item}); err != nil {
		if !errors.Is(err, alert.ErrDispatch) {
			err = fmt.Errorf("%w: %w", alert.ErrDispatch, err)
		}
		s.metrics.IncAlert("failed")
		s.log.Warnw("low stock alert failed", "item", item.Name, "error", err)
		return domain.EmailFailed
	}
	s.metrics.IncAlert("sent")
	return domain.EmailSentSuccessfully
}

// upsertLowStockNotifications builds notifications for every low item that has
// no low-stock notification of the same product inside the dedup window.
func (s *Service) upsertLowStockNotifications(stock []domain.StockItem, log []domain.Notification) []domain.Notification {
	now := s.now()
	var created []domain.Notification
	for _, item := range stock {
		qty := item.Quantity.Int()
		if qty > LowStockThreshold {
			continue
		}
		if recentlyNotified(log, item.Name, now) || recentlyNotified(created, item.Name, now) {
			continue
		}
		message := fmt.Sprintf("Low stock alert: %s (%d left)", item.Name, qty)
		if qty == 0 {
			message = fmt.Sprintf("%s is out of stock!", item.Name)
		}
		n := s.newNotification(domain.NotificationLowStock, message)
		n.ProductName = item.Name
		n.ItemID = item.ID
		n.StockQuantity = quantityPtr(qty)
		created = append(created, n)
	}
	return created
}

func recentlyNotified(log []domain.Notification, productName string, now time.Time) bool {
	for _, n := range log {
		if n.Type != domain.NotificationLowStock || n.ProductName != productName {
			continue
		}
		at, ok := domain.ParseTimestamp(n.Date)
		if !ok {
			continue
		}
		if now.Sub(at) < UpsertDedupWindow {
			return true
		}
	}
	return false
}

// lowStockItems lists what the scheduled alert covers: sold items at or under
// the threshold.
func lowStockItems(stock []domain.StockItem) []domain.StockItem {
	var out []domain.StockItem
	for _, item := range stock {
		if item.Quantity.Int() <= LowStockThreshold && item.HasBeenSold {
			out = append(out, item)
		}
	}
	return out
}
