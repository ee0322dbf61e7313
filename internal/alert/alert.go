// Package alert delivers low-stock alerts and restock reports to whoever
// watches the shop.
package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockroom/backend/internal/domain"
	"stockroom/backend/internal/logger"
	"stockroom/backend/internal/restock"
)

// ErrDispatch wraps every delivery failure.
var ErrDispatch = errors.New("alert dispatch failed")

type recipientKey struct{}

// WithRecipient attaches the address an alert is meant for.
func WithRecipient(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, recipientKey{}, email)
}

func RecipientFromContext(ctx context.Context) string {
	email, _ := ctx.Value(recipientKey{}).(string)
	return email
}

type Alerter interface {
	SendLowStockAlert(ctx context.Context, items []domain.StockItem) error
	SendRestockRecommendations(ctx context.Context, stock []domain.StockItem, sales []domain.Sale) error
}

// LogAlerter writes alerts to the application log. It is the default when no
// webhook is configured.
type LogAlerter struct {
	log    *logger.Logger
	engine *restock.Engine
	now    func() time.Time
}

func NewLogAlerter(log *logger.Logger, engine *restock.Engine) *LogAlerter {
	if engine == nil {
		engine = restock.NewEngine(nil, 0)
	}
	return &LogAlerter{log: logger.OrNop(log).WithComponent("alert"), engine: engine, now: time.Now}
}

func (a *LogAlerter) SendLowStockAlert(ctx context.Context, items []domain.StockItem) error {
	recipient := RecipientFromContext(ctx)
	for _, item := range items {
		a.log.Warnw("low stock", "item", item.Name, "itemId", item.ID.String(), "quantity", item.Quantity.Int(), "recipient", recipient)
	}
	return nil
}

func (a *LogAlerter) SendRestockRecommendations(ctx context.Context, stock []domain.StockItem, sales []domain.Sale) error {
	report := a.engine.Recommend(ctx, stock, sales, a.now())
	for _, rec := range report.Recommendations {
		a.log.Infow("restock recommendation",
			"item", rec.Name,
			"current", rec.CurrentQuantity,
			"suggested", rec.SuggestedQty,
			"reason", rec.ReasonCode,
			"recipient", RecipientFromContext(ctx),
		)
	}
	return nil
}

// Multi sends to every alerter and joins the failures.
type Multi []Alerter

func (m Multi) SendLowStockAlert(ctx context.Context, items []domain.StockItem) error {
	var errs []error
	for _, a := range m {
		if err := a.SendLowStockAlert(ctx, items); err != nil {
			errs = append(errs, err)
		}
	}
	return joinDispatch(errs)
}

func (m Multi) SendRestockRecommendations(ctx context.Context, stock []domain.StockItem, sales []domain.Sale) error {
	var errs []error
	for _, a := range m {
		if err := a.SendRestockRecommendations(ctx, stock, sales); err != nil {
			errs = append(errs, err)
		}
	}
	return joinDispatch(errs)
}

func joinDispatch(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	err := errors.Join(errs...)
	if errors.Is(err, ErrDispatch) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDispatch, err)
}
