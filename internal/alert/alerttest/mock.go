// Package alerttest provides an Alerter double for tests.
package alerttest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"stockroom/backend/internal/domain"
)

type MockAlerter struct {
	mock.Mock
}

func (m *MockAlerter) SendLowStockAlert(ctx context.Context, items []domain.StockItem) error {
	args := m.Called(ctx, items)
	return args.Error(0)
}

func (m *MockAlerter) SendRestockRecommendations(ctx context.Context, stock []domain.StockItem, sales []domain.Sale) error {
	args := m.Called(ctx, stock, sales)
	return args.Error(0)
}
