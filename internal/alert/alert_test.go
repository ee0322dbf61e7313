package alert_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"stockroom/backend/internal/alert"
	"stockroom/backend/internal/alert/alerttest"
	"stockroom/backend/internal/domain"
)

func TestWebhookPostsLowStockPayload(t *testing.T) {
	var got alert.Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	w := alert.NewWebhookAlerter(srv.URL, 10, nil, srv.Client())
	ctx := alert.WithRecipient(context.Background(), "owner@shop.example")
	err := w.SendLowStockAlert(ctx, []domain.StockItem{{ID: "a1", Name: "Rice", Quantity: 2}})
	require.NoError(t, err)

	assert.Equal(t, alert.KindLowStock, got.Kind)
	assert.Equal(t, "owner@shop.example", got.Recipient)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Rice", got.Items[0].Name)
	assert.Equal(t, 2, got.Items[0].Quantity.Int())
}

func TestWebhookNon2xxIsDispatchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	w := alert.NewWebhookAlerter(srv.URL, 10, nil, srv.Client())
	err := w.SendLowStockAlert(context.Background(), []domain.StockItem{{Name: "Rice"}})
	require.ErrorIs(t, err, alert.ErrDispatch)
}

func TestWebhookRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	w := alert.NewWebhookAlerter(srv.URL, 2, nil, srv.Client())
	items := []domain.StockItem{{Name: "Rice"}}
	require.NoError(t, w.SendLowStockAlert(context.Background(), items))
	require.NoError(t, w.SendLowStockAlert(context.Background(), items))
	require.ErrorIs(t, w.SendLowStockAlert(context.Background(), items), alert.ErrDispatch)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWebhookSkipsEmptyLowStock(t *testing.T) {
	w := alert.NewWebhookAlerter("http://127.0.0.1:0", 1, nil, nil)
	require.NoError(t, w.SendLowStockAlert(context.Background(), nil))
}

func TestWebhookPostsRestockReport(t *testing.T) {
	var got alert.Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	t.Cleanup(srv.Close)

	w := alert.NewWebhookAlerter(srv.URL, 10, nil, srv.Client())
	stock := []domain.StockItem{{ID: "a1", Name: "Oil", Quantity: 1}}
	require.NoError(t, w.SendRestockRecommendations(context.Background(), stock, nil))

	assert.Equal(t, alert.KindRestock, got.Kind)
	require.Len(t, got.Recommendations, 1)
	assert.Equal(t, "Oil", got.Recommendations[0].Name)
}

func TestMultiJoinsFailures(t *testing.T) {
	ok := new(alerttest.MockAlerter)
	ok.On("SendLowStockAlert", mock.Anything, mock.Anything).Return(nil)
	broken := new(alerttest.MockAlerter)
	broken.On("SendLowStockAlert", mock.Anything, mock.Anything).Return(errors.New("smtp down"))

	err := alert.Multi{ok, broken}.SendLowStockAlert(context.Background(), []domain.StockItem{{Name: "Rice"}})
	require.ErrorIs(t, err, alert.ErrDispatch)
	assert.Contains(t, err.Error(), "smtp down")
	ok.AssertExpectations(t)
	broken.AssertExpectations(t)
}

func TestLogAlerterNeverFails(t *testing.T) {
	a := alert.NewLogAlerter(nil, nil)
	require.NoError(t, a.SendLowStockAlert(context.Background(), []domain.StockItem{{Name: "Rice"}}))
	require.NoError(t, a.SendRestockRecommendations(context.Background(), []domain.StockItem{{Name: "Rice"}}, nil))
}
