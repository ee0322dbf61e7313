package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"stockroom/backend/internal/domain"
	"stockroom/backend/internal/restock"
)

const (
	KindLowStock = "low-stock"
	KindRestock  = "restock-recommendations"
)

// Payload is the JSON body posted to the webhook.
type Payload struct {
	Kind            string                         `json:"kind"`
	SentAt          string                         `json:"sentAt"`
	Recipient       string                         `json:"recipient,omitempty"`
	Items           []domain.StockItem             `json:"items,omitempty"`
	Recommendations []domain.RestockRecommendation `json:"recommendations,omitempty"`
}

type WebhookAlerter struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	engine  *restock.Engine
	tracer  trace.Tracer
	now     func() time.Time
}

// NewWebhookAlerter posts at most perMinute alerts a minute; extra calls fail
// fast instead of queueing behind a request.
func NewWebhookAlerter(url string, perMinute int, engine *restock.Engine, client *http.Client) *WebhookAlerter {
	if perMinute <= 0 {
		perMinute = 6
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if engine == nil {
		engine = restock.NewEngine(nil, 0)
	}
	return &WebhookAlerter{
		url:     url,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		engine:  engine,
		tracer:  otel.Tracer("stockroom/alert"),
		now:     time.Now,
	}
}

func (w *WebhookAlerter) SendLowStockAlert(ctx context.Context, items []domain.StockItem) error {
	if len(items) == 0 {
		return nil
	}
	return w.post(ctx, Payload{
		Kind:      KindLowStock,
		SentAt:    w.now().UTC().Format(time.RFC3339),
		Recipient: RecipientFromContext(ctx),
		Items:     items,
	})
}

func (w *WebhookAlerter) SendRestockRecommendations(ctx context.Context, stock []domain.StockItem, sales []domain.Sale) error {
	now := w.now()
	report := w.engine.Recommend(ctx, stock, sales, now)
	return w.post(ctx, Payload{
		Kind:            KindRestock,
		SentAt:          now.UTC().Format(time.RFC3339),
		Recipient:       RecipientFromContext(ctx),
		Recommendations: report.Recommendations,
	})
}

func (w *WebhookAlerter) post(ctx context.Context, payload Payload) error {
	ctx, span := w.tracer.Start(ctx, "alert.webhook", trace.WithAttributes(
		attribute.String("alert.kind", payload.Kind),
		attribute.Int("alert.items", len(payload.Items)+len(payload.Recommendations)),
	))
	defer span.End()

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %s: %v", ErrDispatch, payload.Kind, err)
	}

	if !w.limiter.Allow() {
		return fail(fmt.Errorf("rate limit exceeded"))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fail(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(fmt.Errorf("webhook responded %d", resp.StatusCode))
	}
	return nil
}
