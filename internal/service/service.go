package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"stockroom/backend/internal/alert"
	"stockroom/backend/internal/domain"
	"stockroom/backend/internal/fanout"
	"stockroom/backend/internal/logger"
	"stockroom/backend/internal/metrics"
	"stockroom/backend/internal/restock"
	"stockroom/backend/internal/store"
)

var (
	// ErrForbidden rejects an action the caller's role may not perform.
	ErrForbidden = errors.New("forbidden")
	ErrDuplicate = errors.New("already exists")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Deps struct {
	Hub     fanout.Broadcaster
	Alerter alert.Alerter
	Restock *restock.Engine
	Metrics *metrics.Metrics
	Logger  *logger.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service owns every read-modify-write over the record store. Mutations are
// serialized by mu; reads take no lock.
type Service struct {
	mu      sync.Mutex
	records *store.Records
	hub     fanout.Broadcaster
	alerter alert.Alerter
	restock *restock.Engine
	metrics *metrics.Metrics
	log     *logger.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

func New(records *store.Records, deps Deps) *Service {
	log := logger.OrNop(deps.Logger).WithComponent("service")
	if deps.Hub == nil {
		deps.Hub = discardBroadcaster{}
	}
	if deps.Restock == nil {
		deps.Restock = restock.NewEngine(nil, 0)
	}
	if deps.Alerter == nil {
		deps.Alerter = alert.NewLogAlerter(deps.Logger, deps.Restock)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Service{
		records: records,
		hub:     deps.Hub,
		alerter: deps.Alerter,
		restock: deps.Restock,
		metrics: deps.Metrics,
		log:     log,
		tracer:  otel.Tracer("stockroom/service"),
		now:     deps.Now,
	}
}

type discardBroadcaster struct{}

func (discardBroadcaster) Broadcast(fanout.Event) {}

func (s *Service) ListStock(ctx context.Context) ([]domain.StockItem, error) {
	items, _, err := store.LoadList[domain.StockItem](ctx, s.records, store.Stock)
	return items, err
}

func (s *Service) broadcast(eventType string, key string, value any) {
	s.hub.Broadcast(fanout.Event{Type: eventType, Data: map[string]any{key: value}})
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func (s *Service) today() string {
	return s.now().Format(domain.DateLayout)
}

func validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrValidation, fmt.Sprintf(format, args...))
}

func notFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrNotFound, fmt.Sprintf(format, args...))
}

func intPtr(v int) *int {
	return &v
}

func quantityPtr(v int) *domain.Quantity {
	q := domain.Quantity(v)
	return &q
}

func isDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}
