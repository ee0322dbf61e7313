package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stockroom/backend/internal/logger"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrStorage          = errors.New("storage failure")
	ErrRevisionConflict = errors.New("revision conflict")
)

type Collection string

const (
	Stock            Collection = "stock"
	Sales            Collection = "sales"
	StockHistory     Collection = "stock-history"
	CreditSales      Collection = "credit-sales"
	Notifications    Collection = "notifications"
	CustomerReceipts Collection = "customer-receipts"
	Users            Collection = "users"
	EmailSchedule    Collection = "email-schedule"
	EmailScheduleLog Collection = "email-schedule-log"
)

// AnyRevision skips the compare-and-swap check on write.
const AnyRevision int64 = -1

// Document is the raw stored form of one collection. A collection that was
// never written has Revision 0 and a nil Body.
type Document struct {
	Body     []byte
	Revision int64
}

type Write struct {
	Collection Collection
	Body       []byte
	Expected   int64
}

// Backend is get-all / replace-all access to named collections. Writes replace
// the whole collection and bump its revision.
type Backend interface {
	Read(ctx context.Context, name Collection) (Document, error)
	Write(ctx context.Context, name Collection, body []byte, expected int64) (int64, error)
	// Commit applies writes in order. Transactional backends apply all or none.
	Commit(ctx context.Context, writes ...Write) error
	Close() error
}

// ConflictError reports a stale expected revision.
type ConflictError struct {
	Collection Collection
	Expected   int64
	Current    int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("revision conflict on %s: expected %d, current %d", e.Collection, e.Expected, e.Current)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrRevisionConflict
}

var tracer = otel.Tracer("stockroom/store")

// Records is typed access to a Backend.
type Records struct {
	backend Backend
	log     *logger.Logger
}

func NewRecords(backend Backend, log *logger.Logger) *Records {
	return &Records{backend: backend, log: logger.OrNop(log).WithComponent("store")}
}

// Opaque is implemented by record types that can carry a stored value they
// failed to decode. Such records are written back byte for byte.
type Opaque interface {
	KeepRaw(raw json.RawMessage)
}

// LoadList decodes a list collection. Missing or unparseable storage yields an
// empty list, and a single bad record never fails the load; only a substrate
// failure is returned as an error.
func LoadList[T any](ctx context.Context, r *Records, name Collection) ([]T, int64, error) {
	doc, err := r.backend.Read(ctx, name)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read %s: %v", ErrStorage, name, err)
	}
	body := bytes.TrimSpace(doc.Body)
	if len(body) == 0 {
		return []T{}, doc.Revision, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		r.log.Warnw("collection is corrupt, using empty default", "collection", name, "error", err)
		return []T{}, doc.Revision, nil
	}
	records := make([]T, 0, len(raw))
	for i, item := range raw {
		var rec T
		if err := json.Unmarshal(item, &rec); err != nil {
			var kept T
			keeper, ok := any(&kept).(Opaque)
			if !ok {
				r.log.Warnw("dropping undecodable record", "collection", name, "index", i, "error", err)
				continue
			}
			r.log.Warnw("keeping undecodable record as stored", "collection", name, "index", i, "error", err)
			keeper.KeepRaw(item)
			rec = kept
		}
		records = append(records, rec)
	}
	return records, doc.Revision, nil
}

// LoadObject decodes a single-object collection, falling back to def.
func LoadObject[T any](ctx context.Context, r *Records, name Collection, def T) (T, int64, error) {
	doc, err := r.backend.Read(ctx, name)
	if err != nil {
		return def, 0, fmt.Errorf("%w: read %s: %v", ErrStorage, name, err)
	}
	body := bytes.TrimSpace(doc.Body)
	if len(body) == 0 || body[0] != '{' {
		return def, doc.Revision, nil
	}
	out := def
	if err := json.Unmarshal(body, &out); err != nil {
		r.log.Warnw("collection is corrupt, using default", "collection", name, "error", err)
		return def, doc.Revision, nil
	}
	return out, doc.Revision, nil
}

func SaveList[T any](ctx context.Context, r *Records, name Collection, records []T, expected int64) (int64, error) {
	w, err := Encode(name, records, expected)
	if err != nil {
		return 0, err
	}
	return r.write(ctx, w)
}

func SaveObject[T any](ctx context.Context, r *Records, name Collection, value T, expected int64) (int64, error) {
	w, err := Encode(name, value, expected)
	if err != nil {
		return 0, err
	}
	return r.write(ctx, w)
}

// Encode prepares a write for Commit.
func Encode(name Collection, value any, expected int64) (Write, error) {
	if value == nil {
		value = []any{}
	}
	body, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return Write{}, fmt.Errorf("%w: encode %s: %v", ErrStorage, name, err)
	}
	return Write{Collection: name, Body: body, Expected: expected}, nil
}

func (r *Records) write(ctx context.Context, w Write) (int64, error) {
	ctx, span := tracer.Start(ctx, "store.write", trace.WithAttributes(
		attribute.String("collection", string(w.Collection)),
		attribute.Int64("expected.revision", w.Expected),
	))
	defer span.End()

	rev, err := r.backend.Write(ctx, w.Collection, w.Body, w.Expected)
	if err != nil {
		span.RecordError(err)
		return 0, wrapWriteError(w.Collection, err)
	}
	return rev, nil
}

// Commit applies the writes in order through the backend.
func (r *Records) Commit(ctx context.Context, writes ...Write) error {
	names := make([]string, 0, len(writes))
	for _, w := range writes {
		names = append(names, string(w.Collection))
	}
	ctx, span := tracer.Start(ctx, "store.commit", trace.WithAttributes(
		attribute.StringSlice("collections", names),
	))
	defer span.End()

	if err := r.backend.Commit(ctx, writes...); err != nil {
		span.RecordError(err)
		return wrapWriteError("", err)
	}
	return nil
}

func wrapWriteError(name Collection, err error) error {
	if errors.Is(err, ErrRevisionConflict) || errors.Is(err, ErrStorage) {
		return err
	}
	if name == "" {
		return fmt.Errorf("%w: commit: %v", ErrStorage, err)
	}
	return fmt.Errorf("%w: write %s: %v", ErrStorage, name, err)
}

// CheckRevision is the compare-and-swap rule shared by the backends.
func CheckRevision(name Collection, expected int64, current int64) error {
	if expected == AnyRevision || expected == current {
		return nil
	}
	return &ConflictError{Collection: name, Expected: expected, Current: current}
}
