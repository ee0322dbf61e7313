package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"stockroom/backend/internal/domain"
	"stockroom/backend/internal/fanout"
	"stockroom/backend/internal/logger"
	"stockroom/backend/internal/metrics"
	"stockroom/backend/internal/report"
	"stockroom/backend/internal/service"
	"stockroom/backend/internal/store"
)

const maxJSONBody = 1 << 20

type Options struct {
	Service       *service.Service
	Auth          *AuthManager
	Hub           *fanout.Hub
	Metrics       *metrics.Metrics
	Logger        *logger.Logger
	AllowedOrigin string
	// LoginPerMinute defaults to 5.
	LoginPerMinute int
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	hub           *fanout.Hub
	metrics       *metrics.Metrics
	log           *logger.Logger
	allowedOrigin string
	loginLimiter  *clientLimiter
}

func New(opts Options) *API {
	perMinute := opts.LoginPerMinute
	if perMinute <= 0 {
		perMinute = 5
	}
	return &API{
		service:       opts.Service,
		auth:          opts.Auth,
		hub:           opts.Hub,
		metrics:       opts.Metrics,
		log:           logger.OrNop(opts.Logger).WithComponent("httpapi"),
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  newClientLimiter(perMinute, time.Minute),
	}
}

// clientLimiter hands out one token bucket per client address.
type clientLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	idle     time.Duration
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(perWindow int, window time.Duration) *clientLimiter {
	if perWindow < 1 {
		perWindow = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &clientLimiter{
		limit:    rate.Every(window / time.Duration(perWindow)),
		burst:    perWindow,
		idle:     10 * window,
		limiters: make(map[string]*limiterEntry),
	}
}

func (l *clientLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) > 4096 {
			l.pruneLocked(now)
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *clientLimiter) pruneLocked(now time.Time) {
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > l.idle {
			delete(l.limiters, key)
		}
	}
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(a.withMiddleware)

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)
		r.Get("/ws", a.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)

			// Shared by both roles.
			r.Post("/sales", a.handleCreateSale)
			r.Get("/sales", a.handleListSales)
			r.Post("/credit-payments", a.handleCreditPayment)
			r.Get("/stock", a.handleListStock)

			r.Get("/stock-history", a.handleListHistory)
			r.Post("/stock-history", a.handleAddHistory)
			r.Get("/stock-history/linked", a.handleLinkedHistory)

			r.Get("/notifications", a.handleListNotifications)
			r.Post("/notifications", a.handleAddNotification)
			r.Delete("/notifications", a.handleClearNotifications)
			r.Delete("/notifications/{id}", a.handleDeleteNotification)

			r.Get("/credit-sales", a.handleListCreditSales)
			r.Post("/credit-sales", a.handleCreateCreditSale)
			r.Patch("/credit-sales/{id}", a.handlePatchCreditSale)

			r.Get("/customer-receipts", a.handleListReceipts)
			r.Post("/customer-receipts", a.handleCreateReceipt)
			r.Get("/customer-receipts/{id}", a.handleGetReceipt)
			r.Patch("/customer-receipts/{id}", a.handlePatchReceipt)
			r.Delete("/customer-receipts/{id}", a.handleDeleteReceipt)

			r.Get("/customers", a.handleCustomers)
			r.Get("/customers/search", a.handleSearchCustomers)
			r.Get("/customers/{name}/transactions", a.handleCustomerTransactions)

			r.Group(func(r chi.Router) {
				r.Use(requireRole(domain.RoleManager))

				r.Post("/sales/fix-missing-dates", a.handleFixSaleDates)
				r.Get("/sales/reconcile", a.handleReconcileSales)
				r.Get("/sales/report.csv", a.handleSalesReport)

				r.Post("/stock", a.handleUpsertStock)
				r.Delete("/stock/{name}", a.handleDeleteStock)
				r.Post("/stock/reconcile", a.handleReconcileStock)

				r.Post("/stock-history/fix-item-ids", a.handleFixHistoryIDs)
				r.Post("/stock-history/{entryKey}", a.handleUpdateHistory)

				r.Get("/restock-recommendations", a.handleRestock)

				r.Get("/email-schedule", a.handleGetSchedule)
				r.Put("/email-schedule", a.handleUpdateSchedule)
				r.Post("/email-schedule/send-now", a.handleSendNow)

				r.Get("/users", a.handleListUsers)
				r.Post("/users", a.handleCreateUser)
				r.Put("/users/{username}/role", a.handleChangeRole)
			})
		})
	})

	return r
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get("Authorization"))
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		actor, err := a.authenticate(strings.TrimSpace(token))
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

// authenticate verifies the token and replaces its role claim with the
// account's current role.
func (a *API) authenticate(token string) (domain.Actor, error) {
	actor, err := a.auth.ParseToken(token)
	if err != nil {
		return domain.Actor{}, err
	}
	role, ok := a.auth.CurrentRole(actor.Username)
	if !ok {
		return domain.Actor{}, errors.New("account is not active")
	}
	actor.Role = role
	return actor, nil
}

func requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, _ := service.ActorFromContext(r.Context())
			if !isRoleAllowed(actor.Role, roles) {
				writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, candidate := range allowed {
		if role == candidate {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts, try again later"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		a.writeError(w, http.StatusServiceUnavailable, errors.New("live updates are not enabled"))
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		token = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	}
	actor, err := a.authenticate(token)
	if err != nil {
		a.writeError(w, http.StatusUnauthorized, err)
		return
	}
	a.hub.ServeWS(fanout.Upgrader(a.allowedOrigin), w, r, actor.Username)
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var sale domain.Sale
	if err := decodeRecord(r, &sale); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if sale.Username == "" {
		sale.Username = actorName(r)
	}

	result, err := a.service.ProcessSale(r.Context(), sale)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := a.service.ListSales(r.Context(), r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

func (a *API) handleFixSaleDates(w http.ResponseWriter, r *http.Request) {
	fallback, _ := strconv.ParseBool(r.URL.Query().Get("fallbackToday"))
	updated, err := a.service.FixMissingSaleDates(r.Context(), fallback)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updatedCount": updated})
}

func (a *API) handleReconcileSales(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.LinkSalesToStock(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleSalesReport(w http.ResponseWriter, r *http.Request) {
	rows, err := a.service.AggregateSales(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="sales-report.csv"`)
	if err := report.WriteAggregateCSV(w, rows); err != nil {
		a.log.Warnw("write sales report", "error", err)
	}
}

func (a *API) handleCreditPayment(w http.ResponseWriter, r *http.Request) {
	var payment domain.Sale
	if err := decodeRecord(r, &payment); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if payment.Username == "" {
		payment.Username = actorName(r)
	}

	result, err := a.service.RecordCreditPayment(r.Context(), payment)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleListStock(w http.ResponseWriter, r *http.Request) {
	stock, err := a.service.ListStock(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}

func (a *API) handleUpsertStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockUpsert
	if err := decodeRecord(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	item, err := a.service.UpsertStock(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleDeleteStock(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := a.service.DeleteStock(r.Context(), name); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Item deleted successfully"})
}

func (a *API) handleReconcileStock(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.ReconcileStock(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleListHistory(w http.ResponseWriter, r *http.Request) {
	history, err := a.service.ListHistory(r.Context(), r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (a *API) handleAddHistory(w http.ResponseWriter, r *http.Request) {
	var entry domain.StockHistoryEntry
	if err := decodeRecord(r, &entry); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	saved, err := a.service.AddHistoryEntry(r.Context(), entry)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (a *API) handleLinkedHistory(w http.ResponseWriter, r *http.Request) {
	linked, err := a.service.ListHistoryLinked(r.Context(), r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, linked)
}

func (a *API) handleFixHistoryIDs(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.LinkHistoryToStock(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type historyUpdateRequest struct {
	ItemID   domain.Ref `json:"itemId"`
	ItemName string     `json:"itemName"`
}

func (a *API) handleUpdateHistory(w http.ResponseWriter, r *http.Request) {
	var req historyUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	entry, err := a.service.UpdateHistoryEntry(r.Context(), chi.URLParam(r, "entryKey"), req.ItemID, req.ItemName)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := a.service.ListNotifications(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleAddNotification(w http.ResponseWriter, r *http.Request) {
	var n domain.Notification
	if err := decodeRecord(r, &n); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	saved, err := a.service.AddNotification(r.Context(), n)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (a *API) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteNotification(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Notification deleted"})
}

func (a *API) handleClearNotifications(w http.ResponseWriter, r *http.Request) {
	if err := a.service.ClearNotifications(r.Context()); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "All notifications cleared"})
}

func (a *API) handleListCreditSales(w http.ResponseWriter, r *http.Request) {
	list, err := a.service.ListCreditSales(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleCreateCreditSale(w http.ResponseWriter, r *http.Request) {
	var credit domain.CreditSale
	if err := decodeRecord(r, &credit); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	saved, err := a.service.CreateCreditSale(r.Context(), credit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (a *API) handlePatchCreditSale(w http.ResponseWriter, r *http.Request) {
	var patch map[string]json.RawMessage
	if err := decodeRecord(r, &patch); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	saved, err := a.service.PatchCreditSale(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (a *API) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	list, err := a.service.ListReceipts(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := a.service.GetReceipt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (a *API) handleCreateReceipt(w http.ResponseWriter, r *http.Request) {
	var receipt domain.CustomerReceipt
	if err := decodeRecord(r, &receipt); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	saved, err := a.service.CreateReceipt(r.Context(), receipt)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (a *API) handlePatchReceipt(w http.ResponseWriter, r *http.Request) {
	var patch map[string]json.RawMessage
	if err := decodeRecord(r, &patch); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	saved, err := a.service.PatchReceipt(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (a *API) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteReceipt(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Receipt deleted"})
}

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request) {
	dir, err := a.service.ScanCustomers(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dir)
}

func (a *API) handleSearchCustomers(w http.ResponseWriter, r *http.Request) {
	dir, err := a.service.SearchCustomers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dir)
}

func (a *API) handleCustomerTransactions(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.CustomerTransactions(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleRestock(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.RestockRecommendations(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := a.service.GetSchedule(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (a *API) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var update domain.EmailScheduleUpdate
	if err := decodeJSON(r, &update); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	sched, err := a.service.UpdateSchedule(r.Context(), update)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (a *API) handleSendNow(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.SendNow(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.service.ListUserViews(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := a.auth.CreateUser(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (a *API) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	var req domain.RoleChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := a.service.ChangeRole(r.Context(), chi.URLParam(r, "username"), req.Role)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.auth.Refresh(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		if a.allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
			w.Header().Set("Vary", "Origin")
		}

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(startedAt)
		a.metrics.ObserveRequest(r.Method, strconv.Itoa(status), elapsed)
		a.log.Infow("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", elapsed,
		)
	})
}

func actorName(r *http.Request) string {
	actor, _ := service.ActorFromContext(r.Context())
	return actor.Username
}

// decodeJSON is for request envelopes; unknown keys are rejected.
func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// decodeRecord is for stored records, which keep unknown keys.
func decodeRecord(r *http.Request, dest any) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrRevisionConflict), errors.Is(err, service.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	a.writeError(w, statusFor(err), err)
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	// 5xx details stay in the log.
	msg := err.Error()
	if status >= 500 {
		a.log.Errorw("internal error", "status", status, "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
