package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/queue"
	"pos-sync-service/internal/store"
	syncengine "pos-sync-service/internal/sync"
)

// RemoteReader is the network-first side of the read APIs; on failure the
// handlers fall back to the local store.
type RemoteReader interface {
	ListCustomers(ctx context.Context) ([]*store.Customer, error)
	SearchCustomers(ctx context.Context, query string) ([]*store.Customer, error)
	ListItems(ctx context.Context) ([]*store.Item, error)
}

type Connectivity interface {
	IsOnline() bool
}

type Handler struct {
	store   store.Store
	queue   *queue.Queue
	engine  *syncengine.Engine
	remote  RemoteReader
	monitor Connectivity
	proxy   http.Handler
}

func NewHandler(st store.Store, q *queue.Queue, engine *syncengine.Engine, remote RemoteReader, monitor Connectivity, proxy http.Handler) *Handler {
	return &Handler{
		store:   st,
		queue:   q,
		engine:  engine,
		remote:  remote,
		monitor: monitor,
		proxy:   proxy,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)

	r.Get("/api/customers", h.ListCustomers)
	r.Get("/api/customers/search", h.SearchCustomers)
	r.Get("/api/items", h.ListItems)
	r.Get("/api/sales", h.ListSales)

	r.Post("/add-sale", h.RecordSale)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sync/trigger", h.TriggerSync)
		r.Get("/sync/status", h.SyncStatus)
	})

	// Everything else is document/asset traffic and goes through the cache
	// proxy. GET on a write-only route (e.g. the /add-sale page) is document
	// traffic too, so method mismatches fall through as well.
	if h.proxy != nil {
		r.NotFound(h.proxy.ServeHTTP)
		r.MethodNotAllowed(h.proxy.ServeHTTP)
	}

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// ListCustomers is network-first: a live answer refreshes the local mirror,
// a dead network falls back to it.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.monitor.IsOnline() {
		if customers, err := h.remote.ListCustomers(ctx); err == nil {
			for _, c := range customers {
				if _, err := h.store.PutCustomer(ctx, c); err != nil {
					logger.Log.Warn("Failed to mirror customer", zap.Int64("id", c.ID), zap.Error(err))
				}
			}
			writeJSON(w, customers)
			return
		}
	}

	customers, err := h.store.ListCustomers(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, customers)
}

func (h *Handler) SearchCustomers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, []*store.Customer{})
		return
	}

	if h.monitor.IsOnline() {
		if customers, err := h.remote.SearchCustomers(ctx, q); err == nil {
			writeJSON(w, customers)
			return
		}
	}

	customers, err := h.store.SearchCustomers(ctx, q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, customers)
}

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.monitor.IsOnline() {
		if items, err := h.remote.ListItems(ctx); err == nil {
			for _, it := range items {
				if _, err := h.store.PutItem(ctx, it); err != nil {
					logger.Log.Warn("Failed to mirror item", zap.Int64("id", it.ID), zap.Error(err))
				}
			}
			writeJSON(w, items)
			return
		}
	}

	items, err := h.store.ListItems(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, items)
}

func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := h.store.ListSales(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, sales)
}

// RecordSale is the application write path: the sale row and its queue entry
// land in one transaction before the request returns. The actual server sync
// happens later, on the next drain.
func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	saleType := r.PostFormValue("sale_type")
	if saleType == "" {
		saleType = "credit"
	}

	itemID, err := strconv.ParseInt(r.PostFormValue("item_id"), 10, 64)
	if err != nil {
		http.Error(w, "item_id is required", http.StatusBadRequest)
		return
	}
	quantity, err := strconv.ParseFloat(r.PostFormValue("quantity"), 64)
	if err != nil || quantity <= 0 {
		http.Error(w, "quantity must be a positive number", http.StatusBadRequest)
		return
	}
	unitPrice, err := strconv.ParseFloat(r.PostFormValue("unit_price"), 64)
	if err != nil {
		http.Error(w, "unit_price is required", http.StatusBadRequest)
		return
	}
	paidAmount, _ := strconv.ParseFloat(r.PostFormValue("paid_amount"), 64)

	var customerID sql.NullInt64
	if raw := r.PostFormValue("customer_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid customer_id", http.StatusBadRequest)
			return
		}
		customerID = sql.NullInt64{Int64: id, Valid: true}
	}

	if saleType == "credit" && !customerID.Valid {
		http.Error(w, "customer_id is required for credit sales", http.StatusBadRequest)
		return
	}

	sale := &store.Sale{
		CustomerID: customerID,
		SaleType:   saleType,
		ItemID:     itemID,
		Quantity:   quantity,
		UnitPrice:  unitPrice,
		PaidAmount: paidAmount,
		CreatedAt:  time.Now().UTC(),
		SyncState:  store.StatePending,
	}

	payload := queue.SalePayload{
		SaleType:   saleType,
		ItemID:     itemID,
		Quantity:   quantity,
		UnitPrice:  unitPrice,
		PaidAmount: paidAmount,
		CustomerID: customerID.Int64,
	}
	saleID, entryID, err := h.queue.RecordSale(ctx, sale, payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if h.monitor.IsOnline() {
		h.engine.TriggerDrain()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"sale_id":    saleID,
		"entry_id":   entryID,
		"sync_state": store.StatePending,
	})
}

// TriggerSync is the resync hook: callable from the foreground app or a
// platform background signal. Repeat calls coalesce onto the in-flight drain.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	h.engine.TriggerDrain()
	writeJSON(w, map[string]string{"status": string(h.engine.Status())})
}

func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := h.queue.Pending(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"status":  string(h.engine.Status()),
		"pending": len(pending),
		"online":  h.monitor.IsOnline(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
