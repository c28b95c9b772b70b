package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"git.platform.alem.school/amibragim/order-intake/internal/domain/orders"
	"git.platform.alem.school/amibragim/order-intake/internal/ports"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/logger"
)

// HTTPHandler serves the billing read API.
type HTTPHandler struct {
	svc    ports.BillingService
	logger *logger.Logger
}

// NewHTTPHandler wires an HTTP handler around the BillingService.
func NewHTTPHandler(svc ports.BillingService, logger *logger.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, logger: logger}
}

// Register mounts the read routes on the provided mux.
func (handler *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/billing/orders", handler.listOrders)
	mux.HandleFunc("GET /api/billing/orders/{id}", handler.getOrder)
}

type orderView struct {
	ID            int64       `json:"id"`
	UserID        int64       `json:"user_id"`
	NumberOfItems int         `json:"number_of_items"`
	TotalAmount   json.Number `json:"total_amount"`
	Status        string      `json:"status"`
	MessageID     string      `json:"message_id,omitempty"`
	SubmittedAt   *time.Time  `json:"submitted_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

func toView(o orders.Order) orderView {
	v := orderView{
		ID:            o.ID,
		UserID:        o.UserID,
		NumberOfItems: o.NumberOfItems,
		TotalAmount:   json.Number(o.TotalAmount.String()),
		Status:        string(o.Status),
		MessageID:     o.MessageID,
		CreatedAt:     o.CreatedAt.UTC(),
	}
	if !o.SubmittedAt.IsZero() {
		t := o.SubmittedAt.UTC()
		v.SubmittedAt = &t
	}
	return v
}

// getOrder handles GET /api/billing/orders/{id}.
func (handler *HTTPHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		handler.writeErr(w, http.StatusBadRequest, "id must be a positive integer")
		return
	}
	handler.logger.Debug(ctx, "request_received", "GET /api/billing/orders/{id}", map[string]any{"id": id})

	order, err := handler.svc.GetOrder(ctx, id)
	if err != nil {
		handler.maybeNotFound(ctx, w, err)
		return
	}

	handler.writeJSON(w, http.StatusOK, toView(*order))
}

// listOrders handles GET /api/billing/orders?limit=N.
func (handler *HTTPHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			handler.writeErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	handler.logger.Debug(ctx, "request_received", "GET /api/billing/orders", map[string]any{"limit": limit})

	list, err := handler.svc.ListOrders(ctx, limit)
	if err != nil {
		handler.logger.Error(ctx, "list_orders_failed", "Failed to list orders", err)
		handler.writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]orderView, 0, len(list))
	for i := range list {
		out = append(out, toView(list[i]))
	}
	handler.writeJSON(w, http.StatusOK, out)
}

// --- Helpers ---

// maybeNotFound writes a 404 for ErrNotFound, otherwise logs the error and writes a 500.
func (handler *HTTPHandler) maybeNotFound(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		handler.writeErr(w, http.StatusNotFound, "not found")
		return
	}

	handler.logger.Error(ctx, "db_query_failed", "Failed to load order", err)
	handler.writeErr(w, http.StatusInternalServerError, "internal server error")
}

func (handler *HTTPHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (handler *HTTPHandler) writeErr(w http.ResponseWriter, status int, msg string) {
	handler.writeJSON(w, status, map[string]string{"error": msg})
}
