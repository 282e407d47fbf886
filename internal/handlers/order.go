package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/markjakearzadon/folio-gobackend/internal/middleware"
	"github.com/markjakearzadon/folio-gobackend/internal/models"
	"github.com/markjakearzadon/folio-gobackend/internal/services"
)

type OrderHandler struct {
	orders  *services.OrderService
	ledger  *services.LedgerService
	sweeper *services.Sweeper
	logger  *slog.Logger
}

func NewOrderHandler(orders *services.OrderService, ledger *services.LedgerService, sweeper *services.Sweeper, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, ledger: ledger, sweeper: sweeper, logger: logger}
}

// ListOrders returns the caller's orders. Administrators may pass userId.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	q := r.URL.Query()

	userID := p.UserID
	if u := q.Get("userId"); u != "" {
		if !p.CanAccess(u) {
			writeError(w, http.StatusForbidden, "unauthorized to view orders for this user")
			return
		}
		userID = u
	}
	var status models.OrderStatus
	if s := q.Get("status"); s != "" {
		var ok bool
		if status, ok = models.ParseOrderStatus(s); !ok {
			writeError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
	}

	orders, err := h.orders.ListByUser(r.Context(), userID, status)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	o, err := h.orders.Get(r.Context(), mux.Vars(r)["orderID"])
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	if !p.CanAccess(o.UserID) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// UpdateOrderStatus applies an administrator override.
func (h *OrderHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	status, ok := models.ParseOrderStatus(body.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "status must be one of pending, completed, failed, cancelled")
		return
	}

	p, _ := middleware.PrincipalFrom(r.Context())
	orderID := mux.Vars(r)["orderID"]
	o, err := h.orders.Transition(r.Context(), orderID, status, models.ActorAdmin, body.Reason)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	h.logger.Info("admin_order_override", "order_id", orderID, "status", status, "admin", p.UserID)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	list, err := h.ledger.Anomalies(r.Context(), limit)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []models.LedgerAnomaly{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrderHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.RunOnce(r.Context())
	if err != nil {
		h.logger.Error("manual_reconcile_failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "reconciliation incomplete", "report": report})
		return
	}
	writeJSON(w, http.StatusOK, report)
}
