package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/markjakearzadon/folio-gobackend/internal/apperr"
	"github.com/markjakearzadon/folio-gobackend/internal/middleware"
	"github.com/markjakearzadon/folio-gobackend/internal/models"
	"github.com/markjakearzadon/folio-gobackend/internal/repository"
	"github.com/markjakearzadon/folio-gobackend/internal/services"
)

const maxWebhookBody = 1 << 20

type PaymentHandler struct {
	payments *services.PaymentService
	ledger   *services.LedgerService
	webhooks *services.WebhookService
	logger   *slog.Logger
}

func NewPaymentHandler(payments *services.PaymentService, ledger *services.LedgerService, webhooks *services.WebhookService, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, ledger: ledger, webhooks: webhooks, logger: logger}
}

func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())

	var req models.PaymentRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		req.UserID = p.UserID
	}
	if req.UserID != p.UserID {
		writeError(w, http.StatusForbidden, "cannot pay on behalf of another user")
		return
	}

	res, err := h.payments.Initiate(r.Context(), req)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Webhook always answers 200 once a delivery is verified so the provider
// stops retrying; only verification failures get a 400.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	if _, err := h.webhooks.Handle(r.Context(), r, body); err != nil {
		writeError(w, http.StatusBadRequest, apperr.MessageOf(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	paymentID := mux.Vars(r)["paymentID"]

	tx, err := h.ledger.Lookup(r.Context(), paymentID)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	if !p.CanAccess(tx.UserID) {
		writeError(w, http.StatusNotFound, "payment not found")
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *PaymentHandler) GetPaymentsByUserID(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	userID := mux.Vars(r)["userID"]
	if !p.CanAccess(userID) {
		writeError(w, http.StatusForbidden, "unauthorized to view payments for this user")
		return
	}

	var f repository.TransactionFilter
	q := r.URL.Query()
	if s := q.Get("status"); s != "" {
		f.Status = models.TransactionStatus(s)
		if !f.Status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status filter, must be pending, completed or failed")
			return
		}
	}
	for param, dst := range map[string]**time.Time{"start_date": &f.From, "end_date": &f.To} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+param+", expected RFC3339")
			return
		}
		*dst = &t
	}

	txs, err := h.ledger.ListByUser(r.Context(), userID, f)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}
