package services

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/markjakearzadon/folio-gobackend/internal/apperr"
	"github.com/markjakearzadon/folio-gobackend/internal/gateway"
	"github.com/markjakearzadon/folio-gobackend/internal/models"
)

const ProviderHeader = "X-Payment-Provider"

// DetectProvider picks the verification path for an inbound webhook: the
// provider header, then the provider query parameter (callback URLs cannot
// carry headers), then a card signature header.
func DetectProvider(r *http.Request) (models.Provider, bool) {
	if p, ok := models.ParseProvider(r.Header.Get(ProviderHeader)); ok {
		return p, true
	}
	if p, ok := models.ParseProvider(r.URL.Query().Get("provider")); ok {
		return p, true
	}
	if r.Header.Get(gateway.SignatureHeader) != "" {
		return models.ProviderCard, true
	}
	return "", false
}

type WebhookResult struct {
	Provider models.Provider
	Event    *gateway.WebhookEvent
	Outcome  LedgerOutcome
}

type WebhookService struct {
	gateways *gateway.Registry
	ledger   *LedgerService
	orders   *OrderService
	logger   *slog.Logger
}

func NewWebhookService(gateways *gateway.Registry, ledger *LedgerService, orders *OrderService, logger *slog.Logger) *WebhookService {
	return &WebhookService{gateways: gateways, ledger: ledger, orders: orders, logger: logger}
}

// Handle verifies and applies one webhook delivery. An error means the
// request failed verification and nothing was changed; problems after that
// point are logged and the delivery still counts as received.
func (s *WebhookService) Handle(ctx context.Context, r *http.Request, body []byte) (*WebhookResult, error) {
	const op = "webhooks.Handle"
	provider, ok := DetectProvider(r)
	if !ok {
		s.logger.Warn("webhook_provider_unknown", "remote_addr", r.RemoteAddr)
		return nil, apperr.New(apperr.SignatureVerificationFailed, op, "unknown webhook provider")
	}
	log := s.logger.With("provider", provider)

	gw, err := s.gateways.Get(provider)
	if err != nil {
		log.Warn("webhook_provider_disabled")
		return nil, apperr.Wrap(apperr.SignatureVerificationFailed, op, "webhook provider not enabled", err)
	}
	ev, err := gw.VerifyWebhook(r, body)
	if err != nil {
		log.Warn("webhook_verification_failed", "potential_tampering", true, "remote_addr", r.RemoteAddr, "error", err)
		return nil, err
	}

	res := &WebhookResult{Provider: provider, Event: ev}
	log = log.With("external_payment_id", ev.ExternalPaymentID, "event_type", ev.EventType)
	if ev.Ignored {
		log.Info("webhook_event_ignored")
		res.Outcome = OutcomeIgnored
		return res, nil
	}

	outcome, tx, err := s.ledger.UpdateStatus(ctx, StatusUpdate{
		ExternalPaymentID: ev.ExternalPaymentID,
		Status:            ev.Status,
		Metadata:          ev.Metadata,
		Source:            "webhook:" + string(provider),
	})
	if err != nil {
		log.Error("webhook_ledger_update_failed", "error", err)
		return res, nil
	}
	res.Outcome = outcome

	if (outcome == OutcomeApplied || outcome == OutcomeDuplicate) && tx != nil && tx.Status.Terminal() {
		if _, err := s.orders.ApplyPaymentOutcome(ctx, tx); err != nil {
			log.Error("webhook_order_update_failed", "error", err)
		}
	}
	log.Info("webhook_processed", "outcome", outcome)
	return res, nil
}
