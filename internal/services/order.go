package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/markjakearzadon/folio-gobackend/internal/apperr"
	"github.com/markjakearzadon/folio-gobackend/internal/models"
	"github.com/markjakearzadon/folio-gobackend/internal/repository"
)

// adminTransitions lists the overrides an administrator may apply, keyed by
// target status.
var adminTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderCompleted: {models.OrderPending, models.OrderFailed},
	models.OrderFailed:    {models.OrderPending, models.OrderCompleted},
	models.OrderCancelled: {models.OrderPending, models.OrderCompleted},
}

// CanTransition reports whether actor may move an order from one status to
// another. The system only leaves pending; administrators follow
// adminTransitions.
func CanTransition(actor models.Actor, from, to models.OrderStatus) bool {
	switch actor {
	case models.ActorSystem:
		return from == models.OrderPending && to.Terminal()
	case models.ActorAdmin:
		for _, f := range adminTransitions[to] {
			if f == from {
				return true
			}
		}
	}
	return false
}

type OrderService struct {
	orders repository.OrderStore
	logger *slog.Logger
	now    func() time.Time
}

func NewOrderService(stores *repository.Stores, logger *slog.Logger) *OrderService {
	return &OrderService{orders: stores.Orders, logger: logger, now: time.Now}
}

func (s *OrderService) Create(ctx context.Context, o *models.Order) error {
	if err := s.orders.Create(ctx, o); err != nil {
		return apperr.Wrap(apperr.Internal, "orders.Create", "could not record order", err)
	}
	s.logger.Info("order_created", "order_id", o.ID, "user_id", o.UserID, "payment_gateway_id", o.PaymentGatewayID,
		"items", o.ItemCount)
	return nil
}

func (s *OrderService) Get(ctx context.Context, id string) (*models.Order, error) {
	o, err := s.orders.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Wrap(apperr.OrderNotFound, "orders.Get", "order not found", err)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "orders.Get", "storage error", err)
	}
	return o, nil
}

func (s *OrderService) ListByUser(ctx context.Context, userID string, status models.OrderStatus) ([]models.Order, error) {
	list, err := s.orders.ListByUser(ctx, userID, status)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "orders.ListByUser", "could not list orders", err)
	}
	return list, nil
}

// Transition moves an order to status to on behalf of actor. Moving an order
// to the status it already has is a no-op.
func (s *OrderService) Transition(ctx context.Context, id string, to models.OrderStatus, actor models.Actor, reason string) (*models.Order, error) {
	const op = "orders.Transition"
	for attempt := 0; attempt < 3; attempt++ {
		o, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if o.Status == to {
			return o, nil
		}
		if !CanTransition(actor, o.Status, to) {
			return nil, apperr.New(apperr.InvalidInput, op,
				"cannot move order from "+string(o.Status)+" to "+string(to))
		}

		change := models.StatusChange{From: o.Status, To: to, Actor: actor, Reason: reason, At: s.now().UTC()}
		ok, err := s.orders.CompareAndSetStatus(ctx, id, change)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, op, "could not update order", err)
		}
		if !ok {
			continue
		}
		o.Status = to
		o.LastUpdatedAt = change.At
		o.LastUpdatedBy = actor
		o.History = append(o.History, change)
		s.logger.Info("order_status_changed", "order_id", id, "from", change.From, "to", to, "actor", actor, "reason", reason)
		return o, nil
	}
	return nil, apperr.New(apperr.LedgerConflict, op, "order changed concurrently")
}

// ApplyPaymentOutcome advances the pending order linked to a terminal
// transaction. Orders that already left pending are left alone.
func (s *OrderService) ApplyPaymentOutcome(ctx context.Context, tx *models.Transaction) (*models.Order, error) {
	const op = "orders.ApplyPaymentOutcome"
	var to models.OrderStatus
	switch tx.Status {
	case models.TransactionCompleted:
		to = models.OrderCompleted
	case models.TransactionFailed:
		to = models.OrderFailed
	default:
		return nil, nil
	}

	o, err := s.orders.FindByPaymentGatewayID(ctx, tx.ExternalPaymentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Wrap(apperr.OrderNotFound, op, "no order for payment "+tx.ExternalPaymentID, err)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, "storage error", err)
	}
	if o.Status != models.OrderPending {
		if o.Status != to {
			s.logger.Info("order_outcome_skipped", "order_id", o.ID, "order_status", o.Status, "payment_status", tx.Status)
		}
		return o, nil
	}

	reason := "payment " + string(tx.Status)
	if r := tx.Metadata["failureReason"]; r != "" {
		reason += ": " + r
	}
	return s.Transition(ctx, o.ID, to, models.ActorSystem, reason)
}
