package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/markjakearzadon/folio-gobackend/internal/apperr"
	"github.com/markjakearzadon/folio-gobackend/internal/models"
	"github.com/markjakearzadon/folio-gobackend/internal/repository"
)

const sweepBatch = 200

type SweepReport struct {
	Expired    int `json:"expired"`
	Reconciled int `json:"reconciled"`
}

// Sweeper expires abandoned pending payments and joins pending orders to
// transactions that already reached a terminal status.
type Sweeper struct {
	txs      repository.TransactionStore
	orders   repository.OrderStore
	ledger   *LedgerService
	orderSvc *OrderService
	ttl      time.Duration
	interval time.Duration
	batch    int
	logger   *slog.Logger
	now      func() time.Time
}

func NewSweeper(stores *repository.Stores, ledger *LedgerService, orders *OrderService, ttl, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		txs:      stores.Transactions,
		orders:   stores.Orders,
		ledger:   ledger,
		orderSvc: orders,
		ttl:      ttl,
		interval: interval,
		batch:    sweepBatch,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("sweeper_started", "interval", s.interval, "pending_ttl", s.ttl)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper_stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("sweep_failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single pass. Failures on individual records do not stop
// the pass; they are combined into the returned error.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	var errs error

	stale, err := s.txs.ListPendingBefore(ctx, s.now().Add(-s.ttl), s.batch)
	if err != nil {
		return report, fmt.Errorf("list stale payments: %w", err)
	}
	for i := range stale {
		outcome, tx, err := s.ledger.UpdateStatus(ctx, StatusUpdate{
			ExternalPaymentID: stale[i].ExternalPaymentID,
			Status:            models.TransactionFailed,
			Metadata:          map[string]string{"failureReason": "expired"},
			Source:            "sweeper",
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", stale[i].ExternalPaymentID, err))
			continue
		}
		if outcome == OutcomeApplied {
			report.Expired++
			s.applyToOrder(ctx, tx, &errs)
		}
	}

	var cursor repository.PageCursor
	for {
		pending, err := s.orders.ListPending(ctx, cursor, s.batch)
		if err != nil {
			return report, multierr.Append(errs, fmt.Errorf("list pending orders: %w", err))
		}
		for i := range pending {
			o := &pending[i]
			tx, err := s.txs.FindByExternalID(ctx, o.PaymentGatewayID)
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("load payment for order %s: %w", o.ID, err))
				continue
			}
			if !tx.Status.Terminal() {
				continue
			}
			if s.applyToOrder(ctx, tx, &errs) {
				report.Reconciled++
			}
		}
		if len(pending) < s.batch || ctx.Err() != nil {
			break
		}
		cursor = repository.CursorAfter(&pending[len(pending)-1])
	}

	if report.Expired > 0 || report.Reconciled > 0 {
		s.logger.Info("sweep_completed", "expired", report.Expired, "reconciled", report.Reconciled)
	}
	return report, errs
}

func (s *Sweeper) applyToOrder(ctx context.Context, tx *models.Transaction, errs *error) bool {
	o, err := s.orderSvc.ApplyPaymentOutcome(ctx, tx)
	if err != nil {
		if apperr.KindOf(err) == apperr.OrderNotFound {
			s.logger.Warn("sweep_order_missing", "external_payment_id", tx.ExternalPaymentID)
			return false
		}
		*errs = multierr.Append(*errs, fmt.Errorf("update order for %s: %w", tx.ExternalPaymentID, err))
		return false
	}
	return o != nil && o.Status.Terminal()
}
