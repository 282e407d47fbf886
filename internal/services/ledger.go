package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/markjakearzadon/folio-gobackend/internal/apperr"
	"github.com/markjakearzadon/folio-gobackend/internal/models"
	"github.com/markjakearzadon/folio-gobackend/internal/repository"
)

type LedgerOutcome string

const (
	OutcomeApplied   LedgerOutcome = "applied"
	OutcomeDuplicate LedgerOutcome = "duplicate"
	OutcomeIgnored   LedgerOutcome = "ignored"
	OutcomeConflict  LedgerOutcome = "conflict"
	OutcomeUnmatched LedgerOutcome = "unmatched"
)

// StatusUpdate is a requested ledger transition. Source names the writer
// (a webhook provider, the sweeper) for logs and anomaly records.
type StatusUpdate struct {
	ExternalPaymentID string
	Status            models.TransactionStatus
	Metadata          map[string]string
	Source            string
}

// LedgerService owns the transaction ledger. The first terminal status
// recorded for a payment wins; later different terminal statuses are kept as
// anomalies instead of being applied.
type LedgerService struct {
	txs       repository.TransactionStore
	anomalies repository.AnomalyStore
	logger    *slog.Logger
	now       func() time.Time
}

func NewLedgerService(stores *repository.Stores, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		txs:       stores.Transactions,
		anomalies: stores.Anomalies,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *LedgerService) Record(ctx context.Context, tx *models.Transaction) error {
	if err := s.txs.Create(ctx, tx); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return apperr.Wrap(apperr.LedgerConflict, "ledger.Record", "payment already recorded", err)
		}
		return apperr.Wrap(apperr.Internal, "ledger.Record", "could not record payment", err)
	}
	s.logger.Info("transaction_recorded", "transaction_id", tx.ID, "external_payment_id", tx.ExternalPaymentID,
		"provider", tx.Provider, "status", tx.Status)
	return nil
}

func (s *LedgerService) FindByExternalID(ctx context.Context, externalID string) (*models.Transaction, error) {
	tx, err := s.txs.FindByExternalID(ctx, externalID)
	return tx, translateNotFound(err, "ledger.FindByExternalID", "payment not found")
}

// Lookup finds a transaction by external payment id, falling back to its
// internal id.
func (s *LedgerService) Lookup(ctx context.Context, id string) (*models.Transaction, error) {
	tx, err := s.txs.FindByExternalID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		tx, err = s.txs.FindByID(ctx, id)
	}
	return tx, translateNotFound(err, "ledger.Lookup", "payment not found")
}

func (s *LedgerService) ListByUser(ctx context.Context, userID string, f repository.TransactionFilter) ([]models.Transaction, error) {
	txs, err := s.txs.ListByUser(ctx, userID, f)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "ledger.ListByUser", "could not list payments", err)
	}
	return txs, nil
}

func (s *LedgerService) Anomalies(ctx context.Context, limit int) ([]models.LedgerAnomaly, error) {
	list, err := s.anomalies.List(ctx, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "ledger.Anomalies", "could not list anomalies", err)
	}
	return list, nil
}

// UpdateStatus applies u under the first-terminal-status-wins rule and
// returns the stored transaction afterwards. Conflicts are recorded and
// reported through the outcome, never as an error.
func (s *LedgerService) UpdateStatus(ctx context.Context, u StatusUpdate) (LedgerOutcome, *models.Transaction, error) {
	const op = "ledger.UpdateStatus"
	if !u.Status.Valid() {
		return "", nil, apperr.New(apperr.InvalidInput, op, "invalid transaction status: "+string(u.Status))
	}
	log := s.logger.With("external_payment_id", u.ExternalPaymentID, "status", u.Status, "source", u.Source)

	for attempt := 0; attempt < 3; attempt++ {
		tx, err := s.txs.FindByExternalID(ctx, u.ExternalPaymentID)
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn("ledger_unmatched_event")
			s.recordAnomaly(ctx, models.AnomalyUnmatchedEvent, u, "")
			return OutcomeUnmatched, nil, nil
		}
		if err != nil {
			return "", nil, apperr.Wrap(apperr.Internal, op, "could not load payment", err)
		}

		switch {
		case tx.Status == u.Status && tx.Status.Terminal():
			log.Info("ledger_duplicate_event")
			return OutcomeDuplicate, tx, nil
		case tx.Status.Terminal() && u.Status == models.TransactionPending:
			log.Info("ledger_pending_after_terminal_ignored", "stored_status", tx.Status)
			return OutcomeIgnored, tx, nil
		case tx.Status.Terminal():
			log.Warn("ledger_conflicting_terminal_status", "stored_status", tx.Status)
			s.recordAnomaly(ctx, models.AnomalyConflictingTerminal, u, tx.Status)
			return OutcomeConflict, tx, nil
		}

		at := s.now().UTC()
		ok, err := s.txs.CompareAndSetStatus(ctx, u.ExternalPaymentID, tx.Status, u.Status, u.Metadata, at)
		if err != nil {
			return "", nil, apperr.Wrap(apperr.Internal, op, "could not update payment", err)
		}
		if !ok {
			log.Debug("ledger_update_raced", "attempt", attempt+1)
			continue
		}
		tx.Status = u.Status
		tx.UpdatedAt = at
		if tx.Metadata == nil {
			tx.Metadata = map[string]string{}
		}
		for k, v := range u.Metadata {
			tx.Metadata[k] = v
		}
		log.Info("ledger_status_applied")
		return OutcomeApplied, tx, nil
	}
	return "", nil, apperr.New(apperr.LedgerConflict, op, "payment changed concurrently")
}

func (s *LedgerService) recordAnomaly(ctx context.Context, kind models.AnomalyKind, u StatusUpdate, stored models.TransactionStatus) {
	a := &models.LedgerAnomaly{
		ID:                uuid.NewString(),
		Kind:              kind,
		ExternalPaymentID: u.ExternalPaymentID,
		StoredStatus:      stored,
		AttemptedStatus:   u.Status,
		Source:            u.Source,
		Metadata:          u.Metadata,
		DetectedAt:        s.now().UTC(),
	}
	if err := s.anomalies.Record(ctx, a); err != nil {
		s.logger.Error("ledger_anomaly_not_recorded", "external_payment_id", u.ExternalPaymentID, "kind", kind, "error", err)
	}
}

func translateNotFound(err error, op, msg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return apperr.Wrap(apperr.NotFound, op, msg, err)
	}
	return apperr.Wrap(apperr.Internal, op, "storage error", err)
}
