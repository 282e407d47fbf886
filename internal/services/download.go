package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markjakearzadon/folio-gobackend/internal/apperr"
	"github.com/markjakearzadon/folio-gobackend/internal/models"
	"github.com/markjakearzadon/folio-gobackend/internal/repository"
)

const (
	msgNoPurchase      = "no completed purchase found"
	msgFileUnavailable = "file unavailable"
	msgAuditFailed     = "download allowed but could not be recorded"
)

// DownloadGate decides whether a user may fetch a book file. Every call
// reads the user's orders afresh.
type DownloadGate struct {
	orders       repository.OrderStore
	downloads    repository.DownloadStore
	placeholders []string
	logger       *slog.Logger
	now          func() time.Time
}

func NewDownloadGate(stores *repository.Stores, placeholders []string, logger *slog.Logger) *DownloadGate {
	return &DownloadGate{
		orders:       stores.Orders,
		downloads:    stores.Downloads,
		placeholders: placeholders,
		logger:       logger,
		now:          time.Now,
	}
}

func (g *DownloadGate) Authorize(ctx context.Context, userID, bookID string) (*models.DownloadGrant, error) {
	const op = "downloads.Authorize"
	log := g.logger.With("user_id", userID, "book_id", bookID)
	if userID == "" || bookID == "" {
		return nil, apperr.New(apperr.InvalidInput, op, "userId and bookId are required")
	}

	order, err := g.orders.FindCompletedWithBook(ctx, userID, bookID)
	if errors.Is(err, repository.ErrNotFound) {
		kind := apperr.OrderNotFound
		found, err := g.hasAnyOrderWithBook(ctx, userID, bookID)
		if err != nil {
			log.Error("download_order_lookup_failed", "error", err)
			return nil, apperr.Wrap(apperr.Internal, op, "could not check purchases", err)
		}
		if found {
			kind = apperr.PermissionDenied
		}
		log.Info("download_denied", "reason", kind)
		return nil, apperr.New(kind, op, msgNoPurchase)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, "could not check purchases", err)
	}

	item, _ := order.Item(bookID)
	if g.isPlaceholder(item.FileRef) {
		log.Warn("download_file_unavailable", "order_id", order.ID, "file_ref", item.FileRef)
		return nil, apperr.New(apperr.FileUnavailable, op, msgFileUnavailable)
	}

	grant := &models.DownloadGrant{OrderID: order.ID, BookID: bookID, Title: item.Title, FileRef: item.FileRef}
	rec := &models.Download{ID: uuid.NewString(), UserID: userID, BookID: bookID, OrderID: order.ID, DownloadedAt: g.now().UTC()}
	if err := g.downloads.Create(ctx, rec); err != nil {
		log.Error("download_not_recorded", "order_id", order.ID, "error", err)
		grant.Warning = msgAuditFailed
	} else {
		grant.DownloadID = rec.ID
	}
	log.Info("download_authorized", "order_id", order.ID, "download_id", grant.DownloadID)
	return grant, nil
}

func (g *DownloadGate) History(ctx context.Context, userID string) ([]models.Download, error) {
	list, err := g.downloads.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "downloads.History", "could not list downloads", err)
	}
	return list, nil
}

func (g *DownloadGate) hasAnyOrderWithBook(ctx context.Context, userID, bookID string) (bool, error) {
	orders, err := g.orders.ListByUser(ctx, userID, "")
	if err != nil {
		return false, err
	}
	for i := range orders {
		if _, ok := orders[i].Item(bookID); ok {
			return true, nil
		}
	}
	return false, nil
}

func (g *DownloadGate) isPlaceholder(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return true
	}
	for _, p := range g.placeholders {
		if ref == p || (strings.Contains(p, "://") && strings.HasPrefix(ref, p)) {
			return true
		}
	}
	return false
}
