// Package repository persists transactions, anomalies, orders and downloads,
// and reads the book catalog and user directory owned by other services.
// Every store has a MongoDB and a SQLite implementation.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/markjakearzadon/folio-gobackend/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

type TransactionFilter struct {
	Status models.TransactionStatus
	From   *time.Time
	To     *time.Time
}

type TransactionStore interface {
	// Create fails with ErrDuplicate if the external payment id is taken.
	Create(ctx context.Context, tx *models.Transaction) error
	FindByID(ctx context.Context, id string) (*models.Transaction, error)
	FindByExternalID(ctx context.Context, externalID string) (*models.Transaction, error)
	// CompareAndSetStatus moves the transaction from one status to another and
	// merges patch into its metadata. It reports false when the stored status
	// is no longer from.
	CompareAndSetStatus(ctx context.Context, externalID string, from, to models.TransactionStatus, patch map[string]string, at time.Time) (bool, error)
	ListByUser(ctx context.Context, userID string, f TransactionFilter) ([]models.Transaction, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error)
}

type AnomalyStore interface {
	Record(ctx context.Context, a *models.LedgerAnomaly) error
	List(ctx context.Context, limit int) ([]models.LedgerAnomaly, error)
}

type OrderStore interface {
	Create(ctx context.Context, o *models.Order) error
	FindByID(ctx context.Context, id string) (*models.Order, error)
	FindByPaymentGatewayID(ctx context.Context, externalID string) (*models.Order, error)
	// CompareAndSetStatus applies change if the order is still in change.From
	// and appends it to the order history.
	CompareAndSetStatus(ctx context.Context, id string, change models.StatusChange) (bool, error)
	// FindCompletedWithBook returns the most recent completed order of userID
	// that contains bookID.
	FindCompletedWithBook(ctx context.Context, userID, bookID string) (*models.Order, error)
	ListByUser(ctx context.Context, userID string, status models.OrderStatus) ([]models.Order, error)
	// ListPending pages through pending orders in (orderDate, id) order,
	// starting after the given cursor. The zero cursor starts at the oldest.
	ListPending(ctx context.Context, after PageCursor, limit int) ([]models.Order, error)
}

// PageCursor is the position of the last order seen by a keyset scan.
type PageCursor struct {
	OrderDate time.Time
	ID        string
}

func CursorAfter(o *models.Order) PageCursor {
	return PageCursor{OrderDate: o.OrderDate, ID: o.ID}
}

type DownloadStore interface {
	Create(ctx context.Context, d *models.Download) error
	ListByUser(ctx context.Context, userID string) ([]models.Download, error)
}

type Catalog interface {
	FindBook(ctx context.Context, id string) (*models.Book, error)
	UpsertBook(ctx context.Context, b *models.Book) error
}

type UserDirectory interface {
	FindUser(ctx context.Context, id string) (*models.User, error)
	UpsertUser(ctx context.Context, u *models.User) error
}

// Stores bundles one backend's implementations.
type Stores struct {
	Transactions TransactionStore
	Anomalies    AnomalyStore
	Orders       OrderStore
	Downloads    DownloadStore
	Catalog      Catalog
	Users        UserDirectory
}
