// Package testutil builds in-memory stores and fixtures for package tests.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/markjakearzadon/folio-gobackend/internal/db"
	"github.com/markjakearzadon/folio-gobackend/internal/models"
	"github.com/markjakearzadon/folio-gobackend/internal/repository"
)

// NewStores returns SQLite stores on a fresh in-memory database.
func NewStores(t *testing.T) *repository.Stores {
	t.Helper()
	sqlDB, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return repository.NewSQLiteStores(sqlDB)
}

// NewFileStores returns SQLite stores on a temporary database file, where
// the connection pool runs writers in parallel.
func NewFileStores(t *testing.T) *repository.Stores {
	t.Helper()
	sqlDB, err := db.OpenSQLite(filepath.Join(t.TempDir(), "folio.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return repository.NewSQLiteStores(sqlDB)
}

func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SeedBook stores a book with a real file reference.
func SeedBook(t *testing.T, stores *repository.Stores, id, title string, price float64) *models.Book {
	t.Helper()
	b := &models.Book{ID: id, Title: title, Price: price, FileRef: "books/" + id + ".epub", CoverRef: "covers/" + id + ".jpg"}
	require.NoError(t, stores.Catalog.UpsertBook(context.Background(), b))
	return b
}

func SeedUser(t *testing.T, stores *repository.Stores, id string) *models.User {
	t.Helper()
	u := &models.User{ID: id, DisplayName: "Reader " + id, Email: id + "@example.com"}
	require.NoError(t, stores.Users.UpsertUser(context.Background(), u))
	return u
}

// NewTransaction returns an unsaved pending transaction.
func NewTransaction(userID, externalID string, createdAt time.Time) *models.Transaction {
	return &models.Transaction{
		ID:                uuid.NewString(),
		UserID:            userID,
		OrderRef:          uuid.NewString(),
		Amount:            1999,
		CurrencyCode:      "USD",
		Provider:          models.ProviderCard,
		ExternalPaymentID: externalID,
		Status:            models.TransactionPending,
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
		Metadata:          map[string]string{"bookId": "book-1"},
	}
}

// NewOrder returns an unsaved order for the given books.
func NewOrder(userID, externalID string, status models.OrderStatus, books ...*models.Book) *models.Order {
	now := time.Now().UTC()
	o := &models.Order{
		ID:               uuid.NewString(),
		UserID:           userID,
		CurrencyCode:     "USD",
		RegionCode:       "US",
		Status:           status,
		OrderDate:        now,
		LastUpdatedAt:    now,
		LastUpdatedBy:    models.ActorSystem,
		PaymentGatewayID: externalID,
		PaymentMethod:    models.ProviderCard,
	}
	for _, b := range books {
		o.Items = append(o.Items, models.OrderItem{BookID: b.ID, Title: b.Title, Price: b.Price, FileRef: b.FileRef, CoverRef: b.CoverRef})
		o.TotalAmountBaseCurrency += b.Price
	}
	o.ActualAmountPaid = o.TotalAmountBaseCurrency
	o.ItemCount = len(o.Items)
	return o
}
