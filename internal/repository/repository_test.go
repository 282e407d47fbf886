package repository_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markjakearzadon/folio-gobackend/internal/db"
	"github.com/markjakearzadon/folio-gobackend/internal/models"
	"github.com/markjakearzadon/folio-gobackend/internal/repository"
	"github.com/markjakearzadon/folio-gobackend/internal/testutil"
)

func TestSQLiteStores(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) *repository.Stores { return testutil.NewStores(t) })
}

func TestSQLiteFileStores(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) *repository.Stores { return testutil.NewFileStores(t) })
}

func TestMongoStores(t *testing.T) {
	uri := os.Getenv("FOLIO_TEST_MONGOURI")
	if uri == "" {
		t.Skip("FOLIO_TEST_MONGOURI not set")
	}
	ctx := context.Background()
	client, err := db.ConnectMongo(ctx, uri)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	runStoreSuite(t, func(t *testing.T) *repository.Stores {
		database := client.Database("folio_test_" + uuid.NewString()[:8])
		t.Cleanup(func() { _ = database.Drop(context.Background()) })
		require.NoError(t, repository.EnsureIndexes(ctx, database))
		return repository.NewMongoStores(database)
	})
}

func runStoreSuite(t *testing.T, newStores func(t *testing.T) *repository.Stores) {
	t.Run("transaction create and find", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()
		created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		tx := testutil.NewTransaction("user-1", "pi_1", created)
		require.NoError(t, s.Transactions.Create(ctx, tx))

		got, err := s.Transactions.FindByExternalID(ctx, "pi_1")
		require.NoError(t, err)
		assert.Equal(t, tx.ID, got.ID)
		assert.Equal(t, models.TransactionPending, got.Status)
		assert.True(t, created.Equal(got.CreatedAt))
		assert.Equal(t, "book-1", got.Metadata["bookId"])

		byID, err := s.Transactions.FindByID(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, "pi_1", byID.ExternalPaymentID)

		_, err = s.Transactions.FindByExternalID(ctx, "pi_missing")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("external payment id is unique", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()
		require.NoError(t, s.Transactions.Create(ctx, testutil.NewTransaction("user-1", "pi_dup", time.Now())))
		err := s.Transactions.Create(ctx, testutil.NewTransaction("user-2", "pi_dup", time.Now()))
		assert.ErrorIs(t, err, repository.ErrDuplicate)
	})

	t.Run("compare and set status", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()
		require.NoError(t, s.Transactions.Create(ctx, testutil.NewTransaction("user-1", "pi_cas", time.Now())))

		ok, err := s.Transactions.CompareAndSetStatus(ctx, "pi_cas", models.TransactionPending, models.TransactionCompleted,
			map[string]string{"eventId": "evt_1"}, time.Now())
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Transactions.CompareAndSetStatus(ctx, "pi_cas", models.TransactionPending, models.TransactionFailed, nil, time.Now())
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.Transactions.FindByExternalID(ctx, "pi_cas")
		require.NoError(t, err)
		assert.Equal(t, models.TransactionCompleted, got.Status)
		assert.Equal(t, "evt_1", got.Metadata["eventId"])
		assert.Equal(t, "book-1", got.Metadata["bookId"], "existing metadata is kept")
	})

	t.Run("concurrent compare and set has one winner", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()
		require.NoError(t, s.Transactions.Create(ctx, testutil.NewTransaction("user-1", "pi_race", time.Now())))

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 64; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				to := models.TransactionCompleted
				if i%2 == 1 {
					to = models.TransactionFailed
				}
				ok, err := s.Transactions.CompareAndSetStatus(ctx, "pi_race", models.TransactionPending, to, nil, time.Now())
				assert.NoError(t, err)
				if ok {
					atomic.AddInt32(&wins, 1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)
	})

	t.Run("list by user with filters", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()
		base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
		for i, ext := range []string{"pi_a", "pi_b", "pi_c"} {
			require.NoError(t, s.Transactions.Create(ctx, testutil.NewTransaction("user-1", ext, base.Add(time.Duration(i)*24*time.Hour))))
		}
		require.NoError(t, s.Transactions.Create(ctx, testutil.NewTransaction("user-2", "pi_other", base)))
		_, err := s.Transactions.CompareAndSetStatus(ctx, "pi_b", models.TransactionPending, models.TransactionCompleted, nil, time.Now())
		require.NoError(t, err)

		all, err := s.Transactions.ListByUser(ctx, "user-1", repository.TransactionFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "pi_c", all[0].ExternalPaymentID, "newest first")

		completed, err := s.Transactions.ListByUser(ctx, "user-1", repository.TransactionFilter{Status: models.TransactionCompleted})
		require.NoError(t, err)
		require.Len(t, completed, 1)
		assert.Equal(t, "pi_b", completed[0].ExternalPaymentID)

		from, to := base.Add(12*time.Hour), base.Add(36*time.Hour)
		ranged, err := s.Transactions.ListByUser(ctx, "user-1", repository.TransactionFilter{From: &from, To: &to})
		require.NoError(t, err)
		require.Len(t, ranged, 1)
		assert.Equal(t, "pi_b", ranged[0].ExternalPaymentID)
	})

	t.Run("list pending before", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()
		now := time.Now().UTC()
		require.NoError(t, s.Transactions.Create(ctx, testutil.NewTransaction("user-1", "pi_old", now.Add(-2*time.Hour))))
		require.NoError(t, s.Transactions.Create(ctx, testutil.NewTransaction("user-1", "pi_new", now)))

		stale, err := s.Transactions.ListPendingBefore(ctx, now.Add(-time.Hour), 10)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, "pi_old", stale[0].ExternalPaymentID)
	})

	t.Run("anomalies", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()
		a := &models.LedgerAnomaly{
			ID:                uuid.NewString(),
			Kind:              models.AnomalyConflictingTerminal,
			ExternalPaymentID: "pi_1",
			StoredStatus:      models.TransactionCompleted,
			AttemptedStatus:   models.TransactionFailed,
			Source:            "webhook:card",
			Metadata:          map[string]string{"eventId": "evt_2"},
			DetectedAt:        time.Now().UTC(),
		}
		require.NoError(t, s.Anomalies.Record(ctx, a))

		list, err := s.Anomalies.List(ctx, 10)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, models.AnomalyConflictingTerminal, list[0].Kind)
		assert.Equal(t, models.TransactionFailed, list[0].AttemptedStatus)
		assert.Equal(t, "evt_2", list[0].Metadata["eventId"])
	})

	t.Run("order lifecycle", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()
		book := testutil.SeedBook(t, s, "book-1", "Go in Practice", 19.99)
		other := testutil.SeedBook(t, s, "book-2", "Another Book", 9.99)
		o := testutil.NewOrder("user-1", "pi_1", models.OrderPending, book)
		require.NoError(t, s.Orders.Create(ctx, o))

		got, err := s.Orders.FindByPaymentGatewayID(ctx, "pi_1")
		require.NoError(t, err)
		assert.Equal(t, o.ID, got.ID)
		require.Len(t, got.Items, 1)
		assert.Equal(t, "book-1", got.Items[0].BookID)

		_, err = s.Orders.FindCompletedWithBook(ctx, "user-1", "book-1")
		assert.ErrorIs(t, err, repository.ErrNotFound)

		change := models.StatusChange{From: models.OrderPending, To: models.OrderCompleted, Actor: models.ActorSystem, At: time.Now().UTC()}
		ok, err := s.Orders.CompareAndSetStatus(ctx, o.ID, change)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Orders.CompareAndSetStatus(ctx, o.ID, change)
		require.NoError(t, err)
		assert.False(t, ok, "order is no longer pending")

		found, err := s.Orders.FindCompletedWithBook(ctx, "user-1", "book-1")
		require.NoError(t, err)
		assert.Equal(t, o.ID, found.ID)
		require.Len(t, found.History, 1)
		assert.Equal(t, models.OrderCompleted, found.History[0].To)
		assert.Equal(t, models.ActorSystem, found.LastUpdatedBy)

		_, err = s.Orders.FindCompletedWithBook(ctx, "user-1", other.ID)
		assert.ErrorIs(t, err, repository.ErrNotFound)
		_, err = s.Orders.FindCompletedWithBook(ctx, "user-2", "book-1")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("order listing", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()
		book := testutil.SeedBook(t, s, "book-1", "Go in Practice", 19.99)
		require.NoError(t, s.Orders.Create(ctx, testutil.NewOrder("user-1", "pi_1", models.OrderPending, book)))
		require.NoError(t, s.Orders.Create(ctx, testutil.NewOrder("user-1", "pi_2", models.OrderCompleted, book)))
		require.NoError(t, s.Orders.Create(ctx, testutil.NewOrder("user-2", "pi_3", models.OrderPending, book)))

		mine, err := s.Orders.ListByUser(ctx, "user-1", "")
		require.NoError(t, err)
		assert.Len(t, mine, 2)

		completed, err := s.Orders.ListByUser(ctx, "user-1", models.OrderCompleted)
		require.NoError(t, err)
		assert.Len(t, completed, 1)

		pending, err := s.Orders.ListPending(ctx, repository.PageCursor{}, 10)
		require.NoError(t, err)
		assert.Len(t, pending, 2)
	})

	t.Run("pending orders page by cursor", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()
		book := testutil.SeedBook(t, s, "book-1", "Go in Practice", 19.99)
		base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
		offsets := []int{0, 1, 1, 2, 3}
		want := make([]string, len(offsets))
		for i, minutes := range offsets {
			o := testutil.NewOrder("user-1", fmt.Sprintf("pi_page_%d", i), models.OrderPending, book)
			o.ID = fmt.Sprintf("order-%d", i)
			o.OrderDate = base.Add(time.Duration(minutes) * time.Minute)
			require.NoError(t, s.Orders.Create(ctx, o))
			want[i] = o.ID
		}
		require.NoError(t, s.Orders.Create(ctx, testutil.NewOrder("user-1", "pi_done", models.OrderCompleted, book)))

		var got []string
		var cursor repository.PageCursor
		for page := 0; page < 10; page++ {
			batch, err := s.Orders.ListPending(ctx, cursor, 2)
			require.NoError(t, err)
			for _, o := range batch {
				got = append(got, o.ID)
			}
			if len(batch) < 2 {
				break
			}
			cursor = repository.CursorAfter(&batch[len(batch)-1])
		}
		assert.Equal(t, want, got)
	})

	t.Run("downloads", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()
		d := &models.Download{ID: uuid.NewString(), UserID: "user-1", BookID: "book-1", OrderID: "order-1", DownloadedAt: time.Now().UTC()}
		require.NoError(t, s.Downloads.Create(ctx, d))

		list, err := s.Downloads.ListByUser(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "book-1", list[0].BookID)
	})

	t.Run("catalog and users", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()
		testutil.SeedBook(t, s, "book-1", "Draft", 5)
		testutil.SeedBook(t, s, "book-1", "Final", 7.5)
		b, err := s.Catalog.FindBook(ctx, "book-1")
		require.NoError(t, err)
		assert.Equal(t, "Final", b.Title)
		assert.Equal(t, 7.5, b.Price)

		_, err = s.Catalog.FindBook(ctx, "missing")
		assert.ErrorIs(t, err, repository.ErrNotFound)

		testutil.SeedUser(t, s, "user-1")
		u, err := s.Users.FindUser(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, "user-1@example.com", u.Email)
		_, err = s.Users.FindUser(ctx, "nobody")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}
