package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/markjakearzadon/folio-gobackend/internal/config"
	"github.com/markjakearzadon/folio-gobackend/internal/db"
	"github.com/markjakearzadon/folio-gobackend/internal/gateway"
	"github.com/markjakearzadon/folio-gobackend/internal/repository"
	"github.com/markjakearzadon/folio-gobackend/internal/services"
)

type storage struct {
	stores  *repository.Stores
	mongoDB *mongo.Database
	close   func()
}

func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverMongo:
		client, err := db.ConnectMongo(ctx, cfg.Storage.MongoURI)
		if err != nil {
			return nil, err
		}
		database := client.Database(cfg.Storage.MongoDatabase)
		return &storage{
			stores:  repository.NewMongoStores(database),
			mongoDB: database,
			close: func() {
				if err := client.Disconnect(context.Background()); err != nil {
					logger.Error("mongo_disconnect_failed", "error", err)
				}
			},
		}, nil
	default:
		sqlDB, err := db.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite_opened", "path", cfg.Storage.SQLitePath)
		return &storage{
			stores: repository.NewSQLiteStores(sqlDB),
			close:  func() { closeSQL(sqlDB, logger) },
		}, nil
	}
}

// ensureIndexes is a no-op for SQLite, whose schema is created on open.
func (s *storage) ensureIndexes(ctx context.Context) error {
	if s.mongoDB == nil {
		return nil
	}
	return repository.EnsureIndexes(ctx, s.mongoDB)
}

func closeSQL(sqlDB *sql.DB, logger *slog.Logger) {
	if err := sqlDB.Close(); err != nil {
		logger.Error("sqlite_close_failed", "error", err)
	}
}

type app struct {
	storage  *storage
	ledger   *services.LedgerService
	orders   *services.OrderService
	payments *services.PaymentService
	webhooks *services.WebhookService
	gate     *services.DownloadGate
	sweeper  *services.Sweeper
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	s, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := s.ensureIndexes(ctx); err != nil {
		s.close()
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	registry, err := gateway.FromConfig(cfg, logger)
	if err != nil {
		s.close()
		return nil, err
	}

	ledger := services.NewLedgerService(s.stores, logger)
	orders := services.NewOrderService(s.stores, logger)
	return &app{
		storage:  s,
		ledger:   ledger,
		orders:   orders,
		payments: services.NewPaymentService(registry, ledger, orders, s.stores, logger),
		webhooks: services.NewWebhookService(registry, ledger, orders, logger),
		gate:     services.NewDownloadGate(s.stores, cfg.FilePlaceholders, logger),
		sweeper:  services.NewSweeper(s.stores, ledger, orders, cfg.Reconcile.PendingTTL, cfg.Reconcile.SweepInterval, logger),
	}, nil
}

func (a *app) close() { a.storage.close() }
