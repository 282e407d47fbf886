package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/markjakearzadon/folio-gobackend/internal/models"
)

const (
	collTransactions = "transactions"
	collAnomalies    = "ledger_anomalies"
	collOrders       = "orders"
	collDownloads    = "downloads"
	collBooks        = "books"
	collUsers        = "user"
)

func NewMongoStores(db *mongo.Database) *Stores {
	return &Stores{
		Transactions: &MongoTransactionStore{coll: db.Collection(collTransactions)},
		Anomalies:    &MongoAnomalyStore{coll: db.Collection(collAnomalies)},
		Orders:       &MongoOrderStore{coll: db.Collection(collOrders)},
		Downloads:    &MongoDownloadStore{coll: db.Collection(collDownloads)},
		Catalog:      &MongoCatalog{coll: db.Collection(collBooks)},
		Users:        &MongoUserDirectory{coll: db.Collection(collUsers)},
	}
}

// EnsureIndexes creates the indexes the stores rely on, including the unique
// external payment id that backs the ledger's join key.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		collTransactions: {
			{Keys: bson.D{{Key: "externalPaymentId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
		},
		collAnomalies: {
			{Keys: bson.D{{Key: "detectedAt", Value: -1}}},
		},
		collOrders: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "status", Value: 1}, {Key: "items.bookId", Value: 1}}},
			{Keys: bson.D{{Key: "paymentGatewayId", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "orderDate", Value: 1}}},
		},
		collDownloads: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "downloadedAt", Value: -1}}},
		},
	}
	for coll, idx := range indexes {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

func findOne[T any](ctx context.Context, coll *mongo.Collection, filter bson.M, opts ...*options.FindOneOptions) (*T, error) {
	var out T
	if err := coll.FindOne(ctx, filter, opts...).Decode(&out); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter bson.M, opts ...*options.FindOptions) ([]T, error) {
	cursor, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var out []T
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// metadataKey makes a metadata key safe to use in a dotted $set path.
func metadataKey(k string) string {
	k = strings.ReplaceAll(k, ".", "_")
	return "metadata." + strings.TrimLeft(k, "$")
}

// Transactions

type MongoTransactionStore struct {
	coll *mongo.Collection
}

func (s *MongoTransactionStore) Create(ctx context.Context, tx *models.Transaction) error {
	doc := *tx
	doc.Metadata = nonNil(tx.Metadata)
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *MongoTransactionStore) FindByID(ctx context.Context, id string) (*models.Transaction, error) {
	return findOne[models.Transaction](ctx, s.coll, bson.M{"_id": id})
}

func (s *MongoTransactionStore) FindByExternalID(ctx context.Context, externalID string) (*models.Transaction, error) {
	return findOne[models.Transaction](ctx, s.coll, bson.M{"externalPaymentId": externalID})
}

func (s *MongoTransactionStore) CompareAndSetStatus(ctx context.Context, externalID string, from, to models.TransactionStatus, patch map[string]string, at time.Time) (bool, error) {
	set := bson.M{"status": to, "updatedAt": at.UTC()}
	for k, v := range patch {
		set[metadataKey(k)] = v
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"externalPaymentId": externalID, "status": from}, bson.M{"$set": set})
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (s *MongoTransactionStore) ListByUser(ctx context.Context, userID string, f TransactionFilter) ([]models.Transaction, error) {
	filter := bson.M{"userId": userID}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.From != nil || f.To != nil {
		rng := bson.M{}
		if f.From != nil {
			rng["$gte"] = f.From.UTC()
		}
		if f.To != nil {
			rng["$lte"] = f.To.UTC()
		}
		filter["createdAt"] = rng
	}
	return findAll[models.Transaction](ctx, s.coll, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
}

func (s *MongoTransactionStore) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	return findAll[models.Transaction](ctx, s.coll,
		bson.M{"status": models.TransactionPending, "createdAt": bson.M{"$lt": cutoff.UTC()}},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}).SetLimit(int64(limit)))
}

// Anomalies

type MongoAnomalyStore struct {
	coll *mongo.Collection
}

func (s *MongoAnomalyStore) Record(ctx context.Context, a *models.LedgerAnomaly) error {
	_, err := s.coll.InsertOne(ctx, a)
	return err
}

func (s *MongoAnomalyStore) List(ctx context.Context, limit int) ([]models.LedgerAnomaly, error) {
	if limit <= 0 {
		limit = 100
	}
	return findAll[models.LedgerAnomaly](ctx, s.coll, bson.M{},
		options.Find().SetSort(bson.D{{Key: "detectedAt", Value: -1}}).SetLimit(int64(limit)))
}

// Orders

type MongoOrderStore struct {
	coll *mongo.Collection
}

func (s *MongoOrderStore) Create(ctx context.Context, o *models.Order) error {
	doc := *o
	if doc.History == nil {
		doc.History = []models.StatusChange{}
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *MongoOrderStore) FindByID(ctx context.Context, id string) (*models.Order, error) {
	return findOne[models.Order](ctx, s.coll, bson.M{"_id": id})
}

func (s *MongoOrderStore) FindByPaymentGatewayID(ctx context.Context, externalID string) (*models.Order, error) {
	return findOne[models.Order](ctx, s.coll, bson.M{"paymentGatewayId": externalID},
		options.FindOne().SetSort(bson.D{{Key: "orderDate", Value: -1}}))
}

func (s *MongoOrderStore) CompareAndSetStatus(ctx context.Context, id string, change models.StatusChange) (bool, error) {
	change.At = change.At.UTC()
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "status": change.From},
		bson.M{
			"$set":  bson.M{"status": change.To, "lastUpdatedAt": change.At, "lastUpdatedBy": change.Actor},
			"$push": bson.M{"history": change},
		})
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (s *MongoOrderStore) FindCompletedWithBook(ctx context.Context, userID, bookID string) (*models.Order, error) {
	return findOne[models.Order](ctx, s.coll,
		bson.M{"userId": userID, "status": models.OrderCompleted, "items.bookId": bookID},
		options.FindOne().SetSort(bson.D{{Key: "orderDate", Value: -1}}))
}

func (s *MongoOrderStore) ListByUser(ctx context.Context, userID string, status models.OrderStatus) ([]models.Order, error) {
	filter := bson.M{"userId": userID}
	if status != "" {
		filter["status"] = status
	}
	return findAll[models.Order](ctx, s.coll, filter, options.Find().SetSort(bson.D{{Key: "orderDate", Value: -1}}))
}

func (s *MongoOrderStore) ListPending(ctx context.Context, after PageCursor, limit int) ([]models.Order, error) {
	at := after.OrderDate.UTC()
	filter := bson.M{
		"status": models.OrderPending,
		"$or": bson.A{
			bson.M{"orderDate": bson.M{"$gt": at}},
			bson.M{"orderDate": at, "_id": bson.M{"$gt": after.ID}},
		},
	}
	return findAll[models.Order](ctx, s.coll, filter,
		options.Find().SetSort(bson.D{{Key: "orderDate", Value: 1}, {Key: "_id", Value: 1}}).SetLimit(int64(limit)))
}

// Downloads

type MongoDownloadStore struct {
	coll *mongo.Collection
}

func (s *MongoDownloadStore) Create(ctx context.Context, d *models.Download) error {
	_, err := s.coll.InsertOne(ctx, d)
	return err
}

func (s *MongoDownloadStore) ListByUser(ctx context.Context, userID string) ([]models.Download, error) {
	return findAll[models.Download](ctx, s.coll, bson.M{"userId": userID},
		options.Find().SetSort(bson.D{{Key: "downloadedAt", Value: -1}}))
}

// Catalog and users

type MongoCatalog struct {
	coll *mongo.Collection
}

func (s *MongoCatalog) FindBook(ctx context.Context, id string) (*models.Book, error) {
	return findOne[models.Book](ctx, s.coll, bson.M{"_id": id})
}

func (s *MongoCatalog) UpsertBook(ctx context.Context, b *models.Book) error {
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": b.ID}, b, options.Replace().SetUpsert(true))
	return err
}

type MongoUserDirectory struct {
	coll *mongo.Collection
}

func (s *MongoUserDirectory) FindUser(ctx context.Context, id string) (*models.User, error) {
	return findOne[models.User](ctx, s.coll, bson.M{"_id": id})
}

func (s *MongoUserDirectory) UpsertUser(ctx context.Context, u *models.User) error {
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": u.ID}, u, options.Replace().SetUpsert(true))
	return err
}
