package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"stocksync-api/internal/logger"
	"stocksync-api/internal/model"
)

// MongoDBInventoryRepository implements InventoryRepository using MongoDB.
// Documents are keyed by a unique index on sku.
type MongoDBInventoryRepository struct {
	client     *mongo.Client
	db         *mongo.Database
	collection *mongo.Collection
	logger     *zap.Logger
}

// ConnectMongo connects to uri and pings the deployment.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(5 * time.Minute).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// NewMongoDBInventoryRepository connects and ensures the sku index.
func NewMongoDBInventoryRepository(ctx context.Context, uri, database, collection string, log *zap.Logger) (*MongoDBInventoryRepository, error) {
	client, err := ConnectMongo(ctx, uri)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db := client.Database(database)
	coll := db.Collection(collection)
	l := logger.OrNop(log).Named("mongodb")

	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "sku", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		l.Warn("failed to create sku index", zap.Error(err))
	}

	l.Info("connected", zap.String("database", database), zap.String("collection", collection))
	return &MongoDBInventoryRepository{
		client:     client,
		db:         db,
		collection: coll,
		logger:     l,
	}, nil
}

// Database returns the database handle so state collections can share the connection.
func (r *MongoDBInventoryRepository) Database() *mongo.Database {
	return r.db
}

// FindBySKU returns the record for sku, or ErrNotFound.
func (r *MongoDBInventoryRepository) FindBySKU(ctx context.Context, sku string) (*model.InventoryRecord, error) {
	var rec model.InventoryRecord
	err := r.collection.FindOne(ctx, bson.M{"sku": sku}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory %s: %w", sku, err)
	}
	if rec.Locations == nil {
		rec.Locations = []model.Location{}
	}
	return &rec, nil
}

// ListAll returns every document ordered by SKU.
func (r *MongoDBInventoryRepository) ListAll(ctx context.Context) ([]model.InventoryRecord, error) {
	cur, err := r.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "sku", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory: %w", err)
	}
	var records []model.InventoryRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode inventory: %w", err)
	}
	for i := range records {
		if records[i].Locations == nil {
			records[i].Locations = []model.Location{}
		}
	}
	return records, nil
}

// Upsert replaces the whole document keyed by record.SKU.
func (r *MongoDBInventoryRepository) Upsert(ctx context.Context, record model.InventoryRecord) error {
	if record.Locations == nil {
		record.Locations = []model.Location{}
	}
	record.SyncedAt = record.SyncedAt.UTC()

	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctx, bson.M{"sku": record.SKU}, record, opts); err != nil {
		return fmt.Errorf("failed to upsert inventory %s: %w", record.SKU, err)
	}
	return nil
}

// DeleteAll removes every document in the collection.
func (r *MongoDBInventoryRepository) DeleteAll(ctx context.Context) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to clear inventory: %w", err)
	}
	return result.DeletedCount, nil
}

// GetStats returns statistics about the inventory collection.
func (r *MongoDBInventoryRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{"backend": "mongodb", "status": "connected"}

	count, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return stats, err
	}
	stats["total_records"] = count

	var last model.InventoryRecord
	opts := options.FindOne().SetSort(bson.D{{Key: "synced_at", Value: -1}})
	if err := r.collection.FindOne(ctx, bson.M{}, opts).Decode(&last); err == nil {
		stats["last_sync"] = last.SyncedAt
	}

	var collStats bson.M
	if err := r.db.RunCommand(ctx, bson.D{{Key: "collStats", Value: r.collection.Name()}}).Decode(&collStats); err == nil {
		switch size := collStats["size"].(type) {
		case int64:
			stats["db_size_bytes"] = size
		case int32:
			stats["db_size_bytes"] = int64(size)
		}
	}

	return stats, nil
}

// Close disconnects the client.
func (r *MongoDBInventoryRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

var _ InventoryRepository = (*MongoDBInventoryRepository)(nil)
