package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"stocksync-api/internal/model"
)

// Collection names for state documents.
const (
	TokensCollection  = "tokens"
	CursorsCollection = "sync_cursors"
)

// tokenDocument is a credential as stored in the tokens collection,
// one document per integration keyed by type.
type tokenDocument struct {
	Type         string    `bson:"type"`
	AccessToken  *string   `bson:"access_token"`
	RefreshToken string    `bson:"refresh_token"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

// MongoDBStateRepository implements StateRepository using MongoDB.
type MongoDBStateRepository struct {
	tokens  *mongo.Collection
	cursors *mongo.Collection
}

// NewMongoDBStateRepository uses the tokens and sync_cursors collections of db.
func NewMongoDBStateRepository(db *mongo.Database) *MongoDBStateRepository {
	return &MongoDBStateRepository{
		tokens:  db.Collection(TokensCollection),
		cursors: db.Collection(CursorsCollection),
	}
}

// GetCredential returns the credential for integrationID, or ErrNotFound.
func (r *MongoDBStateRepository) GetCredential(ctx context.Context, integrationID string) (*model.Credential, error) {
	var doc tokenDocument
	err := r.tokens.FindOne(ctx, bson.M{"type": integrationID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential %s: %w", integrationID, err)
	}

	cred := &model.Credential{
		IntegrationID: doc.Type,
		RefreshToken:  doc.RefreshToken,
		UpdatedAt:     doc.UpdatedAt,
	}
	if doc.AccessToken != nil {
		cred.AccessToken = *doc.AccessToken
	}
	return cred, nil
}

// SaveCredential upserts the credential. An empty access token is stored as null.
func (r *MongoDBStateRepository) SaveCredential(ctx context.Context, cred model.Credential) error {
	doc := tokenDocument{
		Type:         cred.IntegrationID,
		RefreshToken: cred.RefreshToken,
		UpdatedAt:    cred.UpdatedAt.UTC(),
	}
	if cred.AccessToken != "" {
		doc.AccessToken = &cred.AccessToken
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := r.tokens.ReplaceOne(ctx, bson.M{"type": cred.IntegrationID}, doc, opts); err != nil {
		return fmt.Errorf("failed to save credential %s: %w", cred.IntegrationID, err)
	}
	return nil
}

// GetCursor returns the cursor for stream, or ErrNotFound.
func (r *MongoDBStateRepository) GetCursor(ctx context.Context, stream string) (*model.SyncCursor, error) {
	var cursor model.SyncCursor
	err := r.cursors.FindOne(ctx, bson.M{"stream": stream}).Decode(&cursor)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor %s: %w", stream, err)
	}
	return &cursor, nil
}

// SaveCursor upserts the cursor.
func (r *MongoDBStateRepository) SaveCursor(ctx context.Context, cursor model.SyncCursor) error {
	cursor.LastSyncTimestamp = cursor.LastSyncTimestamp.UTC()
	opts := options.Replace().SetUpsert(true)
	if _, err := r.cursors.ReplaceOne(ctx, bson.M{"stream": cursor.Stream}, cursor, opts); err != nil {
		return fmt.Errorf("failed to save cursor %s: %w", cursor.Stream, err)
	}
	return nil
}

var _ StateRepository = (*MongoDBStateRepository)(nil)
