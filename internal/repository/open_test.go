package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"stocksync-api/internal/config"
	"stocksync-api/internal/model"
)

func TestOpen_SQLiteSharesConnection(t *testing.T) {
	ctx := context.Background()
	inv := config.InventoryDBConfig{Type: "sqlite", Path: filepath.Join(t.TempDir(), "inv.db")}

	stores, err := Open(ctx, inv, config.StateDBConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", stores.InventoryType)
	assert.Equal(t, "sqlite", stores.StateType)
	assert.Len(t, stores.closers, 1)

	require.NoError(t, stores.Inventory.Upsert(ctx, model.InventoryRecord{SKU: "A", Name: "Shirt"}))
	require.NoError(t, stores.State.SaveCursor(ctx, model.SyncCursor{Stream: "items", LastSyncTimestamp: time.Now()}))

	_, err = stores.State.GetCursor(ctx, "items")
	require.NoError(t, err)
	require.NoError(t, stores.Close())
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.InventoryDBConfig{Type: "cassandra"}, config.StateDBConfig{}, nil)
	assert.Error(t, err)

	inv := config.InventoryDBConfig{Type: "sqlite", Path: filepath.Join(t.TempDir(), "inv.db")}
	_, err = Open(context.Background(), inv, config.StateDBConfig{Type: "etcd"}, nil)
	assert.Error(t, err)
}

func TestNormalizeType(t *testing.T) {
	assert.Equal(t, "mongodb", normalizeType("mongo"))
	assert.Equal(t, "postgres", normalizeType("postgresql"))
	assert.Equal(t, "sqlite", normalizeType(""))
	assert.Equal(t, "mysql", normalizeType("mysql"))
}
