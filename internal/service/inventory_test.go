package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocksync-api/internal/cache"
	"stocksync-api/internal/model"
	"stocksync-api/internal/repository"
)

type memRepo struct {
	mu      sync.Mutex
	records map[string]model.InventoryRecord
	finds   int
	failOn  string
}

func newMemRepo() *memRepo {
	return &memRepo{records: make(map[string]model.InventoryRecord)}
}

func (r *memRepo) FindBySKU(_ context.Context, sku string) (*model.InventoryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finds++
	rec, ok := r.records[sku]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rec, nil
}

func (r *memRepo) Upsert(_ context.Context, rec model.InventoryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.SKU == r.failOn {
		return errors.New("write refused")
	}
	r.records[rec.SKU] = rec
	return nil
}

func (r *memRepo) ListAll(context.Context) ([]model.InventoryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.InventoryRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out, nil
}

func (r *memRepo) DeleteAll(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int64(len(r.records))
	r.records = make(map[string]model.InventoryRecord)
	return n, nil
}

func (r *memRepo) GetStats(context.Context) (map[string]interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]interface{}{"total_records": len(r.records)}, nil
}

func (r *memRepo) Close() error { return nil }

func (r *memRepo) findCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finds
}

func TestInventoryService_GetBySKU_CachesHits(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	c := cache.NewMemoryCache(0)
	defer c.Close()
	svc := NewInventoryService(repo, c, time.Minute, nil)

	require.NoError(t, svc.Upsert(ctx, model.InventoryRecord{SKU: "A", Name: "Shirt 2024"}))

	for i := 0; i < 3; i++ {
		rec, err := svc.GetBySKU(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, "Shirt 2024", rec.Name)
	}
	assert.Equal(t, 1, repo.findCount())
}

func TestInventoryService_UpsertEvictsCache(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	c := cache.NewMemoryCache(0)
	defer c.Close()
	svc := NewInventoryService(repo, c, time.Minute, nil)

	require.NoError(t, svc.Upsert(ctx, model.InventoryRecord{SKU: "A", Locations: []model.Location{{Location: "Main", Stock: 1}}}))
	_, err := svc.GetBySKU(ctx, "A")
	require.NoError(t, err)

	require.NoError(t, svc.Upsert(ctx, model.InventoryRecord{SKU: "A", Locations: []model.Location{{Location: "Main", Stock: 9}}}))
	rec, err := svc.GetBySKU(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 9, rec.TotalStock())
}

func TestInventoryService_GetBySKU_NotFound(t *testing.T) {
	c := cache.NewMemoryCache(0)
	defer c.Close()
	svc := NewInventoryService(newMemRepo(), c, time.Minute, nil)

	_, err := svc.GetBySKU(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSKUNotFound)
	assert.Equal(t, 0, c.Len())
}

func TestInventoryService_WithoutCache(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := NewInventoryService(repo, nil, time.Minute, nil)

	require.NoError(t, svc.Upsert(ctx, model.InventoryRecord{SKU: "A"}))
	_, err := svc.GetBySKU(ctx, "A")
	require.NoError(t, err)
	_, err = svc.GetBySKU(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.findCount())
}

func TestInventoryService_Clear(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	c := cache.NewMemoryCache(0)
	defer c.Close()
	svc := NewInventoryService(repo, c, time.Minute, nil)

	require.NoError(t, svc.Upsert(ctx, model.InventoryRecord{SKU: "A"}))
	require.NoError(t, svc.Upsert(ctx, model.InventoryRecord{SKU: "B"}))
	_, _ = svc.GetBySKU(ctx, "A")

	n, err := svc.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 0, c.Len())

	_, err = svc.GetBySKU(ctx, "A")
	assert.ErrorIs(t, err, ErrSKUNotFound)
}

func TestNewInventoryService_NilRepo(t *testing.T) {
	assert.Nil(t, NewInventoryService(nil, nil, 0, nil))
}
