package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocksync-api/internal/inventory"
	"stocksync-api/internal/lightspeed"
	"stocksync-api/internal/model"
	"stocksync-api/internal/reconcile"
	"stocksync-api/internal/repository"
	"stocksync-api/pkg/uid"
)

type fakeSource struct {
	mu    sync.Mutex
	items []model.RawItem
	err   error
	opts  []lightspeed.FetchOptions
	block chan struct{}
}

func (f *fakeSource) FetchAll(ctx context.Context, opts lightspeed.FetchOptions) ([]model.RawItem, error) {
	f.mu.Lock()
	f.opts = append(f.opts, opts)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.items, f.err
}

func (f *fakeSource) calls() []lightspeed.FetchOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]lightspeed.FetchOptions(nil), f.opts...)
}

type memCursors struct {
	mu      sync.Mutex
	cursors map[string]model.SyncCursor
}

func newMemCursors() *memCursors {
	return &memCursors{cursors: make(map[string]model.SyncCursor)}
}

func (m *memCursors) GetCursor(_ context.Context, stream string) (*model.SyncCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[stream]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (m *memCursors) SaveCursor(_ context.Context, c model.SyncCursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[c.Stream] = c
	return nil
}

type stubReconciler struct {
	result *model.ReconcileResult
	err    error
	seen   int
}

func (s *stubReconciler) Reconcile(_ context.Context, records []model.InventoryRecord) (*model.ReconcileResult, error) {
	s.seen = len(records)
	return s.result, s.err
}

// memTarget is a platform holding one stock value per key.
type memTarget struct {
	mu     sync.Mutex
	values map[string]int
}

func (m *memTarget) ListEntries(context.Context) ([]model.TargetEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]model.TargetEntry, 0, len(m.values))
	for k, v := range m.values {
		entries = append(entries, model.TargetEntry{Key: k, CurrentValue: v})
	}
	return entries, nil
}

func (m *memTarget) SetStock(_ context.Context, e model.TargetEntry, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[e.Key] = value
	return nil
}

func (m *memTarget) value(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key]
}

func item(sku, desc string, qoh string) model.RawItem {
	return model.RawItem{
		CustomSKU:   sku,
		Description: desc,
		ItemShops: &model.RawItemShops{ItemShop: model.OneOrMany[model.RawItemShop]{
			{ShopID: "1", QOH: []byte(qoh), Shop: &model.RawShop{Name: "Main"}},
		}},
	}
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSync(t *testing.T, src ItemSource, store *memRepo, platform Reconciler, cursors repository.CursorRepository) *SyncService {
	t.Helper()
	filter, err := inventory.NewFilter("2024|2025")
	require.NoError(t, err)
	svc := NewSyncService(src, filter, reconcile.NewStoreReconciler(store, 4, nil, nil), platform, store, cursors, SyncConfig{Stream: "items"}, nil, nil)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func TestSyncService_FullRun(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{items: []model.RawItem{
		item("A", "Shirt 2024", `"5"`),
		item("B", "Old Shirt 2019", `"7"`),
		item("C", "Hat 2025", `3`),
	}}
	repo := newMemRepo()
	cursors := newMemCursors()
	svc := newTestSync(t, src, repo, nil, cursors)

	report, err := svc.Run(ctx, RunOptions{})
	require.NoError(t, err)

	assert.True(t, uid.IsValid(report.RunID))
	assert.Equal(t, model.SyncStatusSuccess, report.Status)
	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 2, report.Included)
	assert.Equal(t, 2, report.Store.Upserted)
	assert.Nil(t, report.Platform)
	assert.Nil(t, src.calls()[0].Since)

	rec, err := repo.FindBySKU(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 5, rec.TotalStock())
	assert.Equal(t, fixedNow, rec.SyncedAt)

	cur, err := cursors.GetCursor(ctx, "items")
	require.NoError(t, err)
	assert.Equal(t, fixedNow, cur.LastSyncTimestamp)
	assert.Same(t, report, svc.LastReport())
}

func TestSyncService_IncrementalUsesCursor(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	cursors := newMemCursors()
	prev := fixedNow.Add(-time.Hour)
	require.NoError(t, cursors.SaveCursor(ctx, model.SyncCursor{Stream: "items", LastSyncTimestamp: prev}))
	svc := newTestSync(t, src, newMemRepo(), nil, cursors)

	report, err := svc.Run(ctx, RunOptions{Incremental: true})
	require.NoError(t, err)

	require.NotNil(t, src.calls()[0].Since)
	assert.Equal(t, prev, *src.calls()[0].Since)
	assert.Equal(t, prev, *report.Since)

	cur, _ := cursors.GetCursor(ctx, "items")
	assert.Equal(t, fixedNow, cur.LastSyncTimestamp)
}

func TestSyncService_IncrementalWithoutCursorRunsFull(t *testing.T) {
	src := &fakeSource{}
	svc := newTestSync(t, src, newMemRepo(), nil, newMemCursors())

	_, err := svc.Run(context.Background(), RunOptions{Incremental: true})
	require.NoError(t, err)
	assert.Nil(t, src.calls()[0].Since)
}

func TestSyncService_FetchFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{items: []model.RawItem{item("A", "Shirt 2024", `1`)}, err: errors.New("page 3 failed")}
	repo := newMemRepo()
	cursors := newMemCursors()
	svc := newTestSync(t, src, repo, nil, cursors)

	report, err := svc.Run(ctx, RunOptions{})
	require.Error(t, err)
	assert.Equal(t, model.SyncStatusFailed, report.Status)
	assert.Contains(t, report.Error, "page 3 failed")
	assert.Nil(t, report.Store)

	_, err = repo.FindBySKU(ctx, "A")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = cursors.GetCursor(ctx, "items")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSyncService_PartialRunKeepsCursor(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{items: []model.RawItem{
		item("A", "Shirt 2024", `1`),
		item("B", "Shirt 2024", `2`),
	}}
	repo := newMemRepo()
	repo.failOn = "B"
	cursors := newMemCursors()
	svc := newTestSync(t, src, repo, nil, cursors)

	report, err := svc.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusPartial, report.Status)
	assert.Equal(t, 1, report.Store.Upserted)
	require.Len(t, report.Store.Failed, 1)
	assert.Equal(t, "B", report.Store.Failed[0].Key)

	_, err = cursors.GetCursor(ctx, "items")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSyncService_PlatformFailuresMarkPartial(t *testing.T) {
	src := &fakeSource{items: []model.RawItem{item("A", "Shirt 2024", `1`)}}
	platform := &stubReconciler{result: &model.ReconcileResult{
		Failed: []model.ReconcileFailure{{Key: "A", Error: "boom"}},
	}}
	svc := newTestSync(t, src, newMemRepo(), platform, newMemCursors())

	report, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, platform.seen)
	assert.Equal(t, model.SyncStatusPartial, report.Status)
}

func TestSyncService_IncrementalPlatformSumsStoredSKUs(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{items: []model.RawItem{
		item("ABC-S", "Tee 2024", `5`),
		item("ABC-M", "Tee 2024", `7`),
	}}
	target := &memTarget{values: map[string]int{"ABC": 0}}
	platform := reconcile.NewPlatformReconciler(target, reconcile.PrefixBefore("-"), 2, nil, nil)
	svc := newTestSync(t, src, newMemRepo(), platform, newMemCursors())

	_, err := svc.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 12, target.value("ABC"))

	// Only ABC-S changed since the cursor.
	src.items = []model.RawItem{item("ABC-S", "Tee 2024", `6`)}
	report, err := svc.Run(ctx, RunOptions{Incremental: true})
	require.NoError(t, err)
	require.NotNil(t, report.Since)
	assert.Equal(t, model.SyncStatusSuccess, report.Status)
	assert.Equal(t, 13, target.value("ABC"))
}

func TestSyncService_IncrementalPlatformNeedsStoredInventory(t *testing.T) {
	ctx := context.Background()
	cursors := newMemCursors()
	require.NoError(t, cursors.SaveCursor(ctx, model.SyncCursor{Stream: "items", LastSyncTimestamp: fixedNow.Add(-time.Hour)}))
	filter, err := inventory.NewFilter("")
	require.NoError(t, err)
	src := &fakeSource{items: []model.RawItem{item("A", "Shirt", `1`)}}
	svc := NewSyncService(src, filter, reconcile.NewStoreReconciler(newMemRepo(), 1, nil, nil),
		&stubReconciler{result: &model.ReconcileResult{}}, nil, cursors, SyncConfig{}, nil, nil)

	report, err := svc.Run(ctx, RunOptions{Incremental: true})
	require.Error(t, err)
	assert.Equal(t, model.SyncStatusFailed, report.Status)
}

func TestSyncService_PlatformListFailureFailsRun(t *testing.T) {
	src := &fakeSource{items: []model.RawItem{item("A", "Shirt 2024", `1`)}}
	platform := &stubReconciler{err: errors.New("list failed")}
	svc := newTestSync(t, src, newMemRepo(), platform, newMemCursors())

	report, err := svc.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.Equal(t, model.SyncStatusFailed, report.Status)
	assert.Equal(t, 1, report.Store.Upserted)
}

func TestSyncService_RejectsConcurrentRun(t *testing.T) {
	src := &fakeSource{block: make(chan struct{})}
	svc := newTestSync(t, src, newMemRepo(), nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Run(context.Background(), RunOptions{})
		done <- err
	}()

	require.Eventually(t, svc.Running, time.Second, 5*time.Millisecond)
	_, err := svc.Run(context.Background(), RunOptions{})
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(src.block)
	require.NoError(t, <-done)
	assert.False(t, svc.Running())
}
