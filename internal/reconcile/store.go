package reconcile

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stocksync-api/internal/logger"
	"stocksync-api/internal/metrics"
	"stocksync-api/internal/model"
)

// Store accepts full-document upserts keyed by SKU.
type Store interface {
	Upsert(ctx context.Context, record model.InventoryRecord) error
}

// StoreReconciler upserts every record into a Store with a fixed worker budget.
type StoreReconciler struct {
	store   Store
	workers int
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewStoreReconciler creates a StoreReconciler.
func NewStoreReconciler(store Store, workers int, log *zap.Logger, m *metrics.Metrics) *StoreReconciler {
	if workers <= 0 {
		workers = 1
	}
	return &StoreReconciler{
		store:   store,
		workers: workers,
		logger:  logger.OrNop(log).Named("reconcile.store"),
		metrics: m,
	}
}

// Reconcile upserts records. Records without a SKU, and earlier duplicates
// of a SKU, are skipped. Write failures are collected in Failed; the only
// returned error is context cancellation.
func (r *StoreReconciler) Reconcile(ctx context.Context, records []model.InventoryRecord) (*model.ReconcileResult, error) {
	res := newResult()

	latest := make(map[string]int, len(records))
	for i, rec := range records {
		if rec.SKU == "" {
			res.Skipped++
			continue
		}
		if _, dup := latest[rec.SKU]; dup {
			res.Skipped++
		}
		latest[rec.SKU] = i
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(r.workers)

	for i, rec := range records {
		if rec.SKU == "" || latest[rec.SKU] != i {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := r.store.Upsert(ctx, rec)
			r.metrics.ReconcileWrite(metrics.TargetStore, err == nil)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				we := &WriteError{Key: rec.SKU, Err: err}
				r.logger.Warn("upsert failed", zap.String("sku", rec.SKU), zap.Error(err))
				res.Failed = append(res.Failed, we.failure())
				return nil
			}
			res.Upserted++
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return res, err
	}

	r.logger.Info("store reconciled",
		zap.Int("upserted", res.Upserted),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", len(res.Failed)))
	return res, nil
}
