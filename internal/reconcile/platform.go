package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stocksync-api/internal/logger"
	"stocksync-api/internal/metrics"
	"stocksync-api/internal/model"
)

// Target is a second commerce platform holding per-key stock values.
type Target interface {
	// ListEntries returns every stock-carrying entry, traversing all pages.
	ListEntries(ctx context.Context) ([]model.TargetEntry, error)
	// SetStock writes value to entry.
	SetStock(ctx context.Context, entry model.TargetEntry, value int) error
}

// PlatformReconciler diffs aggregate stock against a Target and writes only changed values.
type PlatformReconciler struct {
	target    Target
	transform KeyTransform
	workers   int
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewPlatformReconciler creates a PlatformReconciler. A nil transform means SameKey.
func NewPlatformReconciler(target Target, transform KeyTransform, workers int, log *zap.Logger, m *metrics.Metrics) *PlatformReconciler {
	if transform == nil {
		transform = SameKey
	}
	if workers <= 0 {
		workers = 1
	}
	return &PlatformReconciler{
		target:    target,
		transform: transform,
		workers:   workers,
		logger:    logger.OrNop(log).Named("reconcile.platform"),
		metrics:   m,
	}
}

type stockUpdate struct {
	entry model.TargetEntry
	value int
}

// Reconcile lists the target, then writes every matched key whose summed
// stock differs from the target's value. Unmatched records are skipped.
// Listing failures and cancellation are returned as errors; write failures
// are collected in Failed.
func (r *PlatformReconciler) Reconcile(ctx context.Context, records []model.InventoryRecord) (*model.ReconcileResult, error) {
	entries, err := r.target.ListEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list target entries: %w", err)
	}

	index := make(map[string]model.TargetEntry, len(entries))
	for _, e := range entries {
		key := strings.TrimSpace(e.Key)
		if key == "" {
			continue
		}
		e.Key = key
		if prev, ok := index[key]; ok {
			r.logger.Warn("duplicate target key, only the last entry is updated",
				zap.String("key", key),
				zap.Int64("ignored_variant_id", prev.VariantID),
				zap.Int64("variant_id", e.VariantID))
		}
		index[key] = e
	}

	res := newResult()
	desired := make(map[string]int)
	var order []string
	for _, rec := range records {
		key := r.transform(rec.SKU)
		if _, ok := index[key]; key == "" || !ok {
			res.Skipped++
			continue
		}
		if _, ok := desired[key]; !ok {
			order = append(order, key)
		}
		desired[key] += rec.TotalStock()
	}

	var updates []stockUpdate
	for _, key := range order {
		entry := index[key]
		if entry.CurrentValue == desired[key] {
			res.Skipped++
			continue
		}
		updates = append(updates, stockUpdate{entry: entry, value: desired[key]})
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(r.workers)
	for _, u := range updates {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := r.target.SetStock(ctx, u.entry, u.value)
			r.metrics.ReconcileWrite(metrics.TargetPlatform, err == nil)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				we := &WriteError{Key: u.entry.Key, Err: err}
				r.logger.Warn("stock update failed", zap.String("key", u.entry.Key), zap.Error(err))
				res.Failed = append(res.Failed, we.failure())
				return nil
			}
			r.logger.Debug("stock updated",
				zap.String("key", u.entry.Key),
				zap.Int("from", u.entry.CurrentValue),
				zap.Int("to", u.value))
			res.Upserted++
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return res, err
	}

	r.logger.Info("platform reconciled",
		zap.Int("entries", len(index)),
		zap.Int("updated", res.Upserted),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", len(res.Failed)))
	return res, nil
}
