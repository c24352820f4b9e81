package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stocksync-api/internal/cache"
	"stocksync-api/internal/logger"
	"stocksync-api/internal/model"
	"stocksync-api/internal/repository"
)

// ErrSKUNotFound is returned when no record exists for a SKU.
var ErrSKUNotFound = errors.New("sku not found")

// InventoryService serves SKU lookups from the inventory store through a
// read cache, and is the write path the store reconciler upserts into.
type InventoryService struct {
	repo   repository.InventoryRepository
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewInventoryService creates a new inventory service.
// Returns nil if repo is nil (required dependency). A nil cache disables caching.
func NewInventoryService(repo repository.InventoryRepository, c cache.Cache, ttl time.Duration, log *zap.Logger) *InventoryService {
	if repo == nil {
		return nil
	}
	return &InventoryService{
		repo:   repo,
		cache:  c,
		ttl:    ttl,
		logger: logger.OrNop(log).Named("inventory"),
	}
}

// GetBySKU returns the stored record for sku, or ErrSKUNotFound.
func (s *InventoryService) GetBySKU(ctx context.Context, sku string) (*model.InventoryRecord, error) {
	if s.cache == nil {
		return s.find(ctx, sku)
	}

	raw, err := s.cache.GetOrSet(ctx, cacheKey(sku), s.ttl, func() ([]byte, error) {
		rec, err := s.find(ctx, sku)
		if err != nil {
			return nil, err
		}
		return json.Marshal(rec)
	})
	if err != nil {
		return nil, err
	}

	var rec model.InventoryRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		// Corrupt entry: drop it and read through.
		s.logger.Warn("discarding undecodable cache entry", zap.String("sku", sku), zap.Error(err))
		_ = s.cache.Delete(ctx, cacheKey(sku))
		return s.find(ctx, sku)
	}
	return &rec, nil
}

func (s *InventoryService) find(ctx context.Context, sku string) (*model.InventoryRecord, error) {
	rec, err := s.repo.FindBySKU(ctx, sku)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSKUNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %q: %w", sku, err)
	}
	return rec, nil
}

// Upsert replaces the stored record and evicts its cache entry.
func (s *InventoryService) Upsert(ctx context.Context, record model.InventoryRecord) error {
	if err := s.repo.Upsert(ctx, record); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cacheKey(record.SKU)); err != nil {
			s.logger.Warn("cache eviction failed", zap.String("sku", record.SKU), zap.Error(err))
		}
	}
	return nil
}

// ListAll returns every stored record, bypassing the cache.
func (s *InventoryService) ListAll(ctx context.Context) ([]model.InventoryRecord, error) {
	return s.repo.ListAll(ctx)
}

// Stats returns inventory store statistics.
func (s *InventoryService) Stats(ctx context.Context) (map[string]interface{}, error) {
	return s.repo.GetStats(ctx)
}

// Clear deletes every stored record and empties the cache.
func (s *InventoryService) Clear(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteAll(ctx)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		if err := s.cache.Clear(ctx); err != nil {
			return n, fmt.Errorf("clear cache: %w", err)
		}
	}
	s.logger.Info("inventory cleared", zap.Int64("deleted", n))
	return n, nil
}

func cacheKey(sku string) string {
	return "sku:" + sku
}
