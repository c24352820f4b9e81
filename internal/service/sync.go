package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"stocksync-api/internal/inventory"
	"stocksync-api/internal/lightspeed"
	"stocksync-api/internal/logger"
	"stocksync-api/internal/metrics"
	"stocksync-api/internal/model"
	"stocksync-api/internal/repository"
	"stocksync-api/pkg/uid"
)

// ErrSyncInProgress is returned when a run is requested while another is active.
var ErrSyncInProgress = errors.New("sync already in progress")

// ItemSource fetches the upstream item collection.
type ItemSource interface {
	FetchAll(ctx context.Context, opts lightspeed.FetchOptions) ([]model.RawItem, error)
}

// Reconciler writes normalized records into one target.
type Reconciler interface {
	Reconcile(ctx context.Context, records []model.InventoryRecord) (*model.ReconcileResult, error)
}

// RecordLister reads back every stored record.
type RecordLister interface {
	ListAll(ctx context.Context) ([]model.InventoryRecord, error)
}

// SyncConfig holds pipeline settings.
type SyncConfig struct {
	// Stream names the cursor used for incremental runs.
	Stream string
}

// SyncService runs the fetch, filter, normalize, reconcile pipeline.
// At most one run is active at a time.
type SyncService struct {
	source   ItemSource
	filter   *inventory.Filter
	store    Reconciler
	platform Reconciler
	stored   RecordLister
	cursors  repository.CursorRepository
	config   SyncConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	running atomic.Bool
	mu      sync.RWMutex
	last    *model.SyncReport
}

// NewSyncService creates a SyncService. platform and cursors may be nil:
// a nil platform skips the second target, nil cursors forces full runs.
// stored is required when platform is set; incremental runs reconcile the
// platform against the whole stored inventory, since a platform key may sum
// several SKUs.
func NewSyncService(
	source ItemSource,
	filter *inventory.Filter,
	store Reconciler,
	platform Reconciler,
	stored RecordLister,
	cursors repository.CursorRepository,
	cfg SyncConfig,
	log *zap.Logger,
	m *metrics.Metrics,
) *SyncService {
	if cfg.Stream == "" {
		cfg.Stream = "items"
	}
	return &SyncService{
		source:   source,
		filter:   filter,
		store:    store,
		platform: platform,
		stored:   stored,
		cursors:  cursors,
		config:   cfg,
		logger:   logger.OrNop(log).Named("sync"),
		metrics:  m,
		now:      time.Now,
	}
}

// RunOptions controls a single run.
type RunOptions struct {
	// Incremental restricts the fetch to items changed since the stored cursor.
	Incremental bool
}

// Running reports whether a run is active.
func (s *SyncService) Running() bool {
	return s.running.Load()
}

// LastReport returns the report of the most recent finished run, or nil.
func (s *SyncService) LastReport() *model.SyncReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Run executes one sync. A fetch failure aborts the run before anything is
// written. Per-record write failures do not abort; they are listed in the
// report and mark it partial. The cursor advances to the run's start time
// only after a run with no failures.
func (s *SyncService) Run(ctx context.Context, opts RunOptions) (*model.SyncReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer s.running.Store(false)

	started := s.now().UTC()
	report := &model.SyncReport{
		RunID:       uid.NewOrdered(),
		Incremental: opts.Incremental,
		StartedAt:   started,
	}
	log := s.logger.With(zap.String("run_id", report.RunID))

	err := s.run(ctx, log, opts, report)

	report.FinishedAt = s.now().UTC()
	switch {
	case err != nil:
		report.Status = model.SyncStatusFailed
		report.Error = err.Error()
	case failures(report) > 0:
		report.Status = model.SyncStatusPartial
	default:
		report.Status = model.SyncStatusSuccess
	}
	elapsed := report.FinishedAt.Sub(started)
	s.metrics.SyncRun(report.Status, elapsed)

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	fields := []zap.Field{
		zap.String("status", report.Status),
		zap.Bool("incremental", report.Incremental),
		zap.Int("fetched", report.Fetched),
		zap.Int("included", report.Included),
		zap.Int("failed", failures(report)),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		log.Error("sync run failed", append(fields, zap.Error(err))...)
		return report, err
	}
	log.Info("sync run finished", fields...)
	return report, nil
}

func (s *SyncService) run(ctx context.Context, log *zap.Logger, opts RunOptions, report *model.SyncReport) error {
	if opts.Incremental {
		since, err := s.since(ctx)
		if err != nil {
			return err
		}
		report.Since = since
		if since == nil {
			log.Info("no stored cursor, running full sync")
		}
	}

	items, err := s.source.FetchAll(ctx, lightspeed.FetchOptions{Since: report.Since})
	if err != nil {
		return fmt.Errorf("fetch items: %w", err)
	}
	report.Fetched = len(items)

	records := s.filter.Apply(items, inventory.Normalizer(report.StartedAt))
	report.Included = len(records)
	log.Debug("items normalized", zap.Int("fetched", report.Fetched), zap.Int("included", report.Included))

	report.Store, err = s.store.Reconcile(ctx, records)
	if err != nil {
		return fmt.Errorf("reconcile store: %w", err)
	}

	if s.platform != nil {
		platformRecords := records
		if report.Since != nil {
			platformRecords, err = s.withStored(ctx, records)
			if err != nil {
				return err
			}
		}
		report.Platform, err = s.platform.Reconcile(ctx, platformRecords)
		if err != nil {
			return fmt.Errorf("reconcile platform: %w", err)
		}
	}

	if failures(report) > 0 || s.cursors == nil {
		return nil
	}
	cursor := model.SyncCursor{Stream: s.config.Stream, LastSyncTimestamp: report.StartedAt}
	if err := s.cursors.SaveCursor(ctx, cursor); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// withStored overlays this run's records on the stored inventory so the
// platform sees unchanged SKUs too. Run records win over stored ones, which
// also covers SKUs whose store write failed.
func (s *SyncService) withStored(ctx context.Context, records []model.InventoryRecord) ([]model.InventoryRecord, error) {
	if s.stored == nil {
		return nil, errors.New("incremental platform sync needs the stored inventory")
	}
	stored, err := s.stored.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stored inventory: %w", err)
	}

	fresh := make(map[string]struct{}, len(records))
	for _, rec := range records {
		fresh[rec.SKU] = struct{}{}
	}
	merged := make([]model.InventoryRecord, 0, len(stored)+len(records))
	for _, rec := range stored {
		if _, ok := fresh[rec.SKU]; !ok {
			merged = append(merged, rec)
		}
	}
	return append(merged, records...), nil
}

func (s *SyncService) since(ctx context.Context) (*time.Time, error) {
	if s.cursors == nil {
		return nil, nil
	}
	cursor, err := s.cursors.GetCursor(ctx, s.config.Stream)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}
	t := cursor.LastSyncTimestamp.UTC()
	return &t, nil
}

func failures(r *model.SyncReport) int {
	n := 0
	if r.Store != nil {
		n += len(r.Store.Failed)
	}
	if r.Platform != nil {
		n += len(r.Platform.Failed)
	}
	return n
}
