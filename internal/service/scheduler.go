package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"stocksync-api/internal/logger"
	"stocksync-api/internal/model"
)

// SyncRunner is the part of SyncService the scheduler drives.
type SyncRunner interface {
	Run(ctx context.Context, opts RunOptions) (*model.SyncReport, error)
}

// SchedulerConfig holds configuration for the sync scheduler.
type SchedulerConfig struct {
	// Interval is how often a run is started. Zero disables the ticker.
	Interval time.Duration

	// RunOnStartup starts one run as soon as the scheduler starts.
	RunOnStartup bool

	// RunTimeout bounds a single run.
	// Default: 20 minutes
	RunTimeout time.Duration

	// Incremental selects incremental runs.
	Incremental bool
}

// SyncScheduler runs periodic syncs.
type SyncScheduler struct {
	runner    SyncRunner
	config    SchedulerConfig
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// NewSyncScheduler creates a new sync scheduler.
func NewSyncScheduler(runner SyncRunner, config SchedulerConfig, log *zap.Logger) *SyncScheduler {
	if config.RunTimeout == 0 {
		config.RunTimeout = 20 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SyncScheduler{
		runner: runner,
		config: config,
		logger: logger.OrNop(log).Named("scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the sync scheduler.
func (s *SyncScheduler) Start() {
	s.mu.Lock()
	if s.isRunning || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.logger.Info("scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Bool("run_on_startup", s.config.RunOnStartup),
		zap.Bool("incremental", s.config.Incremental))

	if s.config.RunOnStartup {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runSync()
		}()
	}

	if s.config.Interval > 0 {
		s.wg.Add(1)
		go s.run()
	}
}

// run is the main scheduling loop.
func (s *SyncScheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runSync()
		case <-s.ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		}
	}
}

// runSync performs one scheduled run.
func (s *SyncScheduler) runSync() {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.RunTimeout)
	defer cancel()

	_, err := s.runner.Run(ctx, RunOptions{Incremental: s.config.Incremental})
	switch {
	case errors.Is(err, ErrSyncInProgress):
		s.logger.Info("skipping scheduled run, another run is active")
	case err != nil:
		// SyncService already logged the run summary.
		s.logger.Debug("scheduled run failed", zap.Error(err))
	}
}

// Stop cancels any in-flight scheduled run and waits for it to return.
func (s *SyncScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.cancel()
		s.wg.Wait()
	})
}

// RunNow triggers an immediate run outside the schedule.
func (s *SyncScheduler) RunNow(ctx context.Context) (*model.SyncReport, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()

	return s.runner.Run(ctx, RunOptions{Incremental: s.config.Incremental})
}
