// Package housekeeping runs exactly two in-process cron jobs: pruning stale
// Run Store entries and logging dependent-client pool size. It is
// deliberately narrow — it schedules internal maintenance only, never task
// execution, which would be the "cross-process task scheduling" spec.md
// lists as a Non-goal.
package housekeeping

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/swarmguard/artemis/internal/depclient"
	"github.com/swarmguard/artemis/internal/runstore"
)

// Scheduler wraps a *cron.Cron running the housekeeping jobs.
type Scheduler struct {
	cron      *cron.Cron
	store     *runstore.Store
	retention time.Duration
	logger    *slog.Logger
}

// New builds a scheduler that prunes runstore entries older than retention
// every hour and logs the dependent-client pool size every 5 minutes.
func New(store *runstore.Store, retention time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cron:      cron.New(cron.WithSeconds()),
		store:     store,
		retention: retention,
		logger:    logger,
	}
	_, _ = s.cron.AddFunc("0 0 * * * *", s.pruneRunStore)
	_, _ = s.cron.AddFunc("0 */5 * * * *", s.logPoolSize)
	return s
}

// Start begins running the scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("housekeeping_started")
}

// Stop waits for in-flight jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.logger.Info("housekeeping_stopped")
	case <-ctx.Done():
		s.logger.Warn("housekeeping_stop_timeout")
	}
}

func (s *Scheduler) pruneRunStore() {
	if s.store == nil || s.retention <= 0 {
		return
	}
	n, err := s.store.PruneOlderThan(time.Now().Add(-s.retention))
	if err != nil {
		s.logger.Error("housekeeping_prune_failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("housekeeping_pruned", "count", n)
	}
}

func (s *Scheduler) logPoolSize() {
	s.logger.Info("housekeeping_pool_size", "size", depclient.PoolSize())
}
