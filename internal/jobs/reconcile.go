// Package jobs runs scheduled maintenance.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/iliyamo/eduvault/internal/service"
)

// Reconciler is the part of the ledger the job drives.
type Reconciler interface {
	Reconcile(ctx context.Context) (service.ReconcileReport, error)
}

// Scheduler wraps a cron runner.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger
}

// NewReconcileScheduler schedules r on spec (standard cron syntax or a
// descriptor such as "@hourly").  Each run is bounded by timeout.  Overlapping
// runs are skipped.
func NewReconcileScheduler(spec string, r Reconciler, timeout time.Duration, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() { RunReconcile(r, timeout, log) })
	if err != nil {
		return nil, err
	}
	return &Scheduler{cron: c, log: log}, nil
}

// RunReconcile performs one reconciliation and logs its outcome.
func RunReconcile(r Reconciler, timeout time.Duration, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	start := time.Now()
	report, err := r.Reconcile(ctx)
	if err != nil {
		log.Error("reconcile failed", "err", err)
		return
	}
	log.Info("reconcile finished",
		"findings", len(report.Findings),
		"removed_orphans", report.RemovedOrphans,
		"took", time.Since(start).String())
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for a running job to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("reconcile scheduler: stop timed out")
	}
}
