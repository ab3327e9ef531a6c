// Package backlog runs the periodic reconciliation sweep. Completion events
// can be missed (consumer downtime, retro-active grade changes, criteria
// edited after completions happened); the sweep re-reviews everything so
// eventually-correct issuance does not depend on perfect event delivery.
package backlog

import (
	"context"
	"log/slog"
	"time"

	"openbadger/internal/criteria"
	"openbadger/internal/criteria/metrics"
	"openbadger/internal/issuance"
)

// Sweeper is the piece of the review service the worker drives.
type Sweeper interface {
	RunBacklog(ctx context.Context, criterion criteria.Criterion) (issuance.Result, error)
}

// Worker sweeps all criteria on an interval and prunes orphans afterwards.
type Worker struct {
	store    criteria.Store
	sweeper  Sweeper
	interval time.Duration
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewWorker(store criteria.Store, sweeper Sweeper, interval time.Duration, m *metrics.Metrics, log *slog.Logger) *Worker {
	return &Worker{store: store, sweeper: sweeper, interval: interval, metrics: m, log: log}
}

// Run sweeps on the configured interval until the context is cancelled. The
// first sweep starts one full interval after startup so a crash-looping
// process does not hammer the issuer.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep reviews every criterion's backlog. Failures are logged and skipped:
// one criterion's broken facts must not starve the rest, and the next sweep
// retries anyway.
func (w *Worker) Sweep(ctx context.Context) {
	start := time.Now()

	all, err := w.store.ListAll(ctx)
	if err != nil {
		w.log.Error("backlog sweep could not list criteria", "error", err)
		return
	}
	w.metrics.ObserveSweepSize(len(all))

	var issued int
	for _, criterion := range all {
		if ctx.Err() != nil {
			return
		}
		result, err := w.sweeper.RunBacklog(ctx, criterion)
		if err != nil {
			w.log.Error("backlog sweep failed for criterion",
				"criterion_id", criterion.ID, "error", err)
			continue
		}
		if result.Issued {
			issued += len(result.Resolved)
		}
	}

	pruned, err := w.store.PruneOrphaned(ctx)
	if err != nil {
		w.log.Error("orphan prune failed", "error", err)
	}

	w.log.Info("backlog sweep finished",
		"criteria", len(all),
		"issued", issued,
		"pruned", pruned,
		"duration", time.Since(start))
}
