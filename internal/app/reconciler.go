/**
 * @description
 * Cron-driven settlement reconciler. In-process timers do not survive a
 * restart, so a periodic sweep finalizes PENDING transfers whose grace window
 * elapsed without a timer firing. Settlement is idempotent against terminal
 * statuses, so the sweep and a live timer can never double-apply.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: Cron scheduling with panic recovery.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/NaKyoo/bank-project/internal/store"
)

const reconcileBatchLimit = 100

// SettlementReconciler periodically settles overdue pending transfers.
type SettlementReconciler struct {
	cron      *cron.Cron
	repo      store.Repository
	scheduler *SettlementScheduler
	schedule  string
	window    time.Duration
}

// NewSettlementReconciler creates a reconciler with the given cron schedule
// (e.g. "@every 1m").
func NewSettlementReconciler(repo store.Repository, scheduler *SettlementScheduler, schedule string, graceWindow time.Duration) *SettlementReconciler {
	cronLogger := cron.PrintfLogger(log.Default())
	return &SettlementReconciler{
		cron:      cron.New(cron.WithChain(cron.Recover(cronLogger))),
		repo:      repo,
		scheduler: scheduler,
		schedule:  schedule,
		window:    graceWindow,
	}
}

// Start registers the sweep job and starts the cron loop.
func (r *SettlementReconciler) Start() error {
	if _, err := r.cron.AddFunc(r.schedule, r.run); err != nil {
		return err
	}
	r.cron.Start()
	log.Printf("level=info component=reconciler msg=\"overdue-transfer sweep scheduled\" schedule=%q", r.schedule)
	return nil
}

// Stop stops the cron loop and waits for a running sweep to finish.
func (r *SettlementReconciler) Stop() {
	<-r.cron.Stop().Done()
}

func (r *SettlementReconciler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-r.window)
	ids, err := r.repo.ListOverduePendingTransferIDs(ctx, cutoff, reconcileBatchLimit)
	if err != nil {
		log.Printf("level=error component=reconciler msg=\"overdue transfer query failed\" err=%v", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	log.Printf("level=info component=reconciler msg=\"settling overdue transfers\" count=%d", len(ids))
	for _, id := range ids {
		r.scheduler.SettleNow(ctx, id)
	}
}
