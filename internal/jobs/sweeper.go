package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/pantypostorganisation/pantypost-sub009/internal/config"
	"github.com/pantypostorganisation/pantypost-sub009/internal/engine"
	"github.com/pantypostorganisation/pantypost-sub009/internal/models"
	"github.com/pantypostorganisation/pantypost-sub009/internal/repository"
)

// Scheduler runs the wallet's background jobs: failing stale pending
// transactions and the nightly reconciliation pass.
type Scheduler struct {
	ledger     repository.LedgerRepository
	reconciler *engine.Reconciler
	limits     config.LimitsConfig
	monitoring config.MonitoringConfig
	log        *logrus.Logger
	cron       *cron.Cron
}

// NewScheduler wires the background jobs.
func NewScheduler(
	ledger repository.LedgerRepository,
	reconciler *engine.Reconciler,
	limits config.LimitsConfig,
	monitoring config.MonitoringConfig,
	log *logrus.Logger,
) *Scheduler {
	return &Scheduler{
		ledger:     ledger,
		reconciler: reconciler,
		limits:     limits,
		monitoring: monitoring,
		log:        log,
		cron:       cron.New(),
	}
}

// Start registers and launches the jobs.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.monitoring.SweepSchedule, s.sweepStalePending); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.monitoring.ReconcileSchedule, s.reconcileBatch); err != nil {
		return err
	}
	s.cron.Start()
	s.log.WithFields(logrus.Fields{
		"sweep":     s.monitoring.SweepSchedule,
		"reconcile": s.monitoring.ReconcileSchedule,
	}).Info("Background jobs scheduled")
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// sweepStalePending fails transactions that sat pending past the age limit.
// A transaction only stays pending this long when its operation died
// mid-flight, so after marking it failed the orphaned holds on the touched
// accounts are released. Settled balances are left alone; those
// discrepancies surface in the reconciliation report for an admin
// adjustment.
func (s *Scheduler) sweepStalePending() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-s.limits.PendingMaxAge)
	txs, err := s.ledger.ListTransactions(ctx, repository.TransactionFilter{
		Status: models.StatusPending,
		Until:  cutoff,
	})
	if err != nil {
		s.log.WithError(err).Error("Stale pending sweep failed to list transactions")
		return
	}
	if len(txs) == 0 {
		return
	}

	repaired := make(map[string]bool)
	for _, tx := range txs {
		tx.MarkFailed(time.Now(), "expired after exceeding the pending age limit")
		if err := s.ledger.UpdateTransaction(ctx, tx); err != nil {
			s.log.WithError(err).WithField("transaction_id", tx.ID).Error("Failed to expire pending transaction")
			continue
		}
		s.log.WithFields(logrus.Fields{
			"transaction_id": tx.ID,
			"type":           tx.Type,
			"age":            time.Since(tx.CreatedAt).String(),
		}).Warn("Expired stale pending transaction")

		for _, account := range []struct {
			user models.UserID
			role models.Role
		}{{tx.From, tx.FromRole}, {tx.To, tx.ToRole}} {
			if account.user == "" || account.role == "" {
				continue
			}
			key := string(account.role) + "/" + string(account.user)
			if repaired[key] {
				continue
			}
			repaired[key] = true
			if _, err := s.reconciler.RepairPending(ctx, account.user, account.role); err != nil {
				s.log.WithError(err).WithField("account", key).Error("Failed to release holds after expiring transaction")
			}
		}
	}
}

// reconcileBatch runs the periodic reconciliation pass over a bounded batch
// of accounts.
func (s *Scheduler) reconcileBatch() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	report, err := s.reconciler.ReconcileAll(ctx, s.monitoring.ReconcileBatchSize)
	if err != nil {
		s.log.WithError(err).Error("Scheduled reconciliation failed")
		return
	}
	if report.Discrepancies > 0 {
		s.log.WithFields(logrus.Fields{
			"checked":       report.Checked,
			"discrepancies": report.Discrepancies,
		}).Warn("Scheduled reconciliation found discrepancies")
	}
}
