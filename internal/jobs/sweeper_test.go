package jobs

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantypostorganisation/pantypost-sub009/internal/config"
	"github.com/pantypostorganisation/pantypost-sub009/internal/engine"
	"github.com/pantypostorganisation/pantypost-sub009/internal/models"
	"github.com/pantypostorganisation/pantypost-sub009/internal/money"
	"github.com/pantypostorganisation/pantypost-sub009/internal/monitoring"
	"github.com/pantypostorganisation/pantypost-sub009/internal/repository"
)

func newTestScheduler(t *testing.T) (*Scheduler, repository.LedgerRepository) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	ledger := repository.NewLedgerRepository(repository.NewMemoryStore())
	reconciler := engine.NewReconciler(ledger, repository.NewMemoryLockManager(),
		monitoring.NewMetrics(prometheus.NewRegistry()), log)
	limits := config.LimitsConfig{PendingMaxAge: time.Hour}
	mon := config.MonitoringConfig{SweepSchedule: "@every 5m", ReconcileSchedule: "@daily", ReconcileBatchSize: 100}
	return NewScheduler(ledger, reconciler, limits, mon, log), ledger
}

func TestSweepExpiresStalePendingAndRepairs(t *testing.T) {
	scheduler, ledger := newTestScheduler(t)
	ctx := context.Background()

	funding := models.NewTransaction(models.TypeAdminCredit, money.FromCents(10_000), "", "bob", "", models.RoleSeller)
	funding.MarkCompleted(time.Now().UTC().Add(-3 * time.Hour))
	require.NoError(t, ledger.AppendTransaction(ctx, funding))

	// A withdrawal whose operation died mid-flight: the hold is still on the
	// cached balance but the entry never settled.
	stale := models.NewTransaction(models.TypeWithdrawal, money.FromCents(2_500), "bob", "", models.RoleSeller, "")
	stale.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, ledger.AppendTransaction(ctx, stale))

	balance, err := ledger.GetBalance(ctx, "bob", models.RoleSeller)
	require.NoError(t, err)
	balance.Credit(money.FromCents(10_000))
	balance.HoldPending(money.FromCents(2_500))
	require.NoError(t, ledger.SaveBalance(ctx, balance))

	// A fresh pending entry must survive the sweep.
	fresh := models.NewTransaction(models.TypeWithdrawal, money.FromCents(1_000), "carol", "", models.RoleSeller, "")
	require.NoError(t, ledger.AppendTransaction(ctx, fresh))

	scheduler.sweepStalePending()

	expired, err := ledger.GetTransaction(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, expired.Status)

	kept, err := ledger.GetTransaction(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, kept.Status)

	// The orphaned hold is released; the settled balance is untouched.
	balance, err = ledger.GetBalance(ctx, "bob", models.RoleSeller)
	require.NoError(t, err)
	assert.Equal(t, money.FromCents(10_000), balance.Balance)
	assert.Equal(t, money.Zero, balance.Pending)
}

func TestSchedulerRejectsBadSchedules(t *testing.T) {
	scheduler, _ := newTestScheduler(t)
	scheduler.monitoring.SweepSchedule = "not a schedule"
	assert.Error(t, scheduler.Start())
}
