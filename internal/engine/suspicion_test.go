package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantypostorganisation/pantypost-sub009/internal/config"
	"github.com/pantypostorganisation/pantypost-sub009/internal/messaging"
	"github.com/pantypostorganisation/pantypost-sub009/internal/models"
	"github.com/pantypostorganisation/pantypost-sub009/internal/money"
	"github.com/pantypostorganisation/pantypost-sub009/internal/monitoring"
	"github.com/pantypostorganisation/pantypost-sub009/internal/repository"
)

func testSuspicionConfig() config.SuspicionConfig {
	return config.SuspicionConfig{
		VelocityWindow:        time.Hour,
		VelocityMaxCount:      10,
		LargeAmountCents:      100_000, // $1000
		LargeAmountMaxCount:   3,
		LargeAmountWindow:     24 * time.Hour,
		FailureRateThreshold:  0.5,
		RoundTripWindow:       24 * time.Hour,
		RoundTripToleranceCts: 1_000, // $10
		SuspicionThreshold:    50,
	}
}

func newTestDetector(t *testing.T) (*Detector, repository.LedgerRepository) {
	t.Helper()
	ledger := repository.NewLedgerRepository(repository.NewMemoryStore())
	detector := NewDetector(ledger, testSuspicionConfig(), messaging.NoopPublisher{},
		monitoring.NewMetrics(prometheus.NewRegistry()), quietLogger())
	return detector, ledger
}

// completedAt appends a completed transaction whose CreatedAt is backdated.
func completedAt(t *testing.T, ledger repository.LedgerRepository, tx *models.Transaction, at time.Time) {
	t.Helper()
	tx.CreatedAt = at
	tx.MarkCompleted(at)
	require.NoError(t, ledger.AppendTransaction(context.Background(), tx))
}

func TestDetectorCleanUserScoresZero(t *testing.T) {
	detector, ledger := newTestDetector(t)
	now := time.Now().UTC()

	tip := models.NewTransaction(models.TypeTip, money.FromCents(500), "alice", "bob", models.RoleBuyer, models.RoleSeller)
	completedAt(t, ledger, tip, now.Add(-time.Hour))

	report, err := detector.Check(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Score)
	assert.False(t, report.Suspicious)
	assert.Empty(t, report.Signals)
}

func TestDetectorVelocity(t *testing.T) {
	detector, ledger := newTestDetector(t)
	now := time.Now().UTC()

	for i := 0; i < 11; i++ {
		tip := models.NewTransaction(models.TypeTip, money.FromCents(100), "alice", models.UserID(fmt.Sprintf("seller%02d", i)), models.RoleBuyer, models.RoleSeller)
		completedAt(t, ledger, tip, now.Add(-time.Duration(i)*time.Minute))
	}

	report, err := detector.Check(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, report.Signals, 1)
	assert.Equal(t, "velocity", report.Signals[0].Name)
	assert.Equal(t, 30, report.Score)
	assert.False(t, report.Suspicious, "a single signal stays below the threshold")
}

func TestDetectorLargeAmounts(t *testing.T) {
	detector, ledger := newTestDetector(t)
	now := time.Now().UTC()

	for i := 0; i < 4; i++ {
		purchase := models.NewTransaction(models.TypePurchase, money.FromCents(150_000), "alice", models.UserID(fmt.Sprintf("seller%02d", i)), models.RoleBuyer, models.RoleSeller)
		completedAt(t, ledger, purchase, now.Add(-time.Duration(i+1)*time.Hour))
	}

	report, err := detector.Check(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, report.Signals, 1)
	assert.Equal(t, "large_amounts", report.Signals[0].Name)
	assert.Equal(t, 25, report.Score)
}

func TestDetectorFailureRate(t *testing.T) {
	detector, ledger := newTestDetector(t)
	now := time.Now().UTC().Add(-48 * time.Hour)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		tx := models.NewTransaction(models.TypeDeposit, money.FromCents(5_000), "", "alice", "", models.RoleBuyer)
		tx.CreatedAt = now.Add(time.Duration(i) * time.Minute)
		if i < 4 {
			tx.MarkFailed(tx.CreatedAt, "card declined")
		} else {
			tx.MarkCompleted(tx.CreatedAt)
		}
		require.NoError(t, ledger.AppendTransaction(ctx, tx))
	}

	report, err := detector.Check(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, report.Signals, 1)
	assert.Equal(t, "failure_rate", report.Signals[0].Name)
}

func TestDetectorFailureRateNeedsSample(t *testing.T) {
	detector, ledger := newTestDetector(t)
	now := time.Now().UTC().Add(-48 * time.Hour)
	ctx := context.Background()

	// Two failures out of two is a 100% rate but too small a sample.
	for i := 0; i < 2; i++ {
		tx := models.NewTransaction(models.TypeDeposit, money.FromCents(5_000), "", "alice", "", models.RoleBuyer)
		tx.CreatedAt = now.Add(time.Duration(i) * time.Minute)
		tx.MarkFailed(tx.CreatedAt, "card declined")
		require.NoError(t, ledger.AppendTransaction(ctx, tx))
	}

	report, err := detector.Check(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, report.Signals)
}

func TestDetectorVelocityIgnoresFailedAttempts(t *testing.T) {
	detector, ledger := newTestDetector(t)
	now := time.Now().UTC()
	ctx := context.Background()

	// A burst of declined deposits is a failure-rate problem, not velocity.
	for i := 0; i < 11; i++ {
		tx := models.NewTransaction(models.TypeDeposit, money.FromCents(5_000), "", "alice", "", models.RoleBuyer)
		tx.CreatedAt = now.Add(-time.Duration(i) * time.Minute)
		tx.MarkFailed(tx.CreatedAt, "card declined")
		require.NoError(t, ledger.AppendTransaction(ctx, tx))
	}

	report, err := detector.Check(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, report.Signals, 1)
	assert.Equal(t, "failure_rate", report.Signals[0].Name)
	assert.Equal(t, 20, report.Score)
	assert.False(t, report.Suspicious)
}

func TestDetectorRoundTrip(t *testing.T) {
	detector, ledger := newTestDetector(t)
	now := time.Now().UTC().Add(-48 * time.Hour)

	out := models.NewTransaction(models.TypeTip, money.FromCents(50_000), "alice", "bob", models.RoleBuyer, models.RoleSeller)
	completedAt(t, ledger, out, now)
	back := models.NewTransaction(models.TypeTip, money.FromCents(49_500), "bob", "alice", models.RoleBuyer, models.RoleSeller)
	completedAt(t, ledger, back, now.Add(2*time.Hour))

	report, err := detector.Check(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, report.Signals, 1)
	assert.Equal(t, "round_trip", report.Signals[0].Name)
	assert.Equal(t, 40, report.Score)
}

func TestDetectorRoundTripNeedsLaterReturn(t *testing.T) {
	detector, ledger := newTestDetector(t)
	now := time.Now().UTC().Add(-48 * time.Hour)

	// Bob paid alice first; alice paying a similar amount back later is the
	// forward half of someone else's loop, not hers.
	in := models.NewTransaction(models.TypeTip, money.FromCents(50_000), "bob", "alice", models.RoleBuyer, models.RoleSeller)
	completedAt(t, ledger, in, now)
	out := models.NewTransaction(models.TypeTip, money.FromCents(49_500), "alice", "bob", models.RoleBuyer, models.RoleSeller)
	completedAt(t, ledger, out, now.Add(2*time.Hour))

	report, err := detector.Check(context.Background(), "alice")
	require.NoError(t, err)
	for _, sig := range report.Signals {
		assert.NotEqual(t, "round_trip", sig.Name)
	}
}

func TestDetectorRefundIsNotARoundTrip(t *testing.T) {
	detector, ledger := newTestDetector(t)
	now := time.Now().UTC().Add(-48 * time.Hour)

	out := models.NewTransaction(models.TypePurchase, money.FromCents(50_000), "alice", "bob", models.RoleBuyer, models.RoleSeller)
	completedAt(t, ledger, out, now)
	refund := models.NewTransaction(models.TypeRefund, money.FromCents(50_000), "bob", "alice", models.RoleSeller, models.RoleBuyer)
	refund.ReversalOf = out.ID
	completedAt(t, ledger, refund, now.Add(time.Hour))

	report, err := detector.Check(context.Background(), "alice")
	require.NoError(t, err)
	for _, sig := range report.Signals {
		assert.NotEqual(t, "round_trip", sig.Name)
	}
}

func TestDetectorCombinedSignalsFlag(t *testing.T) {
	detector, ledger := newTestDetector(t)
	now := time.Now().UTC()

	// Eleven rapid transfers trip velocity; a matching return trips the
	// round-trip check. Together they cross the threshold.
	for i := 0; i < 11; i++ {
		tip := models.NewTransaction(models.TypeTip, money.FromCents(2_000), "alice", "bob", models.RoleBuyer, models.RoleSeller)
		completedAt(t, ledger, tip, now.Add(-time.Duration(i+2)*time.Minute))
	}
	back := models.NewTransaction(models.TypeTip, money.FromCents(2_000), "bob", "alice", models.RoleBuyer, models.RoleSeller)
	completedAt(t, ledger, back, now.Add(-time.Minute))

	report, err := detector.Check(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, report.Suspicious)
	assert.GreaterOrEqual(t, report.Score, 50)
}
