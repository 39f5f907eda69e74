package service

import (
	"context"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantypostorganisation/pantypost-sub009/internal/config"
	"github.com/pantypostorganisation/pantypost-sub009/internal/engine"
	"github.com/pantypostorganisation/pantypost-sub009/internal/external"
	"github.com/pantypostorganisation/pantypost-sub009/internal/messaging"
	"github.com/pantypostorganisation/pantypost-sub009/internal/migration"
	"github.com/pantypostorganisation/pantypost-sub009/internal/models"
	"github.com/pantypostorganisation/pantypost-sub009/internal/money"
	"github.com/pantypostorganisation/pantypost-sub009/internal/monitoring"
	"github.com/pantypostorganisation/pantypost-sub009/internal/repository"
	"github.com/pantypostorganisation/pantypost-sub009/pkg/apierrors"
)

func newTestService(t *testing.T) WalletService {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	store := repository.NewMemoryStore()
	ledger := repository.NewLedgerRepository(store)
	idem := repository.NewIdempotencyRepository(store)
	locks := repository.NewMemoryLockManager()
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	events := messaging.NoopPublisher{}

	limits := config.LimitsConfig{
		MinDepositCents:    100,
		MaxDepositCents:    1_000_000,
		MinWithdrawalCents: 1_000,
		MaxTransferCents:   1_000_000,
	}
	fees := config.FeesConfig{PurchaseBps: 1000, TipBps: 0, SubscriptionBps: 2500}

	eng := engine.NewEngine(ledger, idem, locks, &external.StaticUserDirectory{},
		&external.SandboxPayoutProcessor{}, events, metrics, limits, log)
	reconciler := engine.NewReconciler(ledger, locks, metrics, log)
	reversals := engine.NewReversalManager(ledger, idem, locks, events, metrics, log)
	detector := engine.NewDetector(ledger, config.SuspicionConfig{SuspicionThreshold: 50}, events, metrics, log)
	migrator := migration.NewMigrator(store, ledger, reconciler, config.MigrationConfig{MaxAttempts: 3}, true, metrics, log)

	return NewWalletService(eng, reversals, reconciler, detector, migrator, ledger, fees, log)
}

func TestServicePurchaseAppliesConfiguredFee(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	resp := svc.Deposit(ctx, "alice", "100.00", "credit_card", "dep-1")
	require.True(t, resp.Success, "deposit failed: %s", resp.ErrorMessage)

	resp = svc.Purchase(ctx, "alice", "bob", "55.00", "listing-1", "order-1", "buy-1")
	require.True(t, resp.Success, "purchase failed: %s", resp.ErrorMessage)
	require.NotNil(t, resp.FeeTransaction)
	assert.Equal(t, money.FromCents(550), resp.FeeTransaction.Amount)

	balance := svc.GetBalance(ctx, "bob", "seller")
	require.True(t, balance.Success)
	assert.Equal(t, "49.50", balance.Available)
}

func TestServiceTipHasNoFee(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	resp := svc.Deposit(ctx, "alice", "20.00", "credit_card", "dep-1")
	require.True(t, resp.Success)

	resp = svc.Tip(ctx, "alice", "bob", "5.00", "tip-1")
	require.True(t, resp.Success)
	assert.Nil(t, resp.FeeTransaction)
}

func TestServiceRejectsMalformedInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	resp := svc.Deposit(ctx, "alice", "12.3.4", "credit_card", "dep-1")
	assert.False(t, resp.Success)
	assert.Equal(t, string(apierrors.CodeValidation), resp.ErrorCode)

	resp = svc.Deposit(ctx, "alice", "-5.00", "credit_card", "dep-2")
	assert.False(t, resp.Success)
	assert.Equal(t, string(apierrors.CodeValidation), resp.ErrorCode)

	resp = svc.Deposit(ctx, "a!", "5.00", "credit_card", "dep-3")
	assert.False(t, resp.Success)
	assert.Equal(t, string(apierrors.CodeValidation), resp.ErrorCode)

	balance := svc.GetBalance(ctx, "alice", "landlord")
	assert.False(t, balance.Success)
	assert.Equal(t, string(apierrors.CodeValidation), balance.ErrorCode)
}

func TestServiceErrorEnvelopeCarriesEngineCode(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	resp := svc.Purchase(ctx, "alice", "bob", "55.00", "", "order-1", "buy-1")
	assert.False(t, resp.Success)
	assert.Equal(t, string(apierrors.CodeInsufficientFunds), resp.ErrorCode)
	assert.NotEmpty(t, resp.ErrorMessage)
}

func TestServiceTierCreditComesFromAdmin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.True(t, svc.AdminAdjust(ctx, "admin", "admin", "50.00", true, "float top-up", "ops_anna", "adj-1").Success)

	resp := svc.TierCredit(ctx, "bob", "10.00", "tier bonus", "tier-1")
	require.True(t, resp.Success, "tier credit failed: %s", resp.ErrorMessage)
	assert.Equal(t, models.TypeTierCredit, resp.Transaction.Type)
	assert.Equal(t, models.AdminUser, resp.Transaction.From)
	assert.Equal(t, "tier bonus", resp.Transaction.Metadata.Reason)

	balance := svc.GetBalance(ctx, "bob", "seller")
	require.True(t, balance.Success)
	assert.Equal(t, "10.00", balance.Available)
}

func TestServiceHistoryAndReversal(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.True(t, svc.Deposit(ctx, "alice", "100.00", "credit_card", "dep-1").Success)
	purchase := svc.Purchase(ctx, "alice", "bob", "40.00", "listing-1", "order-1", "buy-1")
	require.True(t, purchase.Success)

	history := svc.GetHistory(ctx, repository.TransactionFilter{User: "alice"})
	require.True(t, history.Success)
	assert.Equal(t, 2, history.Total, "deposit and purchase")

	reversed := svc.Reverse(ctx, purchase.Transaction.ID, "dispute upheld", "ops_anna", "rev-1")
	require.True(t, reversed.Success, "reversal failed: %s", reversed.ErrorMessage)

	balance := svc.GetBalance(ctx, "alice", "buyer")
	require.True(t, balance.Success)
	assert.Equal(t, "100.00", balance.Available)
}
