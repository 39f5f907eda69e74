package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pantypostorganisation/pantypost-sub009/internal/messaging"
	"github.com/pantypostorganisation/pantypost-sub009/internal/models"
	"github.com/pantypostorganisation/pantypost-sub009/internal/money"
	"github.com/pantypostorganisation/pantypost-sub009/internal/monitoring"
	"github.com/pantypostorganisation/pantypost-sub009/internal/repository"
	"github.com/pantypostorganisation/pantypost-sub009/pkg/apierrors"
)

// ReversalRequest asks for a completed transfer to be compensated.
type ReversalRequest struct {
	TransactionID  string
	Reason         string
	Operator       string
	IdempotencyKey string
}

// ReversalResult is the refund legs created by a reversal. FeeRefund is nil
// when the original transfer carried no fee.
type ReversalResult struct {
	Refund    *models.Transaction
	FeeRefund *models.Transaction
}

// ReversalManager creates compensating refund entries for completed
// transfers. Originals are never edited beyond gaining a ReversedBy link;
// the refund legs are new ledger entries that undo the money movement.
type ReversalManager struct {
	ledger      repository.LedgerRepository
	idempotency repository.IdempotencyRepository
	locks       repository.LockManager
	events      messaging.EventPublisher
	metrics     *monitoring.Metrics
	log         *logrus.Logger
	now         func() time.Time
}

// NewReversalManager wires the reversal manager.
func NewReversalManager(
	ledger repository.LedgerRepository,
	idempotency repository.IdempotencyRepository,
	locks repository.LockManager,
	events messaging.EventPublisher,
	metrics *monitoring.Metrics,
	log *logrus.Logger,
) *ReversalManager {
	return &ReversalManager{
		ledger:      ledger,
		idempotency: idempotency,
		locks:       locks,
		events:      events,
		metrics:     metrics,
		log:         log,
		now:         time.Now,
	}
}

var reversibleTypes = map[models.TransactionType]bool{
	models.TypePurchase:     true,
	models.TypeTip:          true,
	models.TypeSubscription: true,
	models.TypeTierCredit:   true,
}

func (m *ReversalManager) Reverse(ctx context.Context, req ReversalRequest) (*ReversalResult, error) {
	if req.Reason == "" || req.Operator == "" {
		return nil, apierrors.NewValidation("reversals require an operator and a reason")
	}

	if ids, hit, err := m.idempotency.Lookup(ctx, req.IdempotencyKey); err != nil {
		return nil, apierrors.NewInternal("failed to check idempotency", err.Error())
	} else if hit {
		return m.loadResult(ctx, ids)
	}

	original, err := m.ledger.GetTransaction(ctx, req.TransactionID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, apierrors.NewNotFound("transaction " + req.TransactionID)
		}
		return nil, apierrors.NewInternal("failed to load transaction", err.Error())
	}
	if !reversibleTypes[original.Type] {
		return nil, apierrors.NewValidation("transactions of type %s cannot be reversed", original.Type)
	}
	if !original.CanBeReversed() {
		return nil, apierrors.NewConflict("transaction %s is not reversible in its current state", original.ID)
	}

	var feeLeg *models.Transaction
	if original.Metadata.FeeTxID != "" {
		feeLeg, err = m.ledger.GetTransaction(ctx, original.Metadata.FeeTxID)
		if err != nil {
			return nil, apierrors.NewInternal("failed to load fee leg", err.Error())
		}
	}

	lockKeys := []string{
		repository.AccountLockKey(string(original.FromRole), string(original.From)),
		repository.AccountLockKey(string(original.ToRole), string(original.To)),
	}
	if feeLeg != nil {
		lockKeys = append(lockKeys, repository.AccountLockKey(string(models.RoleAdmin), string(models.AdminUser)))
	}
	release, err := acquireAll(ctx, m.locks, m.metrics, m.log, lockKeys)
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-read under the lock; a concurrent reversal may have won.
	original, err = m.ledger.GetTransaction(ctx, original.ID)
	if err != nil {
		return nil, apierrors.NewInternal("failed to reload transaction", err.Error())
	}
	if !original.CanBeReversed() {
		return nil, apierrors.NewConflict("transaction %s is not reversible in its current state", original.ID)
	}

	gross := original.Amount
	// The fee comes from the fee leg's own ledger entry, never from
	// metadata. A transfer without a fee leg refunds the gross in full;
	// migrated orders record their legacy markup as metadata only.
	var fee money.Money
	if feeLeg != nil {
		fee = feeLeg.Amount
	}
	net := gross - fee

	// The payee returns the net they received, the admin returns the fee,
	// and together they restore the payer's gross amount.
	payee, err := m.ledger.GetBalance(ctx, original.To, original.ToRole)
	if err != nil {
		return nil, apierrors.NewInternal("failed to load balance", err.Error())
	}
	if !payee.CanDebit(net) {
		return nil, apierrors.NewInsufficientFunds("payee balance %s cannot return %s", payee.Available(), net)
	}
	var admin *models.Balance
	if feeLeg != nil {
		admin, err = m.ledger.GetBalance(ctx, models.AdminUser, models.RoleAdmin)
		if err != nil {
			return nil, apierrors.NewInternal("failed to load admin balance", err.Error())
		}
		if !admin.CanDebit(fee) {
			return nil, apierrors.NewInsufficientFunds("admin balance %s cannot return fee %s", admin.Available(), fee)
		}
	}

	refund := models.NewTransaction(models.TypeRefund, gross, original.To, original.From, original.ToRole, original.FromRole)
	refund.IdempotencyKey = req.IdempotencyKey
	refund.ReversalOf = original.ID
	refund.Metadata.Operator = req.Operator
	refund.Metadata.Reason = req.Reason
	refund.Metadata.OrderID = original.Metadata.OrderID
	if err := m.ledger.AppendTransaction(ctx, refund); err != nil {
		return nil, apierrors.NewInternal("failed to record refund", err.Error())
	}

	var feeRefund *models.Transaction
	if feeLeg != nil {
		feeRefund = models.NewTransaction(models.TypeRefund, fee, models.AdminUser, original.To, models.RoleAdmin, original.ToRole)
		feeRefund.IdempotencyKey = req.IdempotencyKey
		feeRefund.ReversalOf = feeLeg.ID
		feeRefund.Metadata.Operator = req.Operator
		feeRefund.Metadata.Reason = req.Reason
		if err := m.ledger.AppendTransaction(ctx, feeRefund); err != nil {
			return nil, apierrors.NewInternal("failed to record fee refund", err.Error())
		}
	}

	if err := payee.Debit(net); err != nil {
		return nil, apierrors.NewInsufficientFunds("%s", err.Error())
	}
	if err := m.ledger.SaveBalance(ctx, payee); err != nil {
		return nil, apierrors.NewInternal("failed to persist payee debit", err.Error())
	}
	payer, err := m.ledger.GetBalance(ctx, original.From, original.FromRole)
	if err != nil {
		return nil, apierrors.NewInternal("failed to load payer balance", err.Error())
	}
	payer.Credit(gross)
	if err := m.ledger.SaveBalance(ctx, payer); err != nil {
		return nil, apierrors.NewInternal("failed to persist payer credit", err.Error())
	}
	if admin != nil {
		if err := admin.Debit(fee); err != nil {
			return nil, apierrors.NewInsufficientFunds("%s", err.Error())
		}
		if err := m.ledger.SaveBalance(ctx, admin); err != nil {
			return nil, apierrors.NewInternal("failed to persist admin debit", err.Error())
		}
	}

	at := m.now()
	ids := []string{refund.ID}
	refund.MarkCompleted(at)
	if err := m.ledger.UpdateTransaction(ctx, refund); err != nil {
		return nil, apierrors.NewInternal("failed to finalize refund", err.Error())
	}
	if feeRefund != nil {
		feeRefund.MarkCompleted(at)
		if err := m.ledger.UpdateTransaction(ctx, feeRefund); err != nil {
			return nil, apierrors.NewInternal("failed to finalize fee refund", err.Error())
		}
		ids = append(ids, feeRefund.ID)
	}

	original.ReversedBy = refund.ID
	if err := m.ledger.UpdateTransaction(ctx, original); err != nil {
		return nil, apierrors.NewInternal("failed to link reversal", err.Error())
	}
	if feeLeg != nil {
		feeLeg.ReversedBy = feeRefund.ID
		if err := m.ledger.UpdateTransaction(ctx, feeLeg); err != nil {
			return nil, apierrors.NewInternal("failed to link fee reversal", err.Error())
		}
	}

	if req.IdempotencyKey != "" {
		if err := m.idempotency.Record(ctx, req.IdempotencyKey, ids); err != nil {
			return nil, apierrors.NewInternal("failed to record idempotency key", err.Error())
		}
	}

	m.metrics.TransactionsTotal.WithLabelValues(string(models.TypeRefund), string(models.StatusCompleted)).Inc()
	if err := m.events.Publish(ctx, messaging.EventFromTransaction(messaging.EventTransactionReversed, original)); err != nil {
		m.log.WithError(err).WithField("transaction_id", original.ID).Warn("Failed to publish reversal event")
	}
	m.log.WithFields(logrus.Fields{
		"transaction_id": original.ID,
		"refund_id":      refund.ID,
		"operator":       req.Operator,
		"amount":         gross.String(),
	}).Info("Transaction reversed")

	return &ReversalResult{Refund: refund, FeeRefund: feeRefund}, nil
}

func (m *ReversalManager) loadResult(ctx context.Context, ids []string) (*ReversalResult, error) {
	result := &ReversalResult{}
	for _, id := range ids {
		tx, err := m.ledger.GetTransaction(ctx, id)
		if err != nil {
			return nil, apierrors.NewInternal("idempotency record points at missing transaction", err.Error())
		}
		if result.Refund == nil {
			result.Refund = tx
		} else {
			result.FeeRefund = tx
		}
	}
	m.metrics.IdempotencyHits.Inc()
	return result, nil
}
