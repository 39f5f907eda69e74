package engine

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pantypostorganisation/pantypost-sub009/internal/config"
	"github.com/pantypostorganisation/pantypost-sub009/internal/external"
	"github.com/pantypostorganisation/pantypost-sub009/internal/messaging"
	"github.com/pantypostorganisation/pantypost-sub009/internal/models"
	"github.com/pantypostorganisation/pantypost-sub009/internal/money"
	"github.com/pantypostorganisation/pantypost-sub009/internal/monitoring"
	"github.com/pantypostorganisation/pantypost-sub009/internal/repository"
	"github.com/pantypostorganisation/pantypost-sub009/pkg/apierrors"
)

// DepositRequest credits a buyer wallet from an external payment method.
type DepositRequest struct {
	User           models.UserID
	Amount         money.Money
	Method         string
	IdempotencyKey string
}

// WithdrawRequest pays out earnings to a bank account.
type WithdrawRequest struct {
	User           models.UserID
	Role           models.Role
	Amount         money.Money
	BankAccount    string
	IdempotencyKey string
}

// TransferRequest moves money between two platform accounts, optionally
// splitting a platform fee to the admin account.
type TransferRequest struct {
	Type           models.TransactionType
	From           models.UserID
	To             models.UserID
	Amount         money.Money
	FeeBps         int64
	ListingID      string
	OrderID        string
	SubscriptionID string
	Reason         string
	IdempotencyKey string
}

// TransferResult is both ledger legs of a completed transfer. Fee is nil
// when the effective fee was zero.
type TransferResult struct {
	Transfer *models.Transaction
	Fee      *models.Transaction
}

// AdminAdjustRequest is a manual correction issued by an operator.
type AdminAdjustRequest struct {
	User           models.UserID
	Role           models.Role
	Amount         money.Money
	Credit         bool
	Reason         string
	Operator       string
	IdempotencyKey string
}

// Engine executes every money movement. Each operation follows the same
// shape: validate, replay idempotency, lock the involved accounts without
// waiting, write a pending ledger entry, mutate balances, finalize. Any
// failure after a balance changed is compensated symmetrically before the
// error is returned.
type Engine interface {
	Deposit(ctx context.Context, req DepositRequest) (*models.Transaction, error)
	Withdraw(ctx context.Context, req WithdrawRequest) (*models.Transaction, error)
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	AdminAdjust(ctx context.Context, req AdminAdjustRequest) (*models.Transaction, error)
}

type engine struct {
	ledger      repository.LedgerRepository
	idempotency repository.IdempotencyRepository
	locks       repository.LockManager
	users       external.UserDirectory
	payouts     external.PayoutProcessor
	events      messaging.EventPublisher
	metrics     *monitoring.Metrics
	limits      config.LimitsConfig
	log         *logrus.Logger
	now         func() time.Time
}

// NewEngine wires the transaction engine.
func NewEngine(
	ledger repository.LedgerRepository,
	idempotency repository.IdempotencyRepository,
	locks repository.LockManager,
	users external.UserDirectory,
	payouts external.PayoutProcessor,
	events messaging.EventPublisher,
	metrics *monitoring.Metrics,
	limits config.LimitsConfig,
	log *logrus.Logger,
) Engine {
	return &engine{
		ledger:      ledger,
		idempotency: idempotency,
		locks:       locks,
		users:       users,
		payouts:     payouts,
		events:      events,
		metrics:     metrics,
		limits:      limits,
		log:         log,
		now:         time.Now,
	}
}

// replay answers a repeated idempotency key with the previously recorded
// transactions instead of executing again.
func (e *engine) replay(ctx context.Context, key string) ([]*models.Transaction, bool, error) {
	ids, found, err := e.idempotency.Lookup(ctx, key)
	if err != nil {
		return nil, false, apierrors.NewInternal("failed to check idempotency", err.Error())
	}
	if !found {
		return nil, false, nil
	}
	txs := make([]*models.Transaction, 0, len(ids))
	for _, id := range ids {
		tx, err := e.ledger.GetTransaction(ctx, id)
		if err != nil {
			return nil, false, apierrors.NewInternal("idempotency record points at missing transaction", err.Error())
		}
		txs = append(txs, tx)
	}
	e.metrics.IdempotencyHits.Inc()
	e.log.WithField("idempotency_key", key).Info("Replaying idempotent request")
	return txs, true, nil
}

// lockAccounts takes every account lock in sorted order, or none. A held
// lock anywhere means the whole operation is rejected immediately.
func (e *engine) lockAccounts(ctx context.Context, keys []string) (func(), error) {
	return acquireAll(ctx, e.locks, e.metrics, e.log, keys)
}

func acquireAll(ctx context.Context, locks repository.LockManager, metrics *monitoring.Metrics, log *logrus.Logger, keys []string) (release func(), err error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	// An account can appear on both sides of an operation, for example the
	// admin as both fee recipient and payer. Acquiring its key twice would
	// self-contend.
	sorted = slices.Compact(sorted)

	acquired := make([]string, 0, len(sorted))
	release = func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			if err := locks.Release(ctx, acquired[i]); err != nil {
				log.WithError(err).WithField("key", acquired[i]).Error("Failed to release account lock")
			}
		}
	}
	for _, key := range sorted {
		ok, err := locks.Acquire(ctx, key)
		if err != nil {
			release()
			return nil, apierrors.NewInternal("failed to acquire account lock", err.Error())
		}
		if !ok {
			release()
			metrics.LockContentionTotal.Inc()
			return nil, apierrors.NewLockContention(key)
		}
		acquired = append(acquired, key)
	}
	return release, nil
}

func (e *engine) ensureUserExists(ctx context.Context, user models.UserID) error {
	exists, err := e.users.Exists(ctx, user)
	if err != nil {
		return apierrors.NewInternal("failed to verify user", err.Error())
	}
	if !exists {
		return apierrors.NewNotFound(fmt.Sprintf("user %s", user))
	}
	return nil
}

// finalize marks the transactions completed, records the idempotency key and
// announces the outcome. It is only called once every balance write landed.
func (e *engine) finalize(ctx context.Context, key string, txs ...*models.Transaction) error {
	at := e.now()
	ids := make([]string, 0, len(txs))
	for _, tx := range txs {
		tx.MarkCompleted(at)
		if err := e.ledger.UpdateTransaction(ctx, tx); err != nil {
			return apierrors.NewInternal("failed to finalize transaction", err.Error())
		}
		ids = append(ids, tx.ID)
		e.metrics.TransactionsTotal.WithLabelValues(string(tx.Type), string(tx.Status)).Inc()
	}
	if key != "" {
		if err := e.idempotency.Record(ctx, key, ids); err != nil {
			return apierrors.NewInternal("failed to record idempotency key", err.Error())
		}
	}
	for _, tx := range txs {
		e.publish(ctx, messaging.EventTransactionCompleted, tx)
	}
	return nil
}

// fail marks the transactions failed and still records the idempotency key,
// so a retry with the same key sees the recorded failure instead of running
// the side effects twice.
func (e *engine) fail(ctx context.Context, key, reason string, txs ...*models.Transaction) {
	at := e.now()
	ids := make([]string, 0, len(txs))
	for _, tx := range txs {
		tx.MarkFailed(at, reason)
		if err := e.ledger.UpdateTransaction(ctx, tx); err != nil {
			e.log.WithError(err).WithField("transaction_id", tx.ID).Error("Failed to persist failed transaction")
		}
		ids = append(ids, tx.ID)
		e.metrics.TransactionsTotal.WithLabelValues(string(tx.Type), string(tx.Status)).Inc()
	}
	if key != "" && len(ids) > 0 {
		if err := e.idempotency.Record(ctx, key, ids); err != nil {
			e.log.WithError(err).WithField("idempotency_key", key).Error("Failed to record idempotency for failed operation")
		}
	}
	for _, tx := range txs {
		e.publish(ctx, messaging.EventTransactionFailed, tx)
	}
}

func (e *engine) publish(ctx context.Context, eventType string, tx *models.Transaction) {
	if err := e.events.Publish(ctx, messaging.EventFromTransaction(eventType, tx)); err != nil {
		e.log.WithError(err).WithField("transaction_id", tx.ID).Warn("Failed to publish wallet event")
	}
}

func (e *engine) observe(operation string, start time.Time) {
	e.metrics.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (e *engine) Deposit(ctx context.Context, req DepositRequest) (*models.Transaction, error) {
	defer e.observe("deposit", e.now())

	if req.Amount.Cents() < e.limits.MinDepositCents {
		return nil, apierrors.NewValidation("deposit amount %s is below the minimum %s",
			req.Amount, money.FromCents(e.limits.MinDepositCents))
	}
	if req.Amount.Cents() > e.limits.MaxDepositCents {
		return nil, apierrors.NewValidation("deposit amount %s exceeds the maximum %s",
			req.Amount, money.FromCents(e.limits.MaxDepositCents))
	}
	if req.Method == "" {
		return nil, apierrors.NewValidation("payment method is required")
	}
	if err := e.ensureUserExists(ctx, req.User); err != nil {
		return nil, err
	}

	if prior, hit, err := e.replay(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	} else if hit {
		return prior[0], nil
	}

	release, err := e.lockAccounts(ctx, []string{
		repository.AccountLockKey(string(models.RoleBuyer), string(req.User)),
	})
	if err != nil {
		return nil, err
	}
	defer release()

	tx := models.NewTransaction(models.TypeDeposit, req.Amount, "", req.User, "", models.RoleBuyer)
	tx.IdempotencyKey = req.IdempotencyKey
	tx.Metadata.PaymentMethod = req.Method
	if err := e.ledger.AppendTransaction(ctx, tx); err != nil {
		return nil, apierrors.NewInternal("failed to record deposit", err.Error())
	}

	balance, err := e.ledger.GetBalance(ctx, req.User, models.RoleBuyer)
	if err != nil {
		e.fail(ctx, req.IdempotencyKey, "failed to load balance", tx)
		return tx, apierrors.NewInternal("failed to load balance", err.Error())
	}
	balance.Credit(req.Amount)
	if err := e.ledger.SaveBalance(ctx, balance); err != nil {
		e.fail(ctx, req.IdempotencyKey, "failed to persist balance", tx)
		return tx, apierrors.NewInternal("failed to persist balance", err.Error())
	}

	if err := e.finalize(ctx, req.IdempotencyKey, tx); err != nil {
		return tx, err
	}
	e.log.WithFields(logrus.Fields{
		"transaction_id": tx.ID,
		"user":           req.User,
		"amount":         req.Amount.String(),
	}).Info("Deposit completed")
	return tx, nil
}

func (e *engine) Withdraw(ctx context.Context, req WithdrawRequest) (*models.Transaction, error) {
	defer e.observe("withdraw", e.now())

	if req.Role != models.RoleSeller && req.Role != models.RoleAdmin {
		return nil, apierrors.NewValidation("withdrawals are only supported from seller and admin balances")
	}
	if req.Amount.Cents() < e.limits.MinWithdrawalCents {
		return nil, apierrors.NewValidation("withdrawal amount %s is below the minimum %s",
			req.Amount, money.FromCents(e.limits.MinWithdrawalCents))
	}
	if req.BankAccount == "" {
		return nil, apierrors.NewValidation("bank account is required")
	}

	if prior, hit, err := e.replay(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	} else if hit {
		return prior[0], nil
	}

	release, err := e.lockAccounts(ctx, []string{
		repository.AccountLockKey(string(req.Role), string(req.User)),
	})
	if err != nil {
		return nil, err
	}
	defer release()

	balance, err := e.ledger.GetBalance(ctx, req.User, req.Role)
	if err != nil {
		return nil, apierrors.NewInternal("failed to load balance", err.Error())
	}
	if !balance.CanDebit(req.Amount) {
		return nil, apierrors.NewInsufficientFunds("available balance %s cannot cover withdrawal of %s",
			balance.Available(), req.Amount)
	}

	tx := models.NewTransaction(models.TypeWithdrawal, req.Amount, req.User, "", req.Role, "")
	tx.IdempotencyKey = req.IdempotencyKey
	tx.Metadata.BankAccount = maskAccount(req.BankAccount)
	if err := e.ledger.AppendTransaction(ctx, tx); err != nil {
		return nil, apierrors.NewInternal("failed to record withdrawal", err.Error())
	}

	// Hold the funds while the payout is in flight. Available drops
	// immediately so the amount cannot be spent twice, but the settled
	// balance only moves once the processor confirms.
	balance.HoldPending(req.Amount)
	if err := e.ledger.SaveBalance(ctx, balance); err != nil {
		e.fail(ctx, req.IdempotencyKey, "failed to hold funds", tx)
		return tx, apierrors.NewInternal("failed to hold funds", err.Error())
	}

	result, err := e.payouts.ProcessPayout(ctx, external.PayoutRequest{
		TransactionID: tx.ID,
		User:          req.User,
		Amount:        req.Amount.String(),
		BankAccount:   req.BankAccount,
	})
	if err != nil {
		// The processor did not move the money. Releasing the hold is the
		// exact mirror of placing it, so the account is back where it
		// started.
		balance.ReleasePending(req.Amount)
		if saveErr := e.ledger.SaveBalance(ctx, balance); saveErr != nil {
			e.log.WithError(saveErr).WithFields(logrus.Fields{
				"transaction_id": tx.ID,
				"user":           req.User,
			}).Error("Failed to release hold after payout failure")
		}
		e.fail(ctx, req.IdempotencyKey, fmt.Sprintf("payout failed: %v", err), tx)
		e.log.WithError(err).WithField("transaction_id", tx.ID).Warn("Withdrawal compensated after payout failure")
		return tx, apierrors.NewInternal("payout processing failed", err.Error())
	}
	tx.Metadata.PayoutRef = result.Reference

	balance.ReleasePending(req.Amount)
	if err := balance.Debit(req.Amount); err != nil {
		e.fail(ctx, req.IdempotencyKey, err.Error(), tx)
		return tx, apierrors.NewInternal("failed to settle withdrawal", err.Error())
	}
	if err := e.ledger.SaveBalance(ctx, balance); err != nil {
		e.fail(ctx, req.IdempotencyKey, "failed to persist debit", tx)
		return tx, apierrors.NewInternal("failed to persist debit", err.Error())
	}

	if err := e.finalize(ctx, req.IdempotencyKey, tx); err != nil {
		return tx, err
	}
	e.log.WithFields(logrus.Fields{
		"transaction_id": tx.ID,
		"user":           req.User,
		"amount":         req.Amount.String(),
		"payout_ref":     result.Reference,
	}).Info("Withdrawal completed")
	return tx, nil
}

// transferRoles maps a transfer type to the accounting buckets it moves
// money between.
func transferRoles(txType models.TransactionType) (from, to models.Role, err error) {
	switch txType {
	case models.TypePurchase, models.TypeTip, models.TypeSubscription:
		return models.RoleBuyer, models.RoleSeller, nil
	case models.TypeTierCredit:
		return models.RoleAdmin, models.RoleSeller, nil
	default:
		return "", "", fmt.Errorf("type %q is not a transfer", txType)
	}
}

func (e *engine) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	defer e.observe("transfer", e.now())

	fromRole, toRole, err := transferRoles(req.Type)
	if err != nil {
		return nil, apierrors.NewValidation("%s", err.Error())
	}
	if !req.Amount.IsPositive() {
		return nil, apierrors.NewValidation("transfer amount must be positive")
	}
	if req.Amount.Cents() > e.limits.MaxTransferCents {
		return nil, apierrors.NewValidation("transfer amount %s exceeds the maximum %s",
			req.Amount, money.FromCents(e.limits.MaxTransferCents))
	}
	if req.From == req.To {
		return nil, apierrors.NewValidation("cannot transfer between a user's own wallets")
	}
	if err := e.ensureUserExists(ctx, req.From); err != nil {
		return nil, err
	}
	if err := e.ensureUserExists(ctx, req.To); err != nil {
		return nil, err
	}
	fee, net, err := money.SplitFee(req.Amount, req.FeeBps)
	if err != nil {
		return nil, apierrors.NewValidation("%s", err.Error())
	}

	if prior, hit, err := e.replay(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	} else if hit {
		return transferResultFrom(prior), nil
	}

	lockKeys := []string{
		repository.AccountLockKey(string(fromRole), string(req.From)),
		repository.AccountLockKey(string(toRole), string(req.To)),
	}
	if fee.IsPositive() {
		lockKeys = append(lockKeys, repository.AccountLockKey(string(models.RoleAdmin), string(models.AdminUser)))
	}
	release, err := e.lockAccounts(ctx, lockKeys)
	if err != nil {
		return nil, err
	}
	defer release()

	payer, err := e.ledger.GetBalance(ctx, req.From, fromRole)
	if err != nil {
		return nil, apierrors.NewInternal("failed to load balance", err.Error())
	}
	if !payer.CanDebit(req.Amount) {
		return nil, apierrors.NewInsufficientFunds("available balance %s cannot cover transfer of %s",
			payer.Available(), req.Amount)
	}

	// The gross amount rides on the main leg; the fee leg moves the
	// platform's cut from the payee to the admin account. Together the two
	// legs reconstruct the payee's net credit exactly.
	main := models.NewTransaction(req.Type, req.Amount, req.From, req.To, fromRole, toRole)
	main.IdempotencyKey = req.IdempotencyKey
	main.Metadata.ListingID = req.ListingID
	main.Metadata.OrderID = req.OrderID
	main.Metadata.SubscriptionID = req.SubscriptionID
	main.Metadata.Reason = req.Reason
	main.Metadata.PlatformFee = fee
	main.Metadata.FeeBps = req.FeeBps
	if err := e.ledger.AppendTransaction(ctx, main); err != nil {
		return nil, apierrors.NewInternal("failed to record transfer", err.Error())
	}

	var feeTx *models.Transaction
	if fee.IsPositive() {
		feeTx = models.NewTransaction(models.TypeFee, fee, req.To, models.AdminUser, toRole, models.RoleAdmin)
		feeTx.IdempotencyKey = req.IdempotencyKey
		feeTx.Metadata.OrderID = req.OrderID
		feeTx.Metadata.FeeBps = req.FeeBps
		if err := e.ledger.AppendTransaction(ctx, feeTx); err != nil {
			e.fail(ctx, req.IdempotencyKey, "failed to record fee leg", main)
			return nil, apierrors.NewInternal("failed to record fee leg", err.Error())
		}
		main.Metadata.FeeTxID = feeTx.ID
	}

	legs := []*models.Transaction{main}
	if feeTx != nil {
		legs = append(legs, feeTx)
	}

	if err := e.applyTransfer(ctx, payer, req, fromRole, toRole, fee, net); err != nil {
		e.fail(ctx, req.IdempotencyKey, err.Error(), legs...)
		return nil, apierrors.From(err)
	}

	if err := e.finalize(ctx, req.IdempotencyKey, legs...); err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"transaction_id": main.ID,
		"type":           main.Type,
		"from":           req.From,
		"to":             req.To,
		"amount":         req.Amount.String(),
		"fee":            fee.String(),
	}).Info("Transfer completed")
	return transferResultFrom(legs), nil
}

// applyTransfer writes the three balance mutations of a transfer. If a later
// write fails, the earlier ones are undone before returning so either every
// account moved or none did.
func (e *engine) applyTransfer(ctx context.Context, payer *models.Balance, req TransferRequest, fromRole, toRole models.Role, fee, net money.Money) error {
	if err := payer.Debit(req.Amount); err != nil {
		return apierrors.NewInsufficientFunds("%s", err.Error())
	}
	if err := e.ledger.SaveBalance(ctx, payer); err != nil {
		return fmt.Errorf("failed to persist payer debit: %w", err)
	}

	payee, err := e.ledger.GetBalance(ctx, req.To, toRole)
	if err != nil {
		e.undoMutations(ctx, func() { payer.Credit(req.Amount) }, payer)
		return fmt.Errorf("failed to load payee balance: %w", err)
	}
	payee.Credit(net)
	if err := e.ledger.SaveBalance(ctx, payee); err != nil {
		e.undoMutations(ctx, func() { payer.Credit(req.Amount) }, payer)
		return fmt.Errorf("failed to persist payee credit: %w", err)
	}

	if fee.IsPositive() {
		admin, err := e.ledger.GetBalance(ctx, models.AdminUser, models.RoleAdmin)
		if err != nil {
			e.undoMutations(ctx, func() { payee.Debit(net) }, payee)
			e.undoMutations(ctx, func() { payer.Credit(req.Amount) }, payer)
			return fmt.Errorf("failed to load admin balance: %w", err)
		}
		admin.Credit(fee)
		if err := e.ledger.SaveBalance(ctx, admin); err != nil {
			e.undoMutations(ctx, func() { payee.Debit(net) }, payee)
			e.undoMutations(ctx, func() { payer.Credit(req.Amount) }, payer)
			return fmt.Errorf("failed to persist fee credit: %w", err)
		}
	}
	return nil
}

// undoMutations applies a compensating balance change and persists it,
// logging rather than failing when even the compensation cannot land.
func (e *engine) undoMutations(ctx context.Context, undo func(), balance *models.Balance) {
	undo()
	if err := e.ledger.SaveBalance(ctx, balance); err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{
			"user": balance.UserID,
			"role": balance.Role,
		}).Error("Failed to persist compensation, balance diverged from ledger")
	}
}

func transferResultFrom(legs []*models.Transaction) *TransferResult {
	result := &TransferResult{}
	for _, tx := range legs {
		if tx.Type == models.TypeFee {
			result.Fee = tx
		} else {
			result.Transfer = tx
		}
	}
	return result
}

func (e *engine) AdminAdjust(ctx context.Context, req AdminAdjustRequest) (*models.Transaction, error) {
	defer e.observe("admin_adjust", e.now())

	if !req.Amount.IsPositive() {
		return nil, apierrors.NewValidation("adjustment amount must be positive")
	}
	if req.Reason == "" || req.Operator == "" {
		return nil, apierrors.NewValidation("adjustments require an operator and a reason")
	}
	if err := e.ensureUserExists(ctx, req.User); err != nil {
		return nil, err
	}

	if prior, hit, err := e.replay(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	} else if hit {
		return prior[0], nil
	}

	release, err := e.lockAccounts(ctx, []string{
		repository.AccountLockKey(string(req.Role), string(req.User)),
	})
	if err != nil {
		return nil, err
	}
	defer release()

	balance, err := e.ledger.GetBalance(ctx, req.User, req.Role)
	if err != nil {
		return nil, apierrors.NewInternal("failed to load balance", err.Error())
	}

	// Adjustments are one-sided entries, like deposits and withdrawals. The
	// operator is recorded in metadata, not as a counterparty account.
	var tx *models.Transaction
	if req.Credit {
		tx = models.NewTransaction(models.TypeAdminCredit, req.Amount, "", req.User, "", req.Role)
	} else {
		if !balance.CanDebit(req.Amount) {
			return nil, apierrors.NewInsufficientFunds("available balance %s cannot cover adjustment of %s",
				balance.Available(), req.Amount)
		}
		tx = models.NewTransaction(models.TypeAdminDebit, req.Amount, req.User, "", req.Role, "")
	}
	tx.IdempotencyKey = req.IdempotencyKey
	tx.Metadata.Operator = req.Operator
	tx.Metadata.Reason = req.Reason
	if err := e.ledger.AppendTransaction(ctx, tx); err != nil {
		return nil, apierrors.NewInternal("failed to record adjustment", err.Error())
	}

	if req.Credit {
		balance.Credit(req.Amount)
	} else {
		if err := balance.Debit(req.Amount); err != nil {
			e.fail(ctx, req.IdempotencyKey, err.Error(), tx)
			return tx, apierrors.NewInsufficientFunds("%s", err.Error())
		}
	}
	if err := e.ledger.SaveBalance(ctx, balance); err != nil {
		e.fail(ctx, req.IdempotencyKey, "failed to persist balance", tx)
		return tx, apierrors.NewInternal("failed to persist balance", err.Error())
	}

	if err := e.finalize(ctx, req.IdempotencyKey, tx); err != nil {
		return tx, err
	}
	e.log.WithFields(logrus.Fields{
		"transaction_id": tx.ID,
		"user":           req.User,
		"role":           req.Role,
		"amount":         req.Amount.String(),
		"operator":       req.Operator,
	}).Info("Adjustment completed")
	return tx, nil
}

// maskAccount keeps only the last four characters of a bank account for the
// ledger record.
func maskAccount(account string) string {
	if len(account) <= 4 {
		return "****"
	}
	return "****" + account[len(account)-4:]
}
