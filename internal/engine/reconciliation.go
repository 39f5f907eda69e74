package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pantypostorganisation/pantypost-sub009/internal/models"
	"github.com/pantypostorganisation/pantypost-sub009/internal/money"
	"github.com/pantypostorganisation/pantypost-sub009/internal/monitoring"
	"github.com/pantypostorganisation/pantypost-sub009/internal/repository"
	"github.com/pantypostorganisation/pantypost-sub009/pkg/apierrors"
)

// AccountReport compares one account's cached balance against the balance
// implied by its completed ledger entries.
type AccountReport struct {
	User            models.UserID `json:"user"`
	Role            models.Role   `json:"role"`
	Expected        money.Money   `json:"expected"`
	Cached          money.Money   `json:"cached"`
	Difference      money.Money   `json:"difference"`
	ExpectedPending money.Money   `json:"expected_pending"`
	CachedPending   money.Money   `json:"cached_pending"`
	Consistent      bool          `json:"consistent"`
	Repaired        bool          `json:"repaired"`
	CheckedAt       time.Time     `json:"checked_at"`
}

// Report is the outcome of reconciling a batch of accounts.
type Report struct {
	Accounts      []*AccountReport `json:"accounts"`
	Checked       int              `json:"checked"`
	Discrepancies int              `json:"discrepancies"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
}

// Reconciler recomputes balances from the ledger and flags accounts whose
// cached balance diverged. Reads are a best-effort snapshot: an operation
// completing mid-walk can produce a transient discrepancy, which is why
// discrepancies are reported rather than auto-corrected. Only orphaned
// pending holds are rewritten, and RepairPending takes the account lock
// to do it.
type Reconciler struct {
	ledger  repository.LedgerRepository
	locks   repository.LockManager
	metrics *monitoring.Metrics
	log     *logrus.Logger
}

// NewReconciler wires the reconciliation engine.
func NewReconciler(ledger repository.LedgerRepository, locks repository.LockManager, metrics *monitoring.Metrics, log *logrus.Logger) *Reconciler {
	return &Reconciler{ledger: ledger, locks: locks, metrics: metrics, log: log}
}

// expectedBalances derives the settled and pending balances an account
// should hold from its transaction history.
func expectedBalances(txs []*models.Transaction, user models.UserID, role models.Role) (settled, pending money.Money) {
	for _, tx := range txs {
		switch tx.Status {
		case models.StatusCompleted:
			// The payee of a fee-carrying transfer is credited the gross
			// here and debited the platform's cut through the fee leg.
			if tx.CreditsAccount(user, role) {
				settled += tx.Amount
			}
			if tx.DebitsAccount(user, role) {
				settled -= tx.Amount
			}
		case models.StatusPending:
			if tx.DebitsAccount(user, role) {
				pending += tx.Amount
			}
		}
	}
	return settled, pending
}

// ReconcileAccount checks a single account without taking its lock.
func (r *Reconciler) ReconcileAccount(ctx context.Context, user models.UserID, role models.Role) (*AccountReport, error) {
	txs, err := r.ledger.ListTransactions(ctx, repository.TransactionFilter{User: user, Role: role})
	if err != nil {
		return nil, apierrors.NewInternal("failed to list transactions", err.Error())
	}
	balance, err := r.ledger.GetBalance(ctx, user, role)
	if err != nil {
		return nil, apierrors.NewInternal("failed to load balance", err.Error())
	}
	return r.buildReport(txs, balance), nil
}

func (r *Reconciler) buildReport(txs []*models.Transaction, balance *models.Balance) *AccountReport {
	expected, expectedPending := expectedBalances(txs, balance.UserID, balance.Role)
	report := &AccountReport{
		User:            balance.UserID,
		Role:            balance.Role,
		Expected:        expected,
		Cached:          balance.Balance,
		Difference:      balance.Balance - expected,
		ExpectedPending: expectedPending,
		CachedPending:   balance.Pending,
		Consistent:      balance.Balance == expected,
		CheckedAt:       time.Now().UTC(),
	}
	if !report.Consistent {
		r.metrics.ReconDiscrepancies.Inc()
		r.log.WithFields(logrus.Fields{
			"user":       report.User,
			"role":       report.Role,
			"expected":   report.Expected.String(),
			"cached":     report.Cached.String(),
			"difference": report.Difference.String(),
		}).Warn("Balance discrepancy detected")
	}
	return report
}

// knownAccounts collects every user/role pair the ledger has touched.
func knownAccounts(txs []*models.Transaction) []accountRef {
	seen := make(map[accountRef]bool)
	var refs []accountRef
	add := func(user models.UserID, role models.Role) {
		if user == "" || role == "" {
			return
		}
		ref := accountRef{user: user, role: role}
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	for _, tx := range txs {
		add(tx.From, tx.FromRole)
		add(tx.To, tx.ToRole)
	}
	return refs
}

type accountRef struct {
	user models.UserID
	role models.Role
}

// ReconcileAll walks every account the ledger knows about. A positive limit
// bounds the batch.
func (r *Reconciler) ReconcileAll(ctx context.Context, limit int) (*Report, error) {
	report := &Report{StartedAt: time.Now().UTC()}

	txs, err := r.ledger.ListTransactions(ctx, repository.TransactionFilter{})
	if err != nil {
		return nil, apierrors.NewInternal("failed to list transactions", err.Error())
	}
	refs := knownAccounts(txs)
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}

	for _, ref := range refs {
		balance, err := r.ledger.GetBalance(ctx, ref.user, ref.role)
		if err != nil {
			return nil, apierrors.NewInternal("failed to load balance", err.Error())
		}
		account := r.buildReport(txs, balance)
		report.Accounts = append(report.Accounts, account)
		report.Checked++
		if !account.Consistent {
			report.Discrepancies++
		}
	}
	report.FinishedAt = time.Now().UTC()
	r.log.WithFields(logrus.Fields{
		"checked":       report.Checked,
		"discrepancies": report.Discrepancies,
	}).Info("Reconciliation pass finished")
	return report, nil
}

// RepairPending rewrites an account's pending hold from the ledger under
// the account lock, so no operation can interleave with the rewrite. The
// settled balance is never touched here; a settled discrepancy stays in
// the report and is corrected through an explicit admin adjustment.
func (r *Reconciler) RepairPending(ctx context.Context, user models.UserID, role models.Role) (*AccountReport, error) {
	release, err := acquireAll(ctx, r.locks, r.metrics, r.log, []string{
		repository.AccountLockKey(string(role), string(user)),
	})
	if err != nil {
		return nil, err
	}
	defer release()

	report, err := r.ReconcileAccount(ctx, user, role)
	if err != nil {
		return nil, err
	}
	if report.CachedPending == report.ExpectedPending {
		return report, nil
	}

	balance, err := r.ledger.GetBalance(ctx, user, role)
	if err != nil {
		return nil, apierrors.NewInternal("failed to load balance", err.Error())
	}
	balance.Pending = report.ExpectedPending
	balance.UpdatedAt = time.Now().UTC()
	if err := r.ledger.SaveBalance(ctx, balance); err != nil {
		return nil, apierrors.NewInternal("failed to persist repaired balance", err.Error())
	}
	report.Repaired = true
	r.log.WithFields(logrus.Fields{
		"user": user,
		"role": role,
		"from": report.CachedPending.String(),
		"to":   report.ExpectedPending.String(),
	}).Warn("Pending hold repaired from ledger")
	return report, nil
}
