package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pantypostorganisation/pantypost-sub009/internal/config"
	"github.com/pantypostorganisation/pantypost-sub009/internal/engine"
	"github.com/pantypostorganisation/pantypost-sub009/internal/models"
	"github.com/pantypostorganisation/pantypost-sub009/internal/money"
	"github.com/pantypostorganisation/pantypost-sub009/internal/monitoring"
	"github.com/pantypostorganisation/pantypost-sub009/internal/repository"
)

// Legacy store keys. The pre-ledger schema kept flat dollar-float balance
// maps and loose order/withdrawal/action lists under these keys.
const (
	legacyBuyersKey      = "wallet_buyers"
	legacySellersKey     = "wallet_sellers"
	legacyAdminKey       = "wallet_admin"
	legacyOrdersKey      = "wallet_orders"
	legacyWithdrawalsKey = "wallet_sellerWithdrawals"
	legacyActionsKey     = "wallet_adminActions"

	statusKey = "wallet_migration_status"
)

type legacyOrder struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Price         float64 `json:"price"`
	MarkedUpPrice float64 `json:"markedUpPrice"`
	Buyer         string  `json:"buyer"`
	Seller        string  `json:"seller"`
	Date          string  `json:"date"`
}

type legacyWithdrawal struct {
	Amount float64 `json:"amount"`
	Date   string  `json:"date"`
	Status string  `json:"status"`
}

type legacyAdminAction struct {
	Type   string  `json:"type"` // "credit" or "debit"
	User   string  `json:"user"`
	Role   string  `json:"role"`
	Amount float64 `json:"amount"`
	Reason string  `json:"reason"`
	Date   string  `json:"date"`
}

// Status is the persisted migration record. It survives restarts so the
// migration runs at most once and gives up after the attempt limit.
type Status struct {
	Completed            bool       `json:"completed"`
	Attempts             int        `json:"attempts"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	MigratedBalances     int        `json:"migrated_balances"`
	MigratedTransactions int        `json:"migrated_transactions"`
	SkippedRecords       int        `json:"skipped_records"`
	StrippedSeeds        int        `json:"stripped_seeds"`
	Errors               []string   `json:"errors,omitempty"`
}

// ErrAbandoned means the attempt limit was exhausted and an operator has to
// intervene before the migration can run again.
var ErrAbandoned = fmt.Errorf("migration abandoned after repeated failures, manual intervention required")

// Migrator converts the legacy flat-balance schema into ledger records. It
// runs before the service accepts traffic, never deletes legacy keys, and
// records every skipped record so the batch survives bad data.
type Migrator struct {
	store      repository.KVStore
	ledger     repository.LedgerRepository
	reconciler *engine.Reconciler
	cfg        config.MigrationConfig
	sandbox    bool
	metrics    *monitoring.Metrics
	log        *logrus.Logger
	now        func() time.Time
}

// NewMigrator wires the legacy migration adapter. sandbox controls whether
// seeded demo accounts are preserved.
func NewMigrator(
	store repository.KVStore,
	ledger repository.LedgerRepository,
	reconciler *engine.Reconciler,
	cfg config.MigrationConfig,
	sandbox bool,
	metrics *monitoring.Metrics,
	log *logrus.Logger,
) *Migrator {
	return &Migrator{
		store:      store,
		ledger:     ledger,
		reconciler: reconciler,
		cfg:        cfg,
		sandbox:    sandbox,
		metrics:    metrics,
		log:        log,
		now:        time.Now,
	}
}

// GetStatus returns the persisted migration record.
func (m *Migrator) GetStatus(ctx context.Context) (*Status, error) {
	var status Status
	if _, err := m.store.Get(ctx, statusKey, &status); err != nil {
		return nil, fmt.Errorf("failed to load migration status: %w", err)
	}
	return &status, nil
}

// IsMigrationNeeded reports whether legacy data exists that has not been
// migrated yet.
func (m *Migrator) IsMigrationNeeded(ctx context.Context) (bool, error) {
	status, err := m.GetStatus(ctx)
	if err != nil {
		return false, err
	}
	if status.Completed {
		return false, nil
	}
	for _, key := range []string{
		legacyBuyersKey, legacySellersKey, legacyAdminKey,
		legacyOrdersKey, legacyWithdrawalsKey, legacyActionsKey,
	} {
		var raw interface{}
		found, err := m.store.Get(ctx, key, &raw)
		if err != nil {
			return false, fmt.Errorf("failed to probe legacy key %s: %w", key, err)
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

// Run executes the migration once. Per-record problems are collected in the
// status; only systemic persistence failures abort the batch.
func (m *Migrator) Run(ctx context.Context) (*Status, error) {
	status, err := m.GetStatus(ctx)
	if err != nil {
		return nil, err
	}
	if status.Completed {
		return status, nil
	}
	if status.Attempts >= m.cfg.MaxAttempts {
		m.log.WithField("attempts", status.Attempts).Error("Migration attempt limit exhausted")
		return status, ErrAbandoned
	}

	// Count the attempt before doing any work, so a crash mid-batch still
	// consumes one try.
	status.Attempts++
	startedAt := m.now().UTC()
	status.StartedAt = &startedAt
	if err := m.store.Set(ctx, statusKey, status); err != nil {
		return status, fmt.Errorf("failed to persist migration status: %w", err)
	}

	m.log.WithField("attempt", status.Attempts).Info("Starting legacy migration")

	migrated, err := m.migrateBalances(ctx, status)
	if err != nil {
		m.saveStatus(ctx, status)
		return status, err
	}
	if err := m.migrateOrders(ctx, status); err != nil {
		m.saveStatus(ctx, status)
		return status, err
	}
	if err := m.migrateWithdrawals(ctx, status); err != nil {
		m.saveStatus(ctx, status)
		return status, err
	}
	if err := m.migrateAdminActions(ctx, status); err != nil {
		m.saveStatus(ctx, status)
		return status, err
	}
	if err := m.writeOpeningAdjustments(ctx, status, migrated); err != nil {
		m.saveStatus(ctx, status)
		return status, err
	}
	m.verify(ctx, status)

	status.Completed = true
	completedAt := m.now().UTC()
	status.CompletedAt = &completedAt
	if err := m.store.Set(ctx, statusKey, status); err != nil {
		return status, fmt.Errorf("failed to persist migration status: %w", err)
	}

	m.log.WithFields(logrus.Fields{
		"balances":     status.MigratedBalances,
		"transactions": status.MigratedTransactions,
		"skipped":      status.SkippedRecords,
		"seeds":        status.StrippedSeeds,
		"errors":       len(status.Errors),
	}).Info("Legacy migration completed")
	return status, nil
}

func (m *Migrator) saveStatus(ctx context.Context, status *Status) {
	if err := m.store.Set(ctx, statusKey, status); err != nil {
		m.log.WithError(err).Error("Failed to persist migration status")
	}
}

func (m *Migrator) isSeed(user string) bool {
	if m.sandbox {
		return false
	}
	for _, seed := range m.cfg.SeedUsers {
		if user == seed {
			return true
		}
	}
	return false
}

func (m *Migrator) skip(status *Status, source, detail string) {
	status.SkippedRecords++
	status.Errors = append(status.Errors, fmt.Sprintf("%s: %s", source, detail))
	m.metrics.MigrationRecords.WithLabelValues("skipped").Inc()
	m.log.WithFields(logrus.Fields{"source": source, "detail": detail}).Warn("Skipping malformed legacy record")
}

func (m *Migrator) migrateBalances(ctx context.Context, status *Status) ([]accountRef, error) {
	var migrated []accountRef
	for key, role := range map[string]models.Role{
		legacyBuyersKey:  models.RoleBuyer,
		legacySellersKey: models.RoleSeller,
	} {
		balances := make(map[string]float64)
		found, err := m.store.Get(ctx, key, &balances)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", key, err)
		}
		if !found {
			continue
		}
		for user, dollars := range balances {
			if m.isSeed(user) {
				status.StrippedSeeds++
				m.metrics.MigrationRecords.WithLabelValues("stripped_seed").Inc()
				continue
			}
			userID, err := models.ParseUserID(user)
			if err != nil {
				m.skip(status, key, err.Error())
				continue
			}
			amount, err := money.FromFloat(dollars)
			if err != nil || amount.IsNegative() {
				m.skip(status, key, fmt.Sprintf("balance %v for %s is not migratable", dollars, user))
				continue
			}
			balance := models.NewBalance(userID, role)
			balance.Balance = amount
			if err := m.ledger.SaveBalance(ctx, balance); err != nil {
				return nil, fmt.Errorf("failed to persist migrated balance for %s: %w", user, err)
			}
			migrated = append(migrated, accountRef{user: userID, role: role})
			status.MigratedBalances++
			m.metrics.MigrationRecords.WithLabelValues("migrated_balance").Inc()
		}
	}

	var adminDollars float64
	found, err := m.store.Get(ctx, legacyAdminKey, &adminDollars)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", legacyAdminKey, err)
	}
	if found {
		amount, err := money.FromFloat(adminDollars)
		if err != nil || amount.IsNegative() {
			m.skip(status, legacyAdminKey, fmt.Sprintf("admin balance %v is not migratable", adminDollars))
			return migrated, nil
		}
		balance := models.NewBalance(models.AdminUser, models.RoleAdmin)
		balance.Balance = amount
		if err := m.ledger.SaveBalance(ctx, balance); err != nil {
			return nil, fmt.Errorf("failed to persist migrated admin balance: %w", err)
		}
		migrated = append(migrated, accountRef{user: models.AdminUser, role: models.RoleAdmin})
		status.MigratedBalances++
		m.metrics.MigrationRecords.WithLabelValues("migrated_balance").Inc()
	}
	return migrated, nil
}

func parseLegacyDate(raw string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000Z", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func (m *Migrator) migrateOrders(ctx context.Context, status *Status) error {
	var orders []legacyOrder
	found, err := m.store.Get(ctx, legacyOrdersKey, &orders)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", legacyOrdersKey, err)
	}
	if !found {
		return nil
	}
	for i, order := range orders {
		source := fmt.Sprintf("%s[%d]", legacyOrdersKey, i)
		if m.isSeed(order.Buyer) || m.isSeed(order.Seller) {
			status.StrippedSeeds++
			m.metrics.MigrationRecords.WithLabelValues("stripped_seed").Inc()
			continue
		}
		buyer, err := models.ParseUserID(order.Buyer)
		if err != nil {
			m.skip(status, source, "invalid buyer: "+err.Error())
			continue
		}
		seller, err := models.ParseUserID(order.Seller)
		if err != nil {
			m.skip(status, source, "invalid seller: "+err.Error())
			continue
		}
		paid := order.MarkedUpPrice
		if paid <= 0 {
			paid = order.Price
		}
		amount, err := money.FromFloat(paid)
		if err != nil || !amount.IsPositive() {
			m.skip(status, source, fmt.Sprintf("price %v is not migratable", paid))
			continue
		}
		var fee money.Money
		if order.MarkedUpPrice > order.Price && order.Price > 0 {
			if base, err := money.FromFloat(order.Price); err == nil && base.IsPositive() && amount > base {
				fee = amount - base
			}
		}

		tx := models.NewTransaction(models.TypePurchase, amount, buyer, seller, models.RoleBuyer, models.RoleSeller)
		if order.ID != "" {
			tx.ID = order.ID
		}
		tx.Metadata.OrderID = order.ID
		tx.Metadata.ListingID = order.Title
		tx.Metadata.PlatformFee = fee
		tx.Metadata.MigratedFrom = legacyOrdersKey
		if at := parseLegacyDate(order.Date); !at.IsZero() {
			tx.CreatedAt = at
		}
		tx.MarkCompleted(tx.CreatedAt)
		if err := m.ledger.AppendTransaction(ctx, tx); err != nil {
			m.skip(status, source, err.Error())
			continue
		}
		status.MigratedTransactions++
		m.metrics.MigrationRecords.WithLabelValues("migrated_transaction").Inc()
	}
	return nil
}

func (m *Migrator) migrateWithdrawals(ctx context.Context, status *Status) error {
	withdrawals := make(map[string][]legacyWithdrawal)
	found, err := m.store.Get(ctx, legacyWithdrawalsKey, &withdrawals)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", legacyWithdrawalsKey, err)
	}
	if !found {
		return nil
	}
	for user, entries := range withdrawals {
		if m.isSeed(user) {
			status.StrippedSeeds++
			m.metrics.MigrationRecords.WithLabelValues("stripped_seed").Inc()
			continue
		}
		seller, err := models.ParseUserID(user)
		if err != nil {
			m.skip(status, legacyWithdrawalsKey, "invalid seller: "+err.Error())
			continue
		}
		for i, entry := range entries {
			source := fmt.Sprintf("%s[%s][%d]", legacyWithdrawalsKey, user, i)
			amount, err := money.FromFloat(entry.Amount)
			if err != nil || !amount.IsPositive() {
				m.skip(status, source, fmt.Sprintf("amount %v is not migratable", entry.Amount))
				continue
			}
			tx := models.NewTransaction(models.TypeWithdrawal, amount, seller, "", models.RoleSeller, "")
			tx.Metadata.MigratedFrom = legacyWithdrawalsKey
			if at := parseLegacyDate(entry.Date); !at.IsZero() {
				tx.CreatedAt = at
			}
			if entry.Status == "failed" {
				tx.MarkFailed(tx.CreatedAt, "failed in legacy system")
			} else {
				tx.MarkCompleted(tx.CreatedAt)
			}
			if err := m.ledger.AppendTransaction(ctx, tx); err != nil {
				m.skip(status, source, err.Error())
				continue
			}
			status.MigratedTransactions++
			m.metrics.MigrationRecords.WithLabelValues("migrated_transaction").Inc()
		}
	}
	return nil
}

func (m *Migrator) migrateAdminActions(ctx context.Context, status *Status) error {
	var actions []legacyAdminAction
	found, err := m.store.Get(ctx, legacyActionsKey, &actions)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", legacyActionsKey, err)
	}
	if !found {
		return nil
	}
	for i, action := range actions {
		source := fmt.Sprintf("%s[%d]", legacyActionsKey, i)
		if m.isSeed(action.User) {
			status.StrippedSeeds++
			m.metrics.MigrationRecords.WithLabelValues("stripped_seed").Inc()
			continue
		}
		user, err := models.ParseUserID(action.User)
		if err != nil {
			m.skip(status, source, "invalid user: "+err.Error())
			continue
		}
		role, err := models.ParseRole(action.Role)
		if err != nil {
			m.skip(status, source, err.Error())
			continue
		}
		amount, err := money.FromFloat(action.Amount)
		if err != nil || !amount.IsPositive() {
			m.skip(status, source, fmt.Sprintf("amount %v is not migratable", action.Amount))
			continue
		}

		var tx *models.Transaction
		switch action.Type {
		case "credit":
			tx = models.NewTransaction(models.TypeAdminCredit, amount, "", user, "", role)
		case "debit":
			tx = models.NewTransaction(models.TypeAdminDebit, amount, user, "", role, "")
		default:
			m.skip(status, source, fmt.Sprintf("unknown action type %q", action.Type))
			continue
		}
		tx.Metadata.Reason = action.Reason
		tx.Metadata.MigratedFrom = legacyActionsKey
		if at := parseLegacyDate(action.Date); !at.IsZero() {
			tx.CreatedAt = at
		}
		tx.MarkCompleted(tx.CreatedAt)
		if err := m.ledger.AppendTransaction(ctx, tx); err != nil {
			m.skip(status, source, err.Error())
			continue
		}
		status.MigratedTransactions++
		m.metrics.MigrationRecords.WithLabelValues("migrated_transaction").Inc()
	}
	return nil
}

// writeOpeningAdjustments closes the gap between the migrated flat balances
// and the balance the imported history implies. The legacy balance maps are
// authoritative; the history is partial by nature, so each account gets one
// synthetic adjustment that makes ledger and balance agree.
func (m *Migrator) writeOpeningAdjustments(ctx context.Context, status *Status, migrated []accountRef) error {
	txs, err := m.ledger.ListTransactions(ctx, repository.TransactionFilter{})
	if err != nil {
		return fmt.Errorf("failed to list migrated transactions: %w", err)
	}
	accounts := make(map[string]accountRef)
	add := func(user models.UserID, role models.Role) {
		if user != "" && role != "" {
			accounts[string(role)+"/"+string(user)] = accountRef{user: user, role: role}
		}
	}
	for _, ref := range migrated {
		add(ref.user, ref.role)
	}
	for _, tx := range txs {
		add(tx.From, tx.FromRole)
		add(tx.To, tx.ToRole)
	}

	for _, ref := range accounts {
		report, err := m.reconciler.ReconcileAccount(ctx, ref.user, ref.role)
		if err != nil {
			return fmt.Errorf("failed to reconcile %s/%s during migration: %w", ref.user, ref.role, err)
		}
		if report.Difference == 0 {
			continue
		}
		var tx *models.Transaction
		if report.Difference.IsPositive() {
			tx = models.NewTransaction(models.TypeAdminCredit, report.Difference, "", ref.user, "", ref.role)
		} else {
			tx = models.NewTransaction(models.TypeAdminDebit, report.Difference.Neg(), ref.user, "", ref.role, "")
		}
		tx.Metadata.Reason = "legacy opening balance adjustment"
		tx.Metadata.MigratedFrom = "opening_adjustment"
		tx.MarkCompleted(m.now())
		if err := m.ledger.AppendTransaction(ctx, tx); err != nil {
			return fmt.Errorf("failed to write opening adjustment for %s/%s: %w", ref.user, ref.role, err)
		}
		status.MigratedTransactions++
		m.metrics.MigrationRecords.WithLabelValues("opening_adjustment").Inc()
	}
	return nil
}

type accountRef struct {
	user models.UserID
	role models.Role
}

// verify recomputes a sample of migrated accounts from the new ledger and
// records mismatches as migration errors without failing the batch.
func (m *Migrator) verify(ctx context.Context, status *Status) {
	txs, err := m.ledger.ListTransactions(ctx, repository.TransactionFilter{})
	if err != nil {
		status.Errors = append(status.Errors, "verification: "+err.Error())
		return
	}
	seen := make(map[string]bool)
	checked := 0
	for _, tx := range txs {
		if checked >= m.cfg.VerifySampleSize {
			break
		}
		for _, ref := range []accountRef{{tx.From, tx.FromRole}, {tx.To, tx.ToRole}} {
			if ref.user == "" || ref.role == "" {
				continue
			}
			key := string(ref.role) + "/" + string(ref.user)
			if seen[key] {
				continue
			}
			seen[key] = true
			checked++
			report, err := m.reconciler.ReconcileAccount(ctx, ref.user, ref.role)
			if err != nil {
				status.Errors = append(status.Errors, fmt.Sprintf("verification %s: %v", key, err))
				continue
			}
			if !report.Consistent {
				status.Errors = append(status.Errors,
					fmt.Sprintf("verification %s: ledger %s vs balance %s", key, report.Expected, report.Cached))
			}
		}
	}
	m.log.WithFields(logrus.Fields{
		"sampled": checked,
		"errors":  len(status.Errors),
	}).Info("Migration verification finished")
}
