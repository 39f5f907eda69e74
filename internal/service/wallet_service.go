package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/pantypostorganisation/pantypost-sub009/internal/config"
	"github.com/pantypostorganisation/pantypost-sub009/internal/engine"
	"github.com/pantypostorganisation/pantypost-sub009/internal/migration"
	"github.com/pantypostorganisation/pantypost-sub009/internal/models"
	"github.com/pantypostorganisation/pantypost-sub009/internal/money"
	"github.com/pantypostorganisation/pantypost-sub009/internal/repository"
	"github.com/pantypostorganisation/pantypost-sub009/pkg/apierrors"
)

// OperationResponse is the uniform result envelope for money movements.
// Success is false exactly when ErrorCode is set; nothing in the service
// layer returns a raw error across the API boundary.
type OperationResponse struct {
	Success        bool                `json:"success"`
	ErrorCode      string              `json:"error_code,omitempty"`
	ErrorMessage   string              `json:"error_message,omitempty"`
	Transaction    *models.Transaction `json:"transaction,omitempty"`
	FeeTransaction *models.Transaction `json:"fee_transaction,omitempty"`
}

// BalanceResponse reports one account's balance.
type BalanceResponse struct {
	Success      bool            `json:"success"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Balance      *models.Balance `json:"balance,omitempty"`
	Available    string          `json:"available,omitempty"`
}

// HistoryResponse is a filtered slice of the ledger.
type HistoryResponse struct {
	Success      bool                  `json:"success"`
	ErrorCode    string                `json:"error_code,omitempty"`
	ErrorMessage string                `json:"error_message,omitempty"`
	Transactions []*models.Transaction `json:"transactions"`
	Total        int                   `json:"total"`
}

// WalletService is the public surface of the wallet. It parses raw inputs,
// applies the configured default fees, delegates to the engine and wraps
// every outcome in a response envelope.
type WalletService interface {
	GetBalance(ctx context.Context, user, role string) *BalanceResponse
	Deposit(ctx context.Context, user, amount, method, idempotencyKey string) *OperationResponse
	Withdraw(ctx context.Context, user, role, amount, bankAccount, idempotencyKey string) *OperationResponse
	Purchase(ctx context.Context, buyer, seller, amount, listingID, orderID, idempotencyKey string) *OperationResponse
	Tip(ctx context.Context, buyer, seller, amount, idempotencyKey string) *OperationResponse
	Subscribe(ctx context.Context, buyer, seller, amount, subscriptionID, idempotencyKey string) *OperationResponse
	TierCredit(ctx context.Context, seller, amount, reason, idempotencyKey string) *OperationResponse
	AdminAdjust(ctx context.Context, user, role, amount string, credit bool, reason, operator, idempotencyKey string) *OperationResponse
	Reverse(ctx context.Context, transactionID, reason, operator, idempotencyKey string) *OperationResponse
	GetHistory(ctx context.Context, filter repository.TransactionFilter) *HistoryResponse

	ReconcileAccount(ctx context.Context, user, role string) (*engine.AccountReport, error)
	ReconcileAll(ctx context.Context, limit int) (*engine.Report, error)
	CheckSuspiciousActivity(ctx context.Context, user string) (*engine.SuspicionReport, error)

	IsMigrationNeeded(ctx context.Context) (bool, error)
	PerformMigration(ctx context.Context) (*migration.Status, error)
	GetMigrationStatus(ctx context.Context) (*migration.Status, error)
}

type walletService struct {
	engine     engine.Engine
	reversals  *engine.ReversalManager
	reconciler *engine.Reconciler
	detector   *engine.Detector
	migrator   *migration.Migrator
	ledger     repository.LedgerRepository
	fees       config.FeesConfig
	log        *logrus.Logger
}

// NewWalletService wires the wallet's public surface.
func NewWalletService(
	eng engine.Engine,
	reversals *engine.ReversalManager,
	reconciler *engine.Reconciler,
	detector *engine.Detector,
	migrator *migration.Migrator,
	ledger repository.LedgerRepository,
	fees config.FeesConfig,
	log *logrus.Logger,
) WalletService {
	return &walletService{
		engine:     eng,
		reversals:  reversals,
		reconciler: reconciler,
		detector:   detector,
		migrator:   migrator,
		ledger:     ledger,
		fees:       fees,
		log:        log,
	}
}

func failure(err error) *OperationResponse {
	appErr := apierrors.From(err)
	return &OperationResponse{
		Success:      false,
		ErrorCode:    string(appErr.Code),
		ErrorMessage: appErr.Message,
	}
}

func (s *walletService) GetBalance(ctx context.Context, rawUser, rawRole string) *BalanceResponse {
	user, role, err := parseAccount(rawUser, rawRole)
	if err != nil {
		appErr := apierrors.From(err)
		return &BalanceResponse{ErrorCode: string(appErr.Code), ErrorMessage: appErr.Message}
	}
	balance, loadErr := s.ledger.GetBalance(ctx, user, role)
	if loadErr != nil {
		s.log.WithError(loadErr).WithFields(logrus.Fields{"user": user, "role": role}).Error("Failed to load balance")
		appErr := apierrors.NewInternal("failed to load balance")
		return &BalanceResponse{ErrorCode: string(appErr.Code), ErrorMessage: appErr.Message}
	}
	return &BalanceResponse{
		Success:   true,
		Balance:   balance,
		Available: balance.Available().String(),
	}
}

func parseAccount(rawUser, rawRole string) (models.UserID, models.Role, error) {
	user, err := models.ParseUserID(rawUser)
	if err != nil {
		return "", "", apierrors.NewValidation("%s", err.Error())
	}
	role, err := models.ParseRole(rawRole)
	if err != nil {
		return "", "", apierrors.NewValidation("%s", err.Error())
	}
	return user, role, nil
}

func parseAmount(raw string) (money.Money, error) {
	amount, err := money.FromDecimalString(raw)
	if err != nil {
		return 0, apierrors.NewValidation("%s", err.Error())
	}
	if !amount.IsPositive() {
		return 0, apierrors.NewValidation("amount must be positive, got %s", raw)
	}
	return amount, nil
}

func (s *walletService) Deposit(ctx context.Context, rawUser, rawAmount, method, idempotencyKey string) *OperationResponse {
	user, err := models.ParseUserID(rawUser)
	if err != nil {
		return failure(apierrors.NewValidation("%s", err.Error()))
	}
	amount, err := parseAmount(rawAmount)
	if err != nil {
		return failure(err)
	}
	tx, err := s.engine.Deposit(ctx, engine.DepositRequest{
		User:           user,
		Amount:         amount,
		Method:         method,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return failure(err)
	}
	return &OperationResponse{Success: true, Transaction: tx}
}

func (s *walletService) Withdraw(ctx context.Context, rawUser, rawRole, rawAmount, bankAccount, idempotencyKey string) *OperationResponse {
	user, role, err := parseAccount(rawUser, rawRole)
	if err != nil {
		return failure(err)
	}
	amount, err := parseAmount(rawAmount)
	if err != nil {
		return failure(err)
	}
	tx, err := s.engine.Withdraw(ctx, engine.WithdrawRequest{
		User:           user,
		Role:           role,
		Amount:         amount,
		BankAccount:    bankAccount,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return failure(err)
	}
	return &OperationResponse{Success: true, Transaction: tx}
}

func (s *walletService) transfer(ctx context.Context, req engine.TransferRequest) *OperationResponse {
	result, err := s.engine.Transfer(ctx, req)
	if err != nil {
		return failure(err)
	}
	return &OperationResponse{
		Success:        true,
		Transaction:    result.Transfer,
		FeeTransaction: result.Fee,
	}
}

func (s *walletService) Purchase(ctx context.Context, rawBuyer, rawSeller, rawAmount, listingID, orderID, idempotencyKey string) *OperationResponse {
	buyer, err := models.ParseUserID(rawBuyer)
	if err != nil {
		return failure(apierrors.NewValidation("%s", err.Error()))
	}
	seller, err := models.ParseUserID(rawSeller)
	if err != nil {
		return failure(apierrors.NewValidation("%s", err.Error()))
	}
	amount, err := parseAmount(rawAmount)
	if err != nil {
		return failure(err)
	}
	return s.transfer(ctx, engine.TransferRequest{
		Type:           models.TypePurchase,
		From:           buyer,
		To:             seller,
		Amount:         amount,
		FeeBps:         s.fees.PurchaseBps,
		ListingID:      listingID,
		OrderID:        orderID,
		IdempotencyKey: idempotencyKey,
	})
}

func (s *walletService) Tip(ctx context.Context, rawBuyer, rawSeller, rawAmount, idempotencyKey string) *OperationResponse {
	buyer, err := models.ParseUserID(rawBuyer)
	if err != nil {
		return failure(apierrors.NewValidation("%s", err.Error()))
	}
	seller, err := models.ParseUserID(rawSeller)
	if err != nil {
		return failure(apierrors.NewValidation("%s", err.Error()))
	}
	amount, err := parseAmount(rawAmount)
	if err != nil {
		return failure(err)
	}
	return s.transfer(ctx, engine.TransferRequest{
		Type:           models.TypeTip,
		From:           buyer,
		To:             seller,
		Amount:         amount,
		FeeBps:         s.fees.TipBps,
		IdempotencyKey: idempotencyKey,
	})
}

func (s *walletService) Subscribe(ctx context.Context, rawBuyer, rawSeller, rawAmount, subscriptionID, idempotencyKey string) *OperationResponse {
	buyer, err := models.ParseUserID(rawBuyer)
	if err != nil {
		return failure(apierrors.NewValidation("%s", err.Error()))
	}
	seller, err := models.ParseUserID(rawSeller)
	if err != nil {
		return failure(apierrors.NewValidation("%s", err.Error()))
	}
	amount, err := parseAmount(rawAmount)
	if err != nil {
		return failure(err)
	}
	return s.transfer(ctx, engine.TransferRequest{
		Type:           models.TypeSubscription,
		From:           buyer,
		To:             seller,
		Amount:         amount,
		FeeBps:         s.fees.SubscriptionBps,
		SubscriptionID: subscriptionID,
		IdempotencyKey: idempotencyKey,
	})
}

func (s *walletService) TierCredit(ctx context.Context, rawSeller, rawAmount, reason, idempotencyKey string) *OperationResponse {
	seller, err := models.ParseUserID(rawSeller)
	if err != nil {
		return failure(apierrors.NewValidation("%s", err.Error()))
	}
	amount, err := parseAmount(rawAmount)
	if err != nil {
		return failure(err)
	}
	return s.transfer(ctx, engine.TransferRequest{
		Type:           models.TypeTierCredit,
		From:           models.AdminUser,
		To:             seller,
		Amount:         amount,
		Reason:         reason,
		IdempotencyKey: idempotencyKey,
	})
}

func (s *walletService) AdminAdjust(ctx context.Context, rawUser, rawRole, rawAmount string, credit bool, reason, operator, idempotencyKey string) *OperationResponse {
	user, role, err := parseAccount(rawUser, rawRole)
	if err != nil {
		return failure(err)
	}
	amount, err := parseAmount(rawAmount)
	if err != nil {
		return failure(err)
	}
	tx, err := s.engine.AdminAdjust(ctx, engine.AdminAdjustRequest{
		User:           user,
		Role:           role,
		Amount:         amount,
		Credit:         credit,
		Reason:         reason,
		Operator:       operator,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return failure(err)
	}
	return &OperationResponse{Success: true, Transaction: tx}
}

func (s *walletService) Reverse(ctx context.Context, transactionID, reason, operator, idempotencyKey string) *OperationResponse {
	result, err := s.reversals.Reverse(ctx, engine.ReversalRequest{
		TransactionID:  transactionID,
		Reason:         reason,
		Operator:       operator,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return failure(err)
	}
	return &OperationResponse{
		Success:        true,
		Transaction:    result.Refund,
		FeeTransaction: result.FeeRefund,
	}
}

func (s *walletService) GetHistory(ctx context.Context, filter repository.TransactionFilter) *HistoryResponse {
	txs, err := s.ledger.ListTransactions(ctx, filter)
	if err != nil {
		s.log.WithError(err).Error("Failed to list transactions")
		appErr := apierrors.NewInternal("failed to list transactions")
		return &HistoryResponse{ErrorCode: string(appErr.Code), ErrorMessage: appErr.Message}
	}
	return &HistoryResponse{Success: true, Transactions: txs, Total: len(txs)}
}

func (s *walletService) ReconcileAccount(ctx context.Context, rawUser, rawRole string) (*engine.AccountReport, error) {
	user, role, err := parseAccount(rawUser, rawRole)
	if err != nil {
		return nil, err
	}
	return s.reconciler.ReconcileAccount(ctx, user, role)
}

func (s *walletService) ReconcileAll(ctx context.Context, limit int) (*engine.Report, error) {
	return s.reconciler.ReconcileAll(ctx, limit)
}

func (s *walletService) CheckSuspiciousActivity(ctx context.Context, rawUser string) (*engine.SuspicionReport, error) {
	user, err := models.ParseUserID(rawUser)
	if err != nil {
		return nil, apierrors.NewValidation("%s", err.Error())
	}
	return s.detector.Check(ctx, user)
}

func (s *walletService) IsMigrationNeeded(ctx context.Context) (bool, error) {
	return s.migrator.IsMigrationNeeded(ctx)
}

func (s *walletService) PerformMigration(ctx context.Context) (*migration.Status, error) {
	return s.migrator.Run(ctx)
}

func (s *walletService) GetMigrationStatus(ctx context.Context) (*migration.Status, error) {
	return s.migrator.GetStatus(ctx)
}
