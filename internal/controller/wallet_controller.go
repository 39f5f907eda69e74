package controller

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/pantypostorganisation/pantypost-sub009/internal/models"
	"github.com/pantypostorganisation/pantypost-sub009/internal/repository"
	"github.com/pantypostorganisation/pantypost-sub009/internal/service"
	"github.com/pantypostorganisation/pantypost-sub009/pkg/apierrors"
)

// WalletController exposes the wallet service over HTTP.
type WalletController struct {
	service  service.WalletService
	validate *validator.Validate
	log      *logrus.Logger
}

// NewWalletController builds the HTTP controller.
func NewWalletController(svc service.WalletService, log *logrus.Logger) *WalletController {
	return &WalletController{
		service:  svc,
		validate: validator.New(),
		log:      log,
	}
}

type depositRequest struct {
	Amount         string `json:"amount" validate:"required"`
	Method         string `json:"method" validate:"required,oneof=credit_card debit_card bank_transfer"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,min=8,max=128"`
}

type withdrawRequest struct {
	Role           string `json:"role" validate:"required,oneof=seller admin"`
	Amount         string `json:"amount" validate:"required"`
	BankAccount    string `json:"bank_account" validate:"required,min=6,max=34"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,min=8,max=128"`
}

type transferRequest struct {
	Type           string `json:"type" validate:"required,oneof=purchase tip subscription tier_credit"`
	From           string `json:"from"`
	To             string `json:"to" validate:"required"`
	Amount         string `json:"amount" validate:"required"`
	ListingID      string `json:"listing_id"`
	OrderID        string `json:"order_id"`
	SubscriptionID string `json:"subscription_id"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,min=8,max=128"`
}

type adjustRequest struct {
	User           string `json:"user" validate:"required"`
	Role           string `json:"role" validate:"required,oneof=buyer seller admin"`
	Amount         string `json:"amount" validate:"required"`
	Credit         *bool  `json:"credit" validate:"required"`
	Reason         string `json:"reason" validate:"required,min=3,max=500"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,min=8,max=128"`
}

type reverseRequest struct {
	Reason         string `json:"reason" validate:"required,min=3,max=500"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,min=8,max=128"`
}

func (wc *WalletController) bind(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		wc.respondError(c, apierrors.NewValidation("invalid request body: %s", err.Error()))
		return false
	}
	if err := wc.validate.Struct(dest); err != nil {
		wc.respondError(c, apierrors.NewValidation("%s", err.Error()))
		return false
	}
	return true
}

func (wc *WalletController) respondError(c *gin.Context, err error) {
	appErr := apierrors.From(err)
	c.JSON(appErr.HTTPStatus(), gin.H{
		"success":       false,
		"error_code":    appErr.Code,
		"error_message": appErr.Message,
	})
}

func (wc *WalletController) respondOperation(c *gin.Context, resp *service.OperationResponse) {
	if !resp.Success {
		appErr := apierrors.New(apierrors.Code(resp.ErrorCode), resp.ErrorMessage)
		c.JSON(appErr.HTTPStatus(), resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetBalance handles GET /api/wallet/:userId/balance?role=buyer.
func (wc *WalletController) GetBalance(c *gin.Context) {
	role := c.DefaultQuery("role", string(models.RoleBuyer))
	resp := wc.service.GetBalance(c.Request.Context(), c.Param("userId"), role)
	if !resp.Success {
		appErr := apierrors.New(apierrors.Code(resp.ErrorCode), resp.ErrorMessage)
		c.JSON(appErr.HTTPStatus(), resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetTransactions handles GET /api/wallet/:userId/transactions.
func (wc *WalletController) GetTransactions(c *gin.Context) {
	filter := repository.TransactionFilter{
		User: models.UserID(c.Param("userId")),
	}
	if role := c.Query("role"); role != "" {
		parsed, err := models.ParseRole(role)
		if err != nil {
			wc.respondError(c, apierrors.NewValidation("%s", err.Error()))
			return
		}
		filter.Role = parsed
	}
	if txType := c.Query("type"); txType != "" {
		filter.Type = models.TransactionType(txType)
	}
	if status := c.Query("status"); status != "" {
		filter.Status = models.TransactionStatus(status)
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			wc.respondError(c, apierrors.NewValidation("invalid since timestamp: %s", since))
			return
		}
		filter.Since = t
	}
	filter.Limit = intQuery(c, "limit", 50)
	filter.Offset = intQuery(c, "offset", 0)

	resp := wc.service.GetHistory(c.Request.Context(), filter)
	if !resp.Success {
		appErr := apierrors.New(apierrors.Code(resp.ErrorCode), resp.ErrorMessage)
		c.JSON(appErr.HTTPStatus(), resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

// Deposit handles POST /api/wallet/:userId/deposit.
func (wc *WalletController) Deposit(c *gin.Context) {
	var req depositRequest
	if !wc.bind(c, &req) {
		return
	}
	resp := wc.service.Deposit(c.Request.Context(), c.Param("userId"), req.Amount, req.Method, req.IdempotencyKey)
	wc.respondOperation(c, resp)
}

// Withdraw handles POST /api/wallet/:userId/withdraw.
func (wc *WalletController) Withdraw(c *gin.Context) {
	var req withdrawRequest
	if !wc.bind(c, &req) {
		return
	}
	resp := wc.service.Withdraw(c.Request.Context(), c.Param("userId"), req.Role, req.Amount, req.BankAccount, req.IdempotencyKey)
	wc.respondOperation(c, resp)
}

// Transfer handles POST /api/wallet/transfer. The sender is the
// authenticated caller unless an admin names another account.
func (wc *WalletController) Transfer(c *gin.Context) {
	var req transferRequest
	if !wc.bind(c, &req) {
		return
	}
	from := req.From
	if from == "" {
		from = c.GetString("username")
	}
	if from != c.GetString("username") && c.GetString("role") != "admin" {
		wc.respondError(c, apierrors.New(apierrors.CodeUnauthorized, "cannot send from another user's wallet"))
		return
	}

	ctx := c.Request.Context()
	var resp *service.OperationResponse
	switch req.Type {
	case string(models.TypePurchase):
		resp = wc.service.Purchase(ctx, from, req.To, req.Amount, req.ListingID, req.OrderID, req.IdempotencyKey)
	case string(models.TypeTip):
		resp = wc.service.Tip(ctx, from, req.To, req.Amount, req.IdempotencyKey)
	case string(models.TypeSubscription):
		resp = wc.service.Subscribe(ctx, from, req.To, req.Amount, req.SubscriptionID, req.IdempotencyKey)
	case string(models.TypeTierCredit):
		if c.GetString("role") != "admin" {
			wc.respondError(c, apierrors.New(apierrors.CodeUnauthorized, "tier credits are admin-issued"))
			return
		}
		resp = wc.service.TierCredit(ctx, req.To, req.Amount, req.Reason, req.IdempotencyKey)
	}
	wc.respondOperation(c, resp)
}

// AdminAdjust handles POST /api/wallet/admin/adjust.
func (wc *WalletController) AdminAdjust(c *gin.Context) {
	var req adjustRequest
	if !wc.bind(c, &req) {
		return
	}
	operator := c.GetString("username")
	if operator == "" {
		operator = "api_key"
	}
	resp := wc.service.AdminAdjust(c.Request.Context(), req.User, req.Role, req.Amount, *req.Credit, req.Reason, operator, req.IdempotencyKey)
	wc.respondOperation(c, resp)
}

// Reverse handles POST /api/wallet/admin/reverse/:txId.
func (wc *WalletController) Reverse(c *gin.Context) {
	var req reverseRequest
	if !wc.bind(c, &req) {
		return
	}
	operator := c.GetString("username")
	if operator == "" {
		operator = "api_key"
	}
	resp := wc.service.Reverse(c.Request.Context(), c.Param("txId"), req.Reason, operator, req.IdempotencyKey)
	wc.respondOperation(c, resp)
}

// Reconcile handles GET /api/wallet/admin/reconcile/:userId?role=buyer.
func (wc *WalletController) Reconcile(c *gin.Context) {
	role := c.DefaultQuery("role", string(models.RoleBuyer))
	report, err := wc.service.ReconcileAccount(c.Request.Context(), c.Param("userId"), role)
	if err != nil {
		wc.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}

// ReconcileAll handles GET /api/wallet/admin/reconcile.
func (wc *WalletController) ReconcileAll(c *gin.Context) {
	report, err := wc.service.ReconcileAll(c.Request.Context(), intQuery(c, "limit", 0))
	if err != nil {
		wc.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}

// Suspicion handles GET /api/wallet/admin/suspicion/:userId.
func (wc *WalletController) Suspicion(c *gin.Context) {
	report, err := wc.service.CheckSuspiciousActivity(c.Request.Context(), c.Param("userId"))
	if err != nil {
		wc.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}

// MigrationStatus handles GET /api/wallet/admin/migration.
func (wc *WalletController) MigrationStatus(c *gin.Context) {
	status, err := wc.service.GetMigrationStatus(c.Request.Context())
	if err != nil {
		wc.respondError(c, err)
		return
	}
	needed, err := wc.service.IsMigrationNeeded(c.Request.Context())
	if err != nil {
		wc.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "needed": needed, "status": status})
}

// RunMigration handles POST /api/wallet/admin/migration.
func (wc *WalletController) RunMigration(c *gin.Context) {
	status, err := wc.service.PerformMigration(c.Request.Context())
	if err != nil {
		wc.log.WithError(err).Error("Manual migration run failed")
		appErr := apierrors.From(err)
		c.JSON(appErr.HTTPStatus(), gin.H{
			"success":       false,
			"error_code":    appErr.Code,
			"error_message": appErr.Message,
			"status":        status,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": status})
}

// Health handles GET /health.
func (wc *WalletController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "wallet"})
}
