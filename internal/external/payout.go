package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pantypostorganisation/pantypost-sub009/internal/config"
	"github.com/pantypostorganisation/pantypost-sub009/internal/models"
	"github.com/pantypostorganisation/pantypost-sub009/internal/money"
)

// PayoutRequest asks the payment processor to move withdrawn funds to a
// seller's bank account.
type PayoutRequest struct {
	TransactionID string        `json:"transaction_id"`
	User          models.UserID `json:"user"`
	Amount        string        `json:"amount"`
	BankAccount   string        `json:"bank_account"`
}

// PayoutResult is the processor's acknowledgement.
type PayoutResult struct {
	Reference string `json:"reference"`
}

// PayoutProcessor executes external payouts. A returned error means the
// money did NOT leave the platform and the debit must be compensated.
type PayoutProcessor interface {
	ProcessPayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
}

type httpPayoutProcessor struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *logrus.Logger
}

// NewHTTPPayoutProcessor builds a PayoutProcessor over the payout API.
func NewHTTPPayoutProcessor(cfg config.ExternalConfig, log *logrus.Logger) PayoutProcessor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpPayoutProcessor{
		baseURL: cfg.PayoutAPIURL,
		apiKey:  cfg.PayoutAPIKey,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

func (p *httpPayoutProcessor) ProcessPayout(ctx context.Context, payout PayoutRequest) (*PayoutResult, error) {
	body, err := json.Marshal(payout)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payout request: %w", err)
	}
	url := p.baseURL + "/api/payouts"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create payout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-API-Key", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payout API unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		p.log.WithFields(logrus.Fields{
			"transaction_id": payout.TransactionID,
			"status":         resp.StatusCode,
		}).Error("Payout rejected by processor")
		return nil, fmt.Errorf("payout API returned status %d: %s", resp.StatusCode, string(raw))
	}

	var result PayoutResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode payout response: %w", err)
	}
	return &result, nil
}

// SandboxPayoutProcessor acknowledges every payout without moving money.
// FailAbove, when set, simulates processor rejections for large amounts so
// the compensation path can be exercised end to end.
type SandboxPayoutProcessor struct {
	FailAbove money.Money
}

func (p *SandboxPayoutProcessor) ProcessPayout(_ context.Context, payout PayoutRequest) (*PayoutResult, error) {
	if p.FailAbove > 0 {
		amount, err := money.FromDecimalString(payout.Amount)
		if err == nil && amount > p.FailAbove {
			return nil, fmt.Errorf("sandbox processor declines amounts above %s", p.FailAbove)
		}
	}
	return &PayoutResult{Reference: "sandbox-" + uuid.NewString()}, nil
}
