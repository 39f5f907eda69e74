package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pantypostorganisation/pantypost-sub009/internal/config"
	"github.com/pantypostorganisation/pantypost-sub009/internal/messaging"
	"github.com/pantypostorganisation/pantypost-sub009/internal/models"
	"github.com/pantypostorganisation/pantypost-sub009/internal/money"
	"github.com/pantypostorganisation/pantypost-sub009/internal/monitoring"
	"github.com/pantypostorganisation/pantypost-sub009/internal/repository"
	"github.com/pantypostorganisation/pantypost-sub009/pkg/apierrors"
)

// Signal is one contributing factor to a user's suspicion score.
type Signal struct {
	Name   string `json:"name"`
	Score  int    `json:"score"`
	Detail string `json:"detail"`
}

// SuspicionReport is the detector's verdict for one user.
type SuspicionReport struct {
	User       models.UserID `json:"user"`
	Score      int           `json:"score"`
	Suspicious bool          `json:"suspicious"`
	Signals    []Signal      `json:"signals"`
	CheckedAt  time.Time     `json:"checked_at"`
}

const (
	scoreVelocity    = 30
	scoreLargeAmount = 25
	scoreFailureRate = 20
	scoreRoundTrip   = 40

	// failureRateMinSample keeps one or two early failures from flagging a
	// new account.
	failureRateMinSample = 5
)

// Detector scores recent activity for fraud patterns. It only reads the
// ledger and only reports; it never blocks a transaction.
type Detector struct {
	ledger  repository.LedgerRepository
	cfg     config.SuspicionConfig
	events  messaging.EventPublisher
	metrics *monitoring.Metrics
	log     *logrus.Logger
	now     func() time.Time
}

// NewDetector wires the suspicious activity detector.
func NewDetector(ledger repository.LedgerRepository, cfg config.SuspicionConfig, events messaging.EventPublisher, metrics *monitoring.Metrics, log *logrus.Logger) *Detector {
	return &Detector{
		ledger:  ledger,
		cfg:     cfg,
		events:  events,
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
}

// Check scores the user's recent activity and flags them when the combined
// score crosses the threshold.
func (d *Detector) Check(ctx context.Context, user models.UserID) (*SuspicionReport, error) {
	txs, err := d.ledger.ListTransactions(ctx, repository.TransactionFilter{User: user})
	if err != nil {
		return nil, apierrors.NewInternal("failed to list transactions", err.Error())
	}

	now := d.now().UTC()
	report := &SuspicionReport{User: user, CheckedAt: now}

	if sig, hit := d.velocitySignal(txs, now); hit {
		report.Signals = append(report.Signals, sig)
	}
	if sig, hit := d.largeAmountSignal(txs, now); hit {
		report.Signals = append(report.Signals, sig)
	}
	if sig, hit := d.failureRateSignal(txs); hit {
		report.Signals = append(report.Signals, sig)
	}
	if sig, hit := d.roundTripSignal(txs, user); hit {
		report.Signals = append(report.Signals, sig)
	}

	for _, sig := range report.Signals {
		report.Score += sig.Score
	}
	report.Suspicious = report.Score >= d.cfg.SuspicionThreshold

	if report.Suspicious {
		d.metrics.SuspicionFlags.Inc()
		d.log.WithFields(logrus.Fields{
			"user":    user,
			"score":   report.Score,
			"signals": len(report.Signals),
		}).Warn("User flagged as suspicious")
		event := messaging.Event{
			Type:       messaging.EventSuspicionFlagged,
			From:       user,
			OccurredAt: now,
		}
		if err := d.events.Publish(ctx, event); err != nil {
			d.log.WithError(err).WithField("user", user).Warn("Failed to publish suspicion event")
		}
	}
	return report, nil
}

// velocitySignal fires when the user completed more transactions inside the
// window than the configured ceiling. Failed attempts are the failure-rate
// signal's business.
func (d *Detector) velocitySignal(txs []*models.Transaction, now time.Time) (Signal, bool) {
	cutoff := now.Add(-d.cfg.VelocityWindow)
	count := 0
	for _, tx := range txs {
		if tx.Status == models.StatusCompleted && tx.CreatedAt.After(cutoff) {
			count++
		}
	}
	if count <= d.cfg.VelocityMaxCount {
		return Signal{}, false
	}
	return Signal{
		Name:   "velocity",
		Score:  scoreVelocity,
		Detail: fmt.Sprintf("%d transactions in the last %s", count, d.cfg.VelocityWindow),
	}, true
}

// largeAmountSignal fires on a burst of unusually large completed
// transactions.
func (d *Detector) largeAmountSignal(txs []*models.Transaction, now time.Time) (Signal, bool) {
	cutoff := now.Add(-d.cfg.LargeAmountWindow)
	threshold := money.FromCents(d.cfg.LargeAmountCents)
	count := 0
	for _, tx := range txs {
		if tx.Status == models.StatusCompleted && tx.CreatedAt.After(cutoff) && tx.Amount > threshold {
			count++
		}
	}
	if count <= d.cfg.LargeAmountMaxCount {
		return Signal{}, false
	}
	return Signal{
		Name:   "large_amounts",
		Score:  scoreLargeAmount,
		Detail: fmt.Sprintf("%d transactions above %s in the last %s", count, threshold, d.cfg.LargeAmountWindow),
	}, true
}

// failureRateSignal fires when too large a share of the user's transactions
// failed.
func (d *Detector) failureRateSignal(txs []*models.Transaction) (Signal, bool) {
	failed, terminal := 0, 0
	for _, tx := range txs {
		if !tx.Status.IsTerminal() {
			continue
		}
		terminal++
		if tx.Status == models.StatusFailed {
			failed++
		}
	}
	if terminal < failureRateMinSample {
		return Signal{}, false
	}
	rate := float64(failed) / float64(terminal)
	if rate <= d.cfg.FailureRateThreshold {
		return Signal{}, false
	}
	return Signal{
		Name:   "failure_rate",
		Score:  scoreFailureRate,
		Detail: fmt.Sprintf("%d of %d transactions failed", failed, terminal),
	}, true
}

// roundTripSignal fires when money went out to a counterparty and came back
// in a similar amount within the window. Only direct two-party cycles are
// considered; longer chains are left to offline analysis.
func (d *Detector) roundTripSignal(txs []*models.Transaction, user models.UserID) (Signal, bool) {
	tolerance := money.FromCents(d.cfg.RoundTripToleranceCts)
	for _, out := range txs {
		if out.Status != models.StatusCompleted || out.From != user || out.To == "" {
			continue
		}
		// Refund and fee legs are platform bookkeeping, not user behavior.
		if out.Type == models.TypeRefund || out.Type == models.TypeFee {
			continue
		}
		for _, back := range txs {
			if back.Status != models.StatusCompleted || back.ID == out.ID {
				continue
			}
			if back.Type == models.TypeRefund || back.Type == models.TypeFee {
				continue
			}
			if back.From != out.To || back.To != user {
				continue
			}
			// Only a later return closes the loop.
			gap := back.CreatedAt.Sub(out.CreatedAt)
			if gap <= 0 || gap > d.cfg.RoundTripWindow {
				continue
			}
			diff := out.Amount - back.Amount
			if diff < 0 {
				diff = -diff
			}
			if diff <= tolerance {
				return Signal{
					Name:  "round_trip",
					Score: scoreRoundTrip,
					Detail: fmt.Sprintf("%s to %s returned within %s (%s out, %s back)",
						out.Amount, out.To, d.cfg.RoundTripWindow, out.Amount, back.Amount),
				}, true
			}
		}
	}
	return Signal{}, false
}
