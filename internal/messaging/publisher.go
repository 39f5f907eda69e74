package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/pantypostorganisation/pantypost-sub009/internal/config"
	"github.com/pantypostorganisation/pantypost-sub009/internal/models"
)

// Event is what the wallet announces to the rest of the platform after a
// transaction reaches a terminal state.
type Event struct {
	Type          string                   `json:"type"`
	TransactionID string                   `json:"transaction_id"`
	TxType        models.TransactionType   `json:"transaction_type"`
	Status        models.TransactionStatus `json:"status"`
	From          models.UserID            `json:"from,omitempty"`
	To            models.UserID            `json:"to,omitempty"`
	Amount        string                   `json:"amount"`
	OccurredAt    time.Time                `json:"occurred_at"`
}

const (
	EventTransactionCompleted = "wallet.transaction.completed"
	EventTransactionFailed    = "wallet.transaction.failed"
	EventTransactionReversed  = "wallet.transaction.reversed"
	EventSuspicionFlagged     = "wallet.suspicion.flagged"
)

// EventFromTransaction builds the announcement for a terminal transaction.
func EventFromTransaction(eventType string, tx *models.Transaction) Event {
	return Event{
		Type:          eventType,
		TransactionID: tx.ID,
		TxType:        tx.Type,
		Status:        tx.Status,
		From:          tx.From,
		To:            tx.To,
		Amount:        tx.Amount.String(),
		OccurredAt:    time.Now().UTC(),
	}
}

// EventPublisher fans wallet events out to interested services. Publishing
// is best effort; a broker outage never blocks or fails a money movement.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type rabbitPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	log      *logrus.Logger
}

// NewRabbitPublisher connects to RabbitMQ and declares the wallet topic
// exchange.
func NewRabbitPublisher(cfg config.RabbitMQConfig, log *logrus.Logger) (EventPublisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}
	if err := channel.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %q: %w", cfg.Exchange, err)
	}
	log.WithField("exchange", cfg.Exchange).Info("Connected to RabbitMQ")
	return &rabbitPublisher{conn: conn, channel: channel, exchange: cfg.Exchange, log: log}, nil
}

func (p *rabbitPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	err = p.channel.PublishWithContext(ctx, p.exchange, event.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}
	return nil
}

func (p *rabbitPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NoopPublisher drops every event. Used when messaging is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                         { return nil }
