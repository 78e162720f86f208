package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/eduvault/internal/queue"
)

// EventPublisher delivers certification events.  Publishing happens after
// the database commit; a failure is logged and never undoes the change.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.CertificationEvent) error
}

// NoopPublisher drops every event.  Used when events are disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, queue.CertificationEvent) error { return nil }

// AMQPPublisher publishes events as persistent JSON messages to the
// certification queue on the default exchange.  It dials per message,
// which is enough for the low write rate of the ledger.
type AMQPPublisher struct {
	URL   string
	Queue string
	Log   *slog.Logger
}

func NewAMQPPublisher(url string, log *slog.Logger) *AMQPPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &AMQPPublisher{URL: url, Queue: queue.CertificationQueue, Log: log}
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev queue.CertificationEvent) error {
	conn, err := amqp.Dial(p.URL)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	// durable so messages survive broker restarts
	if _, err := ch.QueueDeclare(p.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         ev.Type,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.Queue, false, false, pub); err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	p.Log.DebugContext(ctx, "event published", "type", ev.Type, "certification_id", ev.CertificationID)
	return nil
}
