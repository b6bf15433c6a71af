package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const webhookEventsQueue = "github_webhook_events"

// RabbitMQ wraps an AMQP connection and a dedicated publish channel. The
// consumer opens its own channel; amqp091-go channels are not goroutine-safe.
type RabbitMQ struct {
	conn      *amqp.Connection
	publishMu sync.Mutex    // guards pubCh across HTTP handler goroutines
	pubCh     *amqp.Channel // used exclusively for publishing
	logger    *zap.Logger
}

// NewRabbitMQ dials the broker at url, opens the publish channel, and declares
// the webhook events queue.
func NewRabbitMQ(url string, logger *zap.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: failed to connect: %w", err)
	}

	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: failed to open publish channel: %w", err)
	}

	mq := &RabbitMQ{conn: conn, pubCh: pubCh, logger: logger.Named("queue")}
	if _, err := pubCh.QueueDeclare(
		webhookEventsQueue, // queue name
		true,               // durable
		false,              // auto-delete when unused
		false,              // exclusive
		false,              // no-wait
		nil,                // additional arguments
	); err != nil {
		mq.Close()
		return nil, fmt.Errorf("rabbitmq: failed to declare queue %q: %w", webhookEventsQueue, err)
	}
	mq.logger.Info("queue declared", zap.String("queue", webhookEventsQueue))

	return mq, nil
}

// PublishWebhookEvent sends msg to the webhook events queue as a persistent
// JSON message.
func (mq *RabbitMQ) PublishWebhookEvent(ctx context.Context, msg WebhookMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("rabbitmq: failed to marshal webhook event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	mq.publishMu.Lock()
	defer mq.publishMu.Unlock()

	if err := mq.pubCh.PublishWithContext(ctx,
		"",                 // default exchange
		webhookEventsQueue, // routing key = queue name
		false,              // mandatory
		false,              // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.DeliveryID,
			Type:         msg.EventType,
			Timestamp:    msg.ReceivedAt,
			Body:         body,
		},
	); err != nil {
		return fmt.Errorf("rabbitmq: failed to publish webhook event: %w", err)
	}

	mq.logger.Debug("published webhook event",
		zap.String("event", msg.EventType), zap.String("delivery", msg.DeliveryID))
	return nil
}

// ConsumeWebhookEvents delivers queued webhook events to handler until ctx is
// cancelled or the broker closes the channel. Undecodable messages are
// discarded; a handler error is logged and the message acknowledged, since
// redelivery would fail the same way.
func (mq *RabbitMQ) ConsumeWebhookEvents(ctx context.Context, handler func(context.Context, WebhookMessage) error) error {
	ch, err := mq.conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq: failed to open consumer channel: %w", err)
	}
	defer ch.Close()

	deliveries, err := ch.Consume(
		webhookEventsQueue, // queue
		"",                 // consumer tag (auto-generated)
		false,              // auto-ack disabled, we ack manually
		false,              // exclusive
		false,              // no-local
		false,              // no-wait
		nil,                // arguments
	)
	if err != nil {
		return fmt.Errorf("rabbitmq: failed to register consumer on %q: %w", webhookEventsQueue, err)
	}

	mq.logger.Info("consumer started", zap.String("queue", webhookEventsQueue))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("rabbitmq: delivery channel closed")
			}
			var msg WebhookMessage
			if err := json.Unmarshal(d.Body, &msg); err != nil {
				mq.logger.Warn("could not decode delivery, discarding", zap.Error(err))
				d.Nack(false, false) // requeue=false avoids a poison-message loop
				continue
			}
			if err := handler(ctx, msg); err != nil {
				mq.logger.Error("webhook event handler failed",
					zap.String("event", msg.EventType), zap.String("delivery", msg.DeliveryID), zap.Error(err))
			}
			d.Ack(false)
		}
	}
}

// Close releases the publish channel and the connection.
func (mq *RabbitMQ) Close() {
	if mq.pubCh != nil {
		mq.pubCh.Close()
	}
	if mq.conn != nil {
		mq.conn.Close()
	}
}
