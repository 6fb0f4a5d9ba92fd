package frontier

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	bosunapi "dragnet/pkg/api/bosun"
	"dragnet/pkg/logging"
)

// AMQPPublisher is the RabbitMQ deployment of the frontier's publish side:
// one durable queue per domain, named by host, message body = the URL as
// UTF-8. It satisfies the crawl pipeline's Publisher contract, so a trawler
// configured with AMQP_URL fans out to RabbitMQ instead of bosun.
type AMQPPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  logging.Logger
}

// NewAMQPPublisher dials the broker and opens a confirm-mode channel.
// Publishes wait for the broker confirm, so a reported success means the
// URL is durably queued.
func NewAMQPPublisher(amqpURL string, logger logging.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial amqp broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}

	if err := channel.Confirm(false); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	return &AMQPPublisher{conn: conn, channel: channel, logger: logger}, nil
}

func (p *AMQPPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		_ = p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// Publish queues every payload on its domain queue. All payloads are
// attempted; the errors are joined so the caller sees the whole batch
// outcome, matching the crawl pipeline's attempt-all fan-out rule.
func (p *AMQPPublisher) Publish(ctx context.Context, payloads []bosunapi.URLPayload) error {
	var errs []error
	for _, payload := range payloads {
		if err := p.publishOne(ctx, payload.Queue, payload.Message); err != nil {
			p.logger.WithError(err).WithFields(logging.Fields{
				"queue": payload.Queue,
				"url":   payload.Message,
			}).Error("Failed to publish URL")
			errs = append(errs, fmt.Errorf("publish to %s: %w", payload.Queue, err))
		}
	}
	return errors.Join(errs...)
}

func (p *AMQPPublisher) publishOne(ctx context.Context, domain, url string) error {
	// Declaring per publish is idempotent and keeps queue creation lazy:
	// a domain's queue exists exactly when something was published to it.
	if _, err := p.channel.QueueDeclare(
		domain,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(ctx,
		"",     // default exchange
		domain, // routing key = queue name
		false,  // mandatory
		false,  // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "text/plain",
			Body:         []byte(url),
		},
	)
	if err != nil {
		return fmt.Errorf("basic publish: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("publish confirm: %w", err)
	}
	if !acked {
		return errors.New("broker nacked publish")
	}
	return nil
}
