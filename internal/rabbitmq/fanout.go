package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"chat-gateway/internal/models"
	"chat-gateway/internal/observability"
)

// ErrNotConfirmed is returned when the broker does not confirm a publish.
var ErrNotConfirmed = errors.New("broker did not confirm publish")

// Sink receives decoded broker deliveries. TryPut must not block: a full
// sink is the back-pressure signal that makes the consumer requeue.
type Sink interface {
	TryPut(msg models.Message) error
}

// Config carries the broker settings the fan-out manager needs.
type Config struct {
	URL                   string
	DeliveryExchange      string
	PersistenceExchange   string
	PersistenceRoutingKey string
	PrefetchCount         int
}

// Fanout owns the broker connection: a confirmed publish channel toward the
// persistence exchange and, per Consume call, a prefetch-bounded consume
// channel on the process's own delivery queue.
type Fanout struct {
	cfg       Config
	processID string
	log       zerolog.Logger

	conn      *amqp.Connection
	publishCh *amqp.Channel
	closeOnce sync.Once
}

// NewFanout constructs an unconnected manager for this process.
func NewFanout(cfg Config, processID string, log zerolog.Logger) *Fanout {
	return &Fanout{cfg: cfg, processID: processID, log: log}
}

// Start dials the broker, opens the confirmed publish channel and verifies
// that both exchanges exist. Any failure here is fatal to process startup.
func (f *Fanout) Start() error {
	conn, err := amqp.Dial(f.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open publish channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("enable publisher confirms: %w", err)
	}

	// Passive declares: the exchanges are provisioned externally, the
	// gateway only verifies they exist.
	for _, exchange := range []string{f.cfg.DeliveryExchange, f.cfg.PersistenceExchange} {
		if err := ch.ExchangeDeclarePassive(exchange, "direct", true, false, false, false, nil); err != nil {
			_ = conn.Close()
			return fmt.Errorf("verify exchange %q: %w", exchange, err)
		}
	}

	f.conn = conn
	f.publishCh = ch
	f.log.Info().Str("process_id", f.processID).Msg("rabbitmq connected, exchanges verified")
	return nil
}

// Consume opens a fresh channel, declares this process's ephemeral queue,
// binds it to the delivery exchange under the process id and iterates
// deliveries until the context is cancelled or the channel dies. The queue
// is exclusive and auto-deleting, so its lifetime is bound to the channel.
//
// A nil return means clean cancellation; a non-nil return means the broker
// side failed and the caller decides whether to restart consumption.
func (f *Fanout) Consume(ctx context.Context, sink Sink) error {
	ch, err := f.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(f.cfg.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	queue, err := ch.QueueDeclare(
		fmt.Sprintf("websocket.connection.%s", f.processID),
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare process queue: %w", err)
	}

	if err := ch.QueueBind(queue.Name, f.processID, f.cfg.DeliveryExchange, false, nil); err != nil {
		return fmt.Errorf("bind process queue: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue.Name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	f.log.Info().Str("queue", queue.Name).Msg("consuming deliveries")

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("delivery stream closed by broker")
			}
			f.handleDelivery(delivery, sink)
		}
	}
}

// handleDelivery applies the acknowledge-on-success contract: a decoded and
// enqueued message is acked; a full sink nacks with requeue so the broker
// redelivers; a malformed body is acked and dropped since redelivery of a
// permanently corrupt payload cannot succeed.
func (f *Fanout) handleDelivery(delivery amqp.Delivery, sink Sink) {
	var msg models.Message
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		f.log.Warn().Err(err).Msg("dropping undecodable delivery")
		_ = delivery.Ack(false)
		observability.IncDelivery("drop")
		return
	}

	if err := sink.TryPut(msg); err != nil {
		_ = delivery.Nack(false, true)
		observability.IncDelivery("requeue")
		return
	}

	_ = delivery.Ack(false)
	observability.IncDelivery("ack")
}

// Publish serializes the message and publishes it to the persistence
// exchange, waiting for broker confirmation. An unconfirmed publish is
// reported as a failure, never as success.
func (f *Fanout) Publish(ctx context.Context, msg models.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	confirmation, err := f.publishCh.PublishWithDeferredConfirmWithContext(
		ctx,
		f.cfg.PersistenceExchange,
		f.cfg.PersistenceRoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:     "application/json",
			ContentEncoding: "utf-8",
			DeliveryMode:    amqp.Persistent,
			Timestamp:       time.Now(),
			Body:            body,
		},
	)
	if err != nil {
		observability.IncAMQPPublishError()
		return fmt.Errorf("publish message: %w", err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		observability.IncAMQPPublishError()
		return fmt.Errorf("await publish confirm: %w", err)
	}
	if !acked {
		observability.IncAMQPPublishError()
		return ErrNotConfirmed
	}
	return nil
}

// Close tears down the publish channel and the connection, tolerating
// resources that are already gone.
func (f *Fanout) Close() error {
	var err error
	f.closeOnce.Do(func() {
		if f.publishCh != nil {
			_ = f.publishCh.Close()
		}
		if f.conn != nil {
			err = f.conn.Close()
		}
	})
	return err
}
