package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"frontdesk/internal/domain"
)

// AMQPForwarder mirrors system events onto a durable topic exchange so
// services outside this process can consume them.
type AMQPForwarder struct {
	conn     *amqp.Connection
	exchange string
	bus      domain.MessageBus
	logger   *slog.Logger
}

// NewAMQPForwarder dials url and declares exchange as a durable topic exchange.
func NewAMQPForwarder(url, exchange string, b domain.MessageBus, logger *slog.Logger) (*AMQPForwarder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPForwarder{conn: conn, exchange: exchange, bus: b, logger: logger}, nil
}

// RoutingKey maps an event type to its AMQP routing key.
func RoutingKey(eventType string) string {
	if eventType == "" {
		eventType = "unknown"
	}
	return "frontdesk." + eventType
}

// Run forwards events until ctx is cancelled.
func (f *AMQPForwarder) Run(ctx context.Context) error {
	return f.bus.Subscribe(ctx, domain.ChannelSystemEvents, func(ctx context.Context, _ string, payload []byte) {
		ev, err := DecodeEvent(payload)
		if err != nil {
			f.logger.Warn("amqp forward: bad event", "err", err)
			return
		}
		if err := f.publish(ctx, ev, payload); err != nil {
			f.logger.Warn("amqp forward failed", "type", ev.Type, "err", err)
		}
	})
}

func (f *AMQPForwarder) publish(ctx context.Context, ev SystemEvent, body []byte) error {
	ch, err := f.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return ch.PublishWithContext(ctx, f.exchange, RoutingKey(ev.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    ev.Timestamp,
		Body:         body,
	})
}

func (f *AMQPForwarder) Close() error {
	return f.conn.Close()
}
