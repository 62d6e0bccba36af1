package rabbitmq

import (
	"context"
	"errors"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one delivery body. Returning false re-queues the message.
type Handler func(ctx context.Context, body []byte) bool

type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  *slog.Logger
}

func NewConsumer(amqpURL string, log *slog.Logger) (*Consumer, error) {
	conn, ch, err := dial(amqpURL)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{conn: conn, ch: ch, log: log.With("component", "rabbitmq_consumer")}, nil
}

// ConsumeWithBindings binds queueName to exchange for every routing key and
// dispatches deliveries until ctx is done. Unknown routing keys are dropped.
func (c *Consumer) ConsumeWithBindings(ctx context.Context, exchange, queueName string, bindings map[string]Handler) error {
	if len(bindings) == 0 {
		return errors.New("no bindings provided")
	}
	if err := declareTopic(c.ch, exchange); err != nil {
		return err
	}
	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}

	handlers := make(map[string]Handler, len(bindings))
	for routingKey, h := range bindings {
		if h == nil {
			continue
		}
		handlers[routingKey] = h
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					c.log.Warn("delivery channel closed", "queue", q.Name)
					return
				}
				c.dispatch(ctx, handlers, d)
			}
		}
	}()
	return nil
}

func (c *Consumer) dispatch(ctx context.Context, handlers map[string]Handler, d amqp.Delivery) {
	h, ok := handlers[d.RoutingKey]
	if !ok {
		c.log.Warn("no handler for routing key; dropping", "routing_key", d.RoutingKey)
		_ = d.Ack(false)
		return
	}
	if h(ctx, d.Body) {
		_ = d.Ack(false)
		return
	}
	c.log.Warn("handler failed; re-queuing", "routing_key", d.RoutingKey)
	_ = d.Nack(false, true)
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
