package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is implemented by types that can publish JSON events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body any) error
	Close()
}

// Producer publishes JSON messages to durable topic exchanges.
type Producer struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	log     *slog.Logger
}

// Fallback is a no-op publisher used when the broker is unavailable at startup.
type Fallback struct {
	Log *slog.Logger
}

func (p Fallback) Publish(ctx context.Context, exchange, routingKey string, body any) error {
	l := p.Log
	if l == nil {
		l = slog.Default()
	}
	l.Warn("publish skipped", "component", "rabbitmq_producer", "mode", "fallback", "exchange", exchange, "routing_key", routingKey)
	return nil
}

func (Fallback) Close() {}

// SanitizeURL trims quotes and stray prefixes and requires an amqp/amqps scheme.
func SanitizeURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// Slice from the first occurrence of the scheme if anything precedes it.
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

func dial(amqpURL string) (*amqp.Connection, *amqp.Channel, error) {
	cleanURL, err := SanitizeURL(amqpURL)
	if err != nil {
		return nil, nil, err
	}
	// Bounded dial so startup does not hang.
	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

func NewProducer(amqpURL string, log *slog.Logger) (*Producer, error) {
	conn, ch, err := dial(amqpURL)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Producer{conn: conn, channel: ch, log: log.With("component", "rabbitmq_producer")}, nil
}

func declareTopic(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	)
}

// Publish declares the exchange and sends body as JSON.
// A failed channel is reopened once before giving up.
func (p *Producer) Publish(ctx context.Context, exchange, routingKey string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		p.log.Error("json marshal failed", "exchange", exchange, "routing_key", routingKey, "err", err)
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	send := func() error {
		if err := declareTopic(p.channel, exchange); err != nil {
			return err
		}
		return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
	}
	if err := send(); err != nil {
		p.log.Warn("publish failed; reopening channel", "exchange", exchange, "routing_key", routingKey, "err", err)
		ch, chErr := p.conn.Channel()
		if chErr != nil {
			return errors.Join(err, chErr)
		}
		p.channel = ch
		return send()
	}
	return nil
}

func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
