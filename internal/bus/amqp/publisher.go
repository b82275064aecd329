// Package amqp publishes settlement events to an AMQP topic exchange with
// github.com/streadway/amqp. The routing key is the event type, so consumers
// can bind to "bet_placed", "market_*" style patterns.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/alanyoungcy/privymarket/internal/domain"
)

// Config holds broker connection parameters.
type Config struct {
	URL       string
	Exchange  string
	Heartbeat time.Duration
}

// channel is the subset of *amqp.Channel the publisher needs.
type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher implements domain.EventPublisher on an AMQP topic exchange. A
// broken connection is redialled once per failed publish.
type Publisher struct {
	cfg    Config
	logger *slog.Logger
	dial   func(Config) (*amqp.Connection, channel, error)

	mu   sync.Mutex
	conn *amqp.Connection
	ch   channel
}

// Dial connects to the broker and declares the exchange.
func Dial(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	p := &Publisher{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "amqp")),
		dial:   dialBroker,
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func dialBroker(cfg Config) (*amqp.Connection, channel, error) {
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Heartbeat: cfg.Heartbeat,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("amqp: open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		cfg.Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("amqp: declare exchange %s: %w", cfg.Exchange, err)
	}
	return conn, ch, nil
}

func (p *Publisher) connect() error {
	conn, ch, err := p.dial(p.cfg)
	if err != nil {
		return err
	}
	p.conn = conn
	p.ch = ch
	return nil
}

// message builds the AMQP message for evt.
func message(evt domain.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("amqp: marshal event %s: %w", evt.Type, err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ID,
		Timestamp:    evt.At,
		Type:         string(evt.Type),
		Body:         body,
	}, nil
}

// PublishEvent publishes evt with its type as routing key.
func (p *Publisher) PublishEvent(ctx context.Context, evt domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := message(evt)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := string(evt.Type)
	if p.ch != nil {
		if err = p.ch.Publish(p.cfg.Exchange, key, false, false, msg); err == nil {
			return nil
		}
		p.logger.WarnContext(ctx, "amqp: publish failed, reconnecting",
			slog.String("routing_key", key),
			slog.String("error", err.Error()),
		)
		p.closeLocked()
	}
	if err := p.connect(); err != nil {
		return err
	}
	if err := p.ch.Publish(p.cfg.Exchange, key, false, false, msg); err != nil {
		return fmt.Errorf("amqp: publish %s: %w", key, err)
	}
	return nil
}

func (p *Publisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

var _ domain.EventPublisher = (*Publisher)(nil)
