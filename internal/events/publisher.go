package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Publisher keeps one broker connection and channel open, dialing again
// on the next publish after a failure.
type Publisher struct {
	url string
	log logrus.FieldLogger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher returns a publisher that dials lazily.
func NewPublisher(url string, log logrus.FieldLogger) *Publisher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Publisher{url: url, log: log.WithField("component", "events.publisher")}
}

// Publish sends env to the fanout exchange.  Errors are logged and
// returned; callers treat relay failures as non-fatal.
func (p *Publisher) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channelLocked()
	if err != nil {
		p.log.WithError(err).Warn("relay broker unavailable")
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now().UTC(),
		Type:         string(env.Kind),
		AppId:        env.Origin,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, ExchangeName, "", false, false, pub); err != nil {
		p.resetLocked()
		p.log.WithError(err).WithField("kind", env.Kind).Warn("relay publish failed")
		return err
	}
	return nil
}

func (p *Publisher) channelLocked() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.resetLocked()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	if err := declareExchange(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// Close drops the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.conn != nil {
		err = p.conn.Close()
		if errors.Is(err, amqp.ErrClosed) {
			err = nil
		}
	}
	p.conn, p.ch = nil, nil
	return err
}

func declareExchange(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		ExchangeName, // name
		amqp.ExchangeFanout,
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	return nil
}
