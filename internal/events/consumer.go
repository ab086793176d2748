package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Sink receives envelopes published by other nodes.
type Sink func(Envelope)

// Consumer binds an exclusive queue to the fanout exchange and hands
// every remote envelope to a sink.
type Consumer struct {
	url    string
	origin string
	sink   Sink
	log    logrus.FieldLogger

	maxBackoff time.Duration
}

// NewConsumer builds a consumer that ignores envelopes from origin.
func NewConsumer(url, origin string, sink Sink, log logrus.FieldLogger) *Consumer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Consumer{
		url:        url,
		origin:     origin,
		sink:       sink,
		log:        log.WithField("component", "events.consumer"),
		maxBackoff: 30 * time.Second,
	}
}

// Run consumes until ctx is cancelled, reconnecting with exponential
// backoff whenever the broker goes away.
func (c *Consumer) Run(ctx context.Context) {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.WithError(err).WithField("retry_in", backoff.String()).Warn("failed to dial broker")
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, c.maxBackoff)
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		c.log.WithError(err).Warn("relay consume loop ended; reconnecting")
		if !sleepCtx(ctx, 2*time.Second) {
			return
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.WithError(err).Warn("set QoS failed")
	}
	if err := declareExchange(ch); err != nil {
		return err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", ExchangeName, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.log.WithField("queue", q.Name).Info("relay consumer attached")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handle(d.Body); err != nil {
				c.log.WithError(err).Warn("dropping relay message")
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// handle decodes one body and forwards it unless this node sent it.
func (c *Consumer) handle(body []byte) error {
	env, err := Decode(body)
	if err != nil {
		return err
	}
	if env.Origin == c.origin {
		return nil
	}
	c.sink(env)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
