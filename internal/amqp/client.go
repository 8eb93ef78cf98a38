package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	// maxFailures opens the circuit; openTimeout is the cool-down before
	// a half-open probe is allowed.
	maxFailures = 5
	openTimeout = 30 * time.Second

	publishTimeout = 5 * time.Second
)

// Client owns one connection and channel to the broker, a durable
// direct exchange, and the two queues of the export pipeline. Publishes
// run behind a circuit breaker so a dead broker costs callers a flag
// check instead of a dial timeout.
type Client struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	url          string
	exchangeName string
	exportQueue  string
	removeQueue  string

	failureCount int64
	lastFailure  time.Time
	state        int32
}

func NewClient(url, exchangeName, exportQueue, removeQueue string) (*Client, error) {
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		exportQueue:  exportQueue,
		removeQueue:  removeQueue,
	}

	if err := client.connect(); err != nil {
		return nil, err
	}
	return client, nil
}

// NewClientWithRetry keeps dialing with capped exponential backoff until
// the broker answers or ctx is done. Used by the worker, which has no
// reason to exist without a broker.
func NewClientWithRetry(ctx context.Context, url, exchangeName, exportQueue, removeQueue string) (*Client, error) {
	for attempt := 0; ; attempt++ {
		client, err := NewClient(url, exchangeName, exportQueue, removeQueue)
		if err == nil {
			return client, nil
		}

		delay := exponentialBackoff(attempt)
		slog.WarnContext(ctx, "AMQP dial failed, retrying",
			"attempt", attempt+1,
			"delay", delay.String(),
			"error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := setup(channel, c.exchangeName, c.exportQueue, c.removeQueue); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queues: %w", err)
	}

	c.conn = conn
	c.channel = channel
	return nil
}

func setup(channel *amqp091.Channel, exchangeName string, queueNames ...string) error {
	err := channel.ExchangeDeclare(
		exchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, queueName := range queueNames {
		_, err = channel.QueueDeclare(
			queueName, // name
			true,      // durable
			false,     // delete when unused
			false,     // exclusive
			false,     // no-wait
			nil,       // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", queueName, err)
		}

		// Routing key is the queue name on a direct exchange.
		err = channel.QueueBind(queueName, queueName, exchangeName, false, nil)
		if err != nil {
			return fmt.Errorf("bind queue %s: %w", queueName, err)
		}
	}

	return nil
}

// PublishExport sends an export message for a created or updated expense.
func (c *Client) PublishExport(ctx context.Context, id, version int64) error {
	msg := NewExportMessage(id, version)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := c.publish(ctx, c.exportQueue, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published export message",
		"id", id,
		"version", version,
		"queue", c.exportQueue)
	return nil
}

// PublishRemove sends a remove message for a deleted expense.
func (c *Client) PublishRemove(ctx context.Context, id int64, exportRef string) error {
	msg := NewRemoveMessage(id, exportRef)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := c.publish(ctx, c.removeQueue, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published remove message",
		"id", id,
		"export_ref", exportRef,
		"queue", c.removeQueue)
	return nil
}

func (c *Client) publish(ctx context.Context, routingKey string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return fmt.Errorf("circuit breaker is open, broker unavailable since %s", c.lastFailure.Format(time.RFC3339))
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()

	err := channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.reconnect(ctx)
		}
		return fmt.Errorf("publish message: %w", err)
	}

	c.recordSuccess()
	return nil
}

// reconnect replaces a dead connection so the next publish can succeed.
// Failure here is not fatal: the breaker keeps counting.
func (c *Client) reconnect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}

	if err := c.connect(); err != nil {
		slog.WarnContext(ctx, "AMQP reconnect failed", "error", err)
		return
	}
	slog.InfoContext(ctx, "AMQP reconnected")
}

// ConsumeExports delivers export messages to handler until ctx is done.
// Handler errors requeue the delivery; malformed payloads are dropped.
func (c *Client) ConsumeExports(ctx context.Context, handler func(*ExportMessage) error) error {
	return c.consume(ctx, c.exportQueue, func(body []byte) error {
		msg, err := ExportMessageFromJSON(body)
		if err != nil {
			return errMalformed{err}
		}
		return handler(msg)
	})
}

// ConsumeRemovals delivers remove messages to handler until ctx is done.
func (c *Client) ConsumeRemovals(ctx context.Context, handler func(*RemoveMessage) error) error {
	return c.consume(ctx, c.removeQueue, func(body []byte) error {
		msg, err := RemoveMessageFromJSON(body)
		if err != nil {
			return errMalformed{err}
		}
		return handler(msg)
	})
}

// errMalformed marks payloads that can never succeed; they are nacked
// without requeue instead of looping forever.
type errMalformed struct{ err error }

func (e errMalformed) Error() string { return e.err.Error() }

func (c *Client) consume(ctx context.Context, queueName string, handle func([]byte) error) error {
	msgs, err := c.channel.Consume(
		queueName, // queue
		"",        // consumer
		false,     // auto-ack (we want manual ack)
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming", "queue", queueName)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping message consumption",
				"queue", queueName,
				"reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			if err := handle(delivery.Body); err != nil {
				if _, malformed := err.(errMalformed); malformed {
					slog.ErrorContext(ctx, "Dropping malformed message",
						"queue", queueName,
						"error", err)
					delivery.Nack(false, false)
					continue
				}
				slog.ErrorContext(ctx, "Failed to handle message, requeueing",
					"queue", queueName,
					"error", err)
				delivery.Nack(false, true)
				continue
			}

			delivery.Ack(false)
		}
	}
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// isCircuitOpen also moves an expired open circuit to half-open so the
// next publish probes the broker.
func (c *Client) isCircuitOpen() bool {
	state := atomic.LoadInt32(&c.state)
	if state != StateOpen {
		return false
	}
	if time.Since(c.lastFailure) > openTimeout {
		atomic.StoreInt32(&c.state, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	c.lastFailure = time.Now()
	if atomic.AddInt64(&c.failureCount, 1) >= maxFailures {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

// exponentialBackoff returns the dial delay for a retry attempt,
// starting at one second and doubling up to a 30 second cap.
func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		attempt = 5
	}
	delay := time.Second << uint(attempt)
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}

// isConnectionError classifies failures worth a reconnect attempt.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection closed",
		"EOF",
		"broken pipe",
		"use of closed network connection",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
