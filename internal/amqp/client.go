package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"akiba/internal/core"
	"akiba/internal/metrics"

	"github.com/rabbitmq/amqp091-go"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	maxBackoff     = 30 * time.Second
	publishTimeout = 5 * time.Second
)

// Handler receives decoded messages from Consume.
type Handler interface {
	HandleTopUpStatus(ctx context.Context, msg TopUpStatusMessage) error
	HandleSavingRecorded(ctx context.Context, msg SavingRecordedMessage) error
}

// Client publishes akiba events to a direct exchange, routed by message type,
// and consumes them from one queue bound to the types it subscribes to. It
// implements services.Events.
type Client struct {
	url          string
	exchangeName string
	queueName    string
	exclusive    bool     // broker-named queue private to this connection
	bindings     []string // message types routed to the queue

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	failureCount int64
	state        int32
	lastFailure  time.Time
}

// NewClient connects to the shared durable queue, which receives every
// message type.
func NewClient(url, exchangeName, queueName string) (*Client, error) {
	return dial(newClient(url, exchangeName, queueName, false, MessageTypes()))
}

// NewSubscriber declares a queue private to this process, deleted when the
// connection closes, so every replica receives its own copy of types.
func NewSubscriber(url, exchangeName string, types ...string) (*Client, error) {
	if len(types) == 0 {
		return nil, errors.New("subscriber needs at least one message type")
	}
	return dial(newClient(url, exchangeName, "", true, types))
}

func newClient(url, exchangeName, queueName string, exclusive bool, bindings []string) *Client {
	return &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		exclusive:    exclusive,
		bindings:     bindings,
	}
}

func dial(client *Client) (*Client, error) {
	if _, err := client.ensureChannel(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) ensureChannel() (*amqp091.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil && !c.channel.IsClosed() {
		return c.channel, nil
	}
	c.closeLocked()

	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	queueName := c.queueName
	if c.exclusive {
		// a reconnect gets a fresh broker-named queue
		queueName = ""
	}
	name, err := setup(channel, c.exchangeName, queueName, c.exclusive, c.bindings)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}
	c.conn, c.channel, c.queueName = conn, channel, name
	return channel, nil
}

func setup(ch *amqp091.Channel, exchangeName, queueName string, exclusive bool, bindings []string) (string, error) {
	err := ch.ExchangeDeclare(
		exchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return "", fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		queueName,  // name, empty lets the broker choose
		!exclusive, // durable
		exclusive,  // delete when unused
		exclusive,  // exclusive
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		return "", fmt.Errorf("declare queue: %w", err)
	}

	// routing key is the message type
	for _, key := range bindings {
		if err := ch.QueueBind(q.Name, key, exchangeName, false, nil); err != nil {
			return "", fmt.Errorf("bind queue to %s: %w", key, err)
		}
	}
	return q.Name, nil
}

// PublishTopUpStatus announces a terminal top-up.
func (c *Client) PublishTopUpStatus(ctx context.Context, t core.TopUpRequest) error {
	return c.publish(ctx, TypeTopUpStatus, NewTopUpStatusMessage(t))
}

// PublishSavingRecorded announces a new ledger entry.
func (c *Client) PublishSavingRecorded(ctx context.Context, e core.LedgerEntry) error {
	return c.publish(ctx, TypeSavingRecorded, NewSavingRecordedMessage(e))
}

func (c *Client) publish(ctx context.Context, typ string, body any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		metrics.EventsPublished.WithLabelValues(typ, metrics.ResultError).Inc()
		return fmt.Errorf("circuit breaker is open, dropping %s", typ)
	}

	payload, err := Encode(typ, body)
	if err != nil {
		return err
	}

	ch, err := c.ensureChannel()
	if err != nil {
		c.recordFailure()
		metrics.EventsPublished.WithLabelValues(typ, metrics.ResultError).Inc()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		typ,            // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Type:         typ,
			Body:         payload,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.reset()
		}
		metrics.EventsPublished.WithLabelValues(typ, metrics.ResultError).Inc()
		return fmt.Errorf("publish %s: %w", typ, err)
	}

	c.recordSuccess()
	metrics.EventsPublished.WithLabelValues(typ, metrics.ResultOK).Inc()
	slog.DebugContext(ctx, "Published message",
		"message_type", typ,
		"exchange", c.exchangeName)
	return nil
}

// Consume delivers messages to h until ctx is done, reconnecting with
// exponential backoff when the broker drops the channel.
func (c *Client) Consume(ctx context.Context, h Handler) error {
	for attempt := 0; ; {
		err := c.consumeOnce(ctx, h)
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		}
		delay := exponentialBackoff(attempt)
		slog.WarnContext(ctx, "Consumer disconnected, reconnecting",
			"error", err, "attempt", attempt+1, "retry_in", delay)
		c.reset()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if errors.Is(err, errDeliveriesClosed) {
			// the channel was healthy before it closed
			attempt = 0
		} else {
			attempt++
		}
	}
}

var errDeliveriesClosed = errors.New("delivery channel closed")

func (c *Client) consumeOnce(ctx context.Context, h Handler) error {
	ch, err := c.ensureChannel()
	if err != nil {
		return err
	}
	c.mu.Lock()
	queue := c.queueName
	c.mu.Unlock()

	msgs, err := ch.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming messages", "queue", queue)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return errDeliveriesClosed
			}
			handleDelivery(ctx, delivery, h)
		}
	}
}

// handleDelivery acks handled messages, drops undecodable ones and requeues a
// failed one only if it has not already been redelivered.
func handleDelivery(ctx context.Context, d amqp091.Delivery, h Handler) {
	env, err := Decode(d.Body)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to unmarshal message", "error", err)
		d.Nack(false, false)
		return
	}

	if err := Dispatch(ctx, env, h); err != nil {
		requeue := !d.Redelivered && !errors.Is(err, errMalformed)
		slog.ErrorContext(ctx, "Failed to handle message",
			"message_type", env.Type,
			"requeue", requeue,
			"error", err)
		d.Nack(false, requeue)
		return
	}
	d.Ack(false)
}

var errMalformed = errors.New("malformed message")

// Dispatch decodes env.Body by type and calls the matching handler method.
func Dispatch(ctx context.Context, env Envelope, h Handler) error {
	switch env.Type {
	case TypeTopUpStatus:
		var msg TopUpStatusMessage
		if err := json.Unmarshal(env.Body, &msg); err != nil {
			return fmt.Errorf("%w: decode %s: %v", errMalformed, env.Type, err)
		}
		return h.HandleTopUpStatus(ctx, msg)
	case TypeSavingRecorded:
		var msg SavingRecordedMessage
		if err := json.Unmarshal(env.Body, &msg); err != nil {
			return fmt.Errorf("%w: decode %s: %v", errMalformed, env.Type, err)
		}
		return h.HandleSavingRecorded(ctx, msg)
	default:
		return fmt.Errorf("%w: unknown type %q", errMalformed, env.Type)
	}
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.mu.Lock()
	last := c.lastFailure
	c.mu.Unlock()
	if time.Since(last) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordFailure() {
	n := atomic.AddInt64(&c.failureCount, 1)
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	if n >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		if atomic.SwapInt32(&c.state, StateOpen) != StateOpen {
			slog.Warn("AMQP circuit breaker opened", "failures", n)
		}
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection closed", "eof", "broken pipe", "closed network connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	return err
}
