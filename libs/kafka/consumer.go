package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

const (
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 500 * time.Millisecond
)

type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

type Consumer struct {
	group        sarama.ConsumerGroup
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
	maxAttempts  int
	backoff      time.Duration
	redact       Redactor
}

type ConsumerOption func(*Consumer)

// WithDLQ routes messages that exhaust their attempts, or that fail with a
// DLQError, to topic.
func WithDLQ(publisher Publisher, topic string) ConsumerOption {
	return func(c *Consumer) {
		c.dlqPublisher = publisher
		c.dlqTopic = topic
	}
}

// WithRedactor scrubs dead-lettered payloads before they are published.
func WithRedactor(r Redactor) ConsumerOption {
	return func(c *Consumer) {
		c.redact = r
	}
}

func WithRetry(maxAttempts int, backoff time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if backoff >= 0 {
			c.backoff = backoff
		}
	}
}

func NewConsumer(brokers []string, groupID string, logger *slog.Logger, opts ...ConsumerOption) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	c := &Consumer{
		group:       group,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Consumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler required")
	}

	cgHandler := &consumerGroupHandler{
		handler:      handler,
		logger:       c.logger,
		dlqPublisher: c.dlqPublisher,
		dlqTopic:     c.dlqTopic,
		retryTracker: newRetryTracker(c.maxAttempts, 10*time.Minute),
		backoff:      c.backoff,
		redact:       c.redact,
	}

	for {
		if err := c.group.Consume(ctx, topics, cgHandler); err != nil {
			c.logger.Error("kafka consume error", "error", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(2 * time.Second)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	if c.group == nil {
		return nil
	}
	return c.group.Close()
}

type consumerGroupHandler struct {
	handler      MessageHandler
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
	retryTracker *retryTracker
	backoff      time.Duration
	redact       Redactor
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if !h.process(session, msg) {
			return nil
		}
	}
	return nil
}

// process retries msg until it succeeds or is dead-lettered. It returns false
// when the session ended before the message was settled.
func (h *consumerGroupHandler) process(session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) bool {
	ctx := session.Context()
	key := msg.Topic + "/" + strconv.Itoa(int(msg.Partition)) + "/" + strconv.FormatInt(msg.Offset, 10)

	for {
		err := h.handler.HandleMessage(ctx, msg)
		if err == nil {
			h.retryTracker.clear(key)
			session.MarkMessage(msg, "")
			return true
		}

		attempts := h.retryTracker.attempt(key, time.Now())
		var dlqErr *DLQError
		permanent := errors.As(err, &dlqErr)
		if permanent || attempts >= h.retryTracker.max {
			if dlqErr == nil {
				dlqErr = &DLQError{Err: err, Reason: "max_attempts"}
			}
			h.logger.Error("kafka message dead-lettered", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "attempts", attempts, "error", err)
			h.publishDLQ(ctx, msg, dlqErr, attempts)
			h.retryTracker.clear(key)
			session.MarkMessage(msg, "")
			return true
		}

		h.logger.Warn("kafka message handler error, retrying", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "attempt", attempts, "error", err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(h.backoff):
		}
	}
}

func (h *consumerGroupHandler) publishDLQ(ctx context.Context, msg *sarama.ConsumerMessage, dlqErr *DLQError, attempts int) {
	if h.dlqPublisher == nil || h.dlqTopic == "" {
		return
	}
	record := ConsumeDeadLetter(msg, dlqErr, attempts, h.redact)
	if _, _, err := h.dlqPublisher.PublishJSON(ctx, h.dlqTopic, record.Key, record); err != nil {
		h.logger.Error("publish dlq failed", "topic", h.dlqTopic, "error", err)
	}
}

type retryEntry struct {
	attempts int
	lastSeen time.Time
}

// retryTracker counts handler attempts per message. Entries idle longer than
// ttl are dropped.
type retryTracker struct {
	mu      sync.Mutex
	max     int
	ttl     time.Duration
	entries map[string]retryEntry
}

func newRetryTracker(max int, ttl time.Duration) *retryTracker {
	if max <= 0 {
		max = defaultMaxAttempts
	}
	return &retryTracker{max: max, ttl: ttl, entries: map[string]retryEntry{}}
}

func (t *retryTracker) attempt(key string, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, e := range t.entries {
		if now.Sub(e.lastSeen) > t.ttl {
			delete(t.entries, k)
		}
	}
	e := t.entries[key]
	e.attempts++
	e.lastSeen = now
	t.entries[key] = e
	return e.attempts
}

func (t *retryTracker) clear(key string) {
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
}
