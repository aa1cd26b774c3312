package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/plantkeep/cmms/libs/delivery"
	"github.com/plantkeep/cmms/libs/kafka"
	"github.com/plantkeep/cmms/services/notifier/internal/dedupe"
	"github.com/prometheus/client_golang/prometheus"
)

type Deliverer interface {
	Deliver(ctx context.Context, msg delivery.Message) error
}

type Metrics struct {
	Handled *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cmms",
			Subsystem: "notifier",
			Name:      "events_total",
			Help:      "Notification events by outcome.",
		}, []string{"channel", "outcome"}),
	}
	if registry != nil {
		registry.MustRegister(m.Handled)
	}
	return m
}

func (m *Metrics) observe(channel, outcome string) {
	if m == nil {
		return
	}
	if channel == "" {
		channel = "unknown"
	}
	m.Handled.WithLabelValues(channel, outcome).Inc()
}

type NotificationConsumer struct {
	deliverer Deliverer
	claims    dedupe.Claimer
	maxAge    time.Duration
	now       func() time.Time
	metrics   *Metrics
	logger    *slog.Logger
}

func NewNotificationConsumer(deliverer Deliverer, claims dedupe.Claimer, maxAge time.Duration, metrics *Metrics, logger *slog.Logger) *NotificationConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationConsumer{
		deliverer: deliverer,
		claims:    claims,
		maxAge:    maxAge,
		now:       time.Now,
		metrics:   metrics,
		logger:    logger,
	}
}

func (c *NotificationConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return nil
	}

	var event delivery.NotificationRequested
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.metrics.observe("", "invalid")
		return kafka.DLQ(fmt.Errorf("decode notification: %w", err), "invalid_payload")
	}
	if err := event.Validate(); err != nil {
		c.metrics.observe(event.Message.Channel, "invalid")
		return kafka.DLQ(fmt.Errorf("invalid notification: %w", err), "invalid_event")
	}

	logger := c.logger.With(
		"event_id", event.EventID,
		"correlation_id", event.CorrelationID,
		"channel", event.Message.Channel,
		"purpose", event.Message.Purpose,
	)

	if c.maxAge > 0 && c.now().Sub(event.Timestamp) > c.maxAge {
		c.metrics.observe(event.Message.Channel, "stale")
		logger.Info("dropping stale notification", "age", c.now().Sub(event.Timestamp).String())
		return nil
	}

	if c.claims != nil {
		claimed, err := c.claims.Claim(ctx, event.EventID)
		if err != nil {
			logger.Warn("dedupe claim failed, delivering anyway", "error", err)
		} else if !claimed {
			c.metrics.observe(event.Message.Channel, "duplicate")
			logger.Info("duplicate notification skipped")
			return nil
		}
	}

	if err := c.deliverer.Deliver(ctx, event.Message); err != nil {
		if errors.Is(err, delivery.ErrUnsupportedChannel) {
			c.metrics.observe(event.Message.Channel, "unsupported")
			return kafka.DLQ(err, "unsupported_channel")
		}
		if c.claims != nil {
			if relErr := c.claims.Release(ctx, event.EventID); relErr != nil {
				logger.Warn("dedupe release failed", "error", relErr)
			}
		}
		c.metrics.observe(event.Message.Channel, "error")
		logger.Error("notification delivery failed", "error", err)
		return fmt.Errorf("deliver notification: %w", err)
	}

	c.metrics.observe(event.Message.Channel, "delivered")
	logger.Info("notification delivered")
	return nil
}
