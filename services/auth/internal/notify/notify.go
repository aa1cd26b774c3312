// Package notify hands one-time codes and reset links to a delivery route.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/plantkeep/cmms/libs/delivery"
	"github.com/plantkeep/cmms/libs/kafka"
	"github.com/plantkeep/cmms/services/auth/internal/telemetry"
)

// Sender delivers a message out-of-band.
type Sender interface {
	Send(ctx context.Context, msg delivery.Message) error
}

// LogSender suppresses delivery and logs the secret under demo_otp. It is
// only wired when demo mode is enabled outside production.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, msg delivery.Message) error {
	value := msg.Secret
	if msg.Link != "" {
		value = msg.Link
	}
	s.Logger.InfoContext(ctx, "demo delivery suppressed",
		slog.String("contact", msg.Contact),
		slog.String("channel", msg.Channel),
		slog.String("purpose", msg.Purpose),
		slog.String("kind", msg.Kind),
		slog.String("demo_otp", value),
	)
	return nil
}

// QueueSender publishes a notification.requested event for the notifier.
type QueueSender struct {
	Publisher kafka.Publisher
	Topic     string
	// CorrelationID extracts a request id from ctx, if any.
	CorrelationID func(ctx context.Context) string
}

func (s QueueSender) Send(ctx context.Context, msg delivery.Message) error {
	var corr string
	if s.CorrelationID != nil {
		corr = s.CorrelationID(ctx)
	}
	evt, err := delivery.NewNotificationRequested(msg, corr)
	if err != nil {
		return err
	}
	if _, _, err := s.Publisher.PublishJSON(ctx, s.Topic, msg.Contact, evt); err != nil {
		return fmt.Errorf("queue notification: %w", err)
	}
	return nil
}

// DirectSender delivers in-process through the SMS and email clients.
type DirectSender struct {
	Dispatcher *delivery.Dispatcher
}

func (s DirectSender) Send(ctx context.Context, msg delivery.Message) error {
	return s.Dispatcher.Deliver(ctx, msg)
}

// Instrumented counts delivery results per channel.
func Instrumented(next Sender, m *telemetry.Metrics) Sender {
	return instrumented{next: next, metrics: m}
}

type instrumented struct {
	next    Sender
	metrics *telemetry.Metrics
}

func (s instrumented) Send(ctx context.Context, msg delivery.Message) error {
	err := s.next.Send(ctx, msg)
	result := "sent"
	if err != nil {
		result = "error"
	}
	s.metrics.Notification(msg.Channel, result)
	return err
}
