package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/plantkeep/cmms/libs/delivery"
	"github.com/plantkeep/cmms/libs/logging"
	"github.com/plantkeep/cmms/services/auth/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type stubPublisher struct {
	topic string
	key   string
	value any
	err   error
}

func (p *stubPublisher) PublishJSON(_ context.Context, topic, key string, value any) (int32, int64, error) {
	p.topic, p.key, p.value = topic, key, value
	return 0, 0, p.err
}

func (p *stubPublisher) Close() error { return nil }

func codeMessage() delivery.Message {
	return delivery.Message{
		Contact: "+15550001",
		Channel: delivery.ChannelPhone,
		Purpose: "LOGIN",
		Kind:    delivery.KindCode,
		Secret:  "482913",
	}
}

func TestLogSenderLogsDemoCode(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLoggerTo(&buf, "info", "auth", "dev")

	if err := (LogSender{Logger: logger}).Send(context.Background(), codeMessage()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(buf.String(), `"demo_otp":"482913"`) {
		t.Fatalf("expected demo code in log, got %s", buf.String())
	}
}

func TestQueueSenderPublishesEvent(t *testing.T) {
	pub := &stubPublisher{}
	sender := QueueSender{
		Publisher:     pub,
		Topic:         "notification.requested",
		CorrelationID: func(context.Context) string { return "req-1" },
	}

	if err := sender.Send(context.Background(), codeMessage()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if pub.topic != "notification.requested" || pub.key != "+15550001" {
		t.Fatalf("unexpected publish target %s/%s", pub.topic, pub.key)
	}
	evt, ok := pub.value.(delivery.NotificationRequested)
	if !ok {
		t.Fatalf("expected NotificationRequested, got %T", pub.value)
	}
	if evt.CorrelationID != "req-1" || evt.Message.Secret != "482913" {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestQueueSenderWrapsPublishError(t *testing.T) {
	pub := &stubPublisher{err: errors.New("broker down")}
	err := QueueSender{Publisher: pub, Topic: "t"}.Send(context.Background(), codeMessage())
	if err == nil || !strings.Contains(err.Error(), "queue notification") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

type failingSender struct{}

func (failingSender) Send(context.Context, delivery.Message) error { return errors.New("down") }

func TestInstrumentedCountsResults(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := telemetry.NewMetrics(registry)

	ok := Instrumented(LogSender{Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))}, m)
	_ = ok.Send(context.Background(), codeMessage())
	bad := Instrumented(failingSender{}, m)
	if err := bad.Send(context.Background(), codeMessage()); err == nil {
		t.Fatalf("expected error to propagate")
	}

	if got := testutil.ToFloat64(m.Notifications.WithLabelValues(delivery.ChannelPhone, "sent")); got != 1 {
		t.Fatalf("expected 1 sent, got %v", got)
	}
	if got := testutil.ToFloat64(m.Notifications.WithLabelValues(delivery.ChannelPhone, "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
}
