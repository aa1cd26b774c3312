package kafka

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
)

type handlerFunc func(context.Context, *sarama.ConsumerMessage) error

func (h handlerFunc) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	return h(ctx, msg)
}

type stubSession struct {
	ctx     context.Context
	marked  int
	offsets []string
}

func (s *stubSession) Context() context.Context { return s.ctx }
func (s *stubSession) Claims() map[string][]int32 {
	return map[string][]int32{}
}
func (s *stubSession) MemberID() string                                 { return "" }
func (s *stubSession) GenerationID() int32                              { return 0 }
func (s *stubSession) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *stubSession) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *stubSession) MarkMessage(_ *sarama.ConsumerMessage, _ string) {
	s.marked++
}
func (s *stubSession) Commit() {}

type stubClaim struct {
	msgCh chan *sarama.ConsumerMessage
}

func (c *stubClaim) Topic() string                            { return "notification.requested" }
func (c *stubClaim) Partition() int32                         { return 0 }
func (c *stubClaim) InitialOffset() int64                     { return 0 }
func (c *stubClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *stubClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgCh }

func TestConsumerGroupHandlerDLQsOnError(t *testing.T) {
	dlq := &stubPublisher{}
	handler := &consumerGroupHandler{
		handler: handlerFunc(func(_ context.Context, _ *sarama.ConsumerMessage) error {
			return DLQ(errors.New("decode failed"), "decode")
		}),
		logger:       slog.Default(),
		dlqPublisher: dlq,
		dlqTopic:     "dead_letter",
		retryTracker: newRetryTracker(3, time.Minute),
	}

	msgCh := make(chan *sarama.ConsumerMessage, 1)
	msgCh <- &sarama.ConsumerMessage{Topic: "notification.requested", Partition: 0, Offset: 1, Value: []byte("bad")}
	close(msgCh)

	session := &stubSession{ctx: context.Background()}
	claim := &stubClaim{msgCh: msgCh}

	if err := handler.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("consume claim error: %v", err)
	}
	if session.marked != 1 {
		t.Fatalf("expected message to be marked, got %d", session.marked)
	}
	if len(dlq.calls) != 1 {
		t.Fatalf("expected dlq publish, got %d", len(dlq.calls))
	}
	if dlq.calls[0].topic != "dead_letter" {
		t.Fatalf("expected dlq topic, got %s", dlq.calls[0].topic)
	}
	record, ok := dlq.calls[0].value.(DeadLetter)
	if !ok {
		t.Fatalf("expected DeadLetter, got %T", dlq.calls[0].value)
	}
	if record.Stage != StageConsume || record.Reason != "decode" || record.Offset != 1 {
		t.Fatalf("unexpected dead letter %+v", record)
	}
	if record.RawPayload == "" || record.Payload != nil {
		t.Fatalf("non-JSON body should be kept base64 encoded, got %+v", record)
	}
}

func TestConsumerGroupHandlerRetriesThenSucceeds(t *testing.T) {
	dlq := &stubPublisher{}
	calls := 0
	handler := &consumerGroupHandler{
		handler: handlerFunc(func(_ context.Context, _ *sarama.ConsumerMessage) error {
			calls++
			if calls < 2 {
				return errors.New("smtp unavailable")
			}
			return nil
		}),
		logger:       slog.Default(),
		dlqPublisher: dlq,
		dlqTopic:     "dead_letter",
		retryTracker: newRetryTracker(3, time.Minute),
	}

	msgCh := make(chan *sarama.ConsumerMessage, 1)
	msgCh <- &sarama.ConsumerMessage{Topic: "notification.requested", Offset: 7, Value: []byte("{}")}
	close(msgCh)

	session := &stubSession{ctx: context.Background()}
	if err := handler.ConsumeClaim(session, &stubClaim{msgCh: msgCh}); err != nil {
		t.Fatalf("consume claim error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected two handler calls, got %d", calls)
	}
	if session.marked != 1 || len(dlq.calls) != 0 {
		t.Fatalf("expected mark without dlq, marked=%d dlq=%d", session.marked, len(dlq.calls))
	}
}

func TestConsumerGroupHandlerDeadLettersAfterMaxAttempts(t *testing.T) {
	dlq := &stubPublisher{}
	calls := 0
	handler := &consumerGroupHandler{
		handler: handlerFunc(func(_ context.Context, _ *sarama.ConsumerMessage) error {
			calls++
			return errors.New("gateway down")
		}),
		logger:       slog.Default(),
		dlqPublisher: dlq,
		dlqTopic:     "dead_letter",
		retryTracker: newRetryTracker(2, time.Minute),
	}

	msgCh := make(chan *sarama.ConsumerMessage, 1)
	msgCh <- &sarama.ConsumerMessage{Topic: "notification.requested", Offset: 9, Value: []byte("{}")}
	close(msgCh)

	session := &stubSession{ctx: context.Background()}
	if err := handler.ConsumeClaim(session, &stubClaim{msgCh: msgCh}); err != nil {
		t.Fatalf("consume claim error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected two attempts, got %d", calls)
	}
	if len(dlq.calls) != 1 {
		t.Fatalf("expected dlq publish, got %d", len(dlq.calls))
	}
	record := dlq.calls[0].value.(DeadLetter)
	if record.Reason != "max_attempts" || record.Attempts != 2 {
		t.Fatalf("unexpected dead letter %+v", record)
	}
}

func TestConsumerGroupHandlerRedactsDeadLetters(t *testing.T) {
	dlq := &stubPublisher{}
	handler := &consumerGroupHandler{
		handler: handlerFunc(func(_ context.Context, _ *sarama.ConsumerMessage) error {
			return DLQ(errors.New("unsupported channel"), "unsupported_channel")
		}),
		logger:       slog.Default(),
		dlqPublisher: dlq,
		dlqTopic:     "dead_letter",
		retryTracker: newRetryTracker(3, time.Minute),
		redact:       RedactFields("secret"),
	}

	msgCh := make(chan *sarama.ConsumerMessage, 1)
	msgCh <- &sarama.ConsumerMessage{
		Topic: "notification.requested",
		Key:   []byte("+15550001"),
		Value: []byte(`{"event_id":"e1","message":{"contact":"+15550001","secret":"123456"}}`),
	}
	close(msgCh)

	session := &stubSession{ctx: context.Background()}
	if err := handler.ConsumeClaim(session, &stubClaim{msgCh: msgCh}); err != nil {
		t.Fatalf("consume claim error: %v", err)
	}
	record := dlq.calls[0].value.(DeadLetter)
	if dlq.calls[0].key != "+15550001" {
		t.Fatalf("expected original key, got %q", dlq.calls[0].key)
	}
	if strings.Contains(string(record.Payload), "123456") {
		t.Fatalf("secret leaked into dead letter: %s", record.Payload)
	}
	if !strings.Contains(string(record.Payload), `"contact":"+15550001"`) {
		t.Fatalf("non-secret fields should survive, got %s", record.Payload)
	}
}

func TestRetryTrackerExpiresIdleEntries(t *testing.T) {
	tracker := newRetryTracker(5, time.Minute)
	now := time.Now()
	tracker.attempt("a", now)
	if got := tracker.attempt("a", now); got != 2 {
		t.Fatalf("expected second attempt, got %d", got)
	}
	if got := tracker.attempt("a", now.Add(2*time.Minute)); got != 1 {
		t.Fatalf("expected stale entry reset before counting, got %d", got)
	}
}
