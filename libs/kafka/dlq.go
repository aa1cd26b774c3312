package kafka

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

type DLQError struct {
	Err    error
	Reason string
}

func (e *DLQError) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *DLQError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// DLQ marks err as permanent: the consumer dead-letters the message without
// retrying.
func DLQ(err error, reason string) error {
	if err == nil {
		return nil
	}
	return &DLQError{Err: err, Reason: reason}
}

const (
	StageConsume = "consume"
	StagePublish = "publish"
)

// DeadLetter is the record written to a dead-letter topic. Payload holds the
// original JSON after redaction; bodies that are not JSON are kept base64
// encoded in RawPayload.
type DeadLetter struct {
	Stage         string          `json:"stage"`
	OriginalTopic string          `json:"original_topic"`
	Partition     int32           `json:"partition"`
	Offset        int64           `json:"offset"`
	Key           string          `json:"key,omitempty"`
	Error         string          `json:"error"`
	Reason        string          `json:"reason,omitempty"`
	Attempts      int             `json:"attempts,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	RawPayload    string          `json:"payload_base64,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Redactor rewrites a JSON body before it is copied into a DeadLetter.
type Redactor func(raw []byte) []byte

const redactedValue = "[REDACTED]"

// RedactFields replaces the value of every object key in fields, at any depth.
// Bodies that fail to parse are returned unchanged.
func RedactFields(fields ...string) Redactor {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return func(raw []byte) []byte {
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return raw
		}
		out, err := json.Marshal(redactValue(doc, set))
		if err != nil {
			return raw
		}
		return out
	}
}

func redactValue(v any, fields map[string]struct{}) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if _, ok := fields[k]; ok {
				t[k] = redactedValue
				continue
			}
			t[k] = redactValue(child, fields)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = redactValue(child, fields)
		}
		return t
	default:
		return v
	}
}

func newDeadLetter(stage, topic, key string, body []byte, errMsg, reason string, attempts int, redact Redactor) DeadLetter {
	dl := DeadLetter{
		Stage:         stage,
		OriginalTopic: topic,
		Key:           key,
		Error:         errMsg,
		Reason:        reason,
		Attempts:      attempts,
		Timestamp:     time.Now().UTC(),
	}
	if len(body) == 0 {
		return dl
	}
	if !json.Valid(body) {
		dl.RawPayload = base64.StdEncoding.EncodeToString(body)
		return dl
	}
	if redact != nil {
		body = redact(body)
	}
	dl.Payload = json.RawMessage(body)
	return dl
}

// ConsumeDeadLetter describes a consumed message the handler gave up on.
func ConsumeDeadLetter(msg *sarama.ConsumerMessage, err *DLQError, attempts int, redact Redactor) DeadLetter {
	var errMsg, reason string
	if err != nil {
		if err.Err != nil {
			errMsg = err.Err.Error()
		} else {
			errMsg = err.Error()
		}
		reason = err.Reason
	}
	dl := newDeadLetter(StageConsume, msg.Topic, string(msg.Key), msg.Value, errMsg, reason, attempts, redact)
	dl.Partition = msg.Partition
	dl.Offset = msg.Offset
	return dl
}

// PublishDeadLetter describes a value the producer failed to publish.
func PublishDeadLetter(topic, key string, value any, err error, reason string, redact Redactor) DeadLetter {
	var body []byte
	if value != nil {
		raw, marshalErr := json.Marshal(value)
		if marshalErr != nil {
			raw = []byte(fmt.Sprintf("%v", value))
		}
		body = raw
	}
	var errMsg string
	if err != nil {
		errMsg = err.Error()
	}
	dl := newDeadLetter(StagePublish, topic, key, body, errMsg, reason, 1, redact)
	dl.Partition = -1
	dl.Offset = -1
	return dl
}
