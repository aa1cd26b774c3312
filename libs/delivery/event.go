package delivery

import (
	"fmt"

	"github.com/plantkeep/cmms/libs/kafka"
)

const (
	EventNotificationRequested = "notification.requested"
	eventVersion               = 1
)

// NotificationRequested asks the notifier to deliver Message.
type NotificationRequested struct {
	kafka.Envelope
	Message Message `json:"message"`
}

// NewNotificationRequested wraps msg in an event. Messages with a Ref get an
// event id derived from it, so a republished message keeps its id and the
// notifier delivers it once.
func NewNotificationRequested(msg Message, correlationID string) (NotificationRequested, error) {
	env, err := kafka.NewEnvelope(EventNotificationRequested, eventVersion, correlationID)
	if err != nil {
		return NotificationRequested{}, err
	}
	if msg.Ref != "" {
		env.EventID = kafka.DeterministicEventID(EventNotificationRequested, msg.Kind, msg.Ref)
	}
	return NotificationRequested{Envelope: env, Message: msg}, nil
}

func (e NotificationRequested) Validate() error {
	if err := e.Envelope.Validate(); err != nil {
		return err
	}
	if e.EventType != EventNotificationRequested {
		return fmt.Errorf("unexpected event type %q", e.EventType)
	}
	return e.Message.Validate()
}

// RedactSecrets strips the plaintext code and reset link from a serialized
// NotificationRequested before it is dead-lettered.
var RedactSecrets = kafka.RedactFields("secret", "link")
