package delivery

import (
	"context"
	"fmt"
)

// Transport delivers a message on one channel.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher picks the transport matching the message channel.
type Dispatcher struct {
	SMS   Transport
	Email Transport
}

func (d *Dispatcher) Deliver(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	var t Transport
	switch msg.Channel {
	case ChannelPhone:
		t = d.SMS
	case ChannelEmail:
		t = d.Email
	}
	if t == nil {
		return fmt.Errorf("%w: no transport for %s", ErrUnsupportedChannel, msg.Channel)
	}
	return t.Send(ctx, msg)
}
