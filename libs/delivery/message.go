// Package delivery sends one-time codes and recovery links to users over SMS
// or email.
package delivery

import (
	"errors"
	"fmt"
)

const (
	ChannelEmail = "EMAIL"
	ChannelPhone = "PHONE"
)

const (
	KindCode      = "code"
	KindResetLink = "reset_link"
)

var ErrUnsupportedChannel = errors.New("delivery: unsupported channel")

// Message is one out-of-band delivery. Secret holds the plaintext code or
// token and must never be logged. Ref names the stored code or token row the
// secret belongs to.
type Message struct {
	Contact string `json:"contact"`
	Channel string `json:"channel"`
	Purpose string `json:"purpose"`
	Kind    string `json:"kind"`
	Ref     string `json:"ref,omitempty"`
	Secret  string `json:"secret"`
	Link    string `json:"link,omitempty"`
}

func (m Message) Validate() error {
	if m.Contact == "" {
		return errors.New("delivery: contact is required")
	}
	if m.Channel != ChannelEmail && m.Channel != ChannelPhone {
		return fmt.Errorf("%w: %q", ErrUnsupportedChannel, m.Channel)
	}
	if m.Secret == "" {
		return errors.New("delivery: secret is required")
	}
	return nil
}

// Render returns the subject and text body shown to the recipient.
func (m Message) Render() (string, string) {
	what := "sign-in"
	switch m.Purpose {
	case "PASSWORD":
		what = "password reset"
	case "PIN":
		what = "PIN reset"
	}

	if m.Kind == KindResetLink {
		target := m.Link
		if target == "" {
			target = m.Secret
		}
		return "Your " + what + " link",
			fmt.Sprintf("Use this link to complete your %s. It expires in 1 hour and works once: %s", what, target)
	}
	return "Your " + what + " code",
		fmt.Sprintf("Your %s code is %s. It expires in 5 minutes. Do not share it.", what, m.Secret)
}
