package delivery

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

// SMTPClient sends plain-text mail through a relay.
type SMTPClient struct {
	Addr     string
	Username string
	Password string
	From     string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPClient(addr, username, password, from string) *SMTPClient {
	return &SMTPClient{Addr: addr, Username: username, Password: password, From: from, send: smtp.SendMail}
}

func (c *SMTPClient) Send(ctx context.Context, msg Message) error {
	if c.Addr == "" || c.From == "" {
		return fmt.Errorf("smtp: relay not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if c.Username != "" {
		host, _, err := net.SplitHostPort(c.Addr)
		if err != nil {
			return fmt.Errorf("smtp: %w", err)
		}
		auth = smtp.PlainAuth("", c.Username, c.Password, host)
	}

	subject, body := msg.Render()
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.Contact)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")

	if err := c.send(c.Addr, auth, c.From, []string{msg.Contact}, []byte(b.String())); err != nil {
		return fmt.Errorf("smtp: send: %w", err)
	}
	return nil
}
