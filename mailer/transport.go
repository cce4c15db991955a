package mailer

import (
	"bytes"
	"fmt"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"forum-mailer/config"
)

// Transport delivers a composed message. Fire-and-forget: no retry logic,
// the dispatcher only records success or failure.
type Transport interface {
	Send(msg *Message) error
}

// SMTPTransport sends mail through a plain-auth SMTP server.
type SMTPTransport struct {
	server   string
	from     string
	password string
}

// NewSMTPTransport creates a transport from the SMTP settings.
func NewSMTPTransport(cfg config.SMTPConfig) *SMTPTransport {
	return &SMTPTransport{
		server:   cfg.Server,
		from:     cfg.From,
		password: cfg.Password,
	}
}

// Send delivers one message.
func (t *SMTPTransport) Send(msg *Message) error {
	auth := sasl.NewPlainClient("", t.from, t.password)
	if err := smtp.SendMail(t.server, auth, t.from, []string{msg.To}, bytes.NewReader(msg.Bytes())); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", msg.To, err)
	}
	return nil
}
