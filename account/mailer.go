package account

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

// Mailer delivers account emails.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPMailer sends plain text mail through an SMTP relay.
type SMTPMailer struct {
	Host string
	Port string
	User string
	Pass string
	From string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer returns a mailer for host:port. Auth is skipped when user is empty.
func NewSMTPMailer(host, port, user, pass, from string) *SMTPMailer {
	return &SMTPMailer{Host: host, Port: port, User: user, Pass: pass, From: from, send: smtp.SendMail}
}

// Send delivers one message. smtp.SendMail has no context support, so ctx is
// only checked before dialing.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return errors.New("recipient email address cannot be empty")
	}
	if m.Host == "" || m.From == "" {
		return errors.New("smtp host and sender must be provided")
	}
	if strings.ContainsAny(to+subject, "\r\n") {
		return errors.New("header values must not contain line breaks")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := []byte(fmt.Sprintf("To: %s\r\n"+
		"From: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n"+
		"\r\n"+
		"%s\r\n", to, m.From, subject, body))

	var auth smtp.Auth
	if m.User != "" {
		auth = smtp.PlainAuth("", m.User, m.Pass, m.Host)
	}

	send := m.send
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(net.JoinHostPort(m.Host, m.Port), auth, m.From, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
