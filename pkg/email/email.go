// Package email delivers verification codes. The server treats delivery as
// fire-and-forget; failures are logged, never surfaced to the client.
package email

import (
	"fmt"
	"log"
	"net/smtp"
)

// Sender delivers a single email.
type Sender interface {
	Send(to, subject, body string) error
}

// SMTPSender sends mail through a plain-auth SMTP relay.
type SMTPSender struct {
	Host string
	Port int
	From string
	User string
	Pass string
}

// Send delivers one message through the configured relay.
func (s *SMTPSender) Send(to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", s.From, to, subject, body)

	var auth smtp.Auth
	if s.User != "" {
		auth = smtp.PlainAuth("", s.User, s.Pass, s.Host)
	}
	if err := smtp.SendMail(addr, auth, s.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", to, err)
	}
	return nil
}

// LogSender writes mail to the process log instead of delivering it. Used
// when no SMTP relay is configured.
type LogSender struct{}

// Send logs the message.
func (LogSender) Send(to, subject, body string) error {
	log.Printf("mail to %s: %s: %s", to, subject, body)
	return nil
}
