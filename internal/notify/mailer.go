// Package notify emails workflow participants when a document or task
// they are responsible for changes hands.
package notify

import (
	"bytes"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
)

var ErrNotConfigured = errors.New("smtp not configured")

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Sender delivers a plain text message.
type Sender interface {
	Send(to []string, subject, body string) error
}

// Mailer sends messages through an SMTP relay.
type Mailer struct {
	config Config
	server string
	auth   smtp.Auth
}

func NewMailer(config Config) *Mailer {
	m := &Mailer{config: config, server: config.Host + ":" + config.Port}
	if config.Username != "" {
		m.auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return m
}

func (m *Mailer) Configured() bool {
	return m.config.Host != "" && m.config.Port != "" && m.config.From != ""
}

func (m *Mailer) Send(to []string, subject, body string) error {
	if !m.Configured() {
		return ErrNotConfigured
	}
	if len(to) == 0 {
		return nil
	}
	if err := smtp.SendMail(m.server, m.auth, m.config.From, to, m.message(to, subject, body)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (m *Mailer) message(to []string, subject, body string) []byte {
	from := m.config.From
	if m.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.config.FromName, m.config.From)
	}
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", headerSafe(subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return msg.Bytes()
}

// headerSafe strips line breaks so template output cannot inject headers.
func headerSafe(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}
