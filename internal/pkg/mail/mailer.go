package mail

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/ManuelReschke/Melodex/internal/pkg/env"
	"github.com/ManuelReschke/Melodex/internal/pkg/logger"
)

// Mailer sends transactional emails.
type Mailer interface {
	Send(to, subject, htmlBody string) error
}

// SMTPMailer sends emails via SMTP
type SMTPMailer struct {
	dialer *gomail.Dialer
	sender string
}

func NewSMTPMailer(host string, port int, username, password, sender string) *SMTPMailer {
	if sender == "" {
		sender = "no-reply@localhost"
		logger.Named("mail").Warn("SMTP_SENDER not set, using default sender", zap.String("sender", sender))
	}
	return &SMTPMailer{
		dialer: gomail.NewDialer(host, port, username, password),
		sender: sender,
	}
}

// NewFromEnv returns an SMTP mailer, or a no-op mailer when SMTP_HOST is empty.
func NewFromEnv() Mailer {
	host := env.GetEnv("SMTP_HOST", "")
	if host == "" {
		return Nop{}
	}
	port, err := strconv.Atoi(env.GetEnv("SMTP_PORT", "587"))
	if err != nil {
		port = 587
	}
	return NewSMTPMailer(
		host,
		port,
		env.GetEnv("SMTP_USERNAME", ""),
		env.GetEnv("SMTP_PASSWORD", ""),
		env.GetEnv("SMTP_SENDER", ""),
	)
}

func (m *SMTPMailer) Send(to, subject, htmlBody string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.sender)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	logger.Named("mail").Debug("email sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}

// Nop discards all mail.
type Nop struct{}

func (Nop) Send(string, string, string) error { return nil }
