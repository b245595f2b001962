// Package notify delivers booking notifications to patients.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/hackgods/clinic-scheduling/internal/config"
)

var ErrNoRecipient = errors.New("notification has no recipient")

// Sender delivers one message. contextID identifies what the message is about
// (an appointment ID) so deliveries can be traced.
type Sender interface {
	Send(ctx context.Context, recipient, message, contextID string) error
}

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// ChannelFor picks the delivery channel from the shape of the recipient.
func ChannelFor(recipient string) string {
	if strings.Contains(recipient, "@") {
		return ChannelEmail
	}
	return ChannelSMS
}

// LogSender writes messages to the log instead of delivering them. It stands
// in for an SMS gateway, and for email when SMTP is not configured.
type LogSender struct {
	logger  *zap.Logger
	channel string
}

func NewLogSender(logger *zap.Logger, channel string) *LogSender {
	return &LogSender{logger: logger, channel: channel}
}

func (s *LogSender) Send(_ context.Context, recipient, message, contextID string) error {
	if recipient == "" {
		return ErrNoRecipient
	}
	s.logger.Info("notification sent",
		zap.String("channel", s.channel),
		zap.String("recipient", recipient),
		zap.String("context_id", contextID),
		zap.String("message", message),
	)
	return nil
}

type EmailSender struct {
	dialer  *gomail.Dialer
	from    string
	subject string
}

func NewEmailSender(cfg config.SMTPConfig) *EmailSender {
	return &EmailSender{
		dialer:  gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:    cfg.From,
		subject: "Your appointment",
	}
}

func (s *EmailSender) Send(ctx context.Context, recipient, message, contextID string) error {
	if recipient == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", recipient)
	m.SetHeader("Subject", s.subject)
	m.SetHeader("X-Appointment-ID", contextID)
	m.SetBody("text/plain", message)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send email to %s: %w", recipient, err)
	}
	return nil
}

// Router sends to the email or SMS sender depending on the recipient.
type Router struct {
	Email Sender
	SMS   Sender
}

func (r Router) Send(ctx context.Context, recipient, message, contextID string) error {
	if recipient == "" {
		return ErrNoRecipient
	}
	if ChannelFor(recipient) == ChannelEmail {
		return r.Email.Send(ctx, recipient, message, contextID)
	}
	return r.SMS.Send(ctx, recipient, message, contextID)
}

// NewSender builds the sender used by the notify worker: email through SMTP
// when it is configured, everything else logged.
func NewSender(cfg config.SMTPConfig, logger *zap.Logger) Sender {
	var email Sender = NewLogSender(logger, ChannelEmail)
	if cfg.Enabled() {
		email = NewEmailSender(cfg)
	}
	return Router{Email: email, SMS: NewLogSender(logger, ChannelSMS)}
}
