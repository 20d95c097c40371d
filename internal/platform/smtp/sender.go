// Package smtp delivers notifications over SMTP.
package smtp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/taskd/internal/notify"
	"github.com/wneessen/go-mail"
)

// Config holds the SMTP server settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Sender implements notify.Sender with one SMTP session per message.
type Sender struct {
	cfg    Config
	logger *slog.Logger
}

// NewSender validates cfg and creates a Sender.
func NewSender(cfg Config, logger *slog.Logger) (*Sender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp: host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp: from address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Sender{cfg: cfg, logger: logger.With("component", "smtp_sender")}, nil
}

// Send builds a plain-text message and delivers it.
func (s *Sender) Send(ctx context.Context, recipient, subject, message string) error {
	msg, err := s.buildMessage(recipient, subject, message)
	if err != nil {
		return err
	}

	client, err := s.newClient()
	if err != nil {
		return err
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp: send to %s: %w", recipient, err)
	}

	s.logger.DebugContext(ctx, "email delivered", "host", s.cfg.Host, "subject", subject)
	return nil
}

func (s *Sender) buildMessage(recipient, subject, message string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("smtp: invalid from address: %w", err)
	}
	if err := msg.To(recipient); err != nil {
		return nil, fmt.Errorf("smtp: invalid recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, message)
	return msg, nil
}

func (s *Sender) newClient() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp: create client: %w", err)
	}
	return client, nil
}

var _ notify.Sender = (*Sender)(nil)
