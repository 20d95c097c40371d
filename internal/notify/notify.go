// Package notify defines the outbound notification channel used by the
// send_email job.
package notify

import (
	"context"
	"log/slog"
)

// Sender delivers one message to one recipient.
type Sender interface {
	Send(ctx context.Context, recipient, subject, message string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, recipient, subject, message string) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, recipient, subject, message string) error {
	return f(ctx, recipient, subject, message)
}

// LogSender writes messages to the log instead of delivering them. It is
// the development backend.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("component", "log_sender")}
}

// Send logs the message.
func (s *LogSender) Send(ctx context.Context, recipient, subject, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "email sent",
		"recipient", recipient,
		"subject", subject,
		"message_length", len(message))
	return nil
}

var (
	_ Sender = (*LogSender)(nil)
	_ Sender = SenderFunc(nil)
)
