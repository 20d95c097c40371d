package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxEmailSubjectLength mirrors the width of the email_logs.subject column.
const MaxEmailSubjectLength = 255

// EmailLog is the audit record of a single email send attempt. It is
// written before delivery is attempted so a record exists even if the
// worker dies mid-send.
type EmailLog struct {
	ID           uuid.UUID `json:"id"`
	Recipient    string    `json:"recipient"`
	Subject      string    `json:"subject"`
	Message      string    `json:"message"`
	SentAt       time.Time `json:"sent_at"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// NewEmailLog creates an unsuccessful EmailLog for the given message.
func NewEmailLog(recipient, subject, message string) (*EmailLog, error) {
	log := &EmailLog{
		ID:        uuid.New(),
		Recipient: strings.TrimSpace(recipient),
		Subject:   subject,
		Message:   message,
		SentAt:    time.Now().UTC(),
		Success:   false,
	}

	if err := log.Validate(); err != nil {
		return nil, err
	}

	return log, nil
}

// Validate checks the recipient, subject and message of the log.
func (l *EmailLog) Validate() error {
	if l.ID == uuid.Nil {
		return fmt.Errorf("%w: email log ID cannot be empty", ErrInvalidID)
	}
	if err := ValidateEmailAddress(l.Recipient); err != nil {
		return err
	}
	if l.Subject == "" {
		return fmt.Errorf("%w: email subject", ErrEmptyContent)
	}
	if len(l.Subject) > MaxEmailSubjectLength {
		return fmt.Errorf("%w: email subject exceeds %d characters", ErrValidation, MaxEmailSubjectLength)
	}
	if l.Message == "" {
		return fmt.Errorf("%w: email message", ErrEmptyContent)
	}
	if l.Success && l.ErrorMessage != "" {
		return fmt.Errorf("%w: successful email log cannot carry an error", ErrValidation)
	}
	return nil
}

// MarkSent records a successful delivery.
func (l *EmailLog) MarkSent() {
	l.Success = true
	l.ErrorMessage = ""
}

// MarkFailed records a failed delivery with its error detail.
func (l *EmailLog) MarkFailed(detail string) {
	if detail == "" {
		detail = "unknown delivery error"
	}
	l.Success = false
	l.ErrorMessage = detail
}

// ValidateEmailAddress checks that addr is a single bare address such as
// "a@b.com". Display names ("Bob <a@b.com>") are rejected.
func ValidateEmailAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("%w: empty address", ErrInvalidEmail)
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, addr)
	}
	return nil
}
