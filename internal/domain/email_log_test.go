package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestNewEmailLog(t *testing.T) {
	t.Parallel()

	log, err := NewEmailLog("a@b.com", "S", "M")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if log.Success {
		t.Error("Expected new email log to start unsuccessful")
	}
	if log.ErrorMessage != "" {
		t.Errorf("Expected empty error message, got %q", log.ErrorMessage)
	}
	if log.SentAt.IsZero() {
		t.Error("Expected SentAt to be set at creation")
	}
}

func TestNewEmailLogValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		recipient string
		subject   string
		message   string
		wantErr   error
	}{
		{"bad address", "not-an-email", "S", "M", ErrInvalidEmail},
		{"display name", "Bob <a@b.com>", "S", "M", ErrInvalidEmail},
		{"empty subject", "a@b.com", "", "M", ErrEmptyContent},
		{"long subject", "a@b.com", strings.Repeat("s", MaxEmailSubjectLength+1), "M", ErrValidation},
		{"empty message", "a@b.com", "S", "", ErrEmptyContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEmailLog(tt.recipient, tt.subject, tt.message)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEmailLogOutcome(t *testing.T) {
	t.Parallel()

	log, _ := NewEmailLog("a@b.com", "S", "M")

	log.MarkFailed("")
	if log.Success || log.ErrorMessage == "" {
		t.Errorf("Expected failure with non-empty detail, got %+v", log)
	}

	log.MarkSent()
	if !log.Success || log.ErrorMessage != "" {
		t.Errorf("Expected success with empty detail, got %+v", log)
	}
	if err := log.Validate(); err != nil {
		t.Errorf("Expected successful log to validate, got %v", err)
	}
}
