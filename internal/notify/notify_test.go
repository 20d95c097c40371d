package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	s := NewLogSender(logger)

	require.NoError(t, s.Send(context.Background(), "a@b.com", "Hello", "body"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "email sent", entry["msg"])
	assert.Equal(t, "a@b.com", entry["recipient"])
	assert.Equal(t, "Hello", entry["subject"])
	assert.Equal(t, "log_sender", entry["component"])
	assert.NotContains(t, buf.String(), "body", "message body should not be logged")
}

func TestLogSenderCancelled(t *testing.T) {
	s := NewLogSender(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Send(ctx, "a@b.com", "S", "M"), context.Canceled)
}
