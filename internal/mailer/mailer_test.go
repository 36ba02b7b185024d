package mailer

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleMailer_ShowsCodeInDev(t *testing.T) {
	var buf bytes.Buffer
	m := NewConsoleMailer(slog.New(slog.NewTextHandler(&buf, nil)), true)

	require.NoError(t, m.SendVerificationCode(context.Background(), "a@b.com", "123456"))

	out := buf.String()
	assert.Contains(t, out, "kind=verification")
	assert.Contains(t, out, "email=a@b.com")
	assert.Contains(t, out, "code=123456")
}

func TestConsoleMailer_HidesCode(t *testing.T) {
	var buf bytes.Buffer
	m := NewConsoleMailer(slog.New(slog.NewTextHandler(&buf, nil)), false)

	require.NoError(t, m.SendPasswordResetCode(context.Background(), "a@b.com", "654321"))

	out := buf.String()
	assert.Contains(t, out, "kind=password_reset")
	assert.NotContains(t, out, "654321")
}
