// Package mailer is the boundary to the email transport. Delivery itself is
// an external collaborator; this repository only ships a console sender.
package mailer

import (
	"context"
	"log/slog"
)

type Mailer interface {
	SendVerificationCode(ctx context.Context, email, code string) error
	SendPasswordResetCode(ctx context.Context, email, code string) error
}

// ConsoleMailer writes codes to the log instead of sending them. With
// showCodes off only the recipient is logged.
type ConsoleMailer struct {
	log       *slog.Logger
	showCodes bool
}

func NewConsoleMailer(log *slog.Logger, showCodes bool) *ConsoleMailer {
	if log == nil {
		log = slog.Default()
	}
	return &ConsoleMailer{log: log, showCodes: showCodes}
}

func (m *ConsoleMailer) SendVerificationCode(ctx context.Context, email, code string) error {
	m.send(ctx, "verification", email, code)
	return nil
}

func (m *ConsoleMailer) SendPasswordResetCode(ctx context.Context, email, code string) error {
	m.send(ctx, "password_reset", email, code)
	return nil
}

func (m *ConsoleMailer) send(ctx context.Context, kind, email, code string) {
	args := []any{"kind", kind, "email", email}
	if m.showCodes {
		args = append(args, "code", code)
	}
	m.log.InfoContext(ctx, "[DEV-EMAIL] code issued", args...)
}
