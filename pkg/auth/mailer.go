package auth

import (
	"context"

	"excursion/pkg/logging"

	"go.uber.org/zap"
)

// Message is an outbound account email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers account emails.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer records messages instead of delivering them.
type LogMailer struct {
	log *zap.Logger
}

func NewLogMailer(log *zap.Logger) *LogMailer {
	return &LogMailer{log: logging.OrNop(log).Named("mailer")}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.log.Info("email queued",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("body_bytes", len(msg.Body)),
	)
	return nil
}
