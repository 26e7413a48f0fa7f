package notifications

import (
	"context"

	"github.com/rs/zerolog"
)

// LogEmailSender stands in for the platform mail relay in environments
// where none is configured. Every delivery is logged, nothing is sent.
type LogEmailSender struct {
	logger zerolog.Logger
}

func CreateLogEmailSender(logger zerolog.Logger) *LogEmailSender {
	return &LogEmailSender{logger: logger}
}

func (s *LogEmailSender) Send(ctx context.Context, userID int64, subject, body string) error {
	s.logger.Info().
		Int64("user_id", userID).
		Str("subject", subject).
		Msg("email delivery (log only)")
	return nil
}
