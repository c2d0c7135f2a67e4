package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSender writes each message to the log instead of a broker. It is the
// fallback when no Kafka brokers are configured, which keeps local
// development free of infrastructure.
type LogSender struct {
	log zerolog.Logger
}

func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.Info().
		Str("kind", msg.Kind).
		Str("channel", msg.Channel).
		Str("recipient", msg.Recipient).
		Str("subject", msg.Subject).
		Str("appointment_id", msg.AppointmentID.String()).
		Msg("notification dispatched")
	return nil
}

func (s *LogSender) Close() error { return nil }
