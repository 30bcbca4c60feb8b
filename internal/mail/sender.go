package mail

import (
	"context"
	"log/slog"
)

// Sender delivers a message through one transport.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// LogSender only records that a message would have been sent. It is the
// default transport. Bodies carry codes, so they are logged only when
// showBody is set, and then at debug level.
type LogSender struct {
	logger   *slog.Logger
	showBody bool
}

// NewLogSender creates a LogSender. Pass showBody only for local
// development, where the log is the only way to read a verification code.
func NewLogSender(logger *slog.Logger, showBody bool) *LogSender {
	return &LogSender{logger: logger, showBody: showBody}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "mail sent (log transport)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	if s.showBody {
		s.logger.DebugContext(ctx, "mail body (log transport)",
			slog.String("to", msg.To),
			slog.String("text", msg.Text),
		)
	}
	return nil
}
