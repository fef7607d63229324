package notify

import "log/slog"

// ConsoleMailer logs messages instead of delivering them. Used in
// development and tests.
type ConsoleMailer struct {
	logger *slog.Logger
}

var _ Mailer = (*ConsoleMailer)(nil)

// NewConsoleMailer creates a console mailer.
func NewConsoleMailer(logger *slog.Logger) *ConsoleMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleMailer{logger: logger}
}

// SendMessages logs each message.
func (m *ConsoleMailer) SendMessages(messages ...*Message) {
	for _, msg := range messages {
		m.logger.Info("email (console)",
			"to", msg.ToEmail,
			"subject", msg.Subject,
			"body", msg.Body)
	}
}
