package accounts

import "context"

// LogMailer writes codes to the configured logger instead of dispatching
// email. Meant for development and tests only.
type LogMailer struct {
	logger Logger
}

// NewLogMailer creates a mailer that logs instead of sending.
func NewLogMailer(logger Logger) *LogMailer {
	if logger == nil {
		logger = defLogger{}
	}
	return &LogMailer{logger: logger}
}

// Send implements CodeMailer.
func (m *LogMailer) Send(_ context.Context, to, code string) error {
	m.logger.Info("one-time code dispatch", "to", to, "code", code)
	return nil
}

// CodeMailerFunc adapts a function to the CodeMailer interface.
type CodeMailerFunc func(ctx context.Context, to, code string) error

// Send implements CodeMailer.
func (f CodeMailerFunc) Send(ctx context.Context, to, code string) error {
	if f == nil {
		return nil
	}
	return f(ctx, to, code)
}
