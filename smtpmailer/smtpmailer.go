// Package smtpmailer delivers one-time codes over SMTP using a pooled
// connection. It satisfies the accounts.CodeMailer interface.
package smtpmailer

import (
	"context"
	"fmt"
	"net/smtp"
	"net/textproto"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/jordan-wright/email"
)

const defaultSendTimeout = 10 * time.Second

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// From is the sender address, e.g. "Accounts <no-reply@example.com>".
	From string
	// Subject for code emails. The code itself goes in the body only.
	Subject string
	// PoolSize bounds concurrent SMTP connections. Defaults to 4.
	PoolSize int
	// SendTimeout bounds a single delivery. Defaults to 10s.
	SendTimeout time.Duration
}

// Mailer sends one-time code emails through an SMTP connection pool.
type Mailer struct {
	pool    *email.Pool
	cfg     Config
	timeout time.Duration
}

// New builds a pooled SMTP mailer. Connections are established lazily on
// the first send.
func New(cfg Config) (*Mailer, error) {
	if cfg.Host == "" {
		return nil, goerrors.New("smtp host is required", goerrors.CategoryBadInput)
	}

	if cfg.From == "" {
		return nil, goerrors.New("smtp from address is required", goerrors.CategoryBadInput)
	}

	if cfg.Subject == "" {
		cfg.Subject = "Your verification code"
	}

	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}

	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	pool, err := email.NewPool(addr, cfg.PoolSize, auth)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to connect smtp pool")
	}

	return &Mailer{
		pool:    pool,
		cfg:     cfg,
		timeout: cfg.SendTimeout,
	}, nil
}

// Send delivers the code to the given address. An error means the code was
// not delivered; callers must not treat the operation as complete.
func (m *Mailer) Send(ctx context.Context, to, code string) error {
	if err := ctx.Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "context cancelled before email dispatch")
	}

	msg := &email.Email{
		To:      []string{to},
		From:    m.cfg.From,
		Subject: m.cfg.Subject,
		Text:    []byte(fmt.Sprintf("Your one-time code is: %s\r\n\r\nIf you did not request this code you can ignore this message.\r\n", code)),
		Headers: textproto.MIMEHeader{},
	}

	timeout := m.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	if err := m.pool.Send(msg, timeout); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "smtp delivery failed").
			WithMetadata(map[string]any{"to": to})
	}

	return nil
}

// Close tears down the SMTP connection pool.
func (m *Mailer) Close() {
	m.pool.Close()
}
