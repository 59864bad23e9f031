package email

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/consult-api/internal/config"
	"github.com/jwalitptl/consult-api/pkg/circuitbreaker"
)

// Sender delivers a single plain-text message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type smtpSender struct {
	dialer *gomail.Dialer
	from   string
	cb     *circuitbreaker.CircuitBreaker
}

// NewSMTPSender sends through an SMTP relay behind a circuit breaker so a
// dead relay fails fast instead of stalling every notification.
func NewSMTPSender(cfg config.SMTPConfig) Sender {
	return &smtpSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "smtp",
			MaxFailures: 3,
			Timeout:     30 * time.Second,
		}),
	}
}

func (s *smtpSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	return s.cb.Execute(func() error {
		if err := s.dialer.DialAndSend(m); err != nil {
			return fmt.Errorf("failed to send email to %s: %w", to, err)
		}
		return nil
	})
}

type logSender struct {
	logger zerolog.Logger
}

// NewLogSender is used when no SMTP relay is configured.
func NewLogSender(logger zerolog.Logger) Sender {
	return &logSender{logger: logger.With().Str("component", "email").Logger()}
}

func (s *logSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.Info().Str("to", to).Str("subject", subject).Msg("email delivery disabled, message logged")
	return nil
}
