// Package mail delivers plain-text email through an SMTP relay.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/habitflow/notifier/pkg/config"
)

const defaultTimeout = 15 * time.Second

// Sender builds a fresh SMTP client per message; the relay connection is not pooled.
type Sender struct {
	cfg  config.MailConfig
	log  *slog.Logger
	opts []gomail.Option
}

func NewSender(cfg config.MailConfig, log *slog.Logger) *Sender {
	if log == nil {
		log = slog.Default()
	}
	return &Sender{cfg: cfg, log: log, opts: clientOptions(cfg)}
}

func clientOptions(cfg config.MailConfig) []gomail.Option {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTimeout(timeout),
		gomail.WithTLSPolicy(tlsPolicy(cfg.TLS)),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	return opts
}

func tlsPolicy(raw string) gomail.TLSPolicy {
	switch raw {
	case "mandatory":
		return gomail.TLSMandatory
	case "none":
		return gomail.NoTLS
	default:
		return gomail.TLSOpportunistic
	}
}

// Send delivers one message to a single recipient.
func (s *Sender) Send(ctx context.Context, to, subject, body string) error {
	msg, err := s.message(to, subject, body)
	if err != nil {
		return err
	}

	client, err := gomail.NewClient(s.cfg.Host, s.opts...)
	if err != nil {
		return fmt.Errorf("mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		s.log.WarnContext(ctx, "mail delivery failed", slog.String("to", to), slog.Any("error", err))
		return fmt.Errorf("send mail: %w", err)
	}

	s.log.DebugContext(ctx, "mail delivered", slog.String("to", to))
	return nil
}

func (s *Sender) message(to, subject, body string) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("mail from: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("mail to: %w", err)
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetBodyString(gomail.TypeTextPlain, body)

	return msg, nil
}
