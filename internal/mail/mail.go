// Package mail sends multipart (plain + HTML) email over SMTP.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	gomail "github.com/wneessen/go-mail"

	"studybot/internal/config"
	logx "studybot/pkg/logx"
)

// ErrDisabled is returned when SMTP is not configured.
var ErrDisabled = errors.New("mail: smtp disabled")

type Sender struct {
	mu  sync.RWMutex
	cfg config.SMTP
	log logx.Logger
}

func New(cfg config.SMTP, log logx.Logger) *Sender {
	return &Sender{cfg: cfg, log: log}
}

// Apply swaps the SMTP settings used by later sends.
func (s *Sender) Apply(cfg config.SMTP) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Enabled reports whether Send can reach a server.
func (s *Sender) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Enabled && s.cfg.Host != ""
}

// Send delivers one message with a plain body and an HTML alternative.
// Each call dials a fresh connection; reminders are too sparse to keep one open.
func (s *Sender) Send(ctx context.Context, to, subject, html, plain string) error {
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()
	if !cfg.Enabled || cfg.Host == "" {
		return ErrDisabled
	}

	msg, err := buildMessage(cfg.From, to, subject, html, plain)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return fmt.Errorf("mail: client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("mail: send to %s: %w", to, err)
	}
	s.log.Debug("email sent", logx.String("to", to), logx.String("subject", subject))
	return nil
}

func buildMessage(from, to, subject, html, plain string) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("mail: from %q: %w", from, err)
	}
	if err := m.To(strings.TrimSpace(to)); err != nil {
		return nil, fmt.Errorf("mail: to %q: %w", to, err)
	}
	m.Subject(subject)
	m.SetDate()
	m.SetMessageID()
	m.SetBodyString(gomail.TypeTextPlain, plain)
	if html != "" {
		m.AddAlternativeString(gomail.TypeTextHTML, html)
	}
	return m, nil
}

func newClient(cfg config.SMTP) (*gomail.Client, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTimeout(cfg.Timeout),
		gomail.WithTLSPolicy(tlsPolicy(cfg.TLS)),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	return gomail.NewClient(cfg.Host, opts...)
}

func tlsPolicy(mode string) gomail.TLSPolicy {
	switch mode {
	case "none":
		return gomail.NoTLS
	case "opportunistic":
		return gomail.TLSOpportunistic
	default:
		return gomail.TLSMandatory
	}
}
