// Package email delivers plain-text notifications through one backend chosen
// at start-up.
package email

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	ErrNoRecipients = errors.New("email has no recipients")
	ErrNoSender     = errors.New("sender email is required")
)

// Message is a plain-text email.
type Message struct {
	To      []string
	Subject string
	Text    string
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

func (m Message) validate() error {
	for _, to := range m.To {
		if strings.TrimSpace(to) != "" {
			return nil
		}
	}
	return ErrNoRecipients
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	log.Info().
		Str("event", "email_logged").
		Strs("to", msg.To).
		Str("subject", msg.Subject).
		Str("text", msg.Text).
		Msg("email delivery disabled, message logged")
	return nil
}

// Options selects and configures a backend.
type Options struct {
	Provider      string
	From          string
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPassword  string
	BrevoAPIKey   string
	BrevoEndpoint string
}

// New returns the backend named by opts.Provider. An empty provider selects
// brevo when an API key is present and smtp otherwise.
func New(opts Options) (Sender, error) {
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if provider == "" {
		provider = "smtp"
		if opts.BrevoAPIKey != "" {
			provider = "brevo"
		}
	}
	from := opts.From
	if from == "" {
		from = opts.SMTPUser
	}

	switch provider {
	case "log":
		return LogSender{}, nil
	case "brevo":
		return NewBrevoSender(nil, opts.BrevoEndpoint, opts.BrevoAPIKey, from)
	case "smtp":
		return NewSMTPSender(SMTPConfig{
			Host:     opts.SMTPHost,
			Port:     opts.SMTPPort,
			Username: opts.SMTPUser,
			Password: opts.SMTPPassword,
			From:     from,
		})
	default:
		return nil, errors.New("unknown email provider " + provider)
	}
}
