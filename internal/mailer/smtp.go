package mailer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/unclebandit/phishsim-backend/internal/model"
)

const implicitTLSPort = 465

// SMTP submits mail over SMTP with mandatory TLS: implicit TLS on port 465,
// STARTTLS everywhere else.
type SMTP struct {
	mu     sync.Mutex
	client *mail.Client
}

func NewSMTP(settings model.SMTPSettings, timeout time.Duration) (*SMTP, error) {
	opts := []mail.Option{
		mail.WithPort(settings.Port),
		mail.WithTimeout(timeout),
	}
	if settings.Port == implicitTLSPort {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	if settings.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(settings.Username),
			mail.WithPassword(settings.Password),
		)
	}

	client, err := mail.NewClient(settings.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTP{client: client}, nil
}

func (s *SMTP) Name() string { return ProviderSMTP }

// BuildMessage converts msg into a go-mail message.
func BuildMessage(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.FromFormat(msg.FromName, msg.From); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	return m, nil
}

func (s *SMTP) Send(ctx context.Context, msg Message) error {
	m, err := BuildMessage(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.DialAndSendWithContext(ctx, m)
}

// Ping connects, negotiates TLS, authenticates and disconnects.
func (s *SMTP) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.client.DialWithContext(ctx); err != nil {
		return err
	}
	return s.client.Close()
}
