// Package mailer binds the outbound "send one message" capability to a
// concrete provider.
package mailer

import (
	"context"
	"time"

	"github.com/unclebandit/phishsim-backend/internal/model"
)

const (
	ProviderSendGrid = "sendgrid"
	ProviderSMTP     = "smtp"
)

// Message is a single rendered email.
type Message struct {
	From     string
	FromName string
	To       string
	Subject  string
	HTML     string
}

// Transport sends one message. Implementations must honour ctx for the
// network round trip.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Select picks the transport for one dispatch run: the SendGrid HTTP API
// when an API key is configured, SMTP otherwise.
func Select(sendGridAPIKey string, smtp model.SMTPSettings, timeout time.Duration) (Transport, error) {
	if sendGridAPIKey != "" {
		return NewSendGrid(sendGridAPIKey), nil
	}
	return NewSMTP(smtp, timeout)
}
