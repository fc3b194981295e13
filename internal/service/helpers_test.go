package service_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/unclebandit/phishsim-backend/internal/mailer"
	"github.com/unclebandit/phishsim-backend/internal/model"
	"github.com/unclebandit/phishsim-backend/internal/repository"
	"github.com/unclebandit/phishsim-backend/internal/service"
)

// MockTransport records every message and fails for addresses in failFor.
type MockTransport struct {
	// Delay is spent inside every Send before it returns.
	Delay time.Duration

	mu      sync.Mutex
	failFor map[string]bool
	sent    []mailer.Message
}

func NewMockTransport(failFor ...string) *MockTransport {
	m := &MockTransport{failFor: map[string]bool{}}
	for _, addr := range failFor {
		m.failFor[addr] = true
	}
	return m
}

func (m *MockTransport) Name() string { return "mock" }

func (m *MockTransport) Send(ctx context.Context, msg mailer.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("send called without a deadline")
	}
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.failFor[msg.To] {
		return errors.New("550 mailbox unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *MockTransport) Sent() []mailer.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailer.Message(nil), m.sent...)
}

func (m *MockTransport) Factory() service.TransportFactory {
	return func(model.DispatchJob) (mailer.Transport, error) { return m, nil }
}

func newStore() (*repository.MemoryStore, *service.TemplateRegistry) {
	templates := service.NewTemplateRegistry()
	return repository.NewMemoryStore(templates), templates
}
