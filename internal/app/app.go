// Package app turns a Config into the store, queue, worker and services
// shared by the server, the worker and phishctl.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/unclebandit/phishsim-backend/internal/config"
	"github.com/unclebandit/phishsim-backend/internal/controller"
	"github.com/unclebandit/phishsim-backend/internal/db"
	"github.com/unclebandit/phishsim-backend/internal/logging"
	"github.com/unclebandit/phishsim-backend/internal/mailer"
	"github.com/unclebandit/phishsim-backend/internal/model"
	"github.com/unclebandit/phishsim-backend/internal/queue"
	"github.com/unclebandit/phishsim-backend/internal/repository"
	"github.com/unclebandit/phishsim-backend/internal/service"
)

// openDB and migrateDB are swapped in tests.
var (
	openDB    = db.Open
	migrateDB = db.Migrate
)

type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     repository.Store
	Templates *service.TemplateRegistry

	conn *sql.DB
}

// New opens the configured store. The postgres store is migrated before
// it is returned.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	a := &App{
		Config:    cfg,
		Logger:    logging.OrNop(logger),
		Templates: service.NewTemplateRegistry(),
	}

	switch cfg.Store {
	case config.StoreMemory:
		a.Logger.Warn("using in-memory store, data is lost on exit")
		a.Store = repository.NewMemoryStore(a.Templates)
	case config.StorePostgres:
		conn, err := openDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := migrateDB(ctx, conn); err != nil {
			_ = conn.Close()
			return nil, err
		}
		a.conn = conn
		a.Store = &repository.CampaignRepository{DB: conn, Templates: a.Templates}
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
	return a, nil
}

// SMTPDefaults are the server-wide SMTP settings a request may override.
func (a *App) SMTPDefaults() model.SMTPSettings {
	return model.SMTPSettings{
		Host:     a.Config.SMTPHost,
		Port:     a.Config.SMTPPort,
		Username: a.Config.SMTPUser,
		Password: a.Config.SMTPPass,
	}
}

func (a *App) LaunchDefaults() service.LaunchOptions {
	return service.LaunchOptions{
		SenderEmail: a.Config.SenderEmail,
		BaseURL:     a.Config.BaseURL,
		SMTP:        a.SMTPDefaults(),
	}
}

// Transports builds the per-run transport from the job's SMTP settings,
// preferring SendGrid when an API key is configured.
func (a *App) Transports() service.TransportFactory {
	return func(job model.DispatchJob) (mailer.Transport, error) {
		return mailer.Select(a.Config.SendGridAPIKey, job.SMTP, a.Config.SendTimeout)
	}
}

func (a *App) NewWorker() *service.Worker {
	return service.NewWorker(a.Store, a.Templates, a.Transports(), a.Config.SendTimeout, a.Logger)
}

// CampaignService publishes dispatch jobs to q on the configured queue.
func (a *App) CampaignService(q queue.Queue) *service.CampaignService {
	return &service.CampaignService{
		Store:    a.Store,
		Queue:    q,
		Topic:    a.Config.DispatchQueue,
		Defaults: a.LaunchDefaults(),
		Logger:   a.Logger,
	}
}

// OpenQueue returns the dispatch queue for the configured mode. In-process
// mode subscribes a worker in this process; amqp mode only publishes and
// leaves consumption to cmd/worker. The returned close func drains or
// disconnects the queue.
func (a *App) OpenQueue() (queue.Queue, func(context.Context) error, error) {
	switch a.Config.DispatchMode {
	case config.DispatchAMQP:
		q, err := queue.DialAMQP(a.Config.AMQPURL, a.Logger)
		if err != nil {
			return nil, nil, err
		}
		return q, func(context.Context) error { return q.Close() }, nil
	default:
		q := queue.NewInMemoryQueue(a.Logger)
		if err := a.NewWorker().Start(q, a.Config.DispatchQueue); err != nil {
			return nil, nil, err
		}
		return q, q.Close, nil
	}
}

// Ping checks the database; the memory store is always ready.
func (a *App) Ping(ctx context.Context) error {
	if a.conn == nil {
		return nil
	}
	return a.conn.PingContext(ctx)
}

func (a *App) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

// TestSMTP dials, authenticates and disconnects using settings.
func TestSMTP(ctx context.Context, settings model.SMTPSettings) error {
	s, err := mailer.NewSMTP(settings, controller.SMTPTestTimeout)
	if err != nil {
		return err
	}
	return s.Ping(ctx)
}
