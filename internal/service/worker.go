package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/phishsim-backend/internal/errors"
	"github.com/unclebandit/phishsim-backend/internal/logging"
	"github.com/unclebandit/phishsim-backend/internal/mailer"
	"github.com/unclebandit/phishsim-backend/internal/metrics"
	"github.com/unclebandit/phishsim-backend/internal/model"
	"github.com/unclebandit/phishsim-backend/internal/queue"
)

// DefaultSendTimeout bounds a single transport call when none is configured.
const DefaultSendTimeout = 30 * time.Second

// DefaultClaimTTL is how long a send claim blocks other runs. A claim older
// than this is treated as abandoned by a crashed run.
const DefaultClaimTTL = 10 * time.Minute

// SendLedger defines the store methods the worker needs
type SendLedger interface {
	ClaimSend(ctx context.Context, targetID int, at, staleBefore time.Time) (bool, error)
	ReleaseSend(ctx context.Context, targetID int) error
	MarkSent(ctx context.Context, targetID int, at time.Time) (bool, error)
}

// Renderer renders a lure for one recipient.
type Renderer interface {
	Render(key, name, link string) (RenderedEmail, error)
}

// TransportFactory returns the transport for one dispatch run.
type TransportFactory func(job model.DispatchJob) (mailer.Transport, error)

// Worker runs dispatch jobs: one send attempt per recipient, in order,
// recording sent_at for each success. A recipient is only sent to after
// this run has claimed it, so overlapping runs for one campaign never
// mail the same target twice.
type Worker struct {
	Store        SendLedger
	Templates    Renderer
	NewTransport TransportFactory
	SendTimeout  time.Duration
	ClaimTTL     time.Duration
	Logger       *zap.Logger
	Now          func() time.Time
}

// Constructor
func NewWorker(store SendLedger, templates Renderer, newTransport TransportFactory, sendTimeout time.Duration, logger *zap.Logger) *Worker {
	return &Worker{
		Store:        store,
		Templates:    templates,
		NewTransport: newTransport,
		SendTimeout:  sendTimeout,
		ClaimTTL:     DefaultClaimTTL,
		Logger:       logging.OrNop(logger),
		Now:          time.Now,
	}
}

// TrackingLink is the per-recipient click URL.
func TrackingLink(baseURL, tok string) string {
	return baseURL + "/click/" + tok
}

// Dispatch sends the job. A failing recipient is logged and skipped; the
// returned error is reserved for failures that prevent the whole run.
func (w *Worker) Dispatch(ctx context.Context, job model.DispatchJob) (model.DispatchResult, error) {
	log := logging.OrNop(w.Logger).With(zap.Int("campaign_id", job.CampaignID))
	result := model.DispatchResult{CampaignID: job.CampaignID}

	transport, err := w.NewTransport(job)
	if err != nil {
		return result, fmt.Errorf("transport: %w", err)
	}
	result.Provider = transport.Name()
	log.Info("dispatch started",
		zap.String("provider", result.Provider),
		zap.Int("recipients", len(job.Recipients)))

	for _, r := range job.Recipients {
		now := w.now()
		claimed, err := w.Store.ClaimSend(ctx, r.TargetID, now, now.Add(-w.claimTTL()))
		if err != nil {
			result.Failed++
			metrics.EmailsFailed.WithLabelValues(result.Provider).Inc()
			log.Error("failed to claim target",
				zap.Int("target_id", r.TargetID),
				zap.String("email", r.Email),
				zap.Error(err))
			continue
		}
		if !claimed {
			result.Skipped++
			log.Debug("target already sent or claimed by another run",
				zap.Int("target_id", r.TargetID))
			continue
		}

		result.Attempted++
		if err := w.sendOne(ctx, transport, job, r); err != nil {
			result.Failed++
			metrics.EmailsFailed.WithLabelValues(result.Provider).Inc()
			log.Error("send failed",
				zap.Int("target_id", r.TargetID),
				zap.String("email", r.Email),
				zap.Error(err))
			if err := w.Store.ReleaseSend(ctx, r.TargetID); err != nil {
				log.Warn("failed to release claim", zap.Int("target_id", r.TargetID), zap.Error(err))
			}
			continue
		}
		result.Sent++
		metrics.EmailsSent.WithLabelValues(result.Provider).Inc()

		// A recording failure leaves sent_at null but the message is out.
		// The claim stays until it goes stale.
		if _, err := w.Store.MarkSent(ctx, r.TargetID, w.now()); err != nil {
			log.Error("failed to record sent_at",
				zap.Int("target_id", r.TargetID),
				zap.String("email", r.Email),
				zap.Error(err))
		}
	}

	metrics.DispatchRuns.Inc()
	log.Info("dispatch finished",
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func (w *Worker) sendOne(ctx context.Context, transport mailer.Transport, job model.DispatchJob, r model.DispatchTarget) error {
	email, err := w.Templates.Render(job.TemplateKey, r.Name, TrackingLink(job.BaseURL, r.Token))
	if err != nil {
		return err
	}

	timeout := w.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = transport.Send(sendCtx, mailer.Message{
		From:     job.SenderEmail,
		FromName: email.SenderName,
		To:       r.Email,
		Subject:  email.Subject,
		HTML:     email.BodyHTML,
	})
	if err != nil {
		return appErrors.NewTransportError(transport.Name(), r.Email, err)
	}
	return nil
}

func (w *Worker) claimTTL() time.Duration {
	if w.ClaimTTL <= 0 {
		return DefaultClaimTTL
	}
	return w.ClaimTTL
}

func (w *Worker) now() time.Time {
	if w.Now == nil {
		return time.Now()
	}
	return w.Now()
}

// HandleJob decodes a queued DispatchJob and runs it.
func (w *Worker) HandleJob(ctx context.Context, payload []byte) error {
	var job model.DispatchJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("invalid dispatch job: %w", err)
	}
	_, err := w.Dispatch(ctx, job)
	return err
}

// Start subscribes the worker to the dispatch topic.
func (w *Worker) Start(q queue.Queue, topic string) error {
	return q.Subscribe(topic, w.HandleJob)
}
