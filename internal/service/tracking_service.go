package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/phishsim-backend/internal/errors"
	"github.com/unclebandit/phishsim-backend/internal/logging"
	"github.com/unclebandit/phishsim-backend/internal/metrics"
	"github.com/unclebandit/phishsim-backend/internal/model"
	"github.com/unclebandit/phishsim-backend/internal/repository"
	"github.com/unclebandit/phishsim-backend/internal/token"
)

const (
	EventClick  = "click"
	EventSubmit = "submit"
	EventReport = "report"
)

// TrackingService applies click, submit and report events keyed by token.
// Callers get no indication of whether the token exists; the bool results
// are for tests and metrics only.
type TrackingService struct {
	Store  repository.Store
	Logger *zap.Logger
	Now    func() time.Time
}

// Click records the first click with the client's IP and user agent.
func (s *TrackingService) Click(ctx context.Context, tok, ip, userAgent string) bool {
	return s.apply(ctx, EventClick, tok, func(t *model.Target) (bool, error) {
		return s.Store.MarkClicked(ctx, t.ID, s.now(), ip, userAgent)
	})
}

// Submit records the first form submission. It takes no form data.
func (s *TrackingService) Submit(ctx context.Context, tok string) bool {
	return s.apply(ctx, EventSubmit, tok, func(t *model.Target) (bool, error) {
		return s.Store.MarkSubmitted(ctx, t.ID, s.now())
	})
}

func (s *TrackingService) Report(ctx context.Context, tok string) bool {
	return s.apply(ctx, EventReport, tok, func(t *model.Target) (bool, error) {
		first := !t.Reported
		return first, s.Store.MarkReported(ctx, t.ID)
	})
}

// apply reports whether tok resolved to a target.
func (s *TrackingService) apply(ctx context.Context, event, tok string, mark func(*model.Target) (bool, error)) bool {
	log := logging.OrNop(s.Logger)
	if !token.Valid(tok) {
		metrics.TrackingEvents.WithLabelValues(event, metrics.OutcomeUnknown).Inc()
		return false
	}

	t, err := s.Store.FindTargetByToken(ctx, tok)
	if err != nil {
		if !errors.Is(err, appErrors.ErrNotFound) {
			log.Error("token lookup failed", zap.String("event", event), zap.Error(err))
		}
		metrics.TrackingEvents.WithLabelValues(event, metrics.OutcomeUnknown).Inc()
		return false
	}

	won, err := mark(t)
	if err != nil {
		log.Error("failed to record tracking event",
			zap.String("event", event),
			zap.Int("target_id", t.ID),
			zap.Error(err))
		return true
	}
	metrics.TrackingEvents.WithLabelValues(event, metrics.Outcome(won)).Inc()
	if won {
		log.Info("tracking event",
			zap.String("event", event),
			zap.Int("campaign_id", t.CampaignID),
			zap.Int("target_id", t.ID))
	}
	return true
}

func (s *TrackingService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
