package repository

import (
	"context"
	"math"
	"time"
	"unicode/utf8"

	"github.com/unclebandit/phishsim-backend/internal/model"
	"github.com/unclebandit/phishsim-backend/internal/token"
)

// Store is the campaign store. Every Mark* operation is an atomic
// conditional write safe to call concurrently for the same target; the
// returned bool reports whether this call performed the transition.
type Store interface {
	CreateCampaign(ctx context.Context, name, templateKey string) (*model.Campaign, error)
	GetCampaign(ctx context.Context, id int) (*model.Campaign, error)
	ListCampaigns(ctx context.Context) ([]model.CampaignSummary, error)

	// AddTargets creates one target per row with a non-empty email. A row
	// that fails (for example on a token collision) is skipped and reported
	// in the joined error while the remaining rows are still created.
	AddTargets(ctx context.Context, campaignID int, rows []model.TargetRow) ([]model.Target, error)
	GetTarget(ctx context.Context, id int) (*model.Target, error)
	FindTargetByToken(ctx context.Context, tok string) (*model.Target, error)
	ListTargets(ctx context.Context, filter model.TargetFilter) ([]model.Target, error)

	MarkSent(ctx context.Context, targetID int, at time.Time) (bool, error)
	MarkClicked(ctx context.Context, targetID int, at time.Time, ip, userAgent string) (bool, error)
	MarkSubmitted(ctx context.Context, targetID int, at time.Time) (bool, error)
	MarkReported(ctx context.Context, targetID int) error

	// ClaimSend reserves an unsent target for one dispatch run. It reports
	// false when the target is already sent or holds a claim taken after
	// staleBefore.
	ClaimSend(ctx context.Context, targetID int, at, staleBefore time.Time) (bool, error)
	// ReleaseSend drops the claim on a target that was not sent.
	ReleaseSend(ctx context.Context, targetID int) error

	AggregateStats(ctx context.Context) (model.Stats, error)
	AuditRows(ctx context.Context) ([]model.AuditRow, error)
}

// TemplateChecker reports whether a template key is registered.
type TemplateChecker interface {
	Has(key string) bool
}

// TokenFunc produces a fresh tracking token.
type TokenFunc func() (string, error)

const (
	maxIPLength        = 50
	maxUserAgentLength = 500
)

func newToken(f TokenFunc) (string, error) {
	if f == nil {
		return token.Generate()
	}
	return f()
}

// NewStats fills in the rates; both are 0 when there are no targets.
func NewStats(total, clicked, submitted, reported int) model.Stats {
	return model.Stats{
		Total:      total,
		Clicked:    clicked,
		Submitted:  submitted,
		Reported:   reported,
		ClickRate:  rate(clicked, total),
		SubmitRate: rate(submitted, total),
	}
}

func rate(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(count)/float64(total)*1000) / 10
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

func validStatus(status string) bool {
	switch status {
	case "", model.StatusSubmitted, model.StatusClicked, model.StatusReported, model.StatusSent, model.StatusPending:
		return true
	}
	return false
}
