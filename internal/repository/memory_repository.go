package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	appErrors "github.com/unclebandit/phishsim-backend/internal/errors"
	"github.com/unclebandit/phishsim-backend/internal/model"
)

// MemoryStore keeps campaigns and targets in process memory. It is used by
// STORE=memory and by tests; state is lost on restart.
type MemoryStore struct {
	Templates TemplateChecker
	NewToken  TokenFunc

	mu        sync.RWMutex
	campaigns []model.Campaign
	targets   []model.Target
	byToken   map[string]int    // token -> index into targets
	claims    map[int]time.Time // target id -> claimed_at
}

func NewMemoryStore(templates TemplateChecker) *MemoryStore {
	return &MemoryStore{
		Templates: templates,
		byToken:   make(map[string]int),
		claims:    make(map[int]time.Time),
	}
}

func (s *MemoryStore) CreateCampaign(_ context.Context, name, templateKey string) (*model.Campaign, error) {
	if s.Templates == nil || !s.Templates.Has(templateKey) {
		return nil, &appErrors.InvalidTemplateError{Key: templateKey, Err: &appErrors.UnknownTemplateError{Key: templateKey}}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := model.Campaign{
		ID:        len(s.campaigns) + 1,
		Name:      name,
		Template:  templateKey,
		CreatedAt: time.Now().UTC(),
	}
	s.campaigns = append(s.campaigns, c)
	return &c, nil
}

func (s *MemoryStore) GetCampaign(_ context.Context, id int) (*model.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.campaign(id)
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return &c, nil
}

func (s *MemoryStore) campaign(id int) (model.Campaign, bool) {
	if id < 1 || id > len(s.campaigns) {
		return model.Campaign{}, false
	}
	return s.campaigns[id-1], true
}

func (s *MemoryStore) ListCampaigns(_ context.Context) ([]model.CampaignSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.CampaignSummary, len(s.campaigns))
	for i, c := range s.campaigns {
		out[i].Campaign = c
	}
	for _, t := range s.targets {
		sum := &out[t.CampaignID-1]
		sum.TargetCount++
		if t.SentAt != nil {
			sum.Sent++
		}
		if t.ClickedAt != nil {
			sum.Clicked++
		}
		if t.SubmittedAt != nil {
			sum.Submitted++
		}
		if t.Reported {
			sum.Reported++
		}
	}
	// Newest first.
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) AddTargets(_ context.Context, campaignID int, rows []model.TargetRow) ([]model.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.campaign(campaignID); !ok {
		return nil, appErrors.NewCampaignNotFound(campaignID)
	}
	if s.byToken == nil {
		s.byToken = make(map[string]int)
	}

	created := make([]model.Target, 0, len(rows))
	var errs []error
	for _, row := range rows {
		email := strings.TrimSpace(row.Email)
		if email == "" {
			continue
		}
		tok, err := newToken(s.NewToken)
		if err != nil {
			errs = append(errs, fmt.Errorf("token for %s: %w", email, err))
			continue
		}
		if _, dup := s.byToken[tok]; dup {
			errs = append(errs, &appErrors.DuplicateTokenError{Token: tok})
			continue
		}
		t := model.Target{
			ID:         len(s.targets) + 1,
			CampaignID: campaignID,
			Email:      email,
			Name:       strings.TrimSpace(row.Name),
			Department: strings.TrimSpace(row.Department),
			Token:      tok,
			CreatedAt:  time.Now().UTC(),
		}
		s.byToken[tok] = len(s.targets)
		s.targets = append(s.targets, t)
		created = append(created, t)
	}
	return created, errors.Join(errs...)
}

func (s *MemoryStore) GetTarget(_ context.Context, id int) (*model.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id < 1 || id > len(s.targets) {
		return nil, appErrors.ErrNotFound
	}
	t := copyTarget(s.targets[id-1])
	return &t, nil
}

func (s *MemoryStore) FindTargetByToken(_ context.Context, tok string) (*model.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byToken[tok]
	if !ok {
		return nil, appErrors.ErrNotFound
	}
	t := copyTarget(s.targets[i])
	return &t, nil
}

func (s *MemoryStore) ListTargets(_ context.Context, filter model.TargetFilter) ([]model.Target, error) {
	if !validStatus(filter.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", appErrors.ErrInvalidInput, filter.Status)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.Target{}
	for _, t := range s.targets {
		if filter.CampaignID > 0 && t.CampaignID != filter.CampaignID {
			continue
		}
		if filter.Status != "" && t.Status() != filter.Status {
			continue
		}
		out = append(out, copyTarget(t))
	}
	if filter.RecentFirst {
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i].ClickedAt, out[j].ClickedAt
			switch {
			case a == nil && b == nil:
				return out[i].ID > out[j].ID
			case a == nil:
				return false
			case b == nil:
				return true
			case !a.Equal(*b):
				return a.After(*b)
			}
			return out[i].ID > out[j].ID
		})
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// target returns a pointer into the slice; callers must hold mu for writing.
func (s *MemoryStore) target(id int) (*model.Target, error) {
	if id < 1 || id > len(s.targets) {
		return nil, appErrors.ErrNotFound
	}
	return &s.targets[id-1], nil
}

func (s *MemoryStore) MarkSent(_ context.Context, targetID int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.target(targetID)
	if err != nil {
		return false, err
	}
	if t.SentAt != nil {
		return false, nil
	}
	t.SentAt = timePtr(at)
	return true, nil
}

func (s *MemoryStore) MarkClicked(_ context.Context, targetID int, at time.Time, ip, userAgent string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.target(targetID)
	if err != nil {
		return false, err
	}
	if t.ClickedAt != nil {
		return false, nil
	}
	t.ClickedAt = timePtr(at)
	t.IPAddress = truncate(ip, maxIPLength)
	t.UserAgent = truncate(userAgent, maxUserAgentLength)
	return true, nil
}

func (s *MemoryStore) MarkSubmitted(_ context.Context, targetID int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.target(targetID)
	if err != nil {
		return false, err
	}
	if t.SubmittedAt != nil {
		return false, nil
	}
	t.SubmittedAt = timePtr(at)
	return true, nil
}

func (s *MemoryStore) MarkReported(_ context.Context, targetID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.target(targetID)
	if err != nil {
		return err
	}
	t.Reported = true
	return nil
}

func (s *MemoryStore) ClaimSend(_ context.Context, targetID int, at, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.target(targetID)
	if err != nil {
		return false, err
	}
	if t.SentAt != nil {
		return false, nil
	}
	if claimedAt, ok := s.claims[targetID]; ok && !claimedAt.Before(staleBefore) {
		return false, nil
	}
	s.claims[targetID] = at
	return true, nil
}

func (s *MemoryStore) ReleaseSend(_ context.Context, targetID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.target(targetID)
	if err != nil {
		return err
	}
	if t.SentAt == nil {
		delete(s.claims, targetID)
	}
	return nil
}

func (s *MemoryStore) AggregateStats(_ context.Context) (model.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var clicked, submitted, reported int
	for _, t := range s.targets {
		if t.ClickedAt != nil {
			clicked++
		}
		if t.SubmittedAt != nil {
			submitted++
		}
		if t.Reported {
			reported++
		}
	}
	return NewStats(len(s.targets), clicked, submitted, reported), nil
}

func (s *MemoryStore) AuditRows(_ context.Context) ([]model.AuditRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.AuditRow, 0, len(s.targets))
	for _, t := range s.targets {
		t = copyTarget(t)
		out = append(out, model.AuditRow{
			CampaignID:   t.CampaignID,
			CampaignName: s.campaigns[t.CampaignID-1].Name,
			Email:        t.Email,
			Name:         t.Name,
			Department:   t.Department,
			SentAt:       t.SentAt,
			ClickedAt:    t.ClickedAt,
			SubmittedAt:  t.SubmittedAt,
			Reported:     t.Reported,
			IPAddress:    t.IPAddress,
			UserAgent:    t.UserAgent,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CampaignID < out[j].CampaignID })
	return out, nil
}

// copyTarget detaches the timestamp pointers so callers never alias store state.
func copyTarget(t model.Target) model.Target {
	t.SentAt = clonePtr(t.SentAt)
	t.ClickedAt = clonePtr(t.ClickedAt)
	t.SubmittedAt = clonePtr(t.SubmittedAt)
	return t
}

func clonePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func timePtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}

var _ Store = (*MemoryStore)(nil)
