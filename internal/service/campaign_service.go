// internal/service/campaign_service.go
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/phishsim-backend/internal/errors"
	"github.com/unclebandit/phishsim-backend/internal/logging"
	"github.com/unclebandit/phishsim-backend/internal/model"
	"github.com/unclebandit/phishsim-backend/internal/queue"
	"github.com/unclebandit/phishsim-backend/internal/repository"
)

// LaunchOptions are the per-campaign delivery settings. Empty fields fall
// back to the service defaults.
type LaunchOptions struct {
	SenderEmail string             `json:"sender_email"`
	BaseURL     string             `json:"base_url"`
	SMTP        model.SMTPSettings `json:"smtp"`
}

// LaunchRequest creates a campaign with its targets and starts dispatch.
type LaunchRequest struct {
	Name     string
	Template string
	Targets  []model.TargetRow
	// TargetsText holds "email, name, department" lines.
	TargetsText string
	LaunchOptions
}

type LaunchResult struct {
	CampaignID     int    `json:"campaign_id"`
	TargetsCreated int    `json:"targets_created"`
	EmailsQueued   int    `json:"emails_queued"`
	Message        string `json:"message"`
}

type CampaignService struct {
	Store    repository.Store
	Queue    queue.Queue
	Topic    string
	Defaults LaunchOptions
	Logger   *zap.Logger
}

// ParseTargetsText splits one target per line on commas. Lines whose
// first field is empty are dropped.
func ParseTargetsText(text string) []model.TargetRow {
	var rows []model.TargetRow
	for _, line := range strings.Split(text, "\n") {
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if parts[0] == "" {
			continue
		}
		row := model.TargetRow{Email: parts[0]}
		if len(parts) > 1 {
			row.Name = parts[1]
		}
		if len(parts) > 2 {
			row.Department = parts[2]
		}
		rows = append(rows, row)
	}
	return rows
}

// Launch persists the campaign and its targets, then queues one dispatch
// run and returns without waiting for it.
func (s *CampaignService) Launch(ctx context.Context, req LaunchRequest) (*LaunchResult, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: campaign name is required", appErrors.ErrInvalidInput)
	}
	rows := append(append([]model.TargetRow{}, req.Targets...), ParseTargetsText(req.TargetsText)...)

	campaign, err := s.Store.CreateCampaign(ctx, strings.TrimSpace(req.Name), req.Template)
	if err != nil {
		return nil, err
	}

	targets, err := s.Store.AddTargets(ctx, campaign.ID, rows)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil, err
		}
		if len(targets) == 0 {
			return nil, fmt.Errorf("campaign %d saved but no targets were created: %w", campaign.ID, err)
		}
		// Rows that failed are already skipped.
		s.log().Warn("some targets were not created",
			zap.Int("campaign_id", campaign.ID),
			zap.Int("created", len(targets)),
			zap.Error(err))
	}

	result, err := s.queueDispatch(ctx, campaign, targets, req.LaunchOptions)
	if err != nil {
		return nil, err
	}
	result.TargetsCreated = len(targets)
	return result, nil
}

// Redispatch queues a new run for the campaign's targets that have no
// sent_at yet.
func (s *CampaignService) Redispatch(ctx context.Context, campaignID int, opts LaunchOptions) (*LaunchResult, error) {
	campaign, err := s.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	targets, err := s.Store.ListTargets(ctx, model.TargetFilter{CampaignID: campaignID})
	if err != nil {
		return nil, err
	}
	return s.queueDispatch(ctx, campaign, targets, opts)
}

func (s *CampaignService) queueDispatch(ctx context.Context, campaign *model.Campaign, targets []model.Target, opts LaunchOptions) (*LaunchResult, error) {
	job := s.Snapshot(campaign, targets, opts)
	result := &LaunchResult{
		CampaignID:   campaign.ID,
		EmailsQueued: len(job.Recipients),
		Message:      fmt.Sprintf("Campaign launched! Sending %d emails in background.", len(job.Recipients)),
	}
	if len(job.Recipients) == 0 {
		result.Message = "Campaign saved. No unsent targets to dispatch."
		return result, nil
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode dispatch job: %w", err)
	}
	if err := s.Queue.Publish(ctx, s.topic(), payload); err != nil {
		return nil, fmt.Errorf("campaign %d saved but dispatch was not queued: %w", campaign.ID, err)
	}

	s.log().Info("dispatch queued",
		zap.Int("campaign_id", campaign.ID),
		zap.Int("recipients", len(job.Recipients)))
	return result, nil
}

// Snapshot copies what the dispatch run needs out of the store records.
// Targets already marked sent are left out.
func (s *CampaignService) Snapshot(campaign *model.Campaign, targets []model.Target, opts LaunchOptions) model.DispatchJob {
	opts = s.resolve(opts)
	job := model.DispatchJob{
		CampaignID:  campaign.ID,
		TemplateKey: campaign.Template,
		BaseURL:     opts.BaseURL,
		SenderEmail: opts.SenderEmail,
		SMTP:        opts.SMTP,
		Recipients:  make([]model.DispatchTarget, 0, len(targets)),
	}
	for _, t := range targets {
		if t.SentAt != nil {
			continue
		}
		job.Recipients = append(job.Recipients, model.DispatchTarget{
			TargetID: t.ID,
			Email:    t.Email,
			Name:     t.Name,
			Token:    t.Token,
		})
	}
	return job
}

func (s *CampaignService) resolve(opts LaunchOptions) LaunchOptions {
	d := s.Defaults
	opts.SenderEmail = firstNonEmpty(opts.SenderEmail, d.SenderEmail)
	opts.BaseURL = strings.TrimRight(firstNonEmpty(strings.TrimSpace(opts.BaseURL), d.BaseURL), "/")
	opts.SMTP.Host = firstNonEmpty(opts.SMTP.Host, d.SMTP.Host)
	if opts.SMTP.Port == 0 {
		opts.SMTP.Port = d.SMTP.Port
	}
	if opts.SMTP.Username == "" {
		opts.SMTP.Username = d.SMTP.Username
		opts.SMTP.Password = d.SMTP.Password
	}
	return opts
}

func (s *CampaignService) topic() string {
	if s.Topic == "" {
		return queue.DispatchTopic
	}
	return s.Topic
}

func (s *CampaignService) log() *zap.Logger {
	return logging.OrNop(s.Logger)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
