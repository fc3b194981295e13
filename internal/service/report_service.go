package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	appErrors "github.com/unclebandit/phishsim-backend/internal/errors"
	"github.com/unclebandit/phishsim-backend/internal/model"
	"github.com/unclebandit/phishsim-backend/internal/repository"
)

// DashboardRecentTargets is how many targets the dashboard lists.
const DashboardRecentTargets = 50

// AuditHeader is the first row of the audit export.
var AuditHeader = []string{
	"Campaign", "Email", "Name", "Department", "Sent At", "Clicked At",
	"Submitted At", "Reported", "IP Address", "User Agent",
}

// TargetView is a target with its derived status.
type TargetView struct {
	model.Target
	CampaignName string `json:"campaign_name,omitempty"`
	Status       string `json:"status"`
}

type Dashboard struct {
	Stats     model.Stats             `json:"stats"`
	Campaigns []model.CampaignSummary `json:"campaigns"`
	Recent    []TargetView            `json:"recent_targets"`
}

// ReportService is the read-only side of the store.
type ReportService struct {
	Store repository.Store
}

func (s *ReportService) Stats(ctx context.Context) (model.Stats, error) {
	return s.Store.AggregateStats(ctx)
}

func (s *ReportService) Campaigns(ctx context.Context) ([]model.CampaignSummary, error) {
	return s.Store.ListCampaigns(ctx)
}

func (s *ReportService) Campaign(ctx context.Context, id int) (*model.CampaignSummary, error) {
	summaries, err := s.Store.ListCampaigns(ctx)
	if err != nil {
		return nil, err
	}
	for i := range summaries {
		if summaries[i].ID == id {
			return &summaries[i], nil
		}
	}
	return nil, appErrors.NewCampaignNotFound(id)
}

func (s *ReportService) Targets(ctx context.Context, filter model.TargetFilter) ([]TargetView, error) {
	targets, err := s.Store.ListTargets(ctx, filter)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, targets)
}

func (s *ReportService) views(ctx context.Context, targets []model.Target) ([]TargetView, error) {
	names := map[int]string{}
	if len(targets) > 0 {
		campaigns, err := s.Store.ListCampaigns(ctx)
		if err != nil {
			return nil, err
		}
		for _, c := range campaigns {
			names[c.ID] = c.Name
		}
	}

	out := make([]TargetView, len(targets))
	for i := range targets {
		out[i] = TargetView{
			Target:       targets[i],
			CampaignName: names[targets[i].CampaignID],
			Status:       targets[i].Status(),
		}
	}
	return out, nil
}

func (s *ReportService) Dashboard(ctx context.Context) (*Dashboard, error) {
	stats, err := s.Store.AggregateStats(ctx)
	if err != nil {
		return nil, err
	}
	campaigns, err := s.Store.ListCampaigns(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := s.Targets(ctx, model.TargetFilter{RecentFirst: true, Limit: DashboardRecentTargets})
	if err != nil {
		return nil, err
	}
	return &Dashboard{Stats: stats, Campaigns: campaigns, Recent: recent}, nil
}

// WriteAuditCSV writes one row per target, ordered by campaign then
// creation order.
func (s *ReportService) WriteAuditCSV(ctx context.Context, w io.Writer) error {
	rows, err := s.Store.AuditRows(ctx)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(AuditHeader); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	for _, r := range rows {
		reported := "No"
		if r.Reported {
			reported = "Yes"
		}
		record := []string{
			r.CampaignName, r.Email, r.Name, r.Department,
			formatTime(r.SentAt), formatTime(r.ClickedAt), formatTime(r.SubmittedAt),
			reported, r.IPAddress, r.UserAgent,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
