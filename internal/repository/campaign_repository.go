package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/phishsim-backend/internal/errors"
	"github.com/unclebandit/phishsim-backend/internal/model"
)

// CampaignRepository is the PostgreSQL-backed Store.
type CampaignRepository struct {
	DB        *sql.DB
	Templates TemplateChecker
	NewToken  TokenFunc
}

// ====================== Campaigns ======================

func (r *CampaignRepository) CreateCampaign(ctx context.Context, name, templateKey string) (*model.Campaign, error) {
	if r.Templates == nil || !r.Templates.Has(templateKey) {
		return nil, &appErrors.InvalidTemplateError{Key: templateKey, Err: &appErrors.UnknownTemplateError{Key: templateKey}}
	}

	c := &model.Campaign{
		Name:      name,
		Template:  templateKey,
		CreatedAt: time.Now().UTC(),
	}
	query := `
        INSERT INTO campaigns (name, template, created_at)
        VALUES ($1, $2, $3)
        RETURNING id
    `
	if err := r.DB.QueryRowContext(ctx, query, c.Name, c.Template, c.CreatedAt).Scan(&c.ID); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *CampaignRepository) GetCampaign(ctx context.Context, id int) (*model.Campaign, error) {
	query := `SELECT id, name, template, created_at FROM campaigns WHERE id=$1`
	var c model.Campaign
	err := r.DB.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &c.Template, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &c, nil
}

// ListCampaigns returns every campaign with its counters, newest first.
func (r *CampaignRepository) ListCampaigns(ctx context.Context) ([]model.CampaignSummary, error) {
	query := `
        SELECT c.id, c.name, c.template, c.created_at,
               COUNT(t.id), COUNT(t.sent_at), COUNT(t.clicked_at), COUNT(t.submitted_at),
               COUNT(t.id) FILTER (WHERE t.reported)
        FROM campaigns c
        LEFT JOIN targets t ON t.campaign_id = c.id
        GROUP BY c.id
        ORDER BY c.created_at DESC, c.id DESC
    `
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	summaries := []model.CampaignSummary{}
	for rows.Next() {
		var s model.CampaignSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.Template, &s.CreatedAt,
			&s.TargetCount, &s.Sent, &s.Clicked, &s.Submitted, &s.Reported); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return summaries, nil
}

// ====================== Stats ======================

func (r *CampaignRepository) AggregateStats(ctx context.Context) (model.Stats, error) {
	query := `
        SELECT COUNT(*), COUNT(clicked_at), COUNT(submitted_at), COUNT(*) FILTER (WHERE reported)
        FROM targets
    `
	var total, clicked, submitted, reported int
	if err := r.DB.QueryRowContext(ctx, query).Scan(&total, &clicked, &submitted, &reported); err != nil {
		return model.Stats{}, fmt.Errorf("db error: %w", err)
	}
	return NewStats(total, clicked, submitted, reported), nil
}

// AuditRows returns every target joined with its campaign name, ordered by
// campaign then creation order.
func (r *CampaignRepository) AuditRows(ctx context.Context) ([]model.AuditRow, error) {
	query := `
        SELECT c.id, c.name, t.email, t.name, t.department,
               t.sent_at, t.clicked_at, t.submitted_at, t.reported, t.ip_address, t.user_agent
        FROM targets t
        JOIN campaigns c ON c.id = t.campaign_id
        ORDER BY c.id, t.id
    `
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := []model.AuditRow{}
	for rows.Next() {
		var a model.AuditRow
		if err := rows.Scan(&a.CampaignID, &a.CampaignName, &a.Email, &a.Name, &a.Department,
			&a.SentAt, &a.ClickedAt, &a.SubmittedAt, &a.Reported, &a.IPAddress, &a.UserAgent); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

var _ Store = (*CampaignRepository)(nil)
