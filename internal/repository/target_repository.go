package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/phishsim-backend/internal/errors"
	"github.com/unclebandit/phishsim-backend/internal/model"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

const targetColumns = `id, campaign_id, email, name, department, token, sent_at, clicked_at,
        submitted_at, reported, ip_address, user_agent, created_at`

// AddTargets inserts the rows one statement at a time so that a failure on
// one row leaves the others in place.
func (r *CampaignRepository) AddTargets(ctx context.Context, campaignID int, rows []model.TargetRow) ([]model.Target, error) {
	if _, err := r.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}

	query := `
        INSERT INTO targets (campaign_id, email, name, department, token, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id
    `
	created := make([]model.Target, 0, len(rows))
	var errs []error
	for _, row := range rows {
		email := strings.TrimSpace(row.Email)
		if email == "" {
			continue
		}
		tok, err := newToken(r.NewToken)
		if err != nil {
			errs = append(errs, fmt.Errorf("token for %s: %w", email, err))
			continue
		}
		t := model.Target{
			CampaignID: campaignID,
			Email:      email,
			Name:       strings.TrimSpace(row.Name),
			Department: strings.TrimSpace(row.Department),
			Token:      tok,
			CreatedAt:  time.Now().UTC(),
		}
		err = r.DB.QueryRowContext(ctx, query, t.CampaignID, t.Email, t.Name, t.Department, t.Token, t.CreatedAt).Scan(&t.ID)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) {
				switch pqErr.Code {
				case pqUniqueViolation:
					errs = append(errs, &appErrors.DuplicateTokenError{Token: tok})
					continue
				case pqForeignKeyViolation:
					return created, appErrors.NewCampaignNotFound(campaignID)
				}
			}
			errs = append(errs, fmt.Errorf("insert target %s: %w", email, err))
			continue
		}
		created = append(created, t)
	}
	return created, errors.Join(errs...)
}

func (r *CampaignRepository) GetTarget(ctx context.Context, id int) (*model.Target, error) {
	query := `SELECT ` + targetColumns + ` FROM targets WHERE id=$1`
	return r.scanOne(r.DB.QueryRowContext(ctx, query, id))
}

func (r *CampaignRepository) FindTargetByToken(ctx context.Context, tok string) (*model.Target, error) {
	query := `SELECT ` + targetColumns + ` FROM targets WHERE token=$1`
	return r.scanOne(r.DB.QueryRowContext(ctx, query, tok))
}

func (r *CampaignRepository) scanOne(row *sql.Row) (*model.Target, error) {
	var t model.Target
	if err := scanTarget(row, &t); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &t, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTarget(s scanner, t *model.Target) error {
	return s.Scan(&t.ID, &t.CampaignID, &t.Email, &t.Name, &t.Department, &t.Token,
		&t.SentAt, &t.ClickedAt, &t.SubmittedAt, &t.Reported, &t.IPAddress, &t.UserAgent, &t.CreatedAt)
}

// ListTargets builds the WHERE clause from the filter. Status is derived, so
// each status maps to a predicate mirroring model.Target.Status.
func (r *CampaignRepository) ListTargets(ctx context.Context, filter model.TargetFilter) ([]model.Target, error) {
	if !validStatus(filter.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", appErrors.ErrInvalidInput, filter.Status)
	}

	var (
		where []string
		args  []any
	)
	if filter.CampaignID > 0 {
		args = append(args, filter.CampaignID)
		where = append(where, fmt.Sprintf("campaign_id=$%d", len(args)))
	}
	if pred := statusPredicate(filter.Status); pred != "" {
		where = append(where, pred)
	}

	query := `SELECT ` + targetColumns + ` FROM targets`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if filter.RecentFirst {
		query += " ORDER BY clicked_at DESC NULLS LAST, id DESC"
	} else {
		query += " ORDER BY id"
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	targets := []model.Target{}
	for rows.Next() {
		var t model.Target
		if err := scanTarget(rows, &t); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return targets, nil
}

func statusPredicate(status string) string {
	switch status {
	case model.StatusSubmitted:
		return "submitted_at IS NOT NULL"
	case model.StatusClicked:
		return "submitted_at IS NULL AND clicked_at IS NOT NULL"
	case model.StatusReported:
		return "submitted_at IS NULL AND clicked_at IS NULL AND reported"
	case model.StatusSent:
		return "submitted_at IS NULL AND clicked_at IS NULL AND NOT reported AND sent_at IS NOT NULL"
	case model.StatusPending:
		return "submitted_at IS NULL AND clicked_at IS NULL AND NOT reported AND sent_at IS NULL"
	}
	return ""
}

// ====================== Transitions ======================

func (r *CampaignRepository) MarkSent(ctx context.Context, targetID int, at time.Time) (bool, error) {
	return r.conditionalUpdate(ctx,
		`UPDATE targets SET sent_at=$2 WHERE id=$1 AND sent_at IS NULL`,
		targetID, at.UTC())
}

func (r *CampaignRepository) MarkClicked(ctx context.Context, targetID int, at time.Time, ip, userAgent string) (bool, error) {
	return r.conditionalUpdate(ctx,
		`UPDATE targets SET clicked_at=$2, ip_address=$3, user_agent=$4 WHERE id=$1 AND clicked_at IS NULL`,
		targetID, at.UTC(), truncate(ip, maxIPLength), truncate(userAgent, maxUserAgentLength))
}

func (r *CampaignRepository) MarkSubmitted(ctx context.Context, targetID int, at time.Time) (bool, error) {
	return r.conditionalUpdate(ctx,
		`UPDATE targets SET submitted_at=$2 WHERE id=$1 AND submitted_at IS NULL`,
		targetID, at.UTC())
}

func (r *CampaignRepository) MarkReported(ctx context.Context, targetID int) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE targets SET reported=TRUE WHERE id=$1`, targetID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *CampaignRepository) ClaimSend(ctx context.Context, targetID int, at, staleBefore time.Time) (bool, error) {
	return r.conditionalUpdate(ctx,
		`UPDATE targets SET claimed_at=$2 WHERE id=$1 AND sent_at IS NULL AND (claimed_at IS NULL OR claimed_at < $3)`,
		targetID, at.UTC(), staleBefore.UTC())
}

func (r *CampaignRepository) ReleaseSend(ctx context.Context, targetID int) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE targets SET claimed_at=NULL WHERE id=$1 AND sent_at IS NULL`, targetID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *CampaignRepository) conditionalUpdate(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}
