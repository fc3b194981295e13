package service_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/phishsim-backend/internal/model"
	"github.com/unclebandit/phishsim-backend/internal/service"
)

func TestWriteAuditCSV(t *testing.T) {
	store, _ := newStore()
	ctx := context.Background()
	at := time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)

	first, err := store.CreateCampaign(ctx, "Q1", "it_password_reset")
	require.NoError(t, err)
	second, err := store.CreateCampaign(ctx, "Q2, finance", "hr_payroll_update")
	require.NoError(t, err)
	a, err := store.AddTargets(ctx, first.ID, []model.TargetRow{{Email: "a@x.com", Name: "Ann", Department: "IT"}})
	require.NoError(t, err)
	_, err = store.AddTargets(ctx, second.ID, []model.TargetRow{{Email: "b@x.com"}})
	require.NoError(t, err)
	_, err = store.AddTargets(ctx, first.ID, []model.TargetRow{{Email: "c@x.com"}})
	require.NoError(t, err)

	_, _ = store.MarkSent(ctx, a[0].ID, at)
	_, _ = store.MarkClicked(ctx, a[0].ID, at, "10.0.0.1", "Firefox")
	require.NoError(t, store.MarkReported(ctx, a[0].ID))

	var buf bytes.Buffer
	require.NoError(t, (&service.ReportService{Store: store}).WriteAuditCSV(ctx, &buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, service.AuditHeader, records[0])
	assert.Equal(t, []string{"Q1", "a@x.com", "Ann", "IT", "2026-04-02T08:30:00Z", "2026-04-02T08:30:00Z", "", "Yes", "10.0.0.1", "Firefox"}, records[1])
	assert.Equal(t, "c@x.com", records[2][1], "campaign order before creation order")
	assert.Equal(t, "No", records[2][7])
	assert.Equal(t, "Q2, finance", records[3][0])
}

func TestDashboard(t *testing.T) {
	store, _ := newStore()
	ctx := context.Background()

	empty, err := (&service.ReportService{Store: store}).Dashboard(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.Stats.ClickRate)
	assert.Empty(t, empty.Recent)

	c, err := store.CreateCampaign(ctx, "Q1", "it_password_reset")
	require.NoError(t, err)
	targets, err := store.AddTargets(ctx, c.ID, []model.TargetRow{{Email: "a@x.com"}, {Email: "b@x.com"}})
	require.NoError(t, err)
	_, _ = store.MarkClicked(ctx, targets[1].ID, time.Now(), "", "")

	d, err := (&service.ReportService{Store: store}).Dashboard(ctx)
	require.NoError(t, err)
	require.Len(t, d.Campaigns, 1)
	require.Len(t, d.Recent, 2)
	assert.Equal(t, "b@x.com", d.Recent[0].Email)
	assert.Equal(t, model.StatusClicked, d.Recent[0].Status)
	assert.Equal(t, model.StatusPending, d.Recent[1].Status)
	assert.Equal(t, 50.0, d.Stats.ClickRate)
}

func TestCampaignSummary(t *testing.T) {
	store, _ := newStore()
	ctx := context.Background()
	svc := &service.ReportService{Store: store}

	c, err := store.CreateCampaign(ctx, "Q1", "it_password_reset")
	require.NoError(t, err)
	_, err = store.AddTargets(ctx, c.ID, []model.TargetRow{{Email: "a@x.com"}})
	require.NoError(t, err)

	got, err := svc.Campaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TargetCount)

	_, err = svc.Campaign(ctx, 42)
	assert.Error(t, err)
}
