package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/phishsim-backend/internal/errors"
	"github.com/unclebandit/phishsim-backend/internal/model"
	"github.com/unclebandit/phishsim-backend/internal/queue"
	"github.com/unclebandit/phishsim-backend/internal/service"
)

type harness struct {
	svc       *service.CampaignService
	tracking  *service.TrackingService
	reports   *service.ReportService
	queue     *queue.InMemoryQueue
	transport *MockTransport
}

func newHarness(t *testing.T, failFor ...string) *harness {
	t.Helper()
	store, templates := newStore()
	q := queue.NewInMemoryQueue(zap.NewNop())
	transport := NewMockTransport(failFor...)

	w := service.NewWorker(store, templates, transport.Factory(), time.Second, zap.NewNop())
	require.NoError(t, w.Start(q, queue.DispatchTopic))

	return &harness{
		svc: &service.CampaignService{
			Store:    store,
			Queue:    q,
			Defaults: service.LaunchOptions{BaseURL: "http://localhost:8080", SenderEmail: "it@example.com"},
			Logger:   zap.NewNop(),
		},
		tracking:  &service.TrackingService{Store: store, Logger: zap.NewNop()},
		reports:   &service.ReportService{Store: store},
		queue:     q,
		transport: transport,
	}
}

func TestParseTargetsText(t *testing.T) {
	rows := service.ParseTargetsText("alice@x.com, Alice, IT\n\n , skipped\nbob@x.com\r\ncarol@x.com,Carol")

	require.Len(t, rows, 3)
	assert.Equal(t, model.TargetRow{Email: "alice@x.com", Name: "Alice", Department: "IT"}, rows[0])
	assert.Equal(t, model.TargetRow{Email: "bob@x.com"}, rows[1])
	assert.Equal(t, model.TargetRow{Email: "carol@x.com", Name: "Carol"}, rows[2])
}

func TestLaunch_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Launch(context.Background(), service.LaunchRequest{Template: "it_password_reset"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidInput)

	_, err = h.svc.Launch(context.Background(), service.LaunchRequest{Name: "x", Template: "nope"})
	var invalid *appErrors.InvalidTemplateError
	assert.ErrorAs(t, err, &invalid)
}

func TestLaunch_QueueFailureIsReported(t *testing.T) {
	store, _ := newStore()
	svc := &service.CampaignService{Store: store, Queue: queue.NewInMemoryQueue(nil)} // no subscriber

	_, err := svc.Launch(context.Background(), service.LaunchRequest{
		Name: "x", Template: "it_password_reset", TargetsText: "a@x.com",
	})
	assert.ErrorContains(t, err, "dispatch was not queued")
}

func TestLaunch_NoTargetsCreatedIsReported(t *testing.T) {
	store, _ := newStore()
	store.NewToken = func() (string, error) { return "", errors.New("entropy source unavailable") }
	h := newHarness(t)
	h.svc.Store = store

	_, err := h.svc.Launch(context.Background(), service.LaunchRequest{
		Name: "x", Template: "it_password_reset", TargetsText: "a@x.com\nb@x.com",
	})
	assert.ErrorContains(t, err, "no targets were created")
	assert.Empty(t, h.transport.Sent())
}

func TestLaunch_ResolvesOptions(t *testing.T) {
	h := newHarness(t)
	h.svc.Defaults.SMTP = model.SMTPSettings{Host: "smtp.gmail.com", Port: 587, Username: "cfg", Password: "secret"}

	c, err := h.svc.Store.CreateCampaign(context.Background(), "x", "it_password_reset")
	require.NoError(t, err)

	job := h.svc.Snapshot(c, nil, service.LaunchOptions{
		BaseURL: "https://phish.example.com/",
		SMTP:    model.SMTPSettings{Port: 465},
	})
	assert.Equal(t, "https://phish.example.com", job.BaseURL)
	assert.Equal(t, "it@example.com", job.SenderEmail)
	assert.Equal(t, "smtp.gmail.com", job.SMTP.Host)
	assert.Equal(t, 465, job.SMTP.Port)
	assert.Equal(t, "cfg", job.SMTP.Username)
}

// Q1 Test: create, dispatch, click, submit, then aggregate.
func TestCampaignLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Launch(ctx, service.LaunchRequest{
		Name:     "Q1 Test",
		Template: "it_password_reset",
		Targets:  []model.TargetRow{{Email: "alice@x.com", Name: "Alice"}, {Email: "bob@x.com"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TargetsCreated)
	assert.Equal(t, 2, res.EmailsQueued)
	assert.Equal(t, "Campaign launched! Sending 2 emails in background.", res.Message)

	h.queue.Wait()

	targets, err := h.reports.Targets(ctx, model.TargetFilter{CampaignID: res.CampaignID})
	require.NoError(t, err)
	require.Len(t, targets, 2)
	alice, bob := targets[0], targets[1]
	assert.NotEqual(t, alice.Token, bob.Token)
	assert.NotNil(t, alice.SentAt)
	assert.NotNil(t, bob.SentAt)
	assert.Nil(t, alice.ClickedAt)

	assert.True(t, h.tracking.Click(ctx, alice.Token, "10.1.1.1", "Mozilla/5.0"))
	assert.True(t, h.tracking.Submit(ctx, alice.Token))

	stats, err := h.reports.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Stats{Total: 2, Clicked: 1, Submitted: 1, ClickRate: 50.0, SubmitRate: 50.0}, stats)

	after, err := h.reports.Targets(ctx, model.TargetFilter{CampaignID: res.CampaignID, Status: model.StatusSubmitted})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "10.1.1.1", after[0].IPAddress)
	assert.Equal(t, "Mozilla/5.0", after[0].UserAgent)
	assert.Equal(t, "Q1 Test", after[0].CampaignName)
}

func TestRedispatch_SkipsSentTargets(t *testing.T) {
	h := newHarness(t, "b@x.com")
	ctx := context.Background()

	res, err := h.svc.Launch(ctx, service.LaunchRequest{
		Name: "Retry", Template: "hr_payroll_update", TargetsText: "a@x.com\nb@x.com",
	})
	require.NoError(t, err)
	h.queue.Wait()
	require.Len(t, h.transport.Sent(), 1)

	again, err := h.svc.Redispatch(ctx, res.CampaignID, service.LaunchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, again.EmailsQueued, "only the unsent target")
	h.queue.Wait()
	assert.Len(t, h.transport.Sent(), 1, "a@x.com is not sent twice")

	_, err = h.svc.Redispatch(ctx, 999, service.LaunchOptions{})
	var nf *appErrors.ErrCampaignNotFound
	assert.True(t, errors.As(err, &nf))
}
