package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/phishsim-backend/internal/errors"
	"github.com/unclebandit/phishsim-backend/internal/model"
)

type fakeTemplates map[string]bool

func (f fakeTemplates) Has(key string) bool { return f[key] }

var knownTemplates = fakeTemplates{"it_password_reset": true}

func newRepoWithMock(t *testing.T) (*CampaignRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &CampaignRepository{DB: db, Templates: knownTemplates}, mock
}

func sequenceTokens(tokens ...string) TokenFunc {
	i := 0
	return func() (string, error) {
		tok := tokens[i]
		i++
		return tok, nil
	}
}

var targetCols = []string{"id", "campaign_id", "email", "name", "department", "token", "sent_at",
	"clicked_at", "submitted_at", "reported", "ip_address", "user_agent", "created_at"}

func TestCreateCampaign_Success(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)^\s*INSERT\s+INTO\s+campaigns\s*\(name,\s*template,\s*created_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3\)\s*RETURNING\s+id\s*$`).
		WithArgs("Q1 Test", "it_password_reset", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	c, err := repo.CreateCampaign(context.Background(), "Q1 Test", "it_password_reset")
	require.NoError(t, err)
	assert.Equal(t, 7, c.ID)
	assert.False(t, c.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCampaign_UnknownTemplate(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	_, err := repo.CreateCampaign(context.Background(), "Q1 Test", "lottery_winner")

	var invalid *appErrors.InvalidTemplateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "lottery_winner", invalid.Key)
	var unknown *appErrors.UnknownTemplateError
	assert.ErrorAs(t, err, &unknown)
	require.NoError(t, mock.ExpectationsWereMet(), "no SQL for an invalid template")
}

func TestGetCampaign_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT id, name, template, created_at FROM campaigns WHERE id=\$1`).
		WithArgs(3).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetCampaign(context.Background(), 3)
	var nf *appErrors.ErrCampaignNotFound
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, 3, nf.CampaignID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func expectCampaign(mock sqlmock.Sqlmock, id int) {
	mock.ExpectQuery(`SELECT id, name, template, created_at FROM campaigns WHERE id=\$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "template", "created_at"}).
			AddRow(id, "Q1 Test", "it_password_reset", time.Now()))
}

func TestAddTargets_SkipsEmptyEmailAndDuplicateToken(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	repo.NewToken = sequenceTokens("tok-a", "tok-dup", "tok-c")
	insert := `(?s)^\s*INSERT\s+INTO\s+targets`

	expectCampaign(mock, 1)
	mock.ExpectQuery(insert).
		WithArgs(1, "alice@x.com", "Alice", "IT", "tok-a", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))
	mock.ExpectQuery(insert).
		WithArgs(1, "bob@x.com", "", "", "tok-dup", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: pqUniqueViolation, Constraint: "targets_token_key"})
	mock.ExpectQuery(insert).
		WithArgs(1, "carol@x.com", "", "", "tok-c", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))

	created, err := repo.AddTargets(context.Background(), 1, []model.TargetRow{
		{Email: " alice@x.com ", Name: "Alice", Department: "IT"},
		{Email: "   "},
		{Email: "bob@x.com"},
		{Email: "carol@x.com"},
	})

	var dup *appErrors.DuplicateTokenError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "tok-dup", dup.Token)
	require.Len(t, created, 2)
	assert.Equal(t, "alice@x.com", created[0].Email)
	assert.Equal(t, 10, created[0].ID)
	assert.Equal(t, "tok-c", created[1].Token)
	assert.Nil(t, created[1].SentAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddTargets_MissingCampaign(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM campaigns WHERE id=\$1`).
		WithArgs(99).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.AddTargets(context.Background(), 99, []model.TargetRow{{Email: "a@x.com"}})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestFindTargetByToken(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	sent := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM targets WHERE token=\$1`).
		WithArgs("abc").
		WillReturnRows(sqlmock.NewRows(targetCols).
			AddRow(4, 1, "alice@x.com", "Alice", "", "abc", sent, nil, nil, false, "", "", sent))
	mock.ExpectQuery(`FROM targets WHERE token=\$1`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	got, err := repo.FindTargetByToken(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, 4, got.ID)
	require.NotNil(t, got.SentAt)
	assert.True(t, got.SentAt.Equal(sent))
	assert.Nil(t, got.ClickedAt)

	_, err = repo.FindTargetByToken(context.Background(), "nope")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestListTargets_FilterAndOrder(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)FROM targets WHERE campaign_id=\$1 AND submitted_at IS NULL AND clicked_at IS NOT NULL ORDER BY clicked_at DESC NULLS LAST, id DESC LIMIT \$2$`).
		WithArgs(2, 50).
		WillReturnRows(sqlmock.NewRows(targetCols))

	got, err := repo.ListTargets(context.Background(), model.TargetFilter{
		CampaignID: 2, Status: model.StatusClicked, RecentFirst: true, Limit: 50,
	})
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTargets_UnknownStatus(t *testing.T) {
	repo, _ := newRepoWithMock(t)
	_, err := repo.ListTargets(context.Background(), model.TargetFilter{Status: "phished"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidInput)
}

func TestMarkClicked_ConditionalUpdate(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	update := `UPDATE targets SET clicked_at=\$2, ip_address=\$3, user_agent=\$4 WHERE id=\$1 AND clicked_at IS NULL`

	mock.ExpectExec(update).
		WithArgs(4, sqlmock.AnyArg(), "10.0.0.1", "curl/8").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(update).
		WithArgs(4, sqlmock.AnyArg(), "10.0.0.2", "curl/8").
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := repo.MarkClicked(context.Background(), 4, time.Now(), "10.0.0.1", "curl/8")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.MarkClicked(context.Background(), 4, time.Now(), "10.0.0.2", "curl/8")
	require.NoError(t, err)
	assert.False(t, won, "second click is a no-op")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSentAndSubmitted(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE targets SET sent_at=\$2 WHERE id=\$1 AND sent_at IS NULL`).
		WithArgs(1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE targets SET submitted_at=\$2 WHERE id=\$1 AND submitted_at IS NULL`).
		WithArgs(1, sqlmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	won, err := repo.MarkSent(context.Background(), 1, time.Now())
	require.NoError(t, err)
	assert.True(t, won)

	_, err = repo.MarkSubmitted(context.Background(), 1, time.Now())
	assert.ErrorContains(t, err, "db error: connection reset")
}

func TestClaimAndReleaseSend(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE targets SET claimed_at=\$2 WHERE id=\$1 AND sent_at IS NULL AND \(claimed_at IS NULL OR claimed_at < \$3\)`).
		WithArgs(4, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE targets SET claimed_at=\$2 WHERE id=\$1 AND sent_at IS NULL`).
		WithArgs(4, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE targets SET claimed_at=NULL WHERE id=\$1 AND sent_at IS NULL`).
		WithArgs(4).
		WillReturnResult(sqlmock.NewResult(0, 1))

	won, err := repo.ClaimSend(context.Background(), 4, now, now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.ClaimSend(context.Background(), 4, now, now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.False(t, won, "claimed by another run")

	require.NoError(t, repo.ReleaseSend(context.Background(), 4))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkReported(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE targets SET reported=TRUE WHERE id=\$1`).
		WithArgs(8).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.MarkReported(context.Background(), 8))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregateStats(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\), COUNT\(clicked_at\), COUNT\(submitted_at\)`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "clicked", "submitted", "reported"}).AddRow(3, 1, 1, 2))
	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\), COUNT\(clicked_at\), COUNT\(submitted_at\)`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "clicked", "submitted", "reported"}).AddRow(0, 0, 0, 0))

	stats, err := repo.AggregateStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 33.3, stats.ClickRate)
	assert.Equal(t, 2, stats.Reported)

	empty, err := repo.AggregateStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, empty.ClickRate)
	assert.Zero(t, empty.SubmitRate)
}

func TestListCampaigns(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectQuery(`(?s)FROM campaigns c\s+LEFT JOIN targets t`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "template", "created_at", "targets", "sent", "clicked", "submitted", "reported"}).
			AddRow(2, "Q2", "hr_payroll_update", now, 5, 5, 2, 1, 0).
			AddRow(1, "Q1", "it_password_reset", now.Add(-time.Hour), 2, 2, 1, 1, 1))

	got, err := repo.ListCampaigns(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Q2", got[0].Name)
	assert.Equal(t, 5, got[0].TargetCount)
	assert.Equal(t, 1, got[1].Reported)
}

func TestAuditRows(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	clicked := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)FROM targets t\s+JOIN campaigns c ON c.id = t.campaign_id\s+ORDER BY c.id, t.id`).
		WillReturnRows(sqlmock.NewRows([]string{"cid", "cname", "email", "name", "department", "sent_at",
			"clicked_at", "submitted_at", "reported", "ip", "ua"}).
			AddRow(1, "Q1", "alice@x.com", "Alice", "IT", clicked, clicked, nil, true, "10.0.0.1", "Firefox"))

	rows, err := repo.AuditRows(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Q1", rows[0].CampaignName)
	assert.True(t, rows[0].Reported)
	assert.Nil(t, rows[0].SubmittedAt)
}
