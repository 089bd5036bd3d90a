package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizradar-io/support-crawler/internal/dedup"
	"github.com/bizradar-io/support-crawler/internal/model"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithDB(mock, nil), mock
}

func TestUpsertSource(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO crawl_sources").
		WithArgs("경기테크노파크", "https://www.gtp.or.kr/board", model.FamilyTechnopark, "경기", true).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	src := &model.CrawlSource{
		Agency:     "경기테크노파크",
		ListingURL: "https://www.gtp.or.kr/board",
		Family:     model.FamilyTechnopark,
		Region:     "경기",
		Active:     true,
	}
	require.NoError(t, s.UpsertSource(context.Background(), src))
	assert.Equal(t, int64(7), src.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJob(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO crawl_jobs").
		WithArgs(pgxmock.AnyArg(), int64(3), model.JobStatusPending).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, err := s.CreateJob(context.Background(), 3)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkJobRunningRequiresPendingState(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	at := time.Unix(1756000000, 0).UTC()
	mock.ExpectExec("UPDATE crawl_jobs").
		WithArgs(model.JobStatusRunning, at, "job-1", model.JobStatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.MarkJobRunning(context.Background(), "job-1", at)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindProjectByNaturalKeyMiss(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	got, err := s.FindProjectByNaturalKey(context.Background(), &model.SupportProject{
		Name:         "스마트공장 구축 지원",
		Organization: "중소벤처기업부",
	})
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindProjectByNaturalKeyPrefersExternalID(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	created := time.Unix(1755000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"id", "external_id", "name", "organization", "category", "region",
		"funding_amount", "deadline", "registered_at",
		"description", "eligibility", "apply_process", "eval_criteria", "contact_info",
		"site_url", "detail_url", "normalized_name", "project_year",
		"group_id", "is_canonical", "needs_embedding", "created_at", "deleted_at",
	}).AddRow(
		int64(12), "PBLN_001", "스마트공장 구축 지원", "중소벤처기업부", "제조", "전국",
		nil, nil, nil,
		"", "", "", "", "",
		"", "", "스마트공장구축지원", 2025,
		nil, false, true, created, nil,
	)
	mock.ExpectQuery("external_id = \\$1").WithArgs("PBLN_001").WillReturnRows(rows)

	got, err := s.FindProjectByNaturalKey(context.Background(), &model.SupportProject{
		ExternalID:   "PBLN_001",
		Name:         "다른 표기",
		Organization: "중소벤처기업부",
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(12), got.ID)
	assert.Equal(t, 2025, got.ProjectYear)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateGroupMapsUniqueViolation(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO project_groups").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "project_groups_key"})

	_, err := s.CreateGroup(context.Background(), &model.ProjectGroup{
		NormalizedName:  "스마트공장구축지원",
		ProjectYear:     2025,
		MergeConfidence: 1.0,
		ReviewStatus:    model.ReviewAuto,
		SourceCount:     1,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, dedup.ErrDuplicateGroup))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindGroupByKeyMissIsNotAnError(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectQuery("FROM project_groups").
		WithArgs("스마트공장구축지원", 2025).
		WillReturnError(pgx.ErrNoRows)

	g, err := s.FindGroupByKey(context.Background(), "스마트공장구축지원", 2025)
	require.NoError(t, err)
	assert.Nil(t, g)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetCanonicalRunsInOneTransaction(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("SET is_canonical = FALSE").
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("SET is_canonical = TRUE").
		WithArgs(int64(12)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE project_groups").
		WithArgs(int64(12), int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, s.SetCanonical(context.Background(), 5, 12))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceAttachmentsDeletesThenInserts(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM project_attachments").
		WithArgs(int64(12)).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectQuery("INSERT INTO project_attachments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(301)))
	mock.ExpectQuery("INSERT INTO project_attachments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(302)))
	mock.ExpectCommit()

	atts := []*model.ProjectAttachment{
		{FileName: "공고문.hwp", FileType: "hwp", SourceURL: "https://a/1", ShouldParse: true},
		{FileName: "양식.pdf", FileType: "pdf", SourceURL: "https://a/2"},
	}
	require.NoError(t, s.ReplaceAttachments(context.Background(), 12, atts))
	assert.Equal(t, int64(301), atts[0].ID)
	assert.Equal(t, int64(12), atts[1].ProjectID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachmentCountsEmptyInput(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	counts, err := s.AttachmentCounts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExpiredProjectIDs(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	cutoff := time.Unix(1756000000, 0).UTC()
	rows := pgxmock.NewRows([]string{"id"}).AddRow(int64(3)).AddRow(int64(9))
	mock.ExpectQuery("SELECT id FROM support_projects").
		WithArgs(cutoff).
		WillReturnRows(rows)

	ids, err := s.ExpiredProjectIDs(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 9}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSoftDeleteProjectOnlyTouchesLiveRows(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	at := time.Unix(1756000000, 0).UTC()
	mock.ExpectExec("UPDATE support_projects SET deleted_at").
		WithArgs(at, int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.SoftDeleteProject(context.Background(), 5, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProjectMissingRow(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE support_projects").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateProject(context.Background(), &model.SupportProject{ID: 99, Name: "사라진 사업"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}
