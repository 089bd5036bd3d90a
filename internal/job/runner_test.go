package job

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizradar-io/support-crawler/internal/detail"
	"github.com/bizradar-io/support-crawler/internal/fileutil"
	"github.com/bizradar-io/support-crawler/internal/metrics"
	"github.com/bizradar-io/support-crawler/internal/model"
	"github.com/bizradar-io/support-crawler/internal/parser"
	"github.com/bizradar-io/support-crawler/internal/publisher"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type fakeStore struct {
	sources  map[int64]*model.CrawlSource
	jobs     map[string]*model.CrawlJob
	projects map[int64]*model.SupportProject
	attRows  map[int64][]*model.ProjectAttachment
	nextID   int64
	inserts  int
	updates  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sources:  map[int64]*model.CrawlSource{},
		jobs:     map[string]*model.CrawlJob{},
		projects: map[int64]*model.SupportProject{},
		attRows:  map[int64][]*model.ProjectAttachment{},
	}
}

func (f *fakeStore) addSource(src *model.CrawlSource) {
	f.sources[src.ID] = src
}

func (f *fakeStore) ActiveSources(context.Context) ([]*model.CrawlSource, error) {
	var out []*model.CrawlSource
	for _, s := range f.sources {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) GetSource(_ context.Context, id int64) (*model.CrawlSource, error) {
	s, ok := f.sources[id]
	if !ok {
		return nil, errors.New("source not found")
	}
	return s, nil
}

func (f *fakeStore) TouchLastCrawl(_ context.Context, id int64, at time.Time) error {
	if s, ok := f.sources[id]; ok {
		s.LastCrawl = &at
	}
	return nil
}

func (f *fakeStore) CreateJob(_ context.Context, sourceID int64) (*model.CrawlJob, error) {
	job := &model.CrawlJob{
		ID:       fmt.Sprintf("job-%d-%d", sourceID, len(f.jobs)+1),
		SourceID: sourceID,
		Status:   model.JobStatusPending,
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeStore) PendingJobs(context.Context) ([]*model.CrawlJob, error) {
	var out []*model.CrawlJob
	for _, j := range f.jobs {
		if j.Status == model.JobStatusPending {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkJobRunning(_ context.Context, jobID string, at time.Time) error {
	j := f.jobs[jobID]
	j.Status = model.JobStatusRunning
	j.StartedAt = &at
	return nil
}

func (f *fakeStore) MarkJobCompleted(_ context.Context, jobID string, at time.Time, found, added, updated int) error {
	j := f.jobs[jobID]
	j.Status = model.JobStatusCompleted
	j.FinishedAt = &at
	j.Found, j.New, j.Updated = found, added, updated
	return nil
}

func (f *fakeStore) MarkJobFailed(_ context.Context, jobID string, at time.Time, message string) error {
	j := f.jobs[jobID]
	j.Status = model.JobStatusFailed
	j.FinishedAt = &at
	j.ErrorText = message
	return nil
}

func (f *fakeStore) FindProjectByNaturalKey(_ context.Context, p *model.SupportProject) (*model.SupportProject, error) {
	for _, existing := range f.projects {
		if existing.DeletedAt != nil {
			continue
		}
		if p.ExternalID != "" {
			if existing.ExternalID == p.ExternalID {
				return existing, nil
			}
			continue
		}
		if existing.Name == p.Name && existing.Organization == p.Organization {
			return existing, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) InsertProject(_ context.Context, p *model.SupportProject) error {
	f.nextID++
	p.ID = f.nextID
	p.CreatedAt = time.Now()
	clone := *p
	f.projects[p.ID] = &clone
	f.inserts++
	return nil
}

func (f *fakeStore) UpdateProject(_ context.Context, p *model.SupportProject) error {
	if _, ok := f.projects[p.ID]; !ok {
		return errors.New("project not found")
	}
	clone := *p
	f.projects[p.ID] = &clone
	f.updates++
	return nil
}

func (f *fakeStore) ReplaceAttachments(_ context.Context, projectID int64, atts []*model.ProjectAttachment) error {
	rows := make([]*model.ProjectAttachment, len(atts))
	copy(rows, atts)
	f.attRows[projectID] = rows
	return nil
}

// stubParser satisfies parser.Parser for registry wiring; the stub lister
// bypasses it entirely.
type stubParser struct{ family model.SiteFamily }

func (s stubParser) Family() model.SiteFamily { return s.family }
func (s stubParser) ParseListing([]byte, string, parser.Window) ([]model.Candidate, error) {
	return nil, nil
}
func (s stubParser) PageURL(listingURL string, _ int) (string, error) { return listingURL, nil }

type stubLister struct {
	bySource map[string][]model.Candidate
	err      error
	panics   bool
}

func (s *stubLister) Collect(_ context.Context, _ parser.Parser, listingURL string, _ parser.Window) ([]model.Candidate, error) {
	if s.panics {
		panic("listing exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.bySource[listingURL], nil
}

type stubResolver struct {
	result detail.Result
	err    error
}

func (s *stubResolver) Resolve(context.Context, model.SiteFamily, string) (detail.Result, error) {
	return s.result, s.err
}

type stubDownloader struct {
	files map[string]fileutil.DownloadedFile
	errs  map[string]error
}

func (s *stubDownloader) Download(_ context.Context, url, _ string, _ []*http.Cookie) (fileutil.DownloadedFile, error) {
	if err, ok := s.errs[url]; ok {
		return fileutil.DownloadedFile{}, err
	}
	return s.files[url], nil
}

type stubExtractor struct {
	text string
	err  error
}

func (s *stubExtractor) Extract(context.Context, string, fileutil.FileType, []byte) (string, error) {
	return s.text, s.err
}

func (s *stubExtractor) EnrichProject(_ context.Context, p *model.SupportProject, _ string) {
	if p.Description == "" {
		p.Description = "enriched"
	}
}

type stubPublisher struct{ events []publisher.ProjectEvent }

func (s *stubPublisher) Publish(_ context.Context, e publisher.ProjectEvent) (string, error) {
	s.events = append(s.events, e)
	return "msg-1", nil
}

type stubDeduper struct{ processed []int64 }

func (s *stubDeduper) Process(_ context.Context, p *model.SupportProject) error {
	s.processed = append(s.processed, p.ID)
	return nil
}

func testRegistry() *parser.Registry {
	r := parser.NewRegistry()
	r.Register(stubParser{family: model.FamilyTechnopark})
	return r
}

func candidateFixture(title string) model.Candidate {
	return model.Candidate{
		Title:        title,
		Organization: "경기테크노파크",
		Region:       "경기",
		RegisteredAt: time.Now().Add(-2 * time.Hour),
		DetailURL:    "https://www.gtp.or.kr/board/1",
	}
}

func TestRunBatchCompletesJobWithCounts(t *testing.T) {
	store := newFakeStore()
	store.addSource(&model.CrawlSource{ID: 1, Agency: "경기테크노파크", ListingURL: "https://www.gtp.or.kr/board", Family: model.FamilyTechnopark, Active: true})

	lister := &stubLister{bySource: map[string][]model.Candidate{
		"https://www.gtp.or.kr/board": {
			candidateFixture("2025년 스마트공장 구축 지원사업 공고"),
			candidateFixture("기술닥터 사업 참여기업 모집"),
		},
	}}
	deduper := &stubDeduper{}
	pub := &stubPublisher{}
	r := NewRunner(store, testRegistry(), lister, nil, nil, nil, nil, pub, deduper, Options{}, nil)

	jobs, err := r.EnqueueAll(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	require.NoError(t, r.RunBatch(context.Background()))

	job := store.jobs[jobs[0].ID]
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.Found)
	assert.Equal(t, 2, job.New)
	assert.Equal(t, 0, job.Updated)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.FinishedAt)
	assert.Len(t, deduper.processed, 2)
	assert.Len(t, pub.events, 2)
	require.NotNil(t, store.sources[1].LastCrawl)
}

func TestRerunCountsUpdatesNotNew(t *testing.T) {
	store := newFakeStore()
	store.addSource(&model.CrawlSource{ID: 1, Agency: "경기테크노파크", ListingURL: "https://www.gtp.or.kr/board", Family: model.FamilyTechnopark, Active: true})
	lister := &stubLister{bySource: map[string][]model.Candidate{
		"https://www.gtp.or.kr/board": {candidateFixture("기술닥터 사업 참여기업 모집")},
	}}
	r := NewRunner(store, testRegistry(), lister, nil, nil, nil, nil, nil, nil, Options{}, nil)

	for run := 0; run < 2; run++ {
		jobs, err := r.EnqueueAll(context.Background())
		require.NoError(t, err)
		require.NoError(t, r.RunBatch(context.Background()))
		job := store.jobs[jobs[0].ID]
		if run == 0 {
			assert.Equal(t, 1, job.New)
		} else {
			assert.Equal(t, 0, job.New, "second identical run creates nothing")
			assert.Equal(t, 1, job.Updated)
		}
	}
	assert.Equal(t, 1, store.inserts)
	assert.Len(t, store.projects, 1)
}

func TestRegionFallsBackToSourceThenNationwide(t *testing.T) {
	store := newFakeStore()
	store.addSource(&model.CrawlSource{ID: 1, Agency: "경기테크노파크", ListingURL: "https://www.gtp.or.kr/board", Family: model.FamilyTechnopark, Region: "경기", Active: true})
	store.addSource(&model.CrawlSource{ID: 2, Agency: "중소벤처기업부", ListingURL: "https://www.bizinfo.go.kr/list.do", Family: model.FamilyTechnopark, Active: true})

	regionless := candidateFixture("기술닥터 사업 참여기업 모집")
	regionless.Region = ""
	national := candidateFixture("혁신바우처 지원기업 모집")
	national.Region = ""
	national.DetailURL = "https://www.bizinfo.go.kr/view.do?id=1"
	lister := &stubLister{bySource: map[string][]model.Candidate{
		"https://www.gtp.or.kr/board":       {regionless},
		"https://www.bizinfo.go.kr/list.do": {national},
	}}
	r := NewRunner(store, testRegistry(), lister, nil, nil, nil, nil, nil, nil, Options{}, nil)

	_, err := r.EnqueueAll(context.Background())
	require.NoError(t, err)
	require.NoError(t, r.RunBatch(context.Background()))

	byName := map[string]string{}
	for _, p := range store.projects {
		byName[p.Name] = p.Region
	}
	assert.Equal(t, "경기", byName["기술닥터 사업 참여기업 모집"])
	assert.Equal(t, model.RegionNationwide, byName["혁신바우처 지원기업 모집"])
}

func TestJobFailureIsolatedInBatch(t *testing.T) {
	store := newFakeStore()
	store.addSource(&model.CrawlSource{ID: 1, Agency: "A", ListingURL: "https://a.example/board", Family: model.FamilyTechnopark, Active: true})
	store.addSource(&model.CrawlSource{ID: 2, Agency: "B", ListingURL: "https://b.example/board", Family: model.FamilyTechnopark, Active: true})

	// Source 1 panics mid-listing; source 2 succeeds.
	boom := &stubLister{panics: true}
	ok := &stubLister{bySource: map[string][]model.Candidate{
		"https://b.example/board": {candidateFixture("수출바우처 지원기업 모집")},
	}}
	r := NewRunner(store, testRegistry(), &switchLister{panicURL: "https://a.example/board", boom: boom, ok: ok},
		nil, nil, nil, nil, nil, nil, Options{}, nil)

	_, err := r.EnqueueAll(context.Background())
	require.NoError(t, err)
	require.NoError(t, r.RunBatch(context.Background()))

	var failed, completed int
	for _, j := range store.jobs {
		switch j.Status {
		case model.JobStatusFailed:
			failed++
			assert.Contains(t, j.ErrorText, "panic")
		case model.JobStatusCompleted:
			completed++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, completed)
}

type switchLister struct {
	panicURL string
	boom, ok *stubLister
}

func (s *switchLister) Collect(ctx context.Context, p parser.Parser, url string, w parser.Window) ([]model.Candidate, error) {
	if url == s.panicURL {
		return s.boom.Collect(ctx, p, url, w)
	}
	return s.ok.Collect(ctx, p, url, w)
}

func TestTestModeCapTruncates(t *testing.T) {
	store := newFakeStore()
	store.addSource(&model.CrawlSource{ID: 1, Agency: "A", ListingURL: "https://a.example/board", Family: model.FamilyTechnopark, Active: true})

	var many []model.Candidate
	for i := 0; i < 5; i++ {
		many = append(many, candidateFixture(fmt.Sprintf("테스트 사업 %d호 공고", i+1)))
	}
	lister := &stubLister{bySource: map[string][]model.Candidate{"https://a.example/board": many}}
	r := NewRunner(store, testRegistry(), lister, nil, nil, nil, nil, nil, nil, Options{TestModeCap: 2}, nil)

	jobs, err := r.EnqueueAll(context.Background())
	require.NoError(t, err)
	require.NoError(t, r.RunBatch(context.Background()))

	job := store.jobs[jobs[0].ID]
	assert.Equal(t, 5, job.Found, "found reflects the full sweep")
	assert.Equal(t, 2, job.New, "processing stops at the cap")
}

func TestAttachmentPipelineRecordsRows(t *testing.T) {
	store := newFakeStore()
	store.addSource(&model.CrawlSource{ID: 1, Agency: "A", ListingURL: "https://a.example/board", Family: model.FamilyTechnopark, Active: true})
	lister := &stubLister{bySource: map[string][]model.Candidate{
		"https://a.example/board": {candidateFixture("로봇산업 육성 지원사업 공고")},
	}}
	resolver := &stubResolver{result: detail.Result{
		Attachments: []detail.AttachmentLink{
			{FileName: "공고문.hwp", URL: "https://a.example/files/1"},
			{FileName: "신청서.pdf", URL: "https://a.example/files/2"},
		},
	}}
	downloader := &stubDownloader{
		files: map[string]fileutil.DownloadedFile{
			"https://a.example/files/1": {FileName: "공고문.hwp", Type: fileutil.TypeHWP, Body: []byte{0xD0, 0xCF}},
		},
		errs: map[string]error{
			"https://a.example/files/2": errors.New("download https://a.example/files/2: body is html"),
		},
	}
	extractor := &stubExtractor{text: "지원대상: 도내 중소기업"}
	uploader := &stubUploader{}
	r := NewRunner(store, testRegistry(), lister, resolver, downloader, extractor, uploader, nil, nil, Options{}, nil)

	_, err := r.EnqueueAll(context.Background())
	require.NoError(t, err)
	require.NoError(t, r.RunBatch(context.Background()))

	require.Len(t, store.attRows, 1)
	var rows []*model.ProjectAttachment
	for _, rs := range store.attRows {
		rows = rs
	}
	require.Len(t, rows, 2)

	ok := rows[0]
	assert.Equal(t, "hwp", ok.FileType)
	assert.True(t, ok.ShouldParse)
	assert.True(t, ok.IsParsed)
	assert.Equal(t, "지원대상: 도내 중소기업", ok.ParsedContent)
	assert.Equal(t, "gs://test/1", ok.StoragePath)

	failed := rows[1]
	assert.Empty(t, failed.StoragePath)
	assert.False(t, failed.IsParsed)
	assert.NotEmpty(t, failed.ParseError)
	assert.Equal(t, "https://a.example/files/2", failed.SourceURL, "provenance survives the failure")

	// Enrichment from the first parsed text landed on the project.
	for _, p := range store.projects {
		assert.Equal(t, "enriched", p.Description)
	}
}

type stubUploader struct{ puts int }

func (s *stubUploader) Put(_ context.Context, projectID int64, _, _ string, _ []byte) (string, error) {
	s.puts++
	return fmt.Sprintf("gs://test/%d", projectID), nil
}
