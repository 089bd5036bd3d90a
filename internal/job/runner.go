// Package job owns the crawl-job state machine and drives one source
// through the full pipeline: listing sweep, detail resolution, attachment
// acquisition, text extraction, persistence, and deduplication.
package job

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/bizradar-io/support-crawler/internal/detail"
	"github.com/bizradar-io/support-crawler/internal/fetch"
	"github.com/bizradar-io/support-crawler/internal/fileutil"
	"github.com/bizradar-io/support-crawler/internal/metrics"
	"github.com/bizradar-io/support-crawler/internal/model"
	"github.com/bizradar-io/support-crawler/internal/normalize"
	"github.com/bizradar-io/support-crawler/internal/parser"
	"github.com/bizradar-io/support-crawler/internal/publisher"
)

// Store is the persistence surface the runner needs.
type Store interface {
	ActiveSources(ctx context.Context) ([]*model.CrawlSource, error)
	GetSource(ctx context.Context, id int64) (*model.CrawlSource, error)
	TouchLastCrawl(ctx context.Context, sourceID int64, at time.Time) error
	CreateJob(ctx context.Context, sourceID int64) (*model.CrawlJob, error)
	PendingJobs(ctx context.Context) ([]*model.CrawlJob, error)
	MarkJobRunning(ctx context.Context, jobID string, at time.Time) error
	MarkJobCompleted(ctx context.Context, jobID string, at time.Time, found, added, updated int) error
	MarkJobFailed(ctx context.Context, jobID string, at time.Time, message string) error
	FindProjectByNaturalKey(ctx context.Context, p *model.SupportProject) (*model.SupportProject, error)
	InsertProject(ctx context.Context, p *model.SupportProject) error
	UpdateProject(ctx context.Context, p *model.SupportProject) error
	ReplaceAttachments(ctx context.Context, projectID int64, atts []*model.ProjectAttachment) error
}

// Lister sweeps a source's paginated listing into candidates.
type Lister interface {
	Collect(ctx context.Context, p parser.Parser, listingURL string, window parser.Window) ([]model.Candidate, error)
}

// Resolver extracts attachment links from a candidate's detail page.
type Resolver interface {
	Resolve(ctx context.Context, family model.SiteFamily, detailURL string) (detail.Result, error)
}

// Downloader fetches one attachment's bytes.
type Downloader interface {
	Download(ctx context.Context, url, linkName string, cookies []*http.Cookie) (fileutil.DownloadedFile, error)
}

// Extractor turns attachment bytes into text and enriches the project.
type Extractor interface {
	Extract(ctx context.Context, fileName string, fileType fileutil.FileType, data []byte) (string, error)
	EnrichProject(ctx context.Context, project *model.SupportProject, text string)
}

// Uploader stores attachment bytes, returning a storage path.
type Uploader interface {
	Put(ctx context.Context, projectID int64, fileName, fileType string, data []byte) (string, error)
}

// Publisher announces upserted projects to the downstream indexer.
type Publisher interface {
	Publish(ctx context.Context, event publisher.ProjectEvent) (string, error)
}

// Deduper places a saved project into a group.
type Deduper interface {
	Process(ctx context.Context, p *model.SupportProject) error
}

// Options tune one runner.
type Options struct {
	// WindowHours bounds candidate age; 168 (one week) when zero.
	WindowHours int
	// TestModeCap truncates the candidate list when positive.
	TestModeCap int
	// ThrottleDelay is slept after any project that carried attachments.
	ThrottleDelay time.Duration
	// MaxAttachments bounds downloads per project; 10 when zero.
	MaxAttachments int
}

// Runner executes crawl jobs.
type Runner struct {
	store      Store
	registry   *parser.Registry
	lister     Lister
	resolver   Resolver
	downloader Downloader
	extractor  Extractor
	uploader   Uploader
	publisher  Publisher
	deduper    Deduper
	opts       Options
	logger     *zap.Logger
	now        func() time.Time
}

// NewRunner wires the pipeline. uploader, publisher, and extractor may be
// nil; the corresponding steps are skipped.
func NewRunner(
	store Store,
	registry *parser.Registry,
	lister Lister,
	resolver Resolver,
	downloader Downloader,
	extractor Extractor,
	uploader Uploader,
	pub Publisher,
	deduper Deduper,
	opts Options,
	logger *zap.Logger,
) *Runner {
	if opts.WindowHours <= 0 {
		opts.WindowHours = 168
	}
	if opts.MaxAttachments <= 0 {
		opts.MaxAttachments = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:      store,
		registry:   registry,
		lister:     lister,
		resolver:   resolver,
		downloader: downloader,
		extractor:  extractor,
		uploader:   uploader,
		publisher:  pub,
		deduper:    deduper,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// EnqueueAll creates one pending job per active source and returns them.
func (r *Runner) EnqueueAll(ctx context.Context) ([]*model.CrawlJob, error) {
	sources, err := r.store.ActiveSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	jobs := make([]*model.CrawlJob, 0, len(sources))
	for _, src := range sources {
		job, err := r.store.CreateJob(ctx, src.ID)
		if err != nil {
			return jobs, fmt.Errorf("enqueue source %d: %w", src.ID, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// RunBatch executes every pending job. Jobs are isolated: a failure marks
// that job failed and the batch moves on.
func (r *Runner) RunBatch(ctx context.Context) error {
	jobs, err := r.store.PendingJobs(ctx)
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}
	for _, job := range jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.runOne(ctx, job); err != nil {
			r.logger.Error("job failed",
				zap.String("job_id", job.ID),
				zap.Int64("source_id", job.SourceID),
				zap.Error(err))
			if merr := r.store.MarkJobFailed(ctx, job.ID, r.now(), err.Error()); merr != nil {
				r.logger.Error("mark job failed", zap.String("job_id", job.ID), zap.Error(merr))
			}
			metrics.ObserveJob(string(model.JobStatusFailed))
			continue
		}
		metrics.ObserveJob(string(model.JobStatusCompleted))
	}
	return nil
}

// runOne executes a single job, converting panics anywhere in the pipeline
// into a job failure instead of taking the batch down.
func (r *Runner) runOne(ctx context.Context, job *model.CrawlJob) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pipeline panic: %v", rec)
		}
	}()

	src, err := r.store.GetSource(ctx, job.SourceID)
	if err != nil {
		return err
	}
	p, err := r.registry.For(src.Family)
	if err != nil {
		return err
	}
	if err := r.store.MarkJobRunning(ctx, job.ID, r.now()); err != nil {
		return err
	}

	window := parser.Window{Now: r.now(), Hours: r.opts.WindowHours}
	candidates, err := r.lister.Collect(ctx, p, src.ListingURL, window)
	if err != nil {
		return fmt.Errorf("sweep listing: %w", err)
	}
	metrics.ObserveCandidates(string(src.Family), len(candidates))

	found := len(candidates)
	if r.opts.TestModeCap > 0 && len(candidates) > r.opts.TestModeCap {
		candidates = candidates[:r.opts.TestModeCap]
	}

	var added, updated int
	for i := range candidates {
		isNew, hadAttachments, perr := r.processCandidate(ctx, src, &candidates[i])
		if perr != nil {
			return fmt.Errorf("candidate %q: %w", candidates[i].Title, perr)
		}
		if isNew {
			added++
		} else {
			updated++
		}
		if hadAttachments && r.opts.ThrottleDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.opts.ThrottleDelay):
			}
		}
	}

	finished := r.now()
	if err := r.store.MarkJobCompleted(ctx, job.ID, finished, found, added, updated); err != nil {
		return err
	}
	if err := r.store.TouchLastCrawl(ctx, src.ID, finished); err != nil {
		r.logger.Warn("touch last crawl", zap.Int64("source_id", src.ID), zap.Error(err))
	}
	r.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.String("agency", src.Agency),
		zap.Int("found", found),
		zap.Int("new", added),
		zap.Int("updated", updated))
	return nil
}

// processCandidate persists one candidate and runs its enrichment and
// dedup steps. Detail and attachment trouble degrades to a bare project
// record; only persistence errors bubble up.
func (r *Runner) processCandidate(ctx context.Context, src *model.CrawlSource, c *model.Candidate) (isNew, hadAttachments bool, err error) {
	project := r.candidateToProject(src, c)

	existing, err := r.store.FindProjectByNaturalKey(ctx, project)
	if err != nil {
		return false, false, err
	}
	if existing == nil {
		project.NeedsEmbedding = true
		if err := r.store.InsertProject(ctx, project); err != nil {
			return false, false, err
		}
		isNew = true
		metrics.ObserveUpsert("new")
	} else {
		project.ID = existing.ID
		project.GroupID = existing.GroupID
		project.IsCanonical = existing.IsCanonical
		project.CreatedAt = existing.CreatedAt
		project.NeedsEmbedding = true
		if err := r.store.UpdateProject(ctx, project); err != nil {
			return false, false, err
		}
		metrics.ObserveUpsert("updated")
	}

	atts, firstText := r.acquireAttachments(ctx, src, project, c)
	if len(atts) > 0 {
		if err := r.store.ReplaceAttachments(ctx, project.ID, atts); err != nil {
			return isNew, false, err
		}
		hadAttachments = true
	}

	if r.extractor != nil && firstText != "" {
		r.extractor.EnrichProject(ctx, project, firstText)
		if err := r.store.UpdateProject(ctx, project); err != nil {
			return isNew, hadAttachments, err
		}
	}

	if r.deduper != nil {
		if err := r.deduper.Process(ctx, project); err != nil {
			return isNew, hadAttachments, fmt.Errorf("dedup: %w", err)
		}
	}

	if r.publisher != nil {
		if _, perr := r.publisher.Publish(ctx, publisher.ProjectEvent{
			ProjectID:    project.ID,
			GroupID:      project.GroupID,
			Name:         project.Name,
			Organization: project.Organization,
			UpsertedAt:   r.now(),
		}); perr != nil {
			r.logger.Warn("publish needs-embedding event",
				zap.Int64("project_id", project.ID),
				zap.Error(perr))
		}
	}
	return isNew, hadAttachments, nil
}

// acquireAttachments resolves, downloads, stores, and text-extracts the
// candidate's attachments. Every resolved link yields a row, downloadable
// or not, so provenance survives partial failures.
func (r *Runner) acquireAttachments(ctx context.Context, src *model.CrawlSource, project *model.SupportProject, c *model.Candidate) ([]*model.ProjectAttachment, string) {
	if r.resolver == nil || c.DetailURL == "" {
		return nil, ""
	}
	result, err := r.resolver.Resolve(ctx, src.Family, c.DetailURL)
	if err != nil {
		r.logger.Warn("detail resolution failed",
			zap.String("url", c.DetailURL),
			zap.Error(err))
		return nil, ""
	}

	links := result.Attachments
	if len(links) > r.opts.MaxAttachments {
		links = links[:r.opts.MaxAttachments]
	}

	var (
		atts      []*model.ProjectAttachment
		firstText string
	)
	for _, link := range links {
		att := r.acquireOne(ctx, project, link, result.Cookies)
		atts = append(atts, att)
		if firstText == "" && att.IsParsed {
			firstText = att.ParsedContent
		}
	}
	return atts, firstText
}

func (r *Runner) acquireOne(ctx context.Context, project *model.SupportProject, link detail.AttachmentLink, cookies []*http.Cookie) *model.ProjectAttachment {
	att := &model.ProjectAttachment{
		ProjectID: project.ID,
		FileName:  fileutil.RepairFileName(link.FileName),
		FileType:  string(fileutil.GuessTypeFromName(link.FileName)),
		SourceURL: link.URL,
	}

	if r.downloader == nil {
		return att
	}
	file, err := r.downloader.Download(ctx, link.URL, link.FileName, cookies)
	if err != nil {
		if !errors.Is(err, fetch.ErrUnexpectedContent) {
			r.logger.Warn("attachment download failed",
				zap.String("url", link.URL),
				zap.Error(err))
		}
		att.ParseError = err.Error()
		metrics.ObserveAttachment(att.FileType, "download_failed")
		return att
	}
	if file.FileName != "" {
		att.FileName = file.FileName
	}
	att.FileType = string(file.Type)
	att.FileSize = int64(len(file.Body))
	metrics.ObserveAttachment(att.FileType, "ok")

	coreDocument := file.Type == fileutil.TypePDF || file.Type == fileutil.TypeHWP || file.Type == fileutil.TypeHWPX
	if coreDocument && r.uploader != nil {
		path, uerr := r.uploader.Put(ctx, project.ID, att.FileName, att.FileType, file.Body)
		if uerr != nil {
			// The row keeps its source URL and a null storage path.
			r.logger.Warn("attachment upload failed",
				zap.String("file", att.FileName),
				zap.Error(uerr))
		} else {
			att.StoragePath = path
		}
	}

	att.ShouldParse = coreDocument
	if att.ShouldParse && r.extractor != nil {
		text, xerr := r.extractor.Extract(ctx, att.FileName, file.Type, file.Body)
		if xerr != nil {
			att.ParseError = xerr.Error()
		} else {
			att.IsParsed = true
			att.ParsedContent = text
		}
	}
	return att
}

func (r *Runner) candidateToProject(src *model.CrawlSource, c *model.Candidate) *model.SupportProject {
	org := c.Organization
	if org == "" {
		org = src.Agency
	}
	// Technopark boards carry no region marker of their own, so the
	// configured source region stands in. An unset region would blind the
	// dedup region filter.
	region := c.Region
	if region == "" {
		region = src.Region
	}
	if region == "" {
		region = model.RegionNationwide
	}
	key := normalize.NewKey(c.Title)
	registered := c.RegisteredAt
	return &model.SupportProject{
		ExternalID:     c.ExternalID,
		Name:           c.Title,
		Organization:   org,
		Category:       c.Category,
		Region:         region,
		RegisteredAt:   &registered,
		DetailURL:      c.DetailURL,
		SiteURL:        src.ListingURL,
		NormalizedName: key.Normalized,
		ProjectYear:    key.Year,
	}
}
