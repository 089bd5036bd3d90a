// Package model defines the persistence-shaped types shared across subsystems.
package model

import "time"

// SiteFamily selects which listing parser understands a source.
type SiteFamily string

// Site families the crawler knows how to parse.
const (
	FamilyBizinfo    SiteFamily = "bizinfo"
	FamilyKStartup   SiteFamily = "kstartup"
	FamilyTechnopark SiteFamily = "technopark"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store. Completed and failed are
// terminal; a job never leaves either.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ReviewStatus tracks how confident the dedup engine is about a group.
type ReviewStatus string

// Review states for project groups.
const (
	ReviewAuto      ReviewStatus = "auto"
	ReviewPending   ReviewStatus = "pending_review"
	ReviewConfirmed ReviewStatus = "confirmed"
)

// RegionNationwide matches every region during dedup candidate filtering.
const RegionNationwide = "전국"

// CrawlSource is one configured agency listing page.
type CrawlSource struct {
	ID         int64
	Agency     string
	ListingURL string
	Family     SiteFamily
	// Region is the agency's service area, e.g. "경기" for a regional
	// technopark. Empty means the source is nationwide.
	Region    string
	Active    bool
	LastCrawl *time.Time
}

// CrawlJob records a single crawl invocation over one source.
type CrawlJob struct {
	ID         string
	SourceID   int64
	Status     JobStatus
	StartedAt  *time.Time
	FinishedAt *time.Time
	Found      int
	New        int
	Updated    int
	ErrorText  string
}

// SupportProject is the normalized announcement record.
type SupportProject struct {
	ID             int64
	ExternalID     string // optional natural key from the source site
	Name           string
	Organization   string
	Category       string
	Region         string
	FundingAmount  *int64 // KRW, nil when the announcement does not state one
	Deadline       *time.Time
	RegisteredAt   *time.Time
	Description    string
	Eligibility    string
	ApplyProcess   string
	EvalCriteria   string
	ContactInfo    string
	SiteURL        string
	DetailURL      string
	NormalizedName string
	ProjectYear    int
	GroupID        *int64
	IsCanonical    bool
	NeedsEmbedding bool
	CreatedAt      time.Time
	DeletedAt      *time.Time
}

// ProjectGroup clusters near-duplicate projects under one canonical record.
type ProjectGroup struct {
	ID                 int64
	NormalizedName     string
	ProjectYear        int
	CanonicalProjectID int64
	MergeConfidence    float64 // running minimum of pairwise scores
	ReviewStatus       ReviewStatus
	SourceCount        int
}

// ProjectAttachment is one resolved attachment URL for a project.
type ProjectAttachment struct {
	ID            int64
	ProjectID     int64
	FileName      string
	FileType      string // pdf | hwp | hwpx | unknown
	FileSize      int64
	StoragePath   string // empty means not stored
	SourceURL     string
	ShouldParse   bool
	IsParsed      bool
	ParsedContent string
	ParseError    string
}

// Enrichment is the structured output of the downstream text-analysis
// collaborator, derived from the first parsed attachment. All fields are
// optional; blank means the analyzer could not determine the value.
type Enrichment struct {
	Summary       string
	Eligibility   string
	FundingAmount *int64
	Deadline      *time.Time
}

// Candidate is a listing row before detail resolution and persistence.
type Candidate struct {
	ExternalID   string
	Title        string
	Organization string
	Category     string
	Region       string
	RegisteredAt time.Time
	DetailURL    string
}
