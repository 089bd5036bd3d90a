// Package extract turns attachment bytes into text. An external parsing
// service is the primary path; pdf and hwpx have local in-process
// fallbacks for when the service is down or returns nothing. hwp does not:
// the legacy OLE format is only readable by the service.
package extract

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/bizradar-io/support-crawler/internal/fileutil"
	"github.com/bizradar-io/support-crawler/internal/model"
)

// ErrUnsupportedType marks a file format no extractor can read.
var ErrUnsupportedType = errors.New("extract: unsupported file type")

// DefaultMaxChars caps stored parsed text. Downstream analysis reads only
// the head of the document anyway; unbounded scans bloat the row.
const DefaultMaxChars = 20000

// Analyzer is the downstream text-analysis collaborator.
type Analyzer interface {
	Analyze(ctx context.Context, title, text string) (model.Enrichment, error)
}

// Service orchestrates text extraction and the analysis handoff.
type Service struct {
	docparse *DocparseClient
	analyzer Analyzer
	maxChars int
	logger   *zap.Logger
}

// NewService builds the orchestrator. docparse and analyzer may each be
// nil: extraction then runs on local fallbacks only, and analysis is
// skipped.
func NewService(docparse *DocparseClient, analyzer Analyzer, maxChars int, logger *zap.Logger) *Service {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{docparse: docparse, analyzer: analyzer, maxChars: maxChars, logger: logger}
}

// Extract returns the text of one attachment, truncated to the configured
// cap. The external service is tried first; an error or empty result falls
// through to the local parser when one exists for the format.
func (s *Service) Extract(ctx context.Context, fileName string, fileType fileutil.FileType, data []byte) (string, error) {
	if s.docparse != nil {
		text, err := s.docparse.Parse(ctx, fileName, string(fileType), data)
		if err == nil && text != "" {
			return s.truncate(text), nil
		}
		if err != nil {
			s.logger.Warn("docparse failed, trying local fallback",
				zap.String("file", fileName),
				zap.String("type", string(fileType)),
				zap.Error(err))
		}
	}

	switch fileType {
	case fileutil.TypePDF:
		text, err := pdfText(data)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", fileName, err)
		}
		return s.truncate(text), nil
	case fileutil.TypeHWPX:
		text, err := hwpxText(data)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", fileName, err)
		}
		return s.truncate(text), nil
	case fileutil.TypeHWP:
		return "", fmt.Errorf("extract %s: hwp requires the parsing service: %w", fileName, ErrUnsupportedType)
	default:
		return "", fmt.Errorf("extract %s: %w", fileName, ErrUnsupportedType)
	}
}

// EnrichProject runs the analysis collaborator over the first parsed text
// and back-fills project fields it left blank. Failures are logged and
// swallowed: enrichment never blocks persistence.
func (s *Service) EnrichProject(ctx context.Context, project *model.SupportProject, text string) {
	if s.analyzer == nil || text == "" {
		return
	}
	enrichment, err := s.analyzer.Analyze(ctx, project.Name, text)
	if err != nil {
		s.logger.Warn("text analysis failed, continuing without enrichment",
			zap.String("project", project.Name),
			zap.Error(err))
		return
	}
	if project.Description == "" {
		project.Description = enrichment.Summary
	}
	if project.Eligibility == "" {
		project.Eligibility = enrichment.Eligibility
	}
	if project.FundingAmount == nil {
		project.FundingAmount = enrichment.FundingAmount
	}
	if project.Deadline == nil {
		project.Deadline = enrichment.Deadline
	}
}

func (s *Service) truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= s.maxChars {
		return text
	}
	return string(runes[:s.maxChars])
}
