package dedup

import (
	"time"

	"github.com/bizradar-io/support-crawler/internal/model"
)

// Completeness weights. Long-form fields matter most to downstream readers;
// URLs and attachments are tie-breakers.
const (
	ptsDescription   = 20
	ptsEligibility   = 15
	ptsApplyProcess  = 15
	ptsEvalCriteria  = 10
	ptsContact       = 10
	ptsSiteURL       = 5
	ptsDetailURL     = 5
	ptsPerAttachment = 5
	capAttachments   = 20
	capAgeBonus      = 30
)

// CompletenessScore ranks a project for canonical selection: field presence
// plus an age bonus favoring the earliest-discovered record, one point per
// day capped at 30.
func CompletenessScore(p *model.SupportProject, attachmentCount int, now time.Time) int {
	score := 0
	if p.Description != "" {
		score += ptsDescription
	}
	if p.Eligibility != "" {
		score += ptsEligibility
	}
	if p.ApplyProcess != "" {
		score += ptsApplyProcess
	}
	if p.EvalCriteria != "" {
		score += ptsEvalCriteria
	}
	if p.ContactInfo != "" {
		score += ptsContact
	}
	if p.SiteURL != "" {
		score += ptsSiteURL
	}
	if p.DetailURL != "" {
		score += ptsDetailURL
	}
	attach := attachmentCount * ptsPerAttachment
	if attach > capAttachments {
		attach = capAttachments
	}
	score += attach

	age := int(now.Sub(p.CreatedAt).Hours() / 24)
	if age < 0 {
		age = 0
	}
	if age > capAgeBonus {
		age = capAgeBonus
	}
	return score + age
}

// SelectCanonical returns the member with the highest completeness score.
// Ties go to the earlier-discovered (lower ID) record so reruns are stable.
func SelectCanonical(members []*model.SupportProject, attachments map[int64]int, now time.Time) *model.SupportProject {
	var best *model.SupportProject
	bestScore := -1
	for _, m := range members {
		s := CompletenessScore(m, attachments[m.ID], now)
		if s > bestScore || (s == bestScore && best != nil && m.ID < best.ID) {
			best, bestScore = m, s
		}
	}
	return best
}

// MergeSupplementary back-fills blank long-form fields on the canonical
// record from a non-canonical member. It returns true when anything changed.
func MergeSupplementary(canonical, donor *model.SupportProject) bool {
	changed := false
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			changed = true
		}
	}
	fill(&canonical.Description, donor.Description)
	fill(&canonical.Eligibility, donor.Eligibility)
	fill(&canonical.ApplyProcess, donor.ApplyProcess)
	fill(&canonical.EvalCriteria, donor.EvalCriteria)
	fill(&canonical.ContactInfo, donor.ContactInfo)
	fill(&canonical.DetailURL, donor.DetailURL)
	fill(&canonical.SiteURL, donor.SiteURL)
	return changed
}
