// Package dedup scores announcement pairs and maintains project groups.
package dedup

import (
	"time"

	"github.com/bizradar-io/support-crawler/internal/model"
	"github.com/bizradar-io/support-crawler/internal/normalize"
)

// Composite weights out of 100. Name similarity dominates because deadline
// and funding fields are missing from roughly half of all announcements.
// Scoring sums the weighted parts before dividing so that boundary pairs
// (identical names, both auxiliary signals neutral) land exactly on the
// threshold constants instead of one ulp away.
const (
	weightName    = 70.0
	weightDate    = 15.0
	weightFunding = 15.0
)

// Decision thresholds on the composite score.
const (
	ThresholdAutoMerge = 0.85
	ThresholdReview    = 0.70
)

// Decision is the outcome of comparing two announcements.
type Decision int

// Merge decisions ordered by confidence.
const (
	DecisionSeparate Decision = iota
	DecisionReview
	DecisionMerge
)

// Similarity is the composite score for one candidate pair.
type Similarity struct {
	Score    float64
	Name     float64
	Deadline float64
	Funding  float64
}

// Decide maps a composite score onto a merge decision. Boundaries are
// inclusive on the high side: exactly 0.85 auto-merges, exactly 0.70 goes to
// review.
func Decide(score float64) Decision {
	switch {
	case score >= ThresholdAutoMerge:
		return DecisionMerge
	case score >= ThresholdReview:
		return DecisionReview
	default:
		return DecisionSeparate
	}
}

// Compare scores two projects. It is commutative.
func Compare(a, b *model.SupportProject) Similarity {
	name := nameSimilarity(a, b)
	date := deadlineSimilarity(a.Deadline, b.Deadline)
	fund := fundingSimilarity(a.FundingAmount, b.FundingAmount)
	return Similarity{
		Score:    (weightName*name + weightDate*date + weightFunding*fund) / 100,
		Name:     name,
		Deadline: date,
		Funding:  fund,
	}
}

// Comparable reports whether two projects may be compared at all. Regions
// must match unless either side is nationwide, and extracted years must match
// unless either side has none. Cross-region name collisions are never merged.
func Comparable(a, b *model.SupportProject) bool {
	if a.Region != b.Region && a.Region != model.RegionNationwide && b.Region != model.RegionNationwide {
		return false
	}
	if a.ProjectYear != 0 && b.ProjectYear != 0 && a.ProjectYear != b.ProjectYear {
		return false
	}
	return true
}

func nameSimilarity(a, b *model.SupportProject) float64 {
	if a.NormalizedName != "" && a.NormalizedName == b.NormalizedName {
		return 1.0
	}
	return normalize.Jaccard(
		normalize.Bigrams(a.NormalizedName),
		normalize.Bigrams(b.NormalizedName),
	)
}

// deadlineSimilarity scores 1.0 within a week, decays linearly to 0 at 30
// days, and returns the neutral 0.5 when either side has no deadline.
func deadlineSimilarity(a, b *time.Time) float64 {
	if a == nil || b == nil {
		return 0.5
	}
	days := a.Sub(*b).Hours() / 24
	if days < 0 {
		days = -days
	}
	switch {
	case days <= 7:
		return 1.0
	case days >= 30:
		return 0.0
	default:
		return (30 - days) / 23
	}
}

// fundingSimilarity scores on the small/large ratio: 1.0 at >=80%, linear to
// 0 at 50%, and the neutral 0.5 when either amount is unknown.
func fundingSimilarity(a, b *int64) float64 {
	if a == nil || b == nil {
		return 0.5
	}
	small, large := float64(*a), float64(*b)
	if small > large {
		small, large = large, small
	}
	if large == 0 {
		return 1.0
	}
	ratio := small / large
	switch {
	case ratio >= 0.8:
		return 1.0
	case ratio <= 0.5:
		return 0.0
	default:
		return (ratio - 0.5) / 0.3
	}
}
