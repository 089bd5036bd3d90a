package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bizradar-io/support-crawler/internal/metrics"
	"github.com/bizradar-io/support-crawler/internal/model"
)

// ErrDuplicateGroup is returned by Store.CreateGroup when another process
// already created a group with the same (normalizedName, projectYear) key.
var ErrDuplicateGroup = errors.New("dedup: group key already exists")

// Store is the persistence surface the engine needs. The Postgres
// implementation lives in internal/store.
type Store interface {
	// FindCandidates returns active, non-deleted projects eligible for
	// comparison against p (region and year pre-filtered), excluding p itself.
	FindCandidates(ctx context.Context, p *model.SupportProject) ([]*model.SupportProject, error)
	GetGroup(ctx context.Context, id int64) (*model.ProjectGroup, error)
	// FindGroupByKey returns nil without error when no group matches.
	FindGroupByKey(ctx context.Context, normalizedName string, year int) (*model.ProjectGroup, error)
	// CreateGroup inserts the group and returns its ID, or ErrDuplicateGroup
	// on a natural-key uniqueness violation.
	CreateGroup(ctx context.Context, g *model.ProjectGroup) (int64, error)
	UpdateGroup(ctx context.Context, g *model.ProjectGroup) error
	AssignToGroup(ctx context.Context, projectID, groupID int64) error
	// SetCanonical flips the previous canonical member off and the given
	// member on within one transaction.
	SetCanonical(ctx context.Context, groupID, projectID int64) error
	GroupMembers(ctx context.Context, groupID int64) ([]*model.SupportProject, error)
	AttachmentCounts(ctx context.Context, projectIDs []int64) (map[int64]int, error)
	UpdateSupplementaryFields(ctx context.Context, p *model.SupportProject) error
	// CopyMissingAttachments unions attachment URLs from src onto dst,
	// skipping URLs dst already has.
	CopyMissingAttachments(ctx context.Context, srcProjectID, dstProjectID int64) error
}

// Engine runs the per-record deduplication flow after a project is saved.
type Engine struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine constructs an Engine.
func NewEngine(store Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, logger: logger, now: time.Now}
}

// Process compares a freshly saved project against the active corpus and
// places it in a group: joining, creating, or founding a singleton.
func (e *Engine) Process(ctx context.Context, p *model.SupportProject) error {
	if p.GroupID != nil {
		// Re-crawled member of an existing group; nothing to re-decide.
		return nil
	}
	candidates, err := e.store.FindCandidates(ctx, p)
	if err != nil {
		return fmt.Errorf("find candidates: %w", err)
	}

	best, bestSim := e.bestMatch(p, candidates)
	if best == nil {
		metrics.ObserveDedup("singleton")
		return e.foundSingleton(ctx, p)
	}

	decision := Decide(bestSim.Score)
	if decision == DecisionReview {
		metrics.ObserveDedup("review")
	} else {
		metrics.ObserveDedup("auto_merge")
	}
	e.logger.Info("dedup match",
		zap.Int64("project_id", p.ID),
		zap.Int64("matched_id", best.ID),
		zap.Float64("score", bestSim.Score),
		zap.Float64("name", bestSim.Name),
		zap.Bool("review", decision == DecisionReview),
	)

	if best.GroupID != nil {
		return e.joinGroup(ctx, p, *best.GroupID, bestSim.Score, decision)
	}
	return e.foundPair(ctx, p, best, bestSim.Score, decision)
}

func (e *Engine) bestMatch(p *model.SupportProject, candidates []*model.SupportProject) (*model.SupportProject, Similarity) {
	var (
		best    *model.SupportProject
		bestSim Similarity
	)
	for _, c := range candidates {
		if c.ID == p.ID || c.DeletedAt != nil || !Comparable(p, c) {
			continue
		}
		sim := Compare(p, c)
		if Decide(sim.Score) == DecisionSeparate {
			continue
		}
		if best == nil || sim.Score > bestSim.Score {
			best, bestSim = c, sim
		}
	}
	return best, bestSim
}

// foundSingleton creates a one-member group with full confidence. A lost
// creation race joins the winner's group instead of failing.
func (e *Engine) foundSingleton(ctx context.Context, p *model.SupportProject) error {
	g := &model.ProjectGroup{
		NormalizedName:     p.NormalizedName,
		ProjectYear:        p.ProjectYear,
		CanonicalProjectID: p.ID,
		MergeConfidence:    1.0,
		ReviewStatus:       model.ReviewAuto,
		SourceCount:        1,
	}
	id, err := e.store.CreateGroup(ctx, g)
	if errors.Is(err, ErrDuplicateGroup) {
		winner, ferr := e.store.FindGroupByKey(ctx, p.NormalizedName, p.ProjectYear)
		if ferr != nil {
			return fmt.Errorf("re-query group after duplicate: %w", ferr)
		}
		if winner == nil {
			return fmt.Errorf("group vanished after duplicate key: %w", err)
		}
		ok, cerr := e.compatibleWithGroup(ctx, p, winner.ID)
		if cerr != nil {
			return cerr
		}
		if !ok {
			// Same normalized name in a disjoint region. Joining would merge
			// records the region filter forbids, so the project stays
			// ungrouped rather than violating that rule.
			e.logger.Warn("group key collision across disjoint regions, leaving ungrouped",
				zap.Int64("project_id", p.ID),
				zap.Int64("group_id", winner.ID),
				zap.String("region", p.Region),
			)
			return nil
		}
		return e.joinGroup(ctx, p, winner.ID, winner.MergeConfidence, DecisionMerge)
	}
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	if err := e.store.AssignToGroup(ctx, p.ID, id); err != nil {
		return fmt.Errorf("assign project to group: %w", err)
	}
	if err := e.store.SetCanonical(ctx, id, p.ID); err != nil {
		return fmt.Errorf("set canonical: %w", err)
	}
	return nil
}

func (e *Engine) compatibleWithGroup(ctx context.Context, p *model.SupportProject, groupID int64) (bool, error) {
	members, err := e.store.GroupMembers(ctx, groupID)
	if err != nil {
		return false, fmt.Errorf("load group members: %w", err)
	}
	for _, m := range members {
		if !Comparable(p, m) {
			return false, nil
		}
	}
	return true, nil
}

// foundPair creates a new two-member group from p and an ungrouped match.
func (e *Engine) foundPair(ctx context.Context, p, match *model.SupportProject, score float64, decision Decision) error {
	status := model.ReviewAuto
	if decision == DecisionReview {
		status = model.ReviewPending
	}
	g := &model.ProjectGroup{
		NormalizedName:     match.NormalizedName,
		ProjectYear:        match.ProjectYear,
		CanonicalProjectID: match.ID,
		MergeConfidence:    score,
		ReviewStatus:       status,
		SourceCount:        2,
	}
	id, err := e.store.CreateGroup(ctx, g)
	if errors.Is(err, ErrDuplicateGroup) {
		winner, ferr := e.store.FindGroupByKey(ctx, match.NormalizedName, match.ProjectYear)
		if ferr != nil {
			return fmt.Errorf("re-query group after duplicate: %w", ferr)
		}
		if winner == nil {
			return fmt.Errorf("group vanished after duplicate key: %w", err)
		}
		// Both members join the winner the normal way so the group keeps
		// its running-minimum confidence and member count honest.
		if jerr := e.joinGroup(ctx, match, winner.ID, score, decision); jerr != nil {
			return jerr
		}
		return e.joinGroup(ctx, p, winner.ID, score, decision)
	}
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	for _, member := range []int64{match.ID, p.ID} {
		if err := e.store.AssignToGroup(ctx, member, id); err != nil {
			return fmt.Errorf("assign project %d to group: %w", member, err)
		}
	}
	return e.recanonicalize(ctx, id)
}

// joinGroup adds p to an existing group, lowering confidence to the running
// minimum and demoting review status when warranted.
func (e *Engine) joinGroup(ctx context.Context, p *model.SupportProject, groupID int64, score float64, decision Decision) error {
	g, err := e.store.GetGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("get group %d: %w", groupID, err)
	}
	if score < g.MergeConfidence {
		g.MergeConfidence = score
	}
	if decision == DecisionReview && g.ReviewStatus == model.ReviewAuto {
		g.ReviewStatus = model.ReviewPending
	}
	g.SourceCount++
	if err := e.store.UpdateGroup(ctx, g); err != nil {
		return fmt.Errorf("update group %d: %w", groupID, err)
	}
	if err := e.store.AssignToGroup(ctx, p.ID, groupID); err != nil {
		return fmt.Errorf("assign project to group: %w", err)
	}
	return e.recanonicalize(ctx, groupID)
}

// recanonicalize re-selects the canonical member, flips flags if it changed,
// and back-fills the canonical record from the other members.
func (e *Engine) recanonicalize(ctx context.Context, groupID int64) error {
	members, err := e.store.GroupMembers(ctx, groupID)
	if err != nil {
		return fmt.Errorf("load group members: %w", err)
	}
	if len(members) == 0 {
		return fmt.Errorf("group %d has no members", groupID)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	counts, err := e.store.AttachmentCounts(ctx, ids)
	if err != nil {
		return fmt.Errorf("count attachments: %w", err)
	}

	canonical := SelectCanonical(members, counts, e.now())
	if err := e.store.SetCanonical(ctx, groupID, canonical.ID); err != nil {
		return fmt.Errorf("set canonical: %w", err)
	}

	changed := false
	for _, m := range members {
		if m.ID == canonical.ID {
			continue
		}
		if MergeSupplementary(canonical, m) {
			changed = true
		}
		if err := e.store.CopyMissingAttachments(ctx, m.ID, canonical.ID); err != nil {
			return fmt.Errorf("union attachments: %w", err)
		}
	}
	if changed {
		if err := e.store.UpdateSupplementaryFields(ctx, canonical); err != nil {
			return fmt.Errorf("write supplementary fields: %w", err)
		}
	}
	return nil
}
