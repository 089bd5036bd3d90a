package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bizradar-io/support-crawler/internal/dedup"
	"github.com/bizradar-io/support-crawler/internal/model"
)

const groupColumns = `
	id, normalized_name, project_year, canonical_project_id,
	merge_confidence, review_status, source_count`

func scanGroup(row pgx.Row) (*model.ProjectGroup, error) {
	g := &model.ProjectGroup{}
	err := row.Scan(
		&g.ID, &g.NormalizedName, &g.ProjectYear, &g.CanonicalProjectID,
		&g.MergeConfidence, &g.ReviewStatus, &g.SourceCount,
	)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// CreateGroup inserts a group. A unique violation on the
// (normalized_name, project_year) key maps to dedup.ErrDuplicateGroup so
// the engine can join the winner of the race instead.
func (s *Store) CreateGroup(ctx context.Context, g *model.ProjectGroup) (int64, error) {
	query := `
		INSERT INTO project_groups (
			normalized_name, project_year, canonical_project_id,
			merge_confidence, review_status, source_count
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id;
	`
	err := s.db.QueryRow(ctx, query,
		g.NormalizedName, g.ProjectYear, g.CanonicalProjectID,
		g.MergeConfidence, g.ReviewStatus, g.SourceCount,
	).Scan(&g.ID)
	if isUniqueViolation(err) {
		return 0, dedup.ErrDuplicateGroup
	}
	if err != nil {
		return 0, fmt.Errorf("create group %q/%d: %w", g.NormalizedName, g.ProjectYear, err)
	}
	return g.ID, nil
}

// GetGroup loads one group or returns ErrNotFound.
func (s *Store) GetGroup(ctx context.Context, id int64) (*model.ProjectGroup, error) {
	query := `SELECT` + groupColumns + ` FROM project_groups WHERE id = $1;`
	g, err := scanGroup(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("group %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get group %d: %w", id, err)
	}
	return g, nil
}

// FindGroupByKey returns the group for a natural key, or nil when absent.
func (s *Store) FindGroupByKey(ctx context.Context, normalizedName string, year int) (*model.ProjectGroup, error) {
	query := `SELECT` + groupColumns + `
		FROM project_groups
		WHERE normalized_name = $1 AND project_year = $2;`
	g, err := scanGroup(s.db.QueryRow(ctx, query, normalizedName, year))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find group %q/%d: %w", normalizedName, year, err)
	}
	return g, nil
}

// UpdateGroup writes confidence, review status, and source count.
func (s *Store) UpdateGroup(ctx context.Context, g *model.ProjectGroup) error {
	query := `
		UPDATE project_groups
		SET merge_confidence = $1, review_status = $2, source_count = $3,
		    canonical_project_id = $4
		WHERE id = $5;
	`
	tag, err := s.db.Exec(ctx, query,
		g.MergeConfidence, g.ReviewStatus, g.SourceCount, g.CanonicalProjectID, g.ID)
	if err != nil {
		return fmt.Errorf("update group %d: %w", g.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update group %d: %w", g.ID, ErrNotFound)
	}
	return nil
}

// AssignToGroup points a project at its group.
func (s *Store) AssignToGroup(ctx context.Context, projectID, groupID int64) error {
	query := `UPDATE support_projects SET group_id = $1 WHERE id = $2;`
	tag, err := s.db.Exec(ctx, query, groupID, projectID)
	if err != nil {
		return fmt.Errorf("assign project %d to group %d: %w", projectID, groupID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("assign project %d to group %d: %w", projectID, groupID, ErrNotFound)
	}
	return nil
}

// SetCanonical flips the canonical flag to exactly one member, and records
// it on the group row, inside one transaction.
func (s *Store) SetCanonical(ctx context.Context, groupID, projectID int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin set canonical: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE support_projects SET is_canonical = FALSE WHERE group_id = $1 AND is_canonical;`,
		groupID); err != nil {
		return fmt.Errorf("clear canonical flags for group %d: %w", groupID, err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE support_projects SET is_canonical = TRUE WHERE id = $1;`,
		projectID); err != nil {
		return fmt.Errorf("set canonical flag on project %d: %w", projectID, err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE project_groups SET canonical_project_id = $1 WHERE id = $2;`,
		projectID, groupID); err != nil {
		return fmt.Errorf("record canonical project on group %d: %w", groupID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit set canonical: %w", err)
	}
	return nil
}

// GroupMembers lists the active members of a group.
func (s *Store) GroupMembers(ctx context.Context, groupID int64) ([]*model.SupportProject, error) {
	query := `SELECT` + projectColumns + `
		FROM support_projects
		WHERE group_id = $1 AND deleted_at IS NULL
		ORDER BY id;`
	rows, err := s.db.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members of group %d: %w", groupID, err)
	}
	defer rows.Close()

	var out []*model.SupportProject
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group members: %w", err)
	}
	return out, nil
}
