package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bizradar-io/support-crawler/internal/model"
)

const projectColumns = `
	id, external_id, name, organization, category, region,
	funding_amount, deadline, registered_at,
	description, eligibility, apply_process, eval_criteria, contact_info,
	site_url, detail_url, normalized_name, project_year,
	group_id, is_canonical, needs_embedding, created_at, deleted_at`

func scanProject(row pgx.Row) (*model.SupportProject, error) {
	p := &model.SupportProject{}
	err := row.Scan(
		&p.ID, &p.ExternalID, &p.Name, &p.Organization, &p.Category, &p.Region,
		&p.FundingAmount, &p.Deadline, &p.RegisteredAt,
		&p.Description, &p.Eligibility, &p.ApplyProcess, &p.EvalCriteria, &p.ContactInfo,
		&p.SiteURL, &p.DetailURL, &p.NormalizedName, &p.ProjectYear,
		&p.GroupID, &p.IsCanonical, &p.NeedsEmbedding, &p.CreatedAt, &p.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FindProjectByNaturalKey looks a project up by externalId when present,
// else by (name, organization). Soft-deleted rows are invisible here: a
// re-crawled deleted announcement comes back as a fresh record.
func (s *Store) FindProjectByNaturalKey(ctx context.Context, p *model.SupportProject) (*model.SupportProject, error) {
	var (
		query string
		args  []any
	)
	if p.ExternalID != "" {
		query = `SELECT` + projectColumns + `
			FROM support_projects
			WHERE external_id = $1 AND deleted_at IS NULL;`
		args = []any{p.ExternalID}
	} else {
		query = `SELECT` + projectColumns + `
			FROM support_projects
			WHERE name = $1 AND organization = $2 AND deleted_at IS NULL;`
		args = []any{p.Name, p.Organization}
	}
	found, err := scanProject(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find project by natural key: %w", err)
	}
	return found, nil
}

// InsertProject creates a new project row and fills in its ID and
// CreatedAt.
func (s *Store) InsertProject(ctx context.Context, p *model.SupportProject) error {
	query := `
		INSERT INTO support_projects (
			external_id, name, organization, category, region,
			funding_amount, deadline, registered_at,
			description, eligibility, apply_process, eval_criteria, contact_info,
			site_url, detail_url, normalized_name, project_year, needs_embedding
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
		)
		RETURNING id, created_at;
	`
	err := s.db.QueryRow(ctx, query,
		p.ExternalID, p.Name, p.Organization, p.Category, p.Region,
		p.FundingAmount, p.Deadline, p.RegisteredAt,
		p.Description, p.Eligibility, p.ApplyProcess, p.EvalCriteria, p.ContactInfo,
		p.SiteURL, p.DetailURL, p.NormalizedName, p.ProjectYear, p.NeedsEmbedding,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert project %q: %w", p.Name, err)
	}
	return nil
}

// UpdateProject refreshes the mutable fields of an existing row. Identity
// fields (natural key, group assignment, created_at) are left alone.
func (s *Store) UpdateProject(ctx context.Context, p *model.SupportProject) error {
	query := `
		UPDATE support_projects SET
			category = $1, region = $2,
			funding_amount = $3, deadline = $4, registered_at = $5,
			description = $6, eligibility = $7, apply_process = $8,
			eval_criteria = $9, contact_info = $10,
			site_url = $11, detail_url = $12,
			normalized_name = $13, project_year = $14, needs_embedding = $15
		WHERE id = $16;
	`
	tag, err := s.db.Exec(ctx, query,
		p.Category, p.Region,
		p.FundingAmount, p.Deadline, p.RegisteredAt,
		p.Description, p.Eligibility, p.ApplyProcess,
		p.EvalCriteria, p.ContactInfo,
		p.SiteURL, p.DetailURL,
		p.NormalizedName, p.ProjectYear, p.NeedsEmbedding,
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("update project %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update project %d: %w", p.ID, ErrNotFound)
	}
	return nil
}

// ExpiredProjectIDs lists live projects whose application deadline passed
// before the cutoff. Rows without a deadline never expire.
func (s *Store) ExpiredProjectIDs(ctx context.Context, cutoff time.Time) ([]int64, error) {
	query := `
		SELECT id FROM support_projects
		WHERE deleted_at IS NULL AND deadline IS NOT NULL AND deadline < $1
		ORDER BY id;
	`
	rows, err := s.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expired projects: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired project id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired projects: %w", err)
	}
	return out, nil
}

// SoftDeleteProject hides a project without destroying provenance.
func (s *Store) SoftDeleteProject(ctx context.Context, projectID int64, at time.Time) error {
	query := `UPDATE support_projects SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL;`
	if _, err := s.db.Exec(ctx, query, at, projectID); err != nil {
		return fmt.Errorf("soft delete project %d: %w", projectID, err)
	}
	return nil
}

// FindCandidates returns active projects the dedup engine may compare p
// against. Region and year disjointness are pre-filtered here; the engine
// re-checks both before scoring.
func (s *Store) FindCandidates(ctx context.Context, p *model.SupportProject) ([]*model.SupportProject, error) {
	query := `SELECT` + projectColumns + `
		FROM support_projects
		WHERE deleted_at IS NULL
		  AND id <> $1
		  AND (region = $2 OR region = $3 OR $2 = $3)
		  AND (project_year = $4 OR project_year = 0 OR $4 = 0);`
	rows, err := s.db.Query(ctx, query, p.ID, p.Region, model.RegionNationwide, p.ProjectYear)
	if err != nil {
		return nil, fmt.Errorf("find dedup candidates: %w", err)
	}
	defer rows.Close()

	var out []*model.SupportProject
	for rows.Next() {
		c, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

// UpdateSupplementaryFields writes back the fields the canonical record
// absorbed from its group members.
func (s *Store) UpdateSupplementaryFields(ctx context.Context, p *model.SupportProject) error {
	query := `
		UPDATE support_projects SET
			description = $1, eligibility = $2, apply_process = $3,
			eval_criteria = $4, contact_info = $5, site_url = $6, detail_url = $7
		WHERE id = $8;
	`
	if _, err := s.db.Exec(ctx, query,
		p.Description, p.Eligibility, p.ApplyProcess,
		p.EvalCriteria, p.ContactInfo, p.SiteURL, p.DetailURL,
		p.ID,
	); err != nil {
		return fmt.Errorf("update supplementary fields for project %d: %w", p.ID, err)
	}
	return nil
}
