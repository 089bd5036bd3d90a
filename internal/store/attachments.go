package store

import (
	"context"
	"fmt"

	"github.com/bizradar-io/support-crawler/internal/model"
)

// ReplaceAttachments deletes a project's attachment rows and recreates
// them from the freshly resolved set, inside one transaction. Re-crawls
// therefore converge to the current state of the source page instead of
// accumulating stale rows.
func (s *Store) ReplaceAttachments(ctx context.Context, projectID int64, atts []*model.ProjectAttachment) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace attachments: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM project_attachments WHERE project_id = $1;`, projectID); err != nil {
		return fmt.Errorf("delete attachments for project %d: %w", projectID, err)
	}

	query := `
		INSERT INTO project_attachments (
			project_id, file_name, file_type, file_size, storage_path,
			source_url, should_parse, is_parsed, parsed_content, parse_error
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id;
	`
	for _, a := range atts {
		a.ProjectID = projectID
		if err := tx.QueryRow(ctx, query,
			projectID, a.FileName, a.FileType, a.FileSize, a.StoragePath,
			a.SourceURL, a.ShouldParse, a.IsParsed, a.ParsedContent, a.ParseError,
		).Scan(&a.ID); err != nil {
			return fmt.Errorf("insert attachment %q: %w", a.FileName, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace attachments: %w", err)
	}
	return nil
}

// AttachmentCounts returns per-project attachment counts for the given
// IDs. Projects with no attachments are absent from the map.
func (s *Store) AttachmentCounts(ctx context.Context, projectIDs []int64) (map[int64]int, error) {
	if len(projectIDs) == 0 {
		return map[int64]int{}, nil
	}
	query := `
		SELECT project_id, COUNT(*)
		FROM project_attachments
		WHERE project_id = ANY($1)
		GROUP BY project_id;
	`
	rows, err := s.db.Query(ctx, query, projectIDs)
	if err != nil {
		return nil, fmt.Errorf("count attachments: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]int, len(projectIDs))
	for rows.Next() {
		var (
			id int64
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan attachment count: %w", err)
		}
		out[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachment counts: %w", err)
	}
	return out, nil
}

// CopyMissingAttachments unions src's attachment rows onto dst, skipping
// source URLs dst already carries.
func (s *Store) CopyMissingAttachments(ctx context.Context, srcProjectID, dstProjectID int64) error {
	query := `
		INSERT INTO project_attachments (
			project_id, file_name, file_type, file_size, storage_path,
			source_url, should_parse, is_parsed, parsed_content, parse_error
		)
		SELECT $1, a.file_name, a.file_type, a.file_size, a.storage_path,
		       a.source_url, a.should_parse, a.is_parsed, a.parsed_content, a.parse_error
		FROM project_attachments a
		WHERE a.project_id = $2
		  AND NOT EXISTS (
			SELECT 1 FROM project_attachments b
			WHERE b.project_id = $1 AND b.source_url = a.source_url
		  );
	`
	if _, err := s.db.Exec(ctx, query, dstProjectID, srcProjectID); err != nil {
		return fmt.Errorf("copy attachments %d -> %d: %w", srcProjectID, dstProjectID, err)
	}
	return nil
}
