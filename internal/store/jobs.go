package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bizradar-io/support-crawler/internal/model"
)

// CreateJob inserts a pending job for one source and returns it.
func (s *Store) CreateJob(ctx context.Context, sourceID int64) (*model.CrawlJob, error) {
	job := &model.CrawlJob{
		ID:       uuid.NewString(),
		SourceID: sourceID,
		Status:   model.JobStatusPending,
	}
	query := `
		INSERT INTO crawl_jobs (id, source_id, status)
		VALUES ($1, $2, $3);
	`
	if _, err := s.db.Exec(ctx, query, job.ID, job.SourceID, job.Status); err != nil {
		return nil, fmt.Errorf("create job for source %d: %w", sourceID, err)
	}
	return job, nil
}

// PendingJobs lists jobs waiting to run, joined with their source rows.
func (s *Store) PendingJobs(ctx context.Context) ([]*model.CrawlJob, error) {
	query := `
		SELECT id, source_id, status, started_at, finished_at,
		       found_count, new_count, updated_count, error_text
		FROM crawl_jobs
		WHERE status = $1
		ORDER BY created_at;
	`
	rows, err := s.db.Query(ctx, query, model.JobStatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()

	var out []*model.CrawlJob
	for rows.Next() {
		job := &model.CrawlJob{}
		if err := rows.Scan(&job.ID, &job.SourceID, &job.Status, &job.StartedAt, &job.FinishedAt,
			&job.Found, &job.New, &job.Updated, &job.ErrorText); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// MarkJobRunning transitions pending → running with a timestamp.
func (s *Store) MarkJobRunning(ctx context.Context, jobID string, at time.Time) error {
	query := `
		UPDATE crawl_jobs SET status = $1, started_at = $2
		WHERE id = $3 AND status = $4;
	`
	tag, err := s.db.Exec(ctx, query, model.JobStatusRunning, at, jobID, model.JobStatusPending)
	if err != nil {
		return fmt.Errorf("mark job %s running: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark job %s running: %w", jobID, ErrNotFound)
	}
	return nil
}

// MarkJobCompleted transitions running → completed and stores the counts.
func (s *Store) MarkJobCompleted(ctx context.Context, jobID string, at time.Time, found, added, updated int) error {
	query := `
		UPDATE crawl_jobs
		SET status = $1, finished_at = $2,
		    found_count = $3, new_count = $4, updated_count = $5
		WHERE id = $6 AND status = $7;
	`
	tag, err := s.db.Exec(ctx, query, model.JobStatusCompleted, at, found, added, updated, jobID, model.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("mark job %s completed: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark job %s completed: %w", jobID, ErrNotFound)
	}
	return nil
}

// MarkJobFailed transitions a job to the terminal failed state with the
// captured message.
func (s *Store) MarkJobFailed(ctx context.Context, jobID string, at time.Time, message string) error {
	query := `
		UPDATE crawl_jobs SET status = $1, finished_at = $2, error_text = $3
		WHERE id = $4 AND status IN ($5, $6);
	`
	if _, err := s.db.Exec(ctx, query, model.JobStatusFailed, at, message, jobID,
		model.JobStatusPending, model.JobStatusRunning); err != nil {
		return fmt.Errorf("mark job %s failed: %w", jobID, err)
	}
	return nil
}
