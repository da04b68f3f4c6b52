package db

import (
	"context"

	"github.com/docyard/docyard/common"
)

const jobColumns = `id, original_filename, file_location, status, current_stage,
	error_message, gx_bucket_id, skip_gx_process, created_at, updated_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*common.ProcessingJob, error) {
	var j common.ProcessingJob
	err := row.Scan(&j.ID, &j.OriginalFilename, &j.FileLocation, &j.Status, &j.CurrentStage,
		&j.ErrorMessage, &j.GxBucketID, &j.SkipGxProcess, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// InsertJob persists a new ProcessingJob.
func (s *Store) InsertJob(ctx context.Context, j *common.ProcessingJob) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO processing_job
			(id, original_filename, file_location, status, current_stage, error_message, gx_bucket_id, skip_gx_process)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		j.ID, j.OriginalFilename, j.FileLocation, j.Status, j.CurrentStage, j.ErrorMessage,
		j.GxBucketID, j.SkipGxProcess)
	return notFoundOr(err, "inserting processing_job")
}

func (s *Store) GetJob(ctx context.Context, id string) (*common.ProcessingJob, error) {
	j, err := scanJob(s.q.QueryRow(ctx, `SELECT `+jobColumns+` FROM processing_job WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, "loading processing_job "+id)
	}
	return j, nil
}

// UpdateJobStage records free-text progress without touching status.
func (s *Store) UpdateJobStage(ctx context.Context, id, stage string) error {
	_, err := s.q.Exec(ctx, `
		UPDATE processing_job SET current_stage = $2, updated_at = now() WHERE id = $1`,
		id, stage)
	return notFoundOr(err, "updating job stage")
}

// TransitionJob is the status-conditional UPDATE used as the job's lock:
// the transition happens only when the current status is one of from.
func (s *Store) TransitionJob(ctx context.Context, id string, from []common.JobStatus, to common.JobStatus, stage string) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE processing_job
		SET status = $2, current_stage = $3, updated_at = now()
		WHERE id = $1 AND status = ANY($4)`,
		id, to, stage, statusStrings(from))
	if err != nil {
		return false, notFoundOr(err, "transitioning job "+id)
	}
	return tag.RowsAffected() == 1, nil
}

// FailJob flips a non-terminal job to FAILED. Idempotent: a job already in a
// terminal state is left alone, so the first recorded reason wins.
func (s *Store) FailJob(ctx context.Context, id, reason string) error {
	_, err := s.q.Exec(ctx, `
		UPDATE processing_job
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1 AND status NOT IN ('COMPLETED','FAILED','TERMINATED')`,
		id, common.JobFailed, reason)
	return notFoundOr(err, "failing job "+id)
}

// CompleteJob flips an IN_PROGRESS job to its terminal outcome.
func (s *Store) CompleteJob(ctx context.Context, id string, outcome common.JobStatus, reason string) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE processing_job
		SET status = $2, error_message = $3, current_stage = 'done', updated_at = now()
		WHERE id = $1 AND status = 'IN_PROGRESS'`,
		id, outcome, reason)
	if err != nil {
		return false, notFoundOr(err, "completing job "+id)
	}
	return tag.RowsAffected() == 1, nil
}

// ListJobsByStatus returns jobs in the given status, oldest first.
func (s *Store) ListJobsByStatus(ctx context.Context, status common.JobStatus) ([]*common.ProcessingJob, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+jobColumns+` FROM processing_job WHERE status = $1 ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, notFoundOr(err, "listing jobs")
	}
	defer rows.Close()
	var out []*common.ProcessingJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, notFoundOr(err, "scanning job")
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// TerminateJobs moves every non-terminal job to TERMINATED.
func (s *Store) TerminateJobs(ctx context.Context) (int64, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE processing_job SET status = 'TERMINATED', updated_at = now()
		WHERE status NOT IN ('COMPLETED','FAILED','TERMINATED')`)
	if err != nil {
		return 0, notFoundOr(err, "terminating jobs")
	}
	return tag.RowsAffected(), nil
}

func statusStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}
