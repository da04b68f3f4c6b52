package db

import (
	"context"

	"github.com/docyard/docyard/common"
)

const fileColumns = `id, zip_master_id, processing_job_id, gx_bucket_id, duplicate_of_file_id,
	file_location, file_name, file_size, extension, file_hash, file_processing_status,
	error_message, source_type, depth, created_at, updated_at`

func scanFile(row interface{ Scan(...interface{}) error }) (*common.FileMaster, error) {
	var f common.FileMaster
	err := row.Scan(&f.ID, &f.ZipMasterID, &f.ProcessingJobID, &f.GxBucketID, &f.DuplicateOfFileID,
		&f.FileLocation, &f.FileName, &f.FileSize, &f.Extension, &f.FileHash, &f.Status,
		&f.ErrorMessage, &f.SourceType, &f.Depth, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// InsertFileMaster persists f and fills in its generated id. When f carries a
// live status and a hash already held within its dedup group, the partial
// unique index rejects the insert; callers detect that with
// IsUniqueViolation and re-insert as DUPLICATE.
func (s *Store) InsertFileMaster(ctx context.Context, f *common.FileMaster) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO file_master
			(zip_master_id, processing_job_id, gx_bucket_id, duplicate_of_file_id, file_location,
			 file_name, file_size, extension, file_hash, file_processing_status, error_message,
			 source_type, depth)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		f.ZipMasterID, f.ProcessingJobID, f.GxBucketID, f.DuplicateOfFileID, f.FileLocation,
		f.FileName, f.FileSize, f.Extension, f.FileHash, f.Status, f.ErrorMessage,
		f.SourceType, f.Depth,
	).Scan(&f.ID)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return notFoundOr(err, "inserting file_master")
	}
	return nil
}

// FindDedupHolder returns the id of the live row holding hash within the
// dedup group, used to point a DUPLICATE at its original.
func (s *Store) FindDedupHolder(ctx context.Context, dedupGroup, hash string) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		SELECT id FROM file_master
		WHERE dedup_group = $1 AND file_hash = $2
		  AND file_processing_status NOT IN ('DUPLICATE','IGNORED','TERMINATED')
		LIMIT 1`,
		dedupGroup, hash).Scan(&id)
	if err != nil {
		return 0, notFoundOr(err, "finding dedup holder")
	}
	return id, nil
}

func (s *Store) GetFileMaster(ctx context.Context, id int64) (*common.FileMaster, error) {
	f, err := scanFile(s.q.QueryRow(ctx, `SELECT `+fileColumns+` FROM file_master WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, "loading file_master")
	}
	return f, nil
}

// LockFileMaster claims the file for processing: the conditional UPDATE from
// QUEUED to IN_PROGRESS succeeds for exactly one worker regardless of queue
// redeliveries or manual retries.
func (s *Store) LockFileMaster(ctx context.Context, id int64) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE file_master SET file_processing_status = $2, updated_at = now()
		WHERE id = $1 AND file_processing_status = $3`,
		id, common.FileInProgress, common.FileQueued)
	if err != nil {
		return false, notFoundOr(err, "locking file_master")
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteFileMaster marks an IN_PROGRESS file COMPLETED with an optional
// remark (e.g. "extracted 3 files").
func (s *Store) CompleteFileMaster(ctx context.Context, id int64, remark string) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE file_master SET file_processing_status = $2, error_message = $3, updated_at = now()
		WHERE id = $1 AND file_processing_status = 'IN_PROGRESS'`,
		id, common.FileCompleted, remark)
	if err != nil {
		return false, notFoundOr(err, "completing file_master")
	}
	return tag.RowsAffected() == 1, nil
}

// RequeueFileMaster puts an IN_PROGRESS file back to QUEUED so a queue
// redelivery can claim it again after a transient failure.
func (s *Store) RequeueFileMaster(ctx context.Context, id int64) error {
	_, err := s.q.Exec(ctx, `
		UPDATE file_master SET file_processing_status = $2, updated_at = now()
		WHERE id = $1 AND file_processing_status = 'IN_PROGRESS'`,
		id, common.FileQueued)
	return notFoundOr(err, "requeueing file_master")
}

// FailFileMaster flips a non-terminal file to FAILED with a reason.
func (s *Store) FailFileMaster(ctx context.Context, id int64, reason string) error {
	_, err := s.q.Exec(ctx, `
		UPDATE file_master SET file_processing_status = $2, error_message = $3, updated_at = now()
		WHERE id = $1 AND file_processing_status NOT IN ('COMPLETED','FAILED','DUPLICATE','IGNORED','TERMINATED')`,
		id, common.FileFailed, reason)
	return notFoundOr(err, "failing file_master")
}

// ListFilesByJob returns every FileMaster belonging to a job.
func (s *Store) ListFilesByJob(ctx context.Context, jobID string) ([]*common.FileMaster, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+fileColumns+` FROM file_master WHERE processing_job_id = $1 ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, notFoundOr(err, "listing file_masters")
	}
	defer rows.Close()
	var out []*common.FileMaster
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, notFoundOr(err, "scanning file_master")
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// TerminateFiles moves every non-terminal FileMaster to TERMINATED.
func (s *Store) TerminateFiles(ctx context.Context) (int64, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE file_master SET file_processing_status = 'TERMINATED', updated_at = now()
		WHERE file_processing_status NOT IN ('COMPLETED','FAILED','DUPLICATE','IGNORED','TERMINATED')`)
	if err != nil {
		return 0, notFoundOr(err, "terminating file_masters")
	}
	return tag.RowsAffected(), nil
}
