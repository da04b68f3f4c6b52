package db

import (
	"context"

	"github.com/docyard/docyard/common"
)

const zipColumns = `id, processing_job_id, gx_bucket_id, zip_processing_status,
	original_file_path, original_file_name, file_size, error_message, created_at, updated_at`

func scanZip(row interface{ Scan(...interface{}) error }) (*common.ZipMaster, error) {
	var z common.ZipMaster
	err := row.Scan(&z.ID, &z.ProcessingJobID, &z.GxBucketID, &z.Status,
		&z.OriginalFilePath, &z.OriginalFileName, &z.FileSize, &z.ErrorMessage,
		&z.CreatedAt, &z.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &z, nil
}

// InsertZipMaster persists z and fills in its generated id. The unique
// constraint on processing_job_id keeps it to one ZipMaster per job.
func (s *Store) InsertZipMaster(ctx context.Context, z *common.ZipMaster) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO zip_master
			(processing_job_id, gx_bucket_id, zip_processing_status, original_file_path, original_file_name, file_size)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		z.ProcessingJobID, z.GxBucketID, z.Status, z.OriginalFilePath, z.OriginalFileName, z.FileSize,
	).Scan(&z.ID)
	return notFoundOr(err, "inserting zip_master")
}

func (s *Store) GetZipMaster(ctx context.Context, id int64) (*common.ZipMaster, error) {
	z, err := scanZip(s.q.QueryRow(ctx, `SELECT `+zipColumns+` FROM zip_master WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, "loading zip_master")
	}
	return z, nil
}

// GetZipMasterByJob returns the job's single ZipMaster.
func (s *Store) GetZipMasterByJob(ctx context.Context, jobID string) (*common.ZipMaster, error) {
	z, err := scanZip(s.q.QueryRow(ctx,
		`SELECT `+zipColumns+` FROM zip_master WHERE processing_job_id = $1`, jobID))
	if err != nil {
		return nil, notFoundOr(err, "loading zip_master for job "+jobID)
	}
	return z, nil
}

// LockZipMaster claims the archive for extraction: the conditional UPDATE
// from QUEUED_FOR_EXTRACTION to EXTRACTING succeeds for exactly one worker.
func (s *Store) LockZipMaster(ctx context.Context, id int64) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE zip_master SET zip_processing_status = $2, updated_at = now()
		WHERE id = $1 AND zip_processing_status = $3`,
		id, common.ZipExtracting, common.ZipQueuedForExtraction)
	if err != nil {
		return false, notFoundOr(err, "locking zip_master")
	}
	return tag.RowsAffected() == 1, nil
}

// RequeueZipMaster puts an EXTRACTING archive back to QUEUED_FOR_EXTRACTION
// so a queue redelivery can claim it again after a transient failure.
func (s *Store) RequeueZipMaster(ctx context.Context, id int64) error {
	_, err := s.q.Exec(ctx, `
		UPDATE zip_master SET zip_processing_status = $2, updated_at = now()
		WHERE id = $1 AND zip_processing_status = 'EXTRACTING'`,
		id, common.ZipQueuedForExtraction)
	return notFoundOr(err, "requeueing zip_master")
}

// SetZipStatus records the extraction outcome.
func (s *Store) SetZipStatus(ctx context.Context, id int64, status common.ZipStatus, errMsg string) error {
	_, err := s.q.Exec(ctx, `
		UPDATE zip_master SET zip_processing_status = $2, error_message = $3, updated_at = now()
		WHERE id = $1 AND zip_processing_status <> 'TERMINATED'`,
		id, status, errMsg)
	return notFoundOr(err, "updating zip_master status")
}

// TerminateZips moves every non-terminal ZipMaster to TERMINATED.
func (s *Store) TerminateZips(ctx context.Context) (int64, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE zip_master SET zip_processing_status = 'TERMINATED', updated_at = now()
		WHERE zip_processing_status NOT IN ('EXTRACTED','EXTRACTION_FAILED','TERMINATED')`)
	if err != nil {
		return 0, notFoundOr(err, "terminating zip_masters")
	}
	return tag.RowsAffected(), nil
}
