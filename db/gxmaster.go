package db

import (
	"context"

	"github.com/docyard/docyard/common"
)

const gxColumns = `id, source_file_id, gx_bucket_id, file_location, processed_file_name,
	file_size, extension, gx_status, gx_process_id, error_message, created_at`

func scanGx(row interface{ Scan(...interface{}) error }) (*common.GxMaster, error) {
	var g common.GxMaster
	err := row.Scan(&g.ID, &g.SourceFileID, &g.GxBucketID, &g.FileLocation, &g.ProcessedFileName,
		&g.FileSize, &g.Extension, &g.Status, &g.GxProcessID, &g.ErrorMessage, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// InsertGxMaster persists g and fills in its generated id.
func (s *Store) InsertGxMaster(ctx context.Context, g *common.GxMaster) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO gx_master
			(source_file_id, gx_bucket_id, file_location, processed_file_name, file_size,
			 extension, gx_status, gx_process_id, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		g.SourceFileID, g.GxBucketID, g.FileLocation, g.ProcessedFileName, g.FileSize,
		g.Extension, g.Status, g.GxProcessID, g.ErrorMessage,
	).Scan(&g.ID)
	return notFoundOr(err, "inserting gx_master")
}

// CountGxInFlight counts ingests currently held by GX (QUEUED or PROCESSING),
// the quantity the upload scheduler budgets against.
func (s *Store) CountGxInFlight(ctx context.Context) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `
		SELECT count(*) FROM gx_master WHERE gx_status IN ('QUEUED','PROCESSING')`).Scan(&n)
	if err != nil {
		return 0, notFoundOr(err, "counting in-flight gx_masters")
	}
	return n, nil
}

// ListQueuedForUpload returns up to limit artifacts awaiting upload, oldest
// first.
func (s *Store) ListQueuedForUpload(ctx context.Context, limit int) ([]*common.GxMaster, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+gxColumns+` FROM gx_master
		WHERE gx_status = 'QUEUED_FOR_UPLOAD'
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, notFoundOr(err, "listing gx_masters queued for upload")
	}
	defer rows.Close()
	return collectGx(rows)
}

// ListGxPolling returns rows whose status must be reconciled against GX.
func (s *Store) ListGxPolling(ctx context.Context) ([]*common.GxMaster, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+gxColumns+` FROM gx_master
		WHERE gx_status IN ('QUEUED','PROCESSING') AND gx_process_id IS NOT NULL
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, notFoundOr(err, "listing gx_masters to poll")
	}
	defer rows.Close()
	return collectGx(rows)
}

// ListGxByJob returns every GxMaster whose source file belongs to the job.
func (s *Store) ListGxByJob(ctx context.Context, jobID string) ([]*common.GxMaster, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+prefixedGxColumns+` FROM gx_master g
		JOIN file_master f ON f.id = g.source_file_id
		WHERE f.processing_job_id = $1
		ORDER BY g.id ASC`, jobID)
	if err != nil {
		return nil, notFoundOr(err, "listing gx_masters by job")
	}
	defer rows.Close()
	return collectGx(rows)
}

const prefixedGxColumns = `g.id, g.source_file_id, g.gx_bucket_id, g.file_location, g.processed_file_name,
	g.file_size, g.extension, g.gx_status, g.gx_process_id, g.error_message, g.created_at`

// UpdateGxIngest records the scheduler's or reconciler's outcome for one row.
func (s *Store) UpdateGxIngest(ctx context.Context, id int64, processID *string, status common.GxStatus, errMsg string) error {
	_, err := s.q.Exec(ctx, `
		UPDATE gx_master SET gx_process_id = COALESCE($2, gx_process_id), gx_status = $3, error_message = $4
		WHERE id = $1 AND gx_status <> 'TERMINATED'`,
		id, processID, status, errMsg)
	return notFoundOr(err, "updating gx_master ingest state")
}

// TerminateGx moves every non-terminal GxMaster to TERMINATED.
func (s *Store) TerminateGx(ctx context.Context) (int64, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE gx_master SET gx_status = 'TERMINATED'
		WHERE gx_status NOT IN ('COMPLETE','SKIPPED','ERROR','CANCELLED','TERMINATED')`)
	if err != nil {
		return 0, notFoundOr(err, "terminating gx_masters")
	}
	return tag.RowsAffected(), nil
}

func collectGx(rows interface {
	Next() bool
	Scan(...interface{}) error
	Err() error
}) ([]*common.GxMaster, error) {
	var out []*common.GxMaster
	for rows.Next() {
		g, err := scanGx(rows)
		if err != nil {
			return nil, notFoundOr(err, "scanning gx_master")
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
