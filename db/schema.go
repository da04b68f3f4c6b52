package db

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
)

// Schema is the full DDL, applied by `docyard migrate`. Statements are
// idempotent so re-running a migration is safe.
//
// The partial unique index on file_master is the dedup invariant: within one
// dedup group (the GX bucket, or a per-job group for bulk uploads) only one
// row may hold a given content hash while it is still live. DUPLICATE,
// IGNORED and TERMINATED rows fall out of the index so they never block a
// re-upload.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS processing_job (
		id                 text PRIMARY KEY,
		original_filename  text NOT NULL,
		file_location      text NOT NULL,
		status             text NOT NULL,
		current_stage      text NOT NULL DEFAULT '',
		error_message      text NOT NULL DEFAULT '',
		gx_bucket_id       text,
		skip_gx_process    boolean NOT NULL DEFAULT false,
		created_at         timestamptz NOT NULL DEFAULT now(),
		updated_at         timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS zip_master (
		id                   bigserial PRIMARY KEY,
		processing_job_id    text NOT NULL UNIQUE REFERENCES processing_job(id),
		gx_bucket_id         text,
		zip_processing_status text NOT NULL,
		original_file_path   text NOT NULL,
		original_file_name   text NOT NULL,
		file_size            bigint NOT NULL DEFAULT 0,
		error_message        text NOT NULL DEFAULT '',
		created_at           timestamptz NOT NULL DEFAULT now(),
		updated_at           timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS file_master (
		id                    bigserial PRIMARY KEY,
		zip_master_id         bigint REFERENCES zip_master(id),
		processing_job_id     text NOT NULL REFERENCES processing_job(id),
		gx_bucket_id          text,
		duplicate_of_file_id  bigint REFERENCES file_master(id),
		file_location         text NOT NULL,
		file_name             text NOT NULL,
		file_size             bigint NOT NULL DEFAULT 0,
		extension             text NOT NULL,
		file_hash             text NOT NULL DEFAULT '',
		file_processing_status text NOT NULL,
		error_message         text NOT NULL DEFAULT '',
		source_type           text NOT NULL,
		depth                 int NOT NULL DEFAULT 0,
		dedup_group           text GENERATED ALWAYS AS
			(COALESCE(gx_bucket_id, 'bulk-' || processing_job_id)) STORED,
		created_at            timestamptz NOT NULL DEFAULT now(),
		updated_at            timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS file_master_dedup_idx
		ON file_master (dedup_group, file_hash)
		WHERE file_processing_status NOT IN ('DUPLICATE','IGNORED','TERMINATED')
		  AND file_hash <> ''`,

	`CREATE INDEX IF NOT EXISTS file_master_job_idx ON file_master (processing_job_id)`,

	`CREATE TABLE IF NOT EXISTS gx_master (
		id                  bigserial PRIMARY KEY,
		source_file_id      bigint NOT NULL REFERENCES file_master(id),
		gx_bucket_id        text,
		file_location       text NOT NULL,
		processed_file_name text NOT NULL,
		file_size           bigint NOT NULL DEFAULT 0,
		extension           text NOT NULL,
		gx_status           text NOT NULL,
		gx_process_id       text,
		error_message       text NOT NULL DEFAULT '',
		created_at          timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS gx_master_status_idx ON gx_master (gx_status)`,

	`CREATE OR REPLACE VIEW document_processing_view AS
		SELECT f.processing_job_id,
		       f.file_name,
		       'Ingestion' AS source,
		       CASE f.file_processing_status
		           WHEN 'QUEUED' THEN 'Queued'
		           WHEN 'IN_PROGRESS' THEN 'Processing'
		           WHEN 'COMPLETED' THEN 'Processed'
		           WHEN 'FAILED' THEN 'Failed'
		           WHEN 'DUPLICATE' THEN 'Duplicate'
		           WHEN 'IGNORED' THEN 'Ignored'
		           WHEN 'TERMINATED' THEN 'Terminated'
		           ELSE f.file_processing_status
		       END AS display_status,
		       f.error_message,
		       f.updated_at
		FROM file_master f
		WHERE NOT EXISTS (SELECT 1 FROM gx_master g WHERE g.source_file_id = f.id)
		UNION ALL
		SELECT f.processing_job_id,
		       g.processed_file_name AS file_name,
		       'GroundX' AS source,
		       CASE g.gx_status
		           WHEN 'QUEUED_FOR_UPLOAD' THEN 'Awaiting Upload'
		           WHEN 'QUEUED' THEN 'Indexing'
		           WHEN 'PROCESSING' THEN 'Indexing'
		           WHEN 'ACTIVE' THEN 'Indexing'
		           WHEN 'COMPLETE' THEN 'Indexed'
		           WHEN 'SKIPPED' THEN 'Skipped'
		           WHEN 'ERROR' THEN 'Failed'
		           WHEN 'CANCELLED' THEN 'Cancelled'
		           WHEN 'TERMINATED' THEN 'Terminated'
		           ELSE g.gx_status
		       END AS display_status,
		       g.error_message,
		       f.updated_at
		FROM gx_master g
		JOIN file_master f ON f.id = g.source_file_id`,
}

// Migrate applies the schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return errors.Wrapf(err, "applying schema statement %d", i)
		}
	}
	return nil
}
