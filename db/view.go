package db

import (
	"context"

	"github.com/docyard/docyard/common"
)

// ListDocuments reads the document_processing_view for one job: one row per
// user-visible artifact with a normalised display status.
func (s *Store) ListDocuments(ctx context.Context, jobID string) ([]*common.DocumentRow, error) {
	rows, err := s.q.Query(ctx, `
		SELECT processing_job_id, file_name, source, display_status, error_message, updated_at
		FROM document_processing_view
		WHERE processing_job_id = $1
		ORDER BY file_name, source`, jobID)
	if err != nil {
		return nil, notFoundOr(err, "listing document view")
	}
	defer rows.Close()
	var out []*common.DocumentRow
	for rows.Next() {
		var d common.DocumentRow
		if err := rows.Scan(&d.ProcessingJobID, &d.FileName, &d.Source, &d.DisplayStatus,
			&d.ErrorMessage, &d.UpdatedAt); err != nil {
			return nil, notFoundOr(err, "scanning document view row")
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
