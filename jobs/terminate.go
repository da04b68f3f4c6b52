package jobs

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/docyard/docyard/db"
	"github.com/docyard/docyard/queue"
)

// TerminationReport counts the rows moved to TERMINATED per entity.
type TerminationReport struct {
	Jobs    int64 `json:"jobs"`
	Zips    int64 `json:"zips"`
	Files   int64 `json:"files"`
	Ingests int64 `json:"ingests"`
}

// Terminate is the emergency stop: every non-terminal row across all four
// entities flips to TERMINATED in one transaction, and both work queues are
// purged once it commits. In-flight workers then find their rows unclaimable
// and drop out.
func Terminate(ctx context.Context, pool *pgxpool.Pool, zipQ, fileQ *queue.Sender) (*TerminationReport, error) {
	report := &TerminationReport{}
	err := db.RunInTx(ctx, pool, func(ctx context.Context, tx *db.Tx) error {
		st := db.New(pool).WithTx(tx)
		var err error
		if report.Jobs, err = st.TerminateJobs(ctx); err != nil {
			return err
		}
		if report.Zips, err = st.TerminateZips(ctx); err != nil {
			return err
		}
		if report.Files, err = st.TerminateFiles(ctx); err != nil {
			return err
		}
		if report.Ingests, err = st.TerminateGx(ctx); err != nil {
			return err
		}
		tx.AfterCommit(func() {
			if err := zipQ.Purge(context.Background()); err != nil {
				log.WithError(err).Error("purging zip queue failed")
			}
			if err := fileQ.Purge(context.Background()); err != nil {
				log.WithError(err).Error("purging file queue failed")
			}
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"jobs":    report.Jobs,
		"zips":    report.Zips,
		"files":   report.Files,
		"ingests": report.Ingests,
	}).Warn("termination executed")
	return report, nil
}
