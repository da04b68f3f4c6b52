package jobs

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/docyard/docyard/common"
	"github.com/docyard/docyard/db"
	"github.com/docyard/docyard/gx"
)

// Reconciler is the periodic sweep that settles in-flight state: it polls GX
// for ingest progress and closes out jobs whose children have all reached a
// terminal status.
type Reconciler struct {
	store  *db.Store
	client *gx.Client
}

func NewReconciler(pool *pgxpool.Pool, client *gx.Client) *Reconciler {
	return &Reconciler{store: db.New(pool), client: client}
}

// RunOnce performs one reconciliation cycle. Each half logs and continues on
// per-row failures so a single bad row cannot stall the sweep.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	if err := r.pollGx(ctx); err != nil {
		return err
	}
	return r.settleJobs(ctx)
}

// pollGx refreshes every in-flight ingest that has a process id.
func (r *Reconciler) pollGx(ctx context.Context) error {
	rows, err := r.store.ListGxPolling(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		entry := log.WithFields(log.Fields{"gxMasterId": row.ID, "processId": *row.GxProcessID})

		res, err := r.client.FetchStatus(ctx, *row.GxProcessID)
		if err != nil {
			if gx.IsTransient(err) {
				entry.WithError(err).Warn("gx status poll failed transiently")
				continue
			}
			entry.WithError(err).Error("gx rejected status poll")
			if uerr := r.store.UpdateGxIngest(ctx, row.ID, nil, common.GxError, err.Error()); uerr != nil {
				entry.WithError(uerr).Error("recording gx poll failure failed")
			}
			continue
		}

		status := res.Status
		// ACTIVE means indexed and queryable; it settles the row as COMPLETE.
		if status == common.GxActive {
			status = common.GxComplete
		}
		if status == row.Status {
			continue
		}
		if err := r.store.UpdateGxIngest(ctx, row.ID, nil, status, res.StatusMessage); err != nil {
			entry.WithError(err).Error("recording gx status failed")
			continue
		}
		entry.WithFields(log.Fields{"from": row.Status, "to": status}).Info("gx ingest status updated")
	}
	return nil
}

// settleJobs closes every IN_PROGRESS job whose children are all terminal:
// COMPLETED when every file and ingest counts as success (DUPLICATE, IGNORED
// and SKIPPED included), FAILED otherwise.
func (r *Reconciler) settleJobs(ctx context.Context) error {
	jobsInProgress, err := r.store.ListJobsByStatus(ctx, common.JobInProgress)
	if err != nil {
		return err
	}
	for _, job := range jobsInProgress {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.settleJob(ctx, job); err != nil {
			log.WithError(err).WithField("jobId", job.ID).Error("settling job failed")
		}
	}
	return nil
}

func (r *Reconciler) settleJob(ctx context.Context, job *common.ProcessingJob) error {
	if common.Extension(job.OriginalFilename) == "zip" {
		z, err := r.store.GetZipMasterByJob(ctx, job.ID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return nil // extraction not started yet
			}
			return err
		}
		if z.Status != common.ZipExtracted {
			return nil
		}
	}

	files, err := r.store.ListFilesByJob(ctx, job.ID)
	if err != nil {
		return err
	}
	ingests, err := r.store.ListGxByJob(ctx, job.ID)
	if err != nil {
		return err
	}

	settled, outcome, reason := settlement(files, ingests)
	if !settled {
		return nil
	}
	done, err := r.store.CompleteJob(ctx, job.ID, outcome, reason)
	if err != nil {
		return err
	}
	if done {
		log.WithFields(log.Fields{
			"jobId":   job.ID,
			"outcome": outcome,
			"files":   len(files),
			"ingests": len(ingests),
		}).Info("job settled")
	}
	return nil
}

// settlement is the completion rule: a job settles only once it has at least
// one file and every file and ingest is terminal; the outcome is COMPLETED
// only when none of them failed (DUPLICATE, IGNORED and SKIPPED count as
// success).
func settlement(files []*common.FileMaster, ingests []*common.GxMaster) (settled bool, outcome common.JobStatus, reason string) {
	if len(files) == 0 {
		return false, "", ""
	}
	failedFiles := 0
	for _, f := range files {
		if !f.Status.IsTerminal() {
			return false, "", ""
		}
		if !f.Status.IsSuccess() {
			failedFiles++
		}
	}
	failedIngests := 0
	for _, g := range ingests {
		if !g.Status.IsTerminal() {
			return false, "", ""
		}
		if !g.Status.IsSuccess() {
			failedIngests++
		}
	}
	if failedFiles > 0 || failedIngests > 0 {
		return true, common.JobFailed, fmt.Sprintf("%d of %d files and %d of %d ingests failed",
			failedFiles, len(files), failedIngests, len(ingests))
	}
	return true, common.JobCompleted, ""
}
