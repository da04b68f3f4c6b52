package jobs

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/docyard/docyard/common"
	"github.com/docyard/docyard/db"
	"github.com/docyard/docyard/gx"
	"github.com/docyard/docyard/metrics"
	"github.com/docyard/docyard/storage"
)

// UploadScheduler pushes QUEUED_FOR_UPLOAD artifacts to GX, oldest first,
// never exceeding the configured in-flight budget. GX pulls the bytes itself
// through a presigned GET, so the scheduler moves URLs, not data.
type UploadScheduler struct {
	store      *db.Store
	objects    *storage.Service
	client     *gx.Client
	maxProcess int
}

func NewUploadScheduler(pool *pgxpool.Pool, objects *storage.Service, client *gx.Client, cfg *common.Config) *UploadScheduler {
	return &UploadScheduler{
		store:      db.New(pool),
		objects:    objects,
		client:     client,
		maxProcess: cfg.Gx.MaxProcess,
	}
}

// RunOnce performs one scheduling cycle.
func (s *UploadScheduler) RunOnce(ctx context.Context) error {
	inFlight, err := s.store.CountGxInFlight(ctx)
	if err != nil {
		return err
	}
	capacity := s.maxProcess - inFlight
	if capacity <= 0 {
		log.WithFields(log.Fields{"inFlight": inFlight, "max": s.maxProcess}).
			Debug("gx at capacity; skipping cycle")
		return nil
	}

	batch, err := s.store.ListQueuedForUpload(ctx, capacity)
	if err != nil {
		return err
	}
	for _, row := range batch {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.uploadOne(ctx, row)
	}
	return nil
}

// acceptedStatus maps the status GX reports on a fresh ingest onto the row.
// ACTIVE means the document is already live in the index, which is this
// pipeline's end state for it; nothing polls past ACTIVE, so it must land
// terminal here. A failure status on a brand-new ingest is still pollable,
// so it goes back to QUEUED for the reconciler to settle.
func acceptedStatus(reported common.GxStatus) common.GxStatus {
	if reported == common.GxActive {
		return common.GxComplete
	}
	if reported.IsTerminal() && !reported.IsSuccess() {
		return common.GxQueued
	}
	return reported
}

// uploadOne settles one artifact. Transient GX failures leave the row as
// QUEUED_FOR_UPLOAD for the next cycle; everything else lands a status.
func (s *UploadScheduler) uploadOne(ctx context.Context, row *common.GxMaster) {
	entry := log.WithFields(log.Fields{"gxMasterId": row.ID, "file": row.ProcessedFileName})

	if row.GxBucketID == nil || *row.GxBucketID == "" {
		// Artifacts of bulk jobs have no bucket to land in.
		if err := s.store.UpdateGxIngest(ctx, row.ID, nil, common.GxSkipped, "no gx bucket"); err != nil {
			entry.WithError(err).Error("marking bucketless artifact SKIPPED failed")
		}
		metrics.GxUploads.WithLabelValues("skipped").Inc()
		return
	}

	sourceURL, err := s.objects.PresignGet(ctx, row.FileLocation)
	if err != nil {
		entry.WithError(err).Warn("presigning artifact failed; retrying next cycle")
		return
	}

	res, err := s.client.UploadBySourceURL(ctx, gx.Document{
		BucketID:  *row.GxBucketID,
		FileName:  row.ProcessedFileName,
		FileType:  row.Extension,
		SourceURL: sourceURL,
	})
	if err != nil {
		if gx.IsTransient(err) {
			entry.WithError(err).Warn("gx upload failed transiently; retrying next cycle")
			return
		}
		entry.WithError(err).Error("gx rejected upload")
		metrics.GxUploads.WithLabelValues("rejected").Inc()
		if uerr := s.store.UpdateGxIngest(ctx, row.ID, nil, common.GxError, err.Error()); uerr != nil {
			entry.WithError(uerr).Error("recording gx rejection failed")
		}
		return
	}

	switch {
	case res.ProcessID != "":
		status := acceptedStatus(res.Status)
		if err := s.store.UpdateGxIngest(ctx, row.ID, &res.ProcessID, status, ""); err != nil {
			entry.WithError(err).Error("recording gx process id failed")
			return
		}
		metrics.GxUploads.WithLabelValues("accepted").Inc()
		entry.WithFields(log.Fields{"processId": res.ProcessID, "status": status}).Info("artifact handed to gx")
	case res.Message != "":
		if err := s.store.UpdateGxIngest(ctx, row.ID, nil, common.GxError, res.Message); err != nil {
			entry.WithError(err).Error("recording gx error failed")
		}
	default:
		if err := s.store.UpdateGxIngest(ctx, row.ID, nil, common.GxError, "invalid response from gx"); err != nil {
			entry.WithError(err).Error("recording gx error failed")
		}
	}
}
