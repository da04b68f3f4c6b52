package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/docyard/docyard/common"
	"github.com/docyard/docyard/db"
	"github.com/docyard/docyard/queue"
	"github.com/docyard/docyard/storage"
)

// beginnerQuerier carries both capabilities the registrar needs: starting
// transactions and running statements. *pgxpool.Pool and the test fakes
// satisfy it.
type beginnerQuerier interface {
	db.Beginner
	db.Querier
}

// registrar persists new FileMaster rows for both workers: dedup against the
// group, deferred upload of the bytes after commit, and the per-file queue
// message once the upload lands.
type registrar struct {
	pool     db.Beginner
	store    *db.Store
	uploader *storage.Uploader
	fileQ    *queue.Sender
}

func newRegistrar(pool beginnerQuerier, uploader *storage.Uploader, fileQ *queue.Sender) *registrar {
	return &registrar{pool: pool, store: db.New(pool), uploader: uploader, fileQ: fileQ}
}

// registerIgnored writes a terminal IGNORED row so the job report accounts
// for an entry that will never be processed. The empty hash keeps it out of
// the dedup index.
func (r *registrar) registerIgnored(ctx context.Context, fm *common.FileMaster, reason string) error {
	fm.Status = common.FileIgnored
	fm.ErrorMessage = reason
	fm.FileHash = ""
	fm.FileLocation = ""
	log.WithFields(log.Fields{"jobId": fm.ProcessingJobID, "file": fm.FileName, "reason": reason}).
		Info("ignoring file")
	return r.store.InsertFileMaster(ctx, fm)
}

// register persists fm as QUEUED with its content. A hash already live
// within the dedup group becomes a DUPLICATE row pointing at its original;
// otherwise the row commits and the bytes upload after commit, with the
// queue message sent only once the upload lands.
func (r *registrar) register(ctx context.Context, fm *common.FileMaster, data []byte) error {
	fm.Status = common.FileQueued
	err := db.RunInTx(ctx, r.pool, func(ctx context.Context, tx *db.Tx) error {
		if err := r.store.WithTx(tx).InsertFileMaster(ctx, fm); err != nil {
			return err
		}
		tx.AfterCommit(func() { r.scheduleUpload(fm, data) })
		return nil
	})
	if err == nil {
		return nil
	}
	if !db.IsUniqueViolation(err) {
		return err
	}
	return r.registerDuplicate(ctx, fm)
}

func (r *registrar) registerDuplicate(ctx context.Context, fm *common.FileMaster) error {
	holder, err := r.store.FindDedupHolder(ctx, fm.GroupKey(), fm.FileHash)
	if err != nil {
		return errors.Wrapf(err, "resolving duplicate of %s", fm.FileName)
	}
	fm.ID = 0
	fm.Status = common.FileDuplicate
	fm.DuplicateOfFileID = &holder
	fm.FileLocation = ""
	log.WithFields(log.Fields{
		"jobId":    fm.ProcessingJobID,
		"file":     fm.FileName,
		"original": holder,
	}).Info("duplicate content within group")
	return r.store.InsertFileMaster(ctx, fm)
}

// scheduleUpload runs from an after-commit hook: the row exists, so the
// upload and the follow-on queue message can safely reference it.
func (r *registrar) scheduleUpload(fm *common.FileMaster, data []byte) {
	r.uploader.Schedule(storage.UploadRequest{
		Key:  fm.FileLocation,
		Body: data,
		OnSuccess: func() {
			ctx := context.Background()
			dedupID := fmt.Sprintf("file-master-%d-%s", fm.ID, uuid.NewString())
			if err := r.fileQ.Send(ctx, fm.GroupKey(), dedupID, queue.FileMessage{FileMasterID: fm.ID}); err != nil {
				log.WithError(err).WithField("fileMasterId", fm.ID).Error("enqueueing file message failed")
				r.failRow(fm.ID, "enqueue failed: "+err.Error())
			}
		},
		OnFailure: func(err error) {
			r.failRow(fm.ID, "upload failed: "+err.Error())
		},
	})
}

func (r *registrar) failRow(id int64, reason string) {
	if err := r.store.FailFileMaster(context.Background(), id, reason); err != nil {
		log.WithError(err).WithField("fileMasterId", id).Error("marking file FAILED failed")
	}
}
