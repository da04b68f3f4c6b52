package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/docyard/docyard/common"
	"github.com/docyard/docyard/db"
	"github.com/docyard/docyard/handlers"
	"github.com/docyard/docyard/metrics"
	"github.com/docyard/docyard/queue"
	"github.com/docyard/docyard/storage"
)

// FileWorker consumes the per-file queue. One message names one FileMaster;
// the worker claims it, runs the matching handler, and lands the outcome:
// either a PDF artifact queued for GX, or extracted children re-entering the
// same queue one level deeper.
type FileWorker struct {
	pool     db.Beginner
	store    *db.Store
	objects  *storage.Service
	reg      *registrar
	registry *handlers.Registry
	cfg      *common.Config
}

func NewFileWorker(pool *pgxpool.Pool, objects *storage.Service, uploader *storage.Uploader,
	fileQ *queue.Sender, registry *handlers.Registry, cfg *common.Config) *FileWorker {
	return &FileWorker{
		pool:     pool,
		store:    db.New(pool),
		objects:  objects,
		reg:      newRegistrar(pool, uploader, fileQ),
		registry: registry,
		cfg:      cfg,
	}
}

// HandleMessage is the queue.HandlerFunc for the file queue. Terminal
// failures land on the row and consume the message; transient ones put the
// row back to QUEUED and leave the message for redelivery.
func (w *FileWorker) HandleMessage(ctx context.Context, body string) error {
	var msg queue.FileMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		log.WithError(err).WithField("body", body).Error("dropping malformed file message")
		return nil
	}

	fm, err := w.store.GetFileMaster(ctx, msg.FileMasterID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			log.WithField("fileMasterId", msg.FileMasterID).Warn("dropping message for unknown file_master")
			return nil
		}
		return err
	}
	locked, err := w.store.LockFileMaster(ctx, fm.ID)
	if err != nil {
		return err
	}
	if !locked {
		log.WithField("fileMasterId", fm.ID).Info("file already claimed; skipping redelivery")
		return nil
	}
	fm.Status = common.FileInProgress

	job, err := w.store.GetJob(ctx, fm.ProcessingJobID)
	if err != nil {
		return w.recover(ctx, fm, err)
	}
	// Direct-upload jobs sit at QUEUED until their one file is claimed.
	if _, err := w.store.TransitionJob(ctx, fm.ProcessingJobID,
		[]common.JobStatus{common.JobQueued, common.JobInProgress},
		common.JobInProgress, "FILE_PROCESSING"); err != nil {
		return w.recover(ctx, fm, err)
	}

	if err := w.process(ctx, job, fm); err != nil {
		return w.recover(ctx, fm, err)
	}
	return nil
}

// recover lands a processing error: terminal kinds fail the row for good,
// transient ones requeue it and propagate so the broker redelivers.
func (w *FileWorker) recover(ctx context.Context, fm *common.FileMaster, cause error) error {
	entry := log.WithError(cause).WithFields(log.Fields{
		"fileMasterId": fm.ID,
		"jobId":        fm.ProcessingJobID,
		"file":         fm.FileName,
	})
	if common.IsTerminal(cause) {
		entry.Error("file processing failed permanently")
		metrics.FilesProcessed.WithLabelValues("failed").Inc()
		return w.store.FailFileMaster(ctx, fm.ID, common.Reason(cause))
	}
	entry.Warn("file processing hit a transient failure; requeueing")
	if err := w.store.RequeueFileMaster(ctx, fm.ID); err != nil {
		return err
	}
	return cause
}

func (w *FileWorker) process(ctx context.Context, job *common.ProcessingJob, fm *common.FileMaster) error {
	// A PDF on a skip-GX job needs no normalization at all: the SKIPPED
	// artifact points at the object the row already has, no copy.
	if job.SkipGxProcess && fm.Extension == "pdf" {
		return w.recordArtifact(ctx, job, fm, fm.FileLocation, fm.FileName, fm.FileSize, "")
	}

	handler, err := w.registry.Lookup(fm.Extension)
	if err != nil {
		return err
	}

	tmp, size, err := w.spool(ctx, fm)
	if err != nil {
		return err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	items, err := handler.Handle(ctx, tmp, size, fm)
	if err != nil {
		return err
	}

	switch {
	case len(items) == 0:
		// The upload is already a conforming PDF; it becomes the artifact
		// as-is.
		return w.publishCopy(ctx, job, fm, "")
	case len(items) == 1 && isTransformOf(fm, items[0]):
		return w.publishArtifact(ctx, job, fm, items[0].Name, items[0].Bytes,
			"transformed to "+items[0].Name)
	default:
		return w.registerChildren(ctx, fm, items)
	}
}

// isTransformOf reports whether a lone handler output is the PDF rendition
// of the input rather than a child pulled out of it.
func isTransformOf(fm *common.FileMaster, item handlers.ExtractedFileItem) bool {
	if common.Extension(item.Name) != "pdf" {
		return false
	}
	return item.Name == fm.FileName || item.Name == common.ReplaceExtension(fm.FileName, "pdf")
}

// spool copies the object to a temp file so handlers get random access and
// the retry decorator can replay the input.
func (w *FileWorker) spool(ctx context.Context, fm *common.FileMaster) (*os.File, int64, error) {
	src, err := w.objects.GetStream(ctx, fm.FileLocation)
	if err != nil {
		return nil, 0, common.NewTransientIOError("opening source object", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(w.cfg.ZipHandler.TempDir, "docyard-file-*")
	if err != nil {
		return nil, 0, common.NewTransientIOError("creating spool file", err)
	}
	size, err := io.Copy(tmp, src)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, 0, common.NewTransientIOError("spooling source object", err)
	}
	return tmp, size, nil
}

// publishCopy promotes the file's own object to the artifact namespace with
// a server-side copy, then records the GxMaster and completes the row.
func (w *FileWorker) publishCopy(ctx context.Context, job *common.ProcessingJob, fm *common.FileMaster, remark string) error {
	gxKey := common.ConstructKey(fm.FileName, fm.GxBucketID, fm.ProcessingJobID, common.KeyTypeGxFiles)
	if err := w.objects.Copy(ctx, fm.FileLocation, gxKey); err != nil {
		return common.NewTransientIOError("copying artifact", err)
	}
	return w.recordArtifact(ctx, job, fm, gxKey, fm.FileName, fm.FileSize, remark)
}

// publishArtifact uploads transformed bytes to the artifact namespace, then
// records the GxMaster and completes the row.
func (w *FileWorker) publishArtifact(ctx context.Context, job *common.ProcessingJob, fm *common.FileMaster, name string, data []byte, remark string) error {
	gxKey := common.ConstructKey(name, fm.GxBucketID, fm.ProcessingJobID, common.KeyTypeGxFiles)
	if err := w.objects.Put(ctx, gxKey, bytes.NewReader(data), int64(len(data))); err != nil {
		return common.NewTransientIOError("uploading artifact", err)
	}
	return w.recordArtifact(ctx, job, fm, gxKey, name, int64(len(data)), remark)
}

// recordArtifact writes the GxMaster and flips the FileMaster to COMPLETED
// in one transaction, so an artifact row can never outlive a file that still
// looks unfinished.
func (w *FileWorker) recordArtifact(ctx context.Context, job *common.ProcessingJob, fm *common.FileMaster, gxKey, name string, size int64, remark string) error {
	status := common.GxQueuedForUpload
	if job.SkipGxProcess {
		status = common.GxSkipped
	}
	gx := &common.GxMaster{
		SourceFileID:      fm.ID,
		GxBucketID:        fm.GxBucketID,
		FileLocation:      gxKey,
		ProcessedFileName: name,
		FileSize:          size,
		Extension:         "pdf",
		Status:            status,
	}
	err := db.RunInTx(ctx, w.pool, func(ctx context.Context, tx *db.Tx) error {
		st := w.store.WithTx(tx)
		if err := st.InsertGxMaster(ctx, gx); err != nil {
			return err
		}
		done, err := st.CompleteFileMaster(ctx, fm.ID, remark)
		if err != nil {
			return err
		}
		if !done {
			return errors.Errorf("file_master %d changed state mid-processing", fm.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	metrics.FilesProcessed.WithLabelValues("completed").Inc()
	log.WithFields(log.Fields{
		"fileMasterId": fm.ID,
		"artifact":     gxKey,
		"gxStatus":     status,
	}).Info("artifact recorded")
	return nil
}

// registerChildren turns extracted items into new FileMaster rows one level
// deeper. Unsupported or over-deep children land as IGNORED so the job
// report stays complete.
func (w *FileWorker) registerChildren(ctx context.Context, fm *common.FileMaster, items []handlers.ExtractedFileItem) error {
	childDepth := fm.Depth + 1
	registered := 0
	for _, item := range items {
		child := &common.FileMaster{
			ZipMasterID:     fm.ZipMasterID,
			ProcessingJobID: fm.ProcessingJobID,
			GxBucketID:      fm.GxBucketID,
			FileName:        item.Name,
			FileSize:        int64(len(item.Bytes)),
			Extension:       common.Extension(item.Name),
			SourceType:      common.SourceExtracted,
			Depth:           childDepth,
		}
		if !w.registry.Supports(child.Extension) {
			if err := w.reg.registerIgnored(ctx, child,
				fmt.Sprintf("unsupported file extension %q", child.Extension)); err != nil {
				return err
			}
			continue
		}
		if max := w.cfg.ZipHandler.MaxDepth; max > 0 && childDepth > max {
			if err := w.reg.registerIgnored(ctx, child, "max extraction depth exceeded"); err != nil {
				return err
			}
			continue
		}
		sum := sha256.Sum256(item.Bytes)
		child.FileHash = hex.EncodeToString(sum[:])
		child.FileLocation = common.ConstructKey(item.Name, fm.GxBucketID, fm.ProcessingJobID, common.KeyTypeFiles)
		if err := w.reg.register(ctx, child, item.Bytes); err != nil {
			return err
		}
		registered++
	}

	done, err := w.store.CompleteFileMaster(ctx, fm.ID, fmt.Sprintf("extracted %d files", len(items)))
	if err != nil {
		return err
	}
	if !done {
		return errors.Errorf("file_master %d changed state mid-processing", fm.ID)
	}
	metrics.FilesProcessed.WithLabelValues("extracted").Inc()
	log.WithFields(log.Fields{
		"fileMasterId": fm.ID,
		"children":     len(items),
		"registered":   registered,
	}).Info("extraction children registered")
	return nil
}
