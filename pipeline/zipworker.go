// Package pipeline contains the two queue-driven workers: the zip worker
// explodes an uploaded archive into FileMaster rows, the file worker
// normalizes one FileMaster into PDF artifacts.
package pipeline

import (
	"archive/zip"
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
	"golang.org/x/sync/semaphore"

	"github.com/docyard/docyard/common"
	"github.com/docyard/docyard/db"
	"github.com/docyard/docyard/handlers"
	"github.com/docyard/docyard/queue"
	"github.com/docyard/docyard/storage"
)

// ZipWorker consumes the zip queue. One message names one ZipMaster; the
// worker claims it, streams the archive out of object storage, and turns
// every usable entry into a QUEUED FileMaster whose bytes are uploaded after
// the row commits.
type ZipWorker struct {
	store    *db.Store
	objects  *storage.Service
	reg      *registrar
	registry *handlers.Registry
	cfg      *common.Config
	sem      *semaphore.Weighted
}

func NewZipWorker(pool *pgxpool.Pool, objects *storage.Service, uploader *storage.Uploader,
	fileQ *queue.Sender, registry *handlers.Registry, cfg *common.Config) *ZipWorker {
	limit := cfg.ZipHandler.ConcurrencyLimit
	if limit <= 0 {
		limit = 1
	}
	return &ZipWorker{
		store:    db.New(pool),
		objects:  objects,
		reg:      newRegistrar(pool, uploader, fileQ),
		registry: registry,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(limit)),
	}
}

// HandleMessage is the queue.HandlerFunc for the zip queue. Malformed or
// empty archives are terminal for the archive and its job; transient storage
// or database failures put the archive back to QUEUED_FOR_EXTRACTION and
// leave the message for redelivery.
func (w *ZipWorker) HandleMessage(ctx context.Context, body string) error {
	var msg queue.ZipMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		log.WithError(err).WithField("body", body).Error("dropping malformed zip message")
		return nil
	}

	if err := w.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer w.sem.Release(1)

	z, err := w.store.GetZipMaster(ctx, msg.ZipMasterID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			log.WithField("zipMasterId", msg.ZipMasterID).Warn("dropping message for unknown zip_master")
			return nil
		}
		return err
	}
	locked, err := w.store.LockZipMaster(ctx, z.ID)
	if err != nil {
		return err
	}
	if !locked {
		log.WithField("zipMasterId", z.ID).Info("zip already claimed; skipping redelivery")
		return nil
	}

	if _, err := w.store.TransitionJob(ctx, z.ProcessingJobID,
		[]common.JobStatus{common.JobQueued, common.JobInProgress},
		common.JobInProgress, "ZIP_EXTRACTION"); err != nil {
		return w.recover(ctx, z, err)
	}

	extracted, ignored, err := w.extract(ctx, z)
	if err == nil {
		err = archiveOutcomeError(extracted, ignored)
	}
	if err != nil {
		return w.recover(ctx, z, err)
	}

	if err := w.store.SetZipStatus(ctx, z.ID, common.ZipExtracted, ""); err != nil {
		return err
	}
	if err := w.store.UpdateJobStage(ctx, z.ProcessingJobID, "FILE_PROCESSING"); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"zipMasterId": z.ID,
		"jobId":       z.ProcessingJobID,
		"extracted":   extracted,
		"ignored":     ignored,
	}).Info("archive extracted")
	return nil
}

// archiveOutcomeError rejects archives that left nothing to process: no
// queued file will ever reach the job, so it must not settle COMPLETED.
func archiveOutcomeError(extracted, ignored int) error {
	switch {
	case extracted == 0 && ignored == 0:
		return common.NewMalformedContentError("archive contains no files", nil)
	case extracted == 0:
		return common.NewMalformedContentError("archive contains no supported files", nil)
	}
	return nil
}

// recover lands an extraction error: terminal kinds fail the archive and its
// job for good, transient ones requeue the archive and propagate so the
// broker redelivers. Re-extraction is idempotent through the dedup index.
func (w *ZipWorker) recover(ctx context.Context, z *common.ZipMaster, cause error) error {
	if common.IsTerminal(cause) {
		return w.failExtraction(ctx, z, cause)
	}
	log.WithError(cause).WithFields(log.Fields{
		"zipMasterId": z.ID,
		"jobId":       z.ProcessingJobID,
	}).Warn("archive extraction hit a transient failure; requeueing")
	if err := w.store.RequeueZipMaster(ctx, z.ID); err != nil {
		return err
	}
	return cause
}

// failExtraction records the terminal outcome on the archive and its job.
// The message is consumed either way.
func (w *ZipWorker) failExtraction(ctx context.Context, z *common.ZipMaster, cause error) error {
	reason := common.Reason(cause)
	log.WithError(cause).WithFields(log.Fields{
		"zipMasterId": z.ID,
		"jobId":       z.ProcessingJobID,
	}).Error("archive extraction failed")
	if err := w.store.SetZipStatus(ctx, z.ID, common.ZipExtractionFailed, reason); err != nil {
		return err
	}
	return w.store.FailJob(ctx, z.ProcessingJobID, "extraction failed: "+reason)
}

func (w *ZipWorker) extract(ctx context.Context, z *common.ZipMaster) (extracted, ignored int, err error) {
	tmp, err := w.spoolArchive(ctx, z)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	zr, err := zip.NewReader(tmp, z.FileSize)
	if err != nil {
		return 0, 0, common.NewMalformedContentError("invalid ZIP structure", err)
	}

	for _, entry := range zr.File {
		if ctx.Err() != nil {
			return extracted, ignored, ctx.Err()
		}
		if entry.FileInfo().IsDir() {
			continue
		}
		name, nameErr := handlers.ValidateEntryName(entry.Name)
		if nameErr != nil {
			if err := w.ignoreEntry(ctx, z, entry.Name, 0, common.Reason(nameErr)); err != nil {
				return extracted, ignored, err
			}
			ignored++
			continue
		}
		ext := common.Extension(name)
		if !w.registry.Supports(ext) {
			if err := w.ignoreEntry(ctx, z, name, int64(entry.UncompressedSize64),
				fmt.Sprintf("unsupported file extension %q", ext)); err != nil {
				return extracted, ignored, err
			}
			ignored++
			continue
		}
		if max := w.cfg.ZipHandler.MaxEntrySize; max > 0 && int64(entry.UncompressedSize64) > max {
			if err := w.ignoreEntry(ctx, z, name, int64(entry.UncompressedSize64),
				"entry exceeds size limit"); err != nil {
				return extracted, ignored, err
			}
			ignored++
			continue
		}

		data, err := readEntry(entry, w.cfg.ZipHandler.MaxEntrySize)
		if err != nil {
			return extracted, ignored, common.NewMalformedContentError(
				fmt.Sprintf("reading entry %s", entry.Name), err)
		}
		sum := sha256.Sum256(data)
		fm := &common.FileMaster{
			ZipMasterID:     &z.ID,
			ProcessingJobID: z.ProcessingJobID,
			GxBucketID:      z.GxBucketID,
			FileLocation:    common.ConstructKey(name, z.GxBucketID, z.ProcessingJobID, common.KeyTypeFiles),
			FileName:        name,
			FileSize:        int64(len(data)),
			Extension:       ext,
			FileHash:        hex.EncodeToString(sum[:]),
			SourceType:      common.SourceExtracted,
			Depth:           1,
		}
		if err := w.reg.register(ctx, fm, data); err != nil {
			return extracted, ignored, err
		}
		extracted++
	}
	return extracted, ignored, nil
}

// spoolArchive copies the archive from object storage to a temp file so the
// ZIP directory can be read with random access.
func (w *ZipWorker) spoolArchive(ctx context.Context, z *common.ZipMaster) (*os.File, error) {
	src, err := w.objects.GetStream(ctx, z.OriginalFilePath)
	if err != nil {
		return nil, common.NewTransientIOError("opening archive object", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(w.cfg.ZipHandler.TempDir, "docyard-zip-*")
	if err != nil {
		return nil, common.NewTransientIOError("creating spool file", err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, common.NewTransientIOError("spooling archive", err)
	}
	return tmp, nil
}

func (w *ZipWorker) ignoreEntry(ctx context.Context, z *common.ZipMaster, name string, size int64, reason string) error {
	fm := &common.FileMaster{
		ZipMasterID:     &z.ID,
		ProcessingJobID: z.ProcessingJobID,
		GxBucketID:      z.GxBucketID,
		FileName:        name,
		FileSize:        size,
		Extension:       common.Extension(name),
		SourceType:      common.SourceExtracted,
		Depth:           1,
	}
	return w.reg.registerIgnored(ctx, fm, reason)
}

func readEntry(entry *zip.File, maxSize int64) ([]byte, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var r io.Reader = rc
	if maxSize > 0 {
		r = io.LimitReader(rc, maxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, errors.New("entry larger than declared size")
	}
	return data, nil
}
