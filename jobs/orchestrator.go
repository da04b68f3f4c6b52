// Package jobs drives the ProcessingJob lifecycle: intake and upload
// negotiation, handoff onto the work queues, the GX upload scheduler, the
// reconciler that settles in-flight state, and termination.
package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/docyard/docyard/common"
	"github.com/docyard/docyard/db"
	"github.com/docyard/docyard/gx"
	"github.com/docyard/docyard/handlers"
	"github.com/docyard/docyard/metrics"
	"github.com/docyard/docyard/queue"
	"github.com/docyard/docyard/storage"
)

// CreateJobRequest is the intake payload: one file name, an optional GX
// bucket, and whether GX ingestion should be skipped.
type CreateJobRequest struct {
	FileName      string  `json:"fileName"`
	GxBucketID    *string `json:"gxBucketId,omitempty"`
	SkipGxProcess bool    `json:"skipGxProcess"`
}

// CreatedJob is what intake returns: the job plus a presigned single-PUT
// upload URL. Large uploads switch to the multipart operations instead.
type CreatedJob struct {
	Job       *common.ProcessingJob `json:"job"`
	UploadURL string                `json:"uploadUrl"`
}

// objectStore is the slice of storage.Service the orchestrator uses; tests
// substitute a fake.
type objectStore interface {
	PresignPut(ctx context.Context, key string) (string, error)
	InitiateMultipart(ctx context.Context, key string) (string, error)
	PresignPart(ctx context.Context, key, uploadID string, n int) (string, error)
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []storage.Part) error
	Stat(ctx context.Context, key string) (int64, error)
	GetStream(ctx context.Context, key string) (io.ReadCloser, error)
}

// Orchestrator owns job intake and the transition onto the work queues.
type Orchestrator struct {
	pool     db.Beginner
	store    *db.Store
	objects  objectStore
	zipQ     *queue.Sender
	fileQ    *queue.Sender
	gx       *gx.Client
	registry *handlers.Registry
	cfg      *common.Config
}

func NewOrchestrator(pool *pgxpool.Pool, objects *storage.Service, zipQ, fileQ *queue.Sender,
	client *gx.Client, registry *handlers.Registry, cfg *common.Config) *Orchestrator {
	return &Orchestrator{
		pool:     pool,
		store:    db.New(pool),
		objects:  objects,
		zipQ:     zipQ,
		fileQ:    fileQ,
		gx:       client,
		registry: registry,
		cfg:      cfg,
	}
}

// CreateJob validates the intake request, persists the PENDING_UPLOAD job
// and returns a presigned PUT URL for the original file.
func (o *Orchestrator) CreateJob(ctx context.Context, req CreateJobRequest) (*CreatedJob, error) {
	job, err := o.buildJob(req)
	if err != nil {
		return nil, err
	}
	if err := o.store.InsertJob(ctx, job); err != nil {
		return nil, err
	}
	uploadURL, err := o.objects.PresignPut(ctx, job.FileLocation)
	if err != nil {
		return nil, err
	}
	metrics.JobsCreated.Inc()
	log.WithFields(log.Fields{
		"jobId":  job.ID,
		"file":   job.OriginalFilename,
		"bulk":   job.IsBulk(),
		"skipGx": job.SkipGxProcess,
	}).Info("job created")
	return &CreatedJob{Job: job, UploadURL: uploadURL}, nil
}

func (o *Orchestrator) buildJob(req CreateJobRequest) (*common.ProcessingJob, error) {
	ext := common.Extension(req.FileName)
	if req.FileName == "" || ext == "" {
		return nil, common.NewValidationError("fileName with an extension is required")
	}
	bucket := req.GxBucketID
	if bucket != nil && *bucket == "" {
		bucket = nil
	}
	if bucket == nil && ext != "zip" {
		return nil, common.NewValidationError("bulk jobs accept only ZIP uploads, got %q", ext)
	}
	if ext != "zip" && !o.registry.Supports(ext) {
		return nil, common.NewValidationError("unsupported file extension %q", ext)
	}

	jobID := uuid.NewString()
	keyType := common.KeyTypeSource
	if ext == "zip" {
		keyType = common.KeyTypeZip
	}
	return &common.ProcessingJob{
		ID:               jobID,
		OriginalFilename: req.FileName,
		FileLocation:     common.ConstructKey(req.FileName, bucket, jobID, keyType),
		Status:           common.JobPendingUpload,
		CurrentStage:     "AWAITING_UPLOAD",
		GxBucketID:       bucket,
		SkipGxProcess:    req.SkipGxProcess,
	}, nil
}

// InitiateMultipart starts a multipart upload against the job's key.
func (o *Orchestrator) InitiateMultipart(ctx context.Context, jobID string) (string, error) {
	job, err := o.pendingJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	return o.objects.InitiateMultipart(ctx, job.FileLocation)
}

// PresignPart returns the upload URL for one part of an in-progress
// multipart upload.
func (o *Orchestrator) PresignPart(ctx context.Context, jobID, uploadID string, partNumber int) (string, error) {
	if partNumber < 1 {
		return "", common.NewValidationError("partNumber must be >= 1")
	}
	job, err := o.pendingJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	return o.objects.PresignPart(ctx, job.FileLocation, uploadID, partNumber)
}

// CompleteMultipart stitches the uploaded parts together and marks the job
// UPLOAD_COMPLETE.
func (o *Orchestrator) CompleteMultipart(ctx context.Context, jobID, uploadID string, parts []storage.Part) error {
	job, err := o.pendingJob(ctx, jobID)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return common.NewValidationError("no parts supplied")
	}
	if err := o.objects.CompleteMultipart(ctx, job.FileLocation, uploadID, parts); err != nil {
		return err
	}
	_, err = o.store.TransitionJob(ctx, jobID,
		[]common.JobStatus{common.JobPendingUpload}, common.JobUploadComplete, "UPLOADED")
	return err
}

func (o *Orchestrator) pendingJob(ctx context.Context, jobID string) (*common.ProcessingJob, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != common.JobPendingUpload {
		return nil, common.NewValidationError("job %s is %s, expected PENDING_UPLOAD", jobID, job.Status)
	}
	return job, nil
}

// TriggerProcessing hands an uploaded job to the pipeline: ZIP uploads gain a
// ZipMaster and a zip-queue message, direct uploads gain a FileMaster and a
// file-queue message. Both are sent only after the owning transaction
// commits.
func (o *Orchestrator) TriggerProcessing(ctx context.Context, jobID string) (*common.ProcessingJob, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case common.JobPendingUpload, common.JobUploadComplete:
	default:
		return nil, common.NewValidationError("job %s is %s, cannot start processing", jobID, job.Status)
	}

	size, err := o.objects.Stat(ctx, job.FileLocation)
	if err != nil {
		return nil, common.NewValidationError("upload not found for job %s", jobID)
	}

	if common.Extension(job.OriginalFilename) == "zip" {
		err = o.triggerZip(ctx, job, size)
	} else {
		err = o.triggerDirect(ctx, job, size)
	}
	if err != nil {
		return nil, err
	}
	return o.store.GetJob(ctx, jobID)
}

func (o *Orchestrator) triggerZip(ctx context.Context, job *common.ProcessingJob, size int64) error {
	z := &common.ZipMaster{
		ProcessingJobID:  job.ID,
		GxBucketID:       job.GxBucketID,
		Status:           common.ZipQueuedForExtraction,
		OriginalFilePath: job.FileLocation,
		OriginalFileName: job.OriginalFilename,
		FileSize:         size,
	}
	return db.RunInTx(ctx, o.pool, func(ctx context.Context, tx *db.Tx) error {
		st := o.store.WithTx(tx)
		if err := st.InsertZipMaster(ctx, z); err != nil {
			return err
		}
		moved, err := st.TransitionJob(ctx, job.ID,
			[]common.JobStatus{common.JobPendingUpload, common.JobUploadComplete},
			common.JobQueued, "QUEUED_FOR_EXTRACTION")
		if err != nil {
			return err
		}
		if !moved {
			return common.NewValidationError("job %s was started concurrently", job.ID)
		}
		tx.AfterCommit(func() {
			dedupID := fmt.Sprintf("zip-master-%d-%s", z.ID, uuid.NewString())
			if err := o.zipQ.Send(context.Background(), job.GroupKey(), dedupID,
				queue.ZipMessage{ZipMasterID: z.ID}); err != nil {
				log.WithError(err).WithField("jobId", job.ID).Error("enqueueing zip message failed")
				if ferr := o.store.FailJob(context.Background(), job.ID, "enqueue failed: "+err.Error()); ferr != nil {
					log.WithError(ferr).WithField("jobId", job.ID).Error("marking job FAILED failed")
				}
			}
		})
		return nil
	})
}

func (o *Orchestrator) triggerDirect(ctx context.Context, job *common.ProcessingJob, size int64) error {
	hash, err := o.hashObject(ctx, job.FileLocation)
	if err != nil {
		return err
	}
	fm := &common.FileMaster{
		ProcessingJobID: job.ID,
		GxBucketID:      job.GxBucketID,
		FileLocation:    job.FileLocation,
		FileName:        job.OriginalFilename,
		FileSize:        size,
		Extension:       common.Extension(job.OriginalFilename),
		FileHash:        hash,
		Status:          common.FileQueued,
		SourceType:      common.SourceUploaded,
		Depth:           0,
	}

	err = db.RunInTx(ctx, o.pool, func(ctx context.Context, tx *db.Tx) error {
		st := o.store.WithTx(tx)
		if err := st.InsertFileMaster(ctx, fm); err != nil {
			return err
		}
		moved, err := st.TransitionJob(ctx, job.ID,
			[]common.JobStatus{common.JobPendingUpload, common.JobUploadComplete},
			common.JobQueued, "QUEUED_FOR_PROCESSING")
		if err != nil {
			return err
		}
		if !moved {
			return common.NewValidationError("job %s was started concurrently", job.ID)
		}
		tx.AfterCommit(func() {
			dedupID := fm.GroupKey() + "-" + fm.FileHash
			if err := o.fileQ.Send(context.Background(), fm.GroupKey(), dedupID,
				queue.FileMessage{FileMasterID: fm.ID}); err != nil {
				log.WithError(err).WithField("jobId", job.ID).Error("enqueueing file message failed")
				if ferr := o.store.FailFileMaster(context.Background(), fm.ID, "enqueue failed: "+err.Error()); ferr != nil {
					log.WithError(ferr).WithField("fileMasterId", fm.ID).Error("marking file FAILED failed")
				}
			}
		})
		return nil
	})
	if err == nil {
		return nil
	}
	if !db.IsUniqueViolation(err) {
		return err
	}
	return o.registerDuplicateUpload(ctx, job, fm)
}

// registerDuplicateUpload settles a direct upload whose content is already
// live within its group: the file lands as a terminal DUPLICATE and the
// reconciler completes the job on its next pass.
func (o *Orchestrator) registerDuplicateUpload(ctx context.Context, job *common.ProcessingJob, fm *common.FileMaster) error {
	holder, err := o.store.FindDedupHolder(ctx, fm.GroupKey(), fm.FileHash)
	if err != nil {
		return errors.Wrapf(err, "resolving duplicate of %s", fm.FileName)
	}
	fm.ID = 0
	fm.Status = common.FileDuplicate
	fm.DuplicateOfFileID = &holder
	return db.RunInTx(ctx, o.pool, func(ctx context.Context, tx *db.Tx) error {
		st := o.store.WithTx(tx)
		if err := st.InsertFileMaster(ctx, fm); err != nil {
			return err
		}
		_, err := st.TransitionJob(ctx, job.ID,
			[]common.JobStatus{common.JobPendingUpload, common.JobUploadComplete},
			common.JobInProgress, "FILE_PROCESSING")
		return err
	})
}

func (o *Orchestrator) hashObject(ctx context.Context, key string) (string, error) {
	src, err := o.objects.GetStream(ctx, key)
	if err != nil {
		return "", err
	}
	defer src.Close()
	h := sha256.New()
	if _, err := io.Copy(h, src); err != nil {
		return "", errors.Wrapf(err, "hashing %s", key)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CreateBucket registers a new GX bucket and returns its id.
func (o *Orchestrator) CreateBucket(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", common.NewValidationError("bucket name is required")
	}
	return o.gx.CreateBucket(ctx, name)
}

// Job returns the current job state.
func (o *Orchestrator) Job(ctx context.Context, jobID string) (*common.ProcessingJob, error) {
	return o.store.GetJob(ctx, jobID)
}

// Documents returns the per-document status rows for a job.
func (o *Orchestrator) Documents(ctx context.Context, jobID string) ([]*common.DocumentRow, error) {
	return o.store.ListDocuments(ctx, jobID)
}
