package common

import (
	"strings"
	"time"
)

// JobStatus is the lifecycle status of a ProcessingJob. Values are persisted
// verbatim, so they must never be renamed.
type JobStatus string

const (
	JobPendingUpload  JobStatus = "PENDING_UPLOAD"
	JobUploadComplete JobStatus = "UPLOAD_COMPLETE"
	JobQueued         JobStatus = "QUEUED"
	JobInProgress     JobStatus = "IN_PROGRESS"
	JobCompleted      JobStatus = "COMPLETED"
	JobFailed         JobStatus = "FAILED"
	JobTerminated     JobStatus = "TERMINATED"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobTerminated
}

// ZipStatus tracks extraction of an uploaded archive.
type ZipStatus string

const (
	ZipQueuedForExtraction ZipStatus = "QUEUED_FOR_EXTRACTION"
	ZipExtracting          ZipStatus = "EXTRACTING"
	ZipExtracted           ZipStatus = "EXTRACTED"
	ZipExtractionFailed    ZipStatus = "EXTRACTION_FAILED"
	ZipTerminated          ZipStatus = "TERMINATED"
)

// FileStatus tracks normalization of a single file.
type FileStatus string

const (
	FileQueued     FileStatus = "QUEUED"
	FileInProgress FileStatus = "IN_PROGRESS"
	FileCompleted  FileStatus = "COMPLETED"
	FileFailed     FileStatus = "FAILED"
	FileDuplicate  FileStatus = "DUPLICATE"
	FileIgnored    FileStatus = "IGNORED"
	FileTerminated FileStatus = "TERMINATED"
)

func (s FileStatus) IsTerminal() bool {
	switch s {
	case FileCompleted, FileFailed, FileDuplicate, FileIgnored, FileTerminated:
		return true
	}
	return false
}

// IsSuccess reports whether a terminal file status counts toward job
// completion rather than job failure.
func (s FileStatus) IsSuccess() bool {
	switch s {
	case FileCompleted, FileDuplicate, FileIgnored:
		return true
	}
	return false
}

// GxStatus tracks an artifact through the GX indexing service.
type GxStatus string

const (
	GxQueuedForUpload GxStatus = "QUEUED_FOR_UPLOAD"
	GxQueued          GxStatus = "QUEUED"
	GxProcessing      GxStatus = "PROCESSING"
	GxActive          GxStatus = "ACTIVE"
	GxComplete        GxStatus = "COMPLETE"
	GxSkipped         GxStatus = "SKIPPED"
	GxError           GxStatus = "ERROR"
	GxCancelled       GxStatus = "CANCELLED"
	GxTerminated      GxStatus = "TERMINATED"
)

func (s GxStatus) IsTerminal() bool {
	switch s {
	case GxComplete, GxSkipped, GxError, GxCancelled, GxTerminated:
		return true
	}
	return false
}

func (s GxStatus) IsSuccess() bool {
	return s == GxComplete || s == GxSkipped
}

// ParseGxStatus maps a raw status string returned by GX onto a GxStatus. The
// mapping is total: anything unrecognised comes back as GxError (ok=false)
// so a bad response can never wedge a row in a non-terminal state.
func ParseGxStatus(raw string) (status GxStatus, ok bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "QUEUED":
		return GxQueued, true
	case "PROCESSING", "TRAINING", "INGESTING":
		return GxProcessing, true
	case "ACTIVE":
		return GxActive, true
	case "COMPLETE", "COMPLETED", "SUCCESS":
		return GxComplete, true
	case "ERROR", "FAILED":
		return GxError, true
	case "CANCELLED", "CANCELED":
		return GxCancelled, true
	}
	return GxError, false
}

// SourceType records how a FileMaster came to exist.
type SourceType string

const (
	SourceUploaded  SourceType = "UPLOADED"
	SourceExtracted SourceType = "EXTRACTED"
)

// ProcessingJob is the unit of work the client sees: one upload, bulk or not.
type ProcessingJob struct {
	ID               string
	OriginalFilename string
	FileLocation     string
	Status           JobStatus
	CurrentStage     string
	ErrorMessage     string
	GxBucketID       *string // nil means BULK: the upload must be a ZIP
	SkipGxProcess    bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsBulk reports whether the job has no GX bucket and therefore must carry a
// ZIP whose entries are grouped per job rather than per bucket.
func (j *ProcessingJob) IsBulk() bool { return j.GxBucketID == nil }

// GroupKey is the message-group and dedup-grouping key: the GX bucket when
// one exists, otherwise a per-job bulk group.
func (j *ProcessingJob) GroupKey() string {
	if j.GxBucketID != nil {
		return *j.GxBucketID
	}
	return "bulk-" + j.ID
}

// ZipMaster is the extraction aggregate; exactly one per ZIP ProcessingJob.
type ZipMaster struct {
	ID               int64
	ProcessingJobID  string
	GxBucketID       *string
	Status           ZipStatus
	OriginalFilePath string
	OriginalFileName string
	FileSize         int64
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FileMaster is one file to normalize, uploaded directly or pulled out of an
// archive. Depth counts extraction hops from the original upload and bounds
// archive recursion.
type FileMaster struct {
	ID                int64
	ZipMasterID       *int64
	ProcessingJobID   string
	GxBucketID        *string
	DuplicateOfFileID *int64
	FileLocation      string
	FileName          string
	FileSize          int64
	Extension         string
	FileHash          string
	Status            FileStatus
	ErrorMessage      string
	SourceType        SourceType
	Depth             int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (f *FileMaster) GroupKey() string {
	if f.GxBucketID != nil {
		return *f.GxBucketID
	}
	return "bulk-" + f.ProcessingJobID
}

// GxMaster is one normalized PDF artifact bound for GX.
type GxMaster struct {
	ID                int64
	SourceFileID      int64
	GxBucketID        *string
	FileLocation      string
	ProcessedFileName string
	FileSize          int64
	Extension         string
	Status            GxStatus
	GxProcessID       *string
	ErrorMessage      string
	CreatedAt         time.Time
}

// DocumentRow is one row of the document_processing_view read model.
type DocumentRow struct {
	ProcessingJobID string
	FileName        string
	Source          string // "Ingestion" or "GroundX"
	DisplayStatus   string
	ErrorMessage    string
	UpdatedAt       time.Time
}

// Extension returns the lowercased extension of name without the dot, or ""
// when there is none.
func Extension(name string) string {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 || idx == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[idx+1:])
}

// ReplaceExtension swaps the extension of name for newExt (no dot). A name
// without one just gains it.
func ReplaceExtension(name, newExt string) string {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 {
		return name + "." + newExt
	}
	return name[:idx] + "." + newExt
}
