package storage

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// putter is the subset of Service the uploader needs; tests substitute a fake.
type putter interface {
	Put(ctx context.Context, key string, r io.Reader, length int64) error
}

// UploadRequest is one deferred object-store upload with its callbacks. The
// callbacks carry the follow-on side effects: OnSuccess typically sends the
// per-file queue message, OnFailure flips the row to FAILED.
type UploadRequest struct {
	Key       string
	Body      []byte
	OnSuccess func()
	OnFailure func(err error)
}

// Uploader dispatches deferred uploads on a bounded worker pool. Requests are
// only ever enqueued from after-commit hooks, so an upload can never refer to
// a row that was rolled back.
type Uploader struct {
	svc     putter
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	timeout time.Duration
}

func NewUploader(svc putter, workers int) *Uploader {
	if workers <= 0 {
		workers = 1
	}
	return &Uploader{
		svc:     svc,
		sem:     semaphore.NewWeighted(int64(workers)),
		timeout: 15 * time.Minute,
	}
}

// Schedule runs req on the pool. It blocks only while the pool is saturated,
// which back-pressures extraction instead of buffering unbounded file bytes.
func (u *Uploader) Schedule(req UploadRequest) {
	if err := u.sem.Acquire(context.Background(), 1); err != nil {
		req.OnFailure(err)
		return
	}
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		defer u.sem.Release(1)

		ctx, cancel := context.WithTimeout(context.Background(), u.timeout)
		defer cancel()

		err := u.svc.Put(ctx, req.Key, bytes.NewReader(req.Body), int64(len(req.Body)))
		if err != nil {
			log.WithError(err).WithField("key", req.Key).Error("deferred upload failed")
			if req.OnFailure != nil {
				req.OnFailure(err)
			}
			return
		}
		log.WithFields(log.Fields{"key": req.Key, "bytes": len(req.Body)}).Debug("deferred upload done")
		if req.OnSuccess != nil {
			req.OnSuccess()
		}
	}()
}

// Drain waits for all in-flight uploads; used on shutdown.
func (u *Uploader) Drain() {
	u.wg.Wait()
}
