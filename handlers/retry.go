package handlers

import (
	"context"
	"io"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/docyard/docyard/common"
)

// WithRetry decorates h with an attempts/delay policy. Only transient
// failures are retried; validation, file-protected and malformed-content
// errors abort immediately.
func WithRetry(h Handler, cfg common.RetryConfig) Handler {
	if cfg.Attempts <= 1 {
		return h
	}
	return &retryHandler{inner: h, cfg: cfg}
}

type retryHandler struct {
	inner Handler
	cfg   common.RetryConfig
}

func (r *retryHandler) Supports(ext string) bool { return r.inner.Supports(ext) }

func (r *retryHandler) Handle(ctx context.Context, src io.ReaderAt, size int64, fm *common.FileMaster) ([]ExtractedFileItem, error) {
	var items []ExtractedFileItem
	attempt := 0
	op := func() error {
		attempt++
		var err error
		items, err = r.inner.Handle(ctx, src, size, fm)
		if err == nil {
			return nil
		}
		if common.IsTerminal(err) {
			return backoff.Permanent(err)
		}
		log.WithFields(log.Fields{
			"file":    fm.FileName,
			"attempt": attempt,
			"error":   err,
		}).Warn("handler attempt failed; retrying")
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.cfg.Delay()), uint64(r.cfg.Attempts-1)),
		ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return items, nil
}
