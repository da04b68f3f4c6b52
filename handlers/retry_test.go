package handlers

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docyard/docyard/common"
)

// flakyHandler fails a set number of times before succeeding.
type flakyHandler struct {
	failures int
	err      error
	attempts int
}

func (f *flakyHandler) Supports(ext string) bool { return true }

func (f *flakyHandler) Handle(context.Context, io.ReaderAt, int64, *common.FileMaster) ([]ExtractedFileItem, error) {
	f.attempts++
	if f.attempts <= f.failures {
		return nil, f.err
	}
	return []ExtractedFileItem{{Name: "out.pdf", Bytes: []byte("ok")}}, nil
}

func TestWithRetryPassthroughForSingleAttempt(t *testing.T) {
	inner := &flakyHandler{}
	assert.Equal(t, Handler(inner), WithRetry(inner, common.RetryConfig{Attempts: 1}))
	assert.Equal(t, Handler(inner), WithRetry(inner, common.RetryConfig{Attempts: 0}))
}

func TestWithRetryRecoversFromTransient(t *testing.T) {
	inner := &flakyHandler{failures: 2, err: common.NewTransientExternalError("flaky tool", nil)}
	h := WithRetry(inner, common.RetryConfig{Attempts: 3, DelayMs: 1})

	items, err := h.Handle(context.Background(), strings.NewReader(""), 0, &common.FileMaster{FileName: "a.docx"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 3, inner.attempts)
}

func TestWithRetryExhausted(t *testing.T) {
	inner := &flakyHandler{failures: 10, err: common.NewTransientIOError("still down", nil)}
	h := WithRetry(inner, common.RetryConfig{Attempts: 3, DelayMs: 1})

	_, err := h.Handle(context.Background(), strings.NewReader(""), 0, &common.FileMaster{FileName: "a.docx"})
	require.Error(t, err)
	assert.Equal(t, 3, inner.attempts)
	assert.Equal(t, common.KindTransientIO, common.KindOf(err))
}

func TestWithRetryStopsOnTerminal(t *testing.T) {
	inner := &flakyHandler{failures: 10, err: common.NewFileProtectedError("password protected")}
	h := WithRetry(inner, common.RetryConfig{Attempts: 5, DelayMs: 1})

	_, err := h.Handle(context.Background(), strings.NewReader(""), 0, &common.FileMaster{FileName: "a.pdf"})
	require.Error(t, err)
	assert.Equal(t, 1, inner.attempts, "terminal errors must not be retried")
	assert.Equal(t, common.KindFileProtected, common.KindOf(err))
}

func TestWithRetrySupportsDelegates(t *testing.T) {
	h := WithRetry(&flakyHandler{}, common.RetryConfig{Attempts: 2})
	assert.True(t, h.Supports("anything"))
}
