package common

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOfClassified(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(NewValidationError("bad input")))
	assert.Equal(t, KindFileProtected, KindOf(NewFileProtectedError("locked")))
	assert.Equal(t, KindMalformedContent, KindOf(NewMalformedContentError("corrupt", nil)))
	assert.Equal(t, KindTransientIO, KindOf(NewTransientIOError("disk", nil)))
	assert.Equal(t, KindTransientExternal, KindOf(NewTransientExternalError("tool", nil)))
}

func TestKindOfDefaultsToTransient(t *testing.T) {
	assert.Equal(t, KindTransientIO, KindOf(errors.New("who knows")))
	assert.False(t, IsTerminal(errors.New("who knows")))
}

func TestKindOfUnwrapsChains(t *testing.T) {
	err := errors.Wrap(NewFileProtectedError("locked"), "while inspecting")
	assert.Equal(t, KindFileProtected, KindOf(err))
	assert.True(t, IsTerminal(err))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(NewValidationError("x")))
	assert.True(t, IsTerminal(NewMalformedContentError("x", nil)))
	assert.False(t, IsTerminal(NewTransientIOError("x", nil)))
	assert.False(t, IsTerminal(NewTransientExternalError("x", nil)))
}

func TestReason(t *testing.T) {
	assert.Equal(t, "file is password protected", Reason(NewFileProtectedError("file is password protected")))
	assert.Equal(t, "plain failure", Reason(errors.New("plain failure")))
	wrapped := errors.Wrap(NewValidationError("bad name"), "outer")
	assert.Equal(t, "bad name", Reason(wrapped))
}
