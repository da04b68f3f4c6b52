package common

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies a pipeline failure. Terminal kinds end the file (or
// job) immediately; transient kinds are surfaced to the queue layer so the
// message is redelivered.
type ErrorKind int

const (
	// KindValidation: user-visible input problem (bad filename, unsupported
	// extension, bulk job without a ZIP). Terminal.
	KindValidation ErrorKind = iota
	// KindFileProtected: password-protected or encrypted input. Terminal.
	KindFileProtected
	// KindMalformedContent: corrupt archive or unreadable document. Terminal.
	KindMalformedContent
	// KindTransientIO: network, disk or object-store hiccup. Retryable.
	KindTransientIO
	// KindTransientExternal: external tool or service failed in a way that
	// may succeed on a later attempt. Retryable.
	KindTransientExternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindFileProtected:
		return "file-protected"
	case KindMalformedContent:
		return "malformed-content"
	case KindTransientIO:
		return "transient-io"
	case KindTransientExternal:
		return "transient-external"
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// PipelineError carries an ErrorKind through error chains. Wrap causes with
// pkg/errors so the original context is preserved.
type PipelineError struct {
	Kind  ErrorKind
	Msg   string
	Cause error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *PipelineError) Unwrap() error { return e.Cause }

func NewValidationError(format string, args ...interface{}) error {
	return &PipelineError{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NewFileProtectedError(msg string) error {
	return &PipelineError{Kind: KindFileProtected, Msg: msg}
}

func NewMalformedContentError(msg string, cause error) error {
	return &PipelineError{Kind: KindMalformedContent, Msg: msg, Cause: cause}
}

func NewTransientIOError(msg string, cause error) error {
	return &PipelineError{Kind: KindTransientIO, Msg: msg, Cause: cause}
}

func NewTransientExternalError(msg string, cause error) error {
	return &PipelineError{Kind: KindTransientExternal, Msg: msg, Cause: cause}
}

// KindOf extracts the ErrorKind from err. Unclassified errors default to
// KindTransientIO: when in doubt, let the queue redeliver rather than
// silently burying work.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransientIO
}

// IsTerminal reports whether err must not be retried.
func IsTerminal(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindFileProtected, KindMalformedContent:
		return true
	}
	return false
}

// Reason renders the user-visible failure reason stored on the row.
func Reason(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Msg
	}
	return err.Error()
}
