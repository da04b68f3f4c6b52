// Package runner executes external tools (soffice, gs, qpdf, wkhtmltopdf)
// with bounded output capture and a hard wall-clock timeout.
package runner

import (
	"context"
	"os/exec"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// maxCaptureBytes bounds each of stdout/stderr; tools occasionally dump the
// whole input on error and the capture must not balloon with it.
const maxCaptureBytes = 256 << 10

// Result is the outcome of one subprocess invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner starts subprocesses. The interface exists so handlers can be tested
// against a fake without any binaries installed.
type Runner interface {
	Run(ctx context.Context, label, bin string, args []string, timeout time.Duration) (Result, error)
}

// ErrTimeout reports a forcibly killed subprocess.
var ErrTimeout = errors.New("process timed out")

type execRunner struct{}

// New returns the os/exec backed Runner.
func New() Runner { return execRunner{} }

// cappedBuffer keeps the first maxCaptureBytes and drops the rest, so a
// misbehaving tool cannot exhaust memory through its output streams.
type cappedBuffer struct {
	buf       []byte
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := maxCaptureBytes - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
			b.truncated = true
		} else {
			b.buf = append(b.buf, p...)
		}
	} else {
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return string(b.buf) + "\n[output truncated]"
	}
	return string(b.buf)
}

func (execRunner) Run(ctx context.Context, label, bin string, args []string, timeout time.Duration) (Result, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, bin, args...)
	var stdout, stderr cappedBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Stdin = nil

	started := time.Now()
	err := cmd.Run()
	elapsed := time.Since(started)

	res := Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	entry := log.WithFields(log.Fields{
		"label":    label,
		"bin":      bin,
		"exitCode": res.ExitCode,
		"elapsed":  elapsed.Round(time.Millisecond),
	})

	if runCtx.Err() == context.DeadlineExceeded {
		entry.Warn("process killed on timeout")
		return res, errors.Wrapf(ErrTimeout, "%s (%s after %s)", label, bin, timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Non-zero exit is a normal outcome; callers classify it from
			// the exit code and stderr patterns.
			entry.Debug("process exited non-zero")
			return res, nil
		}
		return res, errors.Wrapf(err, "starting %s for %s", bin, label)
	}
	entry.Debug("process completed")
	return res, nil
}
