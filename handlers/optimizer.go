package handlers

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/docyard/docyard/common"
	"github.com/docyard/docyard/runner"
)

// Optimizer rewrites a PDF at inPath into outPath. Whether the rewrite is
// kept is decided by optimizeInPlace, not the optimizer itself.
type Optimizer interface {
	Name() string
	Optimize(ctx context.Context, inPath, outPath string) error
}

// NewOptimizer builds the optimizer selected by pdf.optimizerStrategy, or nil
// when optimization is disabled.
func NewOptimizer(cfg *common.Config, run runner.Runner) Optimizer {
	switch cfg.Pdf.OptimizerStrategy {
	case "ghostscript":
		return &ghostscriptOptimizer{
			run:     run,
			preset:  cfg.Pdf.Ghostscript.Preset,
			retry:   cfg.Pdf.Ghostscript.Retry,
			timeout: time.Duration(cfg.Pdf.Ghostscript.OptimizationTimeoutMinutes) * time.Minute,
		}
	case "qpdf":
		return &qpdfOptimizer{
			run:     run,
			options: cfg.Pdf.Qpdf.OptimizerOptions,
			retry:   cfg.Pdf.Qpdf.Retry,
			timeout: time.Duration(cfg.Pdf.Qpdf.OptimizationTimeoutMinutes) * time.Minute,
		}
	default:
		return nil
	}
}

type ghostscriptOptimizer struct {
	run     runner.Runner
	preset  string
	retry   common.RetryConfig
	timeout time.Duration
}

func (g *ghostscriptOptimizer) Name() string { return "ghostscript" }

func (g *ghostscriptOptimizer) Optimize(ctx context.Context, inPath, outPath string) error {
	args := []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.4",
		"-dPDFSETTINGS=" + g.preset,
		"-dNOPAUSE", "-dQUIET", "-dBATCH",
		"-sOutputFile=" + outPath,
		inPath,
	}
	res, err := g.run.Run(ctx, "gs-optimize", "gs", args, g.timeout)
	if err != nil {
		return common.NewTransientExternalError("ghostscript optimization", err)
	}
	if res.ExitCode != 0 {
		return common.NewTransientExternalError("ghostscript exited: "+res.Stderr, nil)
	}
	return nil
}

type qpdfOptimizer struct {
	run     runner.Runner
	options []string
	retry   common.RetryConfig
	timeout time.Duration
}

func (q *qpdfOptimizer) Name() string { return "qpdf" }

func (q *qpdfOptimizer) Optimize(ctx context.Context, inPath, outPath string) error {
	args := append([]string{inPath}, q.options...)
	args = append(args, outPath)
	res, err := q.run.Run(ctx, "qpdf-optimize", "qpdf", args, q.timeout)
	if err != nil {
		return common.NewTransientExternalError("qpdf optimization", err)
	}
	if res.ExitCode != 0 {
		return common.NewTransientExternalError("qpdf exited: "+res.Stderr, nil)
	}
	return nil
}

func retryOf(opt Optimizer) common.RetryConfig {
	switch o := opt.(type) {
	case *ghostscriptOptimizer:
		return o.retry
	case *qpdfOptimizer:
		return o.retry
	default:
		return common.RetryConfig{Attempts: 1}
	}
}

// optimizeInPlace runs opt against path and replaces the file only when the
// result is non-empty and strictly smaller than the input. Optimization is
// best effort: on failure or a non-improving result the original stays and
// the function reports false.
func optimizeInPlace(ctx context.Context, opt Optimizer, path string) bool {
	in, err := os.Stat(path)
	if err != nil || in.Size() == 0 {
		return false
	}
	outPath := path + ".opt"
	defer os.Remove(outPath)

	retry := retryOf(opt)
	attempts := retry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		err = opt.Optimize(ctx, path, outPath)
		if err == nil || common.IsTerminal(err) || attempt >= attempts || ctx.Err() != nil {
			break
		}
		log.WithFields(log.Fields{
			"optimizer": opt.Name(),
			"attempt":   attempt,
			"error":     err,
		}).Warn("optimization attempt failed; retrying")
		time.Sleep(retry.Delay())
	}
	if err != nil {
		log.WithFields(log.Fields{"optimizer": opt.Name(), "error": err}).
			Warn("optimization failed; keeping original")
		return false
	}

	out, err := os.Stat(outPath)
	if err != nil || out.Size() == 0 || out.Size() >= in.Size() {
		return false
	}
	if err := os.Rename(outPath, path); err != nil {
		log.WithError(err).Warn("could not swap optimized file; keeping original")
		return false
	}
	return true
}
