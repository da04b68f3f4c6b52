package handlers

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docyard/docyard/common"
	"github.com/docyard/docyard/runner"
)

func pdfHandlerForTest(t *testing.T, run runner.Runner, opt Optimizer) *PdfHandler {
	cfg := common.DefaultConfig()
	cfg.ZipHandler.TempDir = t.TempDir()
	cfg.Pdf.MaxPages = 10
	cfg.Pdf.MaxFileSize = 1 << 20
	return NewPdfHandler(cfg, run, opt)
}

func TestPdfHandlerWithinBoundsNoItems(t *testing.T) {
	run := &fakeRunner{script: func(bin string, args []string) (runner.Result, error) {
		require.Equal(t, "qpdf", bin)
		require.Equal(t, "--show-npages", args[0])
		return runner.Result{ExitCode: 0, Stdout: "4\n"}, nil
	}}
	h := pdfHandlerForTest(t, run, nil)

	data := []byte("%PDF-1.4 small")
	items, err := h.Handle(context.Background(), bytes.NewReader(data), int64(len(data)),
		&common.FileMaster{FileName: "doc.pdf"})
	require.NoError(t, err)
	assert.Empty(t, items, "a conforming PDF passes through untouched")
	assert.Equal(t, 1, run.callCount())
}

func TestPdfHandlerEncrypted(t *testing.T) {
	run := &fakeRunner{script: func(string, []string) (runner.Result, error) {
		return runner.Result{ExitCode: 2, Stderr: "doc.pdf: file is encrypted; requires a password for access"}, nil
	}}
	h := pdfHandlerForTest(t, run, nil)

	data := []byte("%PDF-1.4")
	_, err := h.Handle(context.Background(), bytes.NewReader(data), int64(len(data)),
		&common.FileMaster{FileName: "doc.pdf"})
	require.Error(t, err)
	assert.Equal(t, common.KindFileProtected, common.KindOf(err))
	assert.Equal(t, "file is password protected", common.Reason(err))
}

func TestPdfHandlerMalformed(t *testing.T) {
	run := &fakeRunner{script: func(string, []string) (runner.Result, error) {
		return runner.Result{ExitCode: 2, Stderr: "damaged zlib stream"}, nil
	}}
	h := pdfHandlerForTest(t, run, nil)

	data := []byte("junk")
	_, err := h.Handle(context.Background(), bytes.NewReader(data), int64(len(data)),
		&common.FileMaster{FileName: "doc.pdf"})
	require.Error(t, err)
	assert.Equal(t, common.KindMalformedContent, common.KindOf(err))
}

func TestPdfHandlerSplitsByPages(t *testing.T) {
	// 25 pages with a 10-page cap: parts 1-10, 11-20, 21-25.
	run := &fakeRunner{script: func(bin string, args []string) (runner.Result, error) {
		if args[0] == "--show-npages" {
			return runner.Result{ExitCode: 0, Stdout: "25"}, nil
		}
		require.Equal(t, "--pages", args[1])
		out := args[len(args)-1]
		require.NoError(t, os.WriteFile(out, []byte("part:"+args[3]), 0o600))
		return runner.Result{ExitCode: 0}, nil
	}}
	h := pdfHandlerForTest(t, run, nil)

	data := []byte("%PDF-1.4 big")
	items, err := h.Handle(context.Background(), bytes.NewReader(data), int64(len(data)),
		&common.FileMaster{FileName: "report.v2.pdf"})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "report.v2_part1.pdf", items[0].Name)
	assert.Equal(t, "report.v2_part2.pdf", items[1].Name)
	assert.Equal(t, "report.v2_part3.pdf", items[2].Name)
	assert.Equal(t, []byte("part:1-10"), items[0].Bytes)
	assert.Equal(t, []byte("part:11-20"), items[1].Bytes)
	assert.Equal(t, []byte("part:21-25"), items[2].Bytes)
}

func TestPdfHandlerSplitsFullChunksThenRemainder(t *testing.T) {
	// 120 pages with a 50-page cap: full chunks first, 1-50, 51-100, 101-120.
	var ranges []string
	run := &fakeRunner{script: func(bin string, args []string) (runner.Result, error) {
		if args[0] == "--show-npages" {
			return runner.Result{ExitCode: 0, Stdout: "120"}, nil
		}
		ranges = append(ranges, args[3])
		out := args[len(args)-1]
		require.NoError(t, os.WriteFile(out, []byte("part:"+args[3]), 0o600))
		return runner.Result{ExitCode: 0}, nil
	}}
	cfg := common.DefaultConfig()
	cfg.ZipHandler.TempDir = t.TempDir()
	cfg.Pdf.MaxPages = 50
	cfg.Pdf.MaxFileSize = 1 << 30
	h := NewPdfHandler(cfg, run, nil)

	data := []byte("%PDF-1.4 long")
	items, err := h.Handle(context.Background(), bytes.NewReader(data), int64(len(data)),
		&common.FileMaster{FileName: "manual.pdf"})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"1-50", "51-100", "101-120"}, ranges)
	assert.Equal(t, "manual_part1.pdf", items[0].Name)
	assert.Equal(t, "manual_part2.pdf", items[1].Name)
	assert.Equal(t, "manual_part3.pdf", items[2].Name)
}

func TestPdfHandlerSizeSplitShrinksChunk(t *testing.T) {
	// 10 pages fit the page cap, but the byte size demands four parts; the
	// chunk shrinks to 3 pages: 1-3, 4-6, 7-9, 10-10.
	var ranges []string
	run := &fakeRunner{script: func(bin string, args []string) (runner.Result, error) {
		if args[0] == "--show-npages" {
			return runner.Result{ExitCode: 0, Stdout: "10"}, nil
		}
		ranges = append(ranges, args[3])
		out := args[len(args)-1]
		require.NoError(t, os.WriteFile(out, []byte("p"), 0o600))
		return runner.Result{ExitCode: 0}, nil
	}}
	cfg := common.DefaultConfig()
	cfg.ZipHandler.TempDir = t.TempDir()
	cfg.Pdf.MaxPages = 50
	cfg.Pdf.MaxFileSize = 16
	h := NewPdfHandler(cfg, run, nil)

	data := bytes.Repeat([]byte("x"), 64)
	items, err := h.Handle(context.Background(), bytes.NewReader(data), int64(len(data)),
		&common.FileMaster{FileName: "scan.pdf"})
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, []string{"1-3", "4-6", "7-9", "10-10"}, ranges)
}

func TestPdfHandlerSplitFailure(t *testing.T) {
	run := &fakeRunner{script: func(bin string, args []string) (runner.Result, error) {
		if args[0] == "--show-npages" {
			return runner.Result{ExitCode: 0, Stdout: "15"}, nil
		}
		return runner.Result{ExitCode: 2, Stderr: "operation failed"}, nil
	}}
	h := pdfHandlerForTest(t, run, nil)

	data := []byte("%PDF-1.4")
	_, err := h.Handle(context.Background(), bytes.NewReader(data), int64(len(data)),
		&common.FileMaster{FileName: "doc.pdf"})
	require.Error(t, err)
	assert.Equal(t, common.KindMalformedContent, common.KindOf(err))
}

func TestPdfHandlerOptimizedInPlace(t *testing.T) {
	run := &fakeRunner{script: func(string, []string) (runner.Result, error) {
		return runner.Result{ExitCode: 0, Stdout: "3"}, nil
	}}
	h := pdfHandlerForTest(t, run, shrinkOptimizer{})

	data := []byte(strings.Repeat("x", 100))
	items, err := h.Handle(context.Background(), bytes.NewReader(data), int64(len(data)),
		&common.FileMaster{FileName: "doc.pdf"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "doc.pdf", items[0].Name)
	assert.Equal(t, []byte("tiny"), items[0].Bytes)
}

func TestCeilDiv(t *testing.T) {
	assert.Equal(t, 3, ceilDiv(25, 10))
	assert.Equal(t, 1, ceilDiv(10, 10))
	assert.Equal(t, 2, ceilDiv(11, 10))
	assert.Equal(t, int64(2), ceilDiv64(3<<20, 2<<20))
}

// shrinkOptimizer always produces a 4-byte file.
type shrinkOptimizer struct{}

func (shrinkOptimizer) Name() string { return "shrink" }

func (shrinkOptimizer) Optimize(_ context.Context, inPath, outPath string) error {
	if _, err := os.Stat(inPath); err != nil {
		return fmt.Errorf("missing input: %w", err)
	}
	return os.WriteFile(outPath, []byte("tiny"), 0o600)
}
