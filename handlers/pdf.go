package handlers

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/docyard/docyard/common"
	"github.com/docyard/docyard/runner"
)

// stderr fragments qpdf emits for password-protected input.
var encryptedMarkers = []string{
	"file is encrypted",
	"invalid password",
	"requires a password for access",
}

// PdfHandler validates PDFs and bounds them: an oversized or over-long PDF is
// split into page-range parts, each part (or the whole file) is optionally
// optimized, and a PDF already within bounds that needs no rewrite yields no
// items at all so the original bytes stay the artifact.
type PdfHandler struct {
	run         runner.Runner
	opt         Optimizer
	maxFileSize int64
	maxPages    int
	timeout     time.Duration
	tempDir     string
}

func NewPdfHandler(cfg *common.Config, run runner.Runner, opt Optimizer) *PdfHandler {
	return &PdfHandler{
		run:         run,
		opt:         opt,
		maxFileSize: cfg.Pdf.MaxFileSize,
		maxPages:    cfg.Pdf.MaxPages,
		timeout:     time.Duration(cfg.Pdf.Qpdf.OptimizationTimeoutMinutes) * time.Minute,
		tempDir:     cfg.ZipHandler.TempDir,
	}
}

func (h *PdfHandler) Supports(ext string) bool { return ext == "pdf" }

func (h *PdfHandler) Handle(ctx context.Context, src io.ReaderAt, size int64, fm *common.FileMaster) ([]ExtractedFileItem, error) {
	workDir, err := os.MkdirTemp(h.tempDir, "pdf-*")
	if err != nil {
		return nil, common.NewTransientIOError("creating work dir", err)
	}
	defer os.RemoveAll(workDir)

	inputPath := filepath.Join(workDir, common.SanitizeFilename(fm.FileName))
	if err := writeFileFrom(inputPath, src, size); err != nil {
		return nil, common.NewTransientIOError("staging input file", err)
	}

	pages, err := h.pageCount(ctx, inputPath)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"file": fm.FileName, "pages": pages, "bytes": size}).
		Debug("pdf inspected")

	needSplit := (h.maxPages > 0 && pages > h.maxPages) ||
		(h.maxFileSize > 0 && size > h.maxFileSize)
	if !needSplit {
		if h.opt == nil || !optimizeInPlace(ctx, h.opt, inputPath) {
			// Already within bounds and unchanged; the original upload is the
			// final artifact.
			return nil, nil
		}
		data, err := os.ReadFile(inputPath)
		if err != nil {
			return nil, common.NewTransientIOError("reading optimized pdf", err)
		}
		return []ExtractedFileItem{{Name: fm.FileName, Bytes: data}}, nil
	}
	return h.split(ctx, workDir, inputPath, fm.FileName, pages, size)
}

// pageCount asks qpdf for the page total. Encrypted input maps to a
// file-protected error, any other qpdf complaint to malformed content.
func (h *PdfHandler) pageCount(ctx context.Context, path string) (int, error) {
	res, err := h.run.Run(ctx, "qpdf-npages", "qpdf", []string{"--show-npages", path}, h.timeout)
	if err != nil {
		return 0, common.NewTransientExternalError("inspecting pdf", err)
	}
	if res.ExitCode != 0 {
		stderr := strings.ToLower(res.Stderr)
		for _, marker := range encryptedMarkers {
			if strings.Contains(stderr, marker) {
				return 0, common.NewFileProtectedError("file is password protected")
			}
		}
		return 0, common.NewMalformedContentError("unreadable pdf: "+res.Stderr, nil)
	}
	pages, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if err != nil || pages <= 0 {
		return 0, common.NewMalformedContentError(fmt.Sprintf("unparsable page count %q", strings.TrimSpace(res.Stdout)), nil)
	}
	return pages, nil
}

// split cuts the PDF into sequential chunks of at most maxPages pages, named
// {base}_part{N}.pdf. Only when the size bound demands more parts than the
// page cap would produce does the chunk shrink below maxPages.
func (h *PdfHandler) split(ctx context.Context, workDir, inputPath, fileName string, pages int, size int64) ([]ExtractedFileItem, error) {
	chunk := pages
	if h.maxPages > 0 && h.maxPages < chunk {
		chunk = h.maxPages
	}
	if h.maxFileSize > 0 {
		if bySize := int(ceilDiv64(size, h.maxFileSize)); bySize > ceilDiv(pages, chunk) {
			chunk = ceilDiv(pages, bySize)
		}
	}
	if chunk < 1 {
		chunk = 1
	}

	base := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	var items []ExtractedFileItem
	for n, start := 1, 1; start <= pages; n, start = n+1, start+chunk {
		end := start + chunk - 1
		if end > pages {
			end = pages
		}
		partName := fmt.Sprintf("%s_part%d.pdf", base, n)
		partPath := filepath.Join(workDir, fmt.Sprintf("part%d.pdf", n))
		args := []string{inputPath, "--pages", ".", fmt.Sprintf("%d-%d", start, end), "--", partPath}
		res, err := h.run.Run(ctx, "qpdf-split", "qpdf", args, h.timeout)
		if err != nil {
			return nil, common.NewTransientExternalError("splitting pdf", err)
		}
		if res.ExitCode != 0 {
			return nil, common.NewMalformedContentError("pdf split failed: "+res.Stderr, nil)
		}
		if h.opt != nil {
			optimizeInPlace(ctx, h.opt, partPath)
		}
		data, err := os.ReadFile(partPath)
		if err != nil {
			return nil, common.NewTransientIOError("reading pdf part", err)
		}
		if len(data) == 0 {
			return nil, common.NewMalformedContentError(fmt.Sprintf("pdf split produced empty part %d", n), nil)
		}
		items = append(items, ExtractedFileItem{Name: partName, Bytes: data})
	}
	log.WithFields(log.Fields{"file": fileName, "parts": len(items)}).Info("pdf split into parts")
	return items, nil
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

func ceilDiv64(a, b int64) int64 { return (a + b - 1) / b }
