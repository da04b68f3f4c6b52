package handlers

import (
	"archive/zip"
	"context"
	"io"
	"path"
	"strings"

	"github.com/docyard/docyard/common"
)

// ZipHandler unpacks archives nested inside another upload (the top-level
// ZIP of a bulk job is handled by the zip consumer, not here). Each entry
// comes back as an ExtractedFileItem for the pipeline to recurse on.
type ZipHandler struct {
	maxEntrySize int64
	maxEntries   int
}

func NewZipHandler(cfg *common.Config) *ZipHandler {
	return &ZipHandler{
		maxEntrySize: cfg.ZipHandler.MaxEntrySize,
		maxEntries:   cfg.ZipHandler.MaxEntries,
	}
}

func (h *ZipHandler) Supports(ext string) bool { return ext == "zip" }

func (h *ZipHandler) Handle(ctx context.Context, src io.ReaderAt, size int64, fm *common.FileMaster) ([]ExtractedFileItem, error) {
	zr, err := zip.NewReader(src, size)
	if err != nil {
		return nil, common.NewMalformedContentError("invalid ZIP structure", err)
	}
	var items []ExtractedFileItem
	for _, entry := range zr.File {
		if ctx.Err() != nil {
			return nil, common.NewTransientIOError("cancelled while extracting", ctx.Err())
		}
		if entry.FileInfo().IsDir() {
			continue
		}
		name, err := ValidateEntryName(entry.Name)
		if err != nil {
			// Nested archives silently drop invalid entries; the top-level
			// consumer records them as IGNORED instead.
			continue
		}
		if h.maxEntries > 0 && len(items) >= h.maxEntries {
			return nil, common.NewMalformedContentError("archive exceeds entry limit", nil)
		}
		if h.maxEntrySize > 0 && int64(entry.UncompressedSize64) > h.maxEntrySize {
			return nil, common.NewMalformedContentError("archive entry exceeds size limit", nil)
		}
		rc, err := entry.Open()
		if err != nil {
			return nil, common.NewMalformedContentError("unreadable ZIP entry "+entry.Name, err)
		}
		var r io.Reader = rc
		if h.maxEntrySize > 0 {
			r = io.LimitReader(rc, h.maxEntrySize+1)
		}
		data, err := io.ReadAll(r)
		rc.Close()
		if err != nil {
			return nil, common.NewTransientIOError("reading ZIP entry "+entry.Name, err)
		}
		if h.maxEntrySize > 0 && int64(len(data)) > h.maxEntrySize {
			return nil, common.NewMalformedContentError("archive entry exceeds size limit", nil)
		}
		items = append(items, ExtractedFileItem{Name: name, Bytes: data})
	}
	sortItems(items)
	return items, nil
}

// ValidateEntryName normalises and validates an archive entry name. It
// rejects empty names, dot-files and anything that escapes the archive root
// after normalisation, and returns the bare file name.
func ValidateEntryName(raw string) (string, error) {
	cleaned := path.Clean(strings.ReplaceAll(raw, `\`, "/"))
	if cleaned == "." || cleaned == "" {
		return "", common.NewValidationError("empty entry name")
	}
	if strings.HasPrefix(cleaned, "..") || strings.HasPrefix(cleaned, "/") {
		return "", common.NewValidationError("path traversal in entry name %q", raw)
	}
	base := path.Base(cleaned)
	if base == "" || base == "." {
		return "", common.NewValidationError("empty entry name")
	}
	if strings.HasPrefix(base, ".") {
		return "", common.NewValidationError("hidden file %q", base)
	}
	return base, nil
}
