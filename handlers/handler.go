// Package handlers normalizes input files into PDFs: each handler consumes
// one input type (ZIP, office document, MSG email, PDF) and returns either
// nothing (input already terminal), a single transformed PDF, or extracted
// children for the pipeline to recurse on.
package handlers

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/docyard/docyard/common"
)

// ExtractedFileItem is one output of a handler: a transformation of the
// input or a child to recurse on.
type ExtractedFileItem struct {
	Name  string
	Bytes []byte
}

// Handler is the common contract. src is positionable so a retry decorator
// can replay the input without buffering it twice.
type Handler interface {
	Supports(ext string) bool
	Handle(ctx context.Context, src io.ReaderAt, size int64, fm *common.FileMaster) ([]ExtractedFileItem, error)
}

// Registry maps a file extension to the handler that consumes it.
type Registry struct {
	handlers []Handler
}

func NewRegistry(handlers ...Handler) *Registry {
	return &Registry{handlers: handlers}
}

// Lookup returns the handler for ext, or a validation error when the
// extension is not supported by any handler.
func (r *Registry) Lookup(ext string) (Handler, error) {
	ext = strings.ToLower(ext)
	for _, h := range r.handlers {
		if h.Supports(ext) {
			return h, nil
		}
	}
	return nil, common.NewValidationError("unsupported file extension %q", ext)
}

// Supports reports whether any handler consumes ext.
func (r *Registry) Supports(ext string) bool {
	_, err := r.Lookup(ext)
	return err == nil
}

// sortItems keeps handler output deterministic regardless of archive or
// attachment iteration order.
func sortItems(items []ExtractedFileItem) {
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
}
