package handlers

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/docyard/docyard/common"
	"github.com/docyard/docyard/runner"
)

// OfficeHandler converts office documents to PDF through the office suite in
// headless mode. Each conversion runs in a private temp dir with an isolated
// user profile, which is what lets concurrent conversions coexist on one
// host.
type OfficeHandler struct {
	run        runner.Runner
	binary     string
	extensions map[string]struct{}
	timeout    time.Duration
	tempDir    string
}

func NewOfficeHandler(cfg *common.Config, run runner.Runner) *OfficeHandler {
	exts := make(map[string]struct{}, len(cfg.LibreOffice.ConvertibleExtensions))
	for _, e := range cfg.LibreOffice.ConvertibleExtensions {
		exts[strings.ToLower(e)] = struct{}{}
	}
	return &OfficeHandler{
		run:        run,
		binary:     cfg.LibreOffice.Binary,
		extensions: exts,
		timeout:    time.Duration(cfg.LibreOffice.TimeoutMinutes) * time.Minute,
		tempDir:    cfg.ZipHandler.TempDir,
	}
}

func (h *OfficeHandler) Supports(ext string) bool {
	_, ok := h.extensions[ext]
	return ok
}

func (h *OfficeHandler) Handle(ctx context.Context, src io.ReaderAt, size int64, fm *common.FileMaster) ([]ExtractedFileItem, error) {
	workDir, err := os.MkdirTemp(h.tempDir, "office-*")
	if err != nil {
		return nil, common.NewTransientIOError("creating conversion dir", err)
	}
	defer os.RemoveAll(workDir)

	inputName := common.SanitizeFilename(fm.FileName)
	inputPath := filepath.Join(workDir, inputName)
	if err := writeFileFrom(inputPath, src, size); err != nil {
		return nil, common.NewTransientIOError("staging input file", err)
	}

	profileDir := filepath.Join(workDir, "profile")
	if err := os.Mkdir(profileDir, 0o700); err != nil {
		return nil, common.NewTransientIOError("creating profile dir", err)
	}

	args := []string{
		"--headless",
		"--norestore",
		"-env:UserInstallation=file://" + profileDir,
		"--convert-to", "pdf",
		"--outdir", workDir,
		inputPath,
	}
	res, err := h.run.Run(ctx, "office-convert:"+fm.FileName, h.binary, args, h.timeout)
	if err != nil {
		return nil, common.NewTransientExternalError("office conversion", err)
	}
	if res.ExitCode != 0 {
		return nil, common.NewTransientExternalError(
			"office conversion exited "+res.Stderr, nil)
	}

	pdfPath := filepath.Join(workDir, common.ReplaceExtension(inputName, "pdf"))
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		// The suite sometimes exits zero without producing output, e.g. on
		// documents it cannot parse.
		return nil, common.NewTransientExternalError("office conversion produced no output", err)
	}
	if len(data) == 0 {
		return nil, common.NewTransientExternalError("office conversion produced empty output", nil)
	}
	log.WithFields(log.Fields{"file": fm.FileName, "pdfBytes": len(data)}).Debug("office conversion done")
	return []ExtractedFileItem{
		{Name: common.ReplaceExtension(fm.FileName, "pdf"), Bytes: data},
	}, nil
}

func writeFileFrom(path string, src io.ReaderAt, size int64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, io.NewSectionReader(src, 0, size))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
