package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 10, cfg.Gx.MaxProcess)
	assert.Equal(t, 50, cfg.Pdf.MaxPages)
	assert.Equal(t, 3, cfg.ZipHandler.MaxDepth)
	assert.Contains(t, cfg.LibreOffice.ConvertibleExtensions, "docx")
	assert.True(t, cfg.IsConvertibleExtension("DOCX"))
	assert.False(t, cfg.IsConvertibleExtension("exe"))
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := `
db:
  dsn: postgres://file-dsn
storage:
  bucket: docs
pdf:
  maxPages: 25
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))
	t.Setenv("DOCYARD_DB_DSN", "postgres://env-dsn")
	t.Setenv("DOCYARD_GX_API_KEY", "secret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env-dsn", cfg.DB.DSN, "env overrides file")
	assert.Equal(t, "docs", cfg.Storage.Bucket)
	assert.Equal(t, 25, cfg.Pdf.MaxPages)
	assert.Equal(t, "secret", cfg.Gx.APIKey)
	assert.Equal(t, 50<<20, int(cfg.Pdf.MaxFileSize), "defaults survive partial files")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db.dsn")
	assert.Contains(t, err.Error(), "queue.zipQueueUrl")

	cfg.DB.DSN = "postgres://x"
	cfg.Storage.Endpoint = "localhost:9000"
	cfg.Storage.Bucket = "docs"
	cfg.Queue.ZipQueueURL = "https://sqs/zip.fifo"
	cfg.Queue.FileQueueURL = "https://sqs/file.fifo"
	cfg.Gx.BaseURL = "https://gx.example.com"
	assert.NoError(t, cfg.Validate())
}

func TestRetryDelay(t *testing.T) {
	r := RetryConfig{Attempts: 3, DelayMs: 250}
	assert.Equal(t, int64(250), r.Delay().Milliseconds())
}
