package common

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// RetryConfig is the attempts/delay pair applied by handler decorators.
type RetryConfig struct {
	Attempts int `yaml:"attempts"`
	DelayMs  int `yaml:"delayMs"`
}

func (r RetryConfig) Delay() time.Duration { return time.Duration(r.DelayMs) * time.Millisecond }

// ConsumerConfig bounds a queue consumer.
type ConsumerConfig struct {
	MaxConcurrentMessages int `yaml:"maxConcurrentMessages"`
	MaxMessagesPerPoll    int `yaml:"maxMessagesPerPoll"`
	PollTimeoutSeconds    int `yaml:"pollTimeoutSeconds"`
}

// Config is the full service configuration. Secrets are overridable via
// DOCYARD_* environment variables so they stay out of the file.
type Config struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`

	Storage struct {
		Endpoint  string `yaml:"endpoint"`
		Region    string `yaml:"region"`
		Bucket    string `yaml:"bucket"`
		AccessKey string `yaml:"accessKey"`
		SecretKey string `yaml:"secretKey"`
		UseSSL    bool   `yaml:"useSSL"`
		// Uploads deferred past commit run on this many workers.
		UploadWorkers int `yaml:"uploadWorkers"`
	} `yaml:"storage"`

	Queue struct {
		Region       string         `yaml:"region"`
		Endpoint     string         `yaml:"endpoint"`
		ZipQueueURL  string         `yaml:"zipQueueUrl"`
		FileQueueURL string         `yaml:"fileQueueUrl"`
		ZipConsumer  ConsumerConfig `yaml:"zipConsumer"`
		FileConsumer ConsumerConfig `yaml:"fileConsumer"`
	} `yaml:"queue"`

	Gx struct {
		BaseURL        string `yaml:"baseUrl"`
		APIKeyHeader   string `yaml:"apiKeyHeader"`
		APIKey         string `yaml:"apiKey"`
		MaxProcess     int    `yaml:"maxProcess"`
		TimeoutSeconds int    `yaml:"timeoutSeconds"`
	} `yaml:"gx"`

	Pdf struct {
		MaxFileSize       int64  `yaml:"maxFileSize"`
		MaxPages          int    `yaml:"maxPages"`
		OptimizerStrategy string `yaml:"optimizerStrategy"` // qpdf | ghostscript | none
		Ghostscript       struct {
			Preset                     string      `yaml:"preset"`
			Retry                      RetryConfig `yaml:"retry"`
			OptimizationTimeoutMinutes int         `yaml:"optimizationTimeoutMinutes"`
		} `yaml:"ghostscript"`
		Qpdf struct {
			OptimizerOptions           []string    `yaml:"optimizerOptions"`
			Retry                      RetryConfig `yaml:"retry"`
			OptimizationTimeoutMinutes int         `yaml:"optimizationTimeoutMinutes"`
		} `yaml:"qpdf"`
	} `yaml:"pdf"`

	LibreOffice struct {
		Binary                string      `yaml:"binary"`
		ConvertibleExtensions []string    `yaml:"convertibleExtensions"`
		Retry                 RetryConfig `yaml:"retry"`
		TimeoutMinutes        int         `yaml:"timeoutMinutes"`
	} `yaml:"libreoffice"`

	MsgHandler struct {
		Retry             RetryConfig `yaml:"retry"`
		WkhtmltopdfBinary string      `yaml:"wkhtmltopdfBinary"`
		RenderTimeoutSecs int         `yaml:"renderTimeoutSeconds"`
		BodyFontFile      string      `yaml:"bodyFontFile"`
	} `yaml:"msgHandler"`

	ZipHandler struct {
		ConcurrencyLimit int         `yaml:"concurrencyLimit"`
		TempDir          string      `yaml:"tempDir"`
		MaxDepth         int         `yaml:"maxDepth"`
		MaxEntrySize     int64       `yaml:"maxEntrySize"`
		MaxEntries       int         `yaml:"maxEntries"`
		Retry            RetryConfig `yaml:"retry"`
	} `yaml:"zipHandler"`

	Schedulers struct {
		GxDocUpload string `yaml:"gxDocUpload"`
		Lifecycle   string `yaml:"lifecycle"`
	} `yaml:"schedulers"`

	PresignedURLDurationMinutes int `yaml:"presignedUrlDurationMinutes"`

	Cors struct {
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"cors"`

	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`
}

// DefaultConfig returns the built-in defaults; LoadConfig overlays the file
// and environment on top of it.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = ":8080"
	cfg.Storage.UploadWorkers = 4
	cfg.Queue.ZipConsumer = ConsumerConfig{MaxConcurrentMessages: 2, MaxMessagesPerPoll: 2, PollTimeoutSeconds: 20}
	cfg.Queue.FileConsumer = ConsumerConfig{MaxConcurrentMessages: 8, MaxMessagesPerPoll: 8, PollTimeoutSeconds: 20}
	cfg.Gx.APIKeyHeader = "X-API-Key"
	cfg.Gx.MaxProcess = 10
	cfg.Gx.TimeoutSeconds = 30
	cfg.Pdf.MaxFileSize = 50 << 20
	cfg.Pdf.MaxPages = 50
	cfg.Pdf.OptimizerStrategy = "none"
	cfg.Pdf.Ghostscript.Preset = "/ebook"
	cfg.Pdf.Ghostscript.Retry = RetryConfig{Attempts: 2, DelayMs: 1000}
	cfg.Pdf.Ghostscript.OptimizationTimeoutMinutes = 5
	cfg.Pdf.Qpdf.Retry = RetryConfig{Attempts: 2, DelayMs: 1000}
	cfg.Pdf.Qpdf.OptimizationTimeoutMinutes = 5
	cfg.Pdf.Qpdf.OptimizerOptions = []string{"--object-streams=generate", "--compress-streams=y", "--recompress-flate"}
	cfg.LibreOffice.Binary = "soffice"
	cfg.LibreOffice.ConvertibleExtensions = []string{
		"doc", "docx", "ppt", "pptx", "xls", "xlsx", "wpd", "rtf", "txt", "odt", "ods", "odp",
	}
	cfg.LibreOffice.Retry = RetryConfig{Attempts: 3, DelayMs: 2000}
	cfg.LibreOffice.TimeoutMinutes = 5
	cfg.MsgHandler.Retry = RetryConfig{Attempts: 2, DelayMs: 1000}
	cfg.MsgHandler.WkhtmltopdfBinary = "wkhtmltopdf"
	cfg.MsgHandler.RenderTimeoutSecs = 60
	cfg.ZipHandler.ConcurrencyLimit = 2
	cfg.ZipHandler.TempDir = os.TempDir()
	cfg.ZipHandler.MaxDepth = 3
	cfg.ZipHandler.MaxEntrySize = 2 << 30
	cfg.ZipHandler.MaxEntries = 10000
	cfg.ZipHandler.Retry = RetryConfig{Attempts: 3, DelayMs: 1000}
	cfg.Schedulers.GxDocUpload = "*/30 * * * * *"
	cfg.Schedulers.Lifecycle = "*/60 * * * * *"
	cfg.PresignedURLDurationMinutes = 60
	cfg.Log.Level = "info"
	return cfg
}

// LoadConfig reads path (optional), then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing config %s", path)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.DB.DSN, "DOCYARD_DB_DSN")
	set(&c.Storage.Endpoint, "DOCYARD_STORAGE_ENDPOINT")
	set(&c.Storage.Region, "DOCYARD_STORAGE_REGION")
	set(&c.Storage.Bucket, "DOCYARD_STORAGE_BUCKET")
	set(&c.Storage.AccessKey, "DOCYARD_STORAGE_ACCESS_KEY")
	set(&c.Storage.SecretKey, "DOCYARD_STORAGE_SECRET_KEY")
	set(&c.Queue.Region, "DOCYARD_QUEUE_REGION")
	set(&c.Queue.Endpoint, "DOCYARD_QUEUE_ENDPOINT")
	set(&c.Queue.ZipQueueURL, "DOCYARD_ZIP_QUEUE_URL")
	set(&c.Queue.FileQueueURL, "DOCYARD_FILE_QUEUE_URL")
	set(&c.Gx.BaseURL, "DOCYARD_GX_BASE_URL")
	set(&c.Gx.APIKey, "DOCYARD_GX_API_KEY")
	if v, ok := os.LookupEnv("DOCYARD_STORAGE_USE_SSL"); ok {
		c.Storage.UseSSL = strings.EqualFold(v, "true") || v == "1"
	}
}

// Validate checks the settings without which the service cannot start.
func (c *Config) Validate() error {
	var missing []string
	if c.DB.DSN == "" {
		missing = append(missing, "db.dsn")
	}
	if c.Storage.Endpoint == "" {
		missing = append(missing, "storage.endpoint")
	}
	if c.Storage.Bucket == "" {
		missing = append(missing, "storage.bucket")
	}
	if c.Queue.ZipQueueURL == "" {
		missing = append(missing, "queue.zipQueueUrl")
	}
	if c.Queue.FileQueueURL == "" {
		missing = append(missing, "queue.fileQueueUrl")
	}
	if c.Gx.BaseURL == "" {
		missing = append(missing, "gx.baseUrl")
	}
	if len(missing) > 0 {
		return errors.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return nil
}

// PresignTTL is the lifetime of presigned upload/download URLs.
func (c *Config) PresignTTL() time.Duration {
	return time.Duration(c.PresignedURLDurationMinutes) * time.Minute
}

// IsConvertibleExtension reports whether ext is routed to the office handler.
func (c *Config) IsConvertibleExtension(ext string) bool {
	for _, e := range c.LibreOffice.ConvertibleExtensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}
