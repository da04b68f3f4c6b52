// Package gx is the client for the GX semantic-indexing HTTP API.
package gx

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/docyard/docyard/common"
)

// Document is one ingest-by-URL request entry.
type Document struct {
	BucketID  string `json:"bucketId"`
	FileName  string `json:"fileName"`
	FileType  string `json:"fileType"`
	SourceURL string `json:"sourceUrl"`
}

type ingestEnvelope struct {
	Ingest struct {
		ID            string `json:"id"`
		ProcessID     string `json:"processId"`
		Progress      int    `json:"progress"`
		Status        string `json:"status"`
		StatusMessage string `json:"statusMessage"`
	} `json:"ingest"`
	Message string `json:"message"`
}

type bucketEnvelope struct {
	Bucket struct {
		BucketID string `json:"bucketId"`
		Name     string `json:"name"`
	} `json:"bucket"`
}

// IngestResult is the parsed outcome of an upload or status call.
type IngestResult struct {
	ProcessID     string
	Status        common.GxStatus
	RawStatus     string
	StatusMessage string
	Message       string
}

// TransientError marks GX failures that should be retried next cycle (5xx,
// timeouts) as opposed to 4xx which settle the row as ERROR.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string { return fmt.Sprintf("gx transient failure: %v", e.Cause) }
func (e *TransientError) Unwrap() error { return e.Cause }

// IsTransient reports whether err should leave the GxMaster untouched for a
// later reconciliation cycle.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Client talks to GX with the static API-key header from config.
type Client struct {
	http *resty.Client
}

func NewClient(cfg *common.Config) *Client {
	c := resty.New().
		SetBaseURL(cfg.Gx.BaseURL).
		SetHeader(cfg.Gx.APIKeyHeader, cfg.Gx.APIKey).
		SetTimeout(time.Duration(cfg.Gx.TimeoutSeconds) * time.Second)
	return &Client{http: c}
}

// CreateBucket registers a bucket with GX and returns its id.
func (c *Client) CreateBucket(ctx context.Context, name string) (string, error) {
	var out bucketEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"name": name}).
		SetResult(&out).
		Post("/bucket")
	if err != nil {
		return "", &TransientError{Cause: err}
	}
	if resp.IsError() {
		return "", classifyStatus(resp.StatusCode(), resp.String())
	}
	if out.Bucket.BucketID == "" {
		return "", errors.New("gx returned no bucketId")
	}
	return out.Bucket.BucketID, nil
}

// UploadBySourceURL asks GX to ingest one document it can fetch from
// sourceURL (a presigned GET on the artifact).
func (c *Client) UploadBySourceURL(ctx context.Context, doc Document) (*IngestResult, error) {
	var out ingestEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"documents": []Document{doc}}).
		SetResult(&out).
		Post("/ingest/upload")
	if err != nil {
		return nil, &TransientError{Cause: err}
	}
	if resp.IsError() {
		return nil, classifyStatus(resp.StatusCode(), resp.String())
	}
	return parseEnvelope(&out), nil
}

// FetchStatus reads the current state of an in-flight ingest process.
func (c *Client) FetchStatus(ctx context.Context, processID string) (*IngestResult, error) {
	var out ingestEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/ingest/status/" + processID)
	if err != nil {
		return nil, &TransientError{Cause: err}
	}
	if resp.IsError() {
		return nil, classifyStatus(resp.StatusCode(), resp.String())
	}
	return parseEnvelope(&out), nil
}

func parseEnvelope(env *ingestEnvelope) *IngestResult {
	res := &IngestResult{
		ProcessID:     env.Ingest.ProcessID,
		RawStatus:     env.Ingest.Status,
		StatusMessage: env.Ingest.StatusMessage,
		Message:       env.Message,
	}
	res.Status, _ = common.ParseGxStatus(env.Ingest.Status)
	return res
}

func classifyStatus(code int, body string) error {
	if code >= 500 {
		return &TransientError{Cause: errors.Errorf("gx returned %d: %s", code, body)}
	}
	return errors.Errorf("gx returned %d: %s", code, body)
}
