// Package storage wraps the S3-compatible object store behind the handful of
// operations the pipeline needs, and runs the deferred post-commit uploads.
package storage

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/docyard/docyard/common"
)

// Part identifies one completed multipart piece.
type Part struct {
	Number int    `json:"partNumber"`
	ETag   string `json:"etag"`
}

// Service is the thin object-store wrapper. All keys are relative to the
// single configured bucket.
type Service struct {
	client *minio.Client
	core   *minio.Core
	bucket string
	ttl    time.Duration
}

func NewService(cfg *common.Config) (*Service, error) {
	client, err := minio.New(cfg.Storage.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
		Secure: cfg.Storage.UseSSL,
		Region: cfg.Storage.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating object store client")
	}
	return &Service{
		client: client,
		core:   &minio.Core{Client: client},
		bucket: cfg.Storage.Bucket,
		ttl:    cfg.PresignTTL(),
	}, nil
}

// PresignPut returns a presigned PUT URL for key.
func (s *Service) PresignPut(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, s.ttl)
	if err != nil {
		return "", errors.Wrapf(err, "presigning PUT for %s", key)
	}
	return u.String(), nil
}

// PresignGet returns a presigned GET URL for key.
func (s *Service) PresignGet(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.ttl, nil)
	if err != nil {
		return "", errors.Wrapf(err, "presigning GET for %s", key)
	}
	return u.String(), nil
}

// InitiateMultipart starts a multipart upload and returns its id.
func (s *Service) InitiateMultipart(ctx context.Context, key string) (string, error) {
	uploadID, err := s.core.NewMultipartUpload(ctx, s.bucket, key, minio.PutObjectOptions{})
	if err != nil {
		return "", errors.Wrapf(err, "initiating multipart for %s", key)
	}
	return uploadID, nil
}

// PresignPart returns a presigned URL for uploading part n of an in-progress
// multipart upload.
func (s *Service) PresignPart(ctx context.Context, key, uploadID string, n int) (string, error) {
	params := url.Values{}
	params.Set("partNumber", strconv.Itoa(n))
	params.Set("uploadId", uploadID)
	u, err := s.client.Presign(ctx, http.MethodPut, s.bucket, key, s.ttl, params)
	if err != nil {
		return "", errors.Wrapf(err, "presigning part %d for %s", n, key)
	}
	return u.String(), nil
}

// CompleteMultipart finishes a multipart upload from its recorded parts.
func (s *Service) CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) error {
	completed := make([]minio.CompletePart, len(parts))
	for i, p := range parts {
		completed[i] = minio.CompletePart{PartNumber: p.Number, ETag: p.ETag}
	}
	_, err := s.core.CompleteMultipartUpload(ctx, s.bucket, key, uploadID, completed, minio.PutObjectOptions{})
	return errors.Wrapf(err, "completing multipart for %s", key)
}

// GetStream opens key for reading. The caller must Close it.
func (s *Service) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", key)
	}
	// GetObject is lazy; surface missing keys now rather than mid-pipeline.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, errors.Wrapf(err, "stat %s", key)
	}
	return obj, nil
}

// Put streams length bytes from r into key.
func (s *Service) Put(ctx context.Context, key string, r io.Reader, length int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, length, minio.PutObjectOptions{})
	return errors.Wrapf(err, "putting %s", key)
}

// Copy performs a server-side copy from srcKey to dstKey.
func (s *Service) Copy(ctx context.Context, srcKey, dstKey string) error {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: s.bucket, Object: srcKey})
	return errors.Wrapf(err, "copying %s to %s", srcKey, dstKey)
}

// Stat returns the size of key.
func (s *Service) Stat(ctx context.Context, key string) (int64, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, errors.Wrapf(err, "stat %s", key)
	}
	return info.Size, nil
}
