// Package queue wraps the two FIFO work queues (zip and per-file) behind a
// sender and a bounded polling consumer with delete-on-success semantics.
package queue

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/pkg/errors"

	"github.com/docyard/docyard/common"
	"github.com/docyard/docyard/metrics"
)

// ZipMessage is the zip-queue payload.
type ZipMessage struct {
	ZipMasterID int64 `json:"zipMasterId"`
}

// FileMessage is the file-queue payload.
type FileMessage struct {
	FileMasterID int64 `json:"fileMasterId"`
}

// API is the slice of the SQS client the package uses; tests substitute a
// fake.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	PurgeQueue(ctx context.Context, in *sqs.PurgeQueueInput, opts ...func(*sqs.Options)) (*sqs.PurgeQueueOutput, error)
}

// NewAPI builds the real SQS client from config.
func NewAPI(ctx context.Context, cfg *common.Config) (API, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Queue.Region),
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "loading aws config")
	}
	if cfg.Queue.Endpoint != "" {
		return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Queue.Endpoint)
		}), nil
	}
	return sqs.NewFromConfig(awsCfg), nil
}

// Sender publishes JSON payloads onto one FIFO queue. name labels the
// queue in logs and metrics.
type Sender struct {
	api      API
	name     string
	queueURL string
}

func NewSender(api API, name, queueURL string) *Sender {
	return &Sender{api: api, name: name, queueURL: queueURL}
}

// Send publishes body with the FIFO group and dedup ids. The group id
// serialises processing per GX bucket (or per bulk job); the dedup id lets
// the broker drop replays of the same content within a group.
func (s *Sender) Send(ctx context.Context, groupID, dedupID string, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshalling queue message")
	}
	_, err = s.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               aws.String(s.queueURL),
		MessageBody:            aws.String(string(raw)),
		MessageGroupId:         aws.String(groupID),
		MessageDeduplicationId: aws.String(dedupID),
	})
	if err == nil {
		metrics.QueueMessages.WithLabelValues(s.name).Inc()
	}
	return errors.Wrapf(err, "sending to %s", s.queueURL)
}

// Purge drops every message on the queue.
func (s *Sender) Purge(ctx context.Context) error {
	_, err := s.api.PurgeQueue(ctx, &sqs.PurgeQueueInput{QueueUrl: aws.String(s.queueURL)})
	return errors.Wrapf(err, "purging %s", s.queueURL)
}
