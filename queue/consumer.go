package queue

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/docyard/docyard/common"
)

// HandlerFunc processes one message body. A nil return acknowledges the
// message (deletes it); a non-nil return leaves it for redelivery.
type HandlerFunc func(ctx context.Context, body string) error

// Consumer long-polls one queue and fans messages out to a bounded pool.
// Acknowledgement is on-success only: a handler error leaves the message on
// the queue until SQS redelivers or dead-letters it.
type Consumer struct {
	api      API
	queueURL string
	name     string
	cfg      common.ConsumerConfig
	handle   HandlerFunc
	sem      *semaphore.Weighted
}

func NewConsumer(api API, queueURL, name string, cfg common.ConsumerConfig, handle HandlerFunc) *Consumer {
	if cfg.MaxConcurrentMessages <= 0 {
		cfg.MaxConcurrentMessages = 1
	}
	if cfg.MaxMessagesPerPoll <= 0 || cfg.MaxMessagesPerPoll > 10 {
		cfg.MaxMessagesPerPoll = 10
	}
	if cfg.PollTimeoutSeconds <= 0 || cfg.PollTimeoutSeconds > 20 {
		cfg.PollTimeoutSeconds = 20
	}
	return &Consumer{
		api:      api,
		queueURL: queueURL,
		name:     name,
		cfg:      cfg,
		handle:   handle,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentMessages)),
	}
}

// Run polls until ctx is cancelled. It returns nil on clean shutdown.
func (c *Consumer) Run(ctx context.Context) error {
	entry := log.WithField("consumer", c.name)
	entry.Info("consumer started")
	for {
		if ctx.Err() != nil {
			entry.Info("consumer stopping")
			return nil
		}
		out, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: int32(c.cfg.MaxMessagesPerPoll),
			WaitTimeSeconds:     int32(c.cfg.PollTimeoutSeconds),
		})
		if err != nil {
			if ctx.Err() != nil {
				entry.Info("consumer stopping")
				return nil
			}
			entry.WithError(err).Warn("receive failed; backing off")
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		for _, msg := range out.Messages {
			if err := c.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			msg := msg
			go func() {
				defer c.sem.Release(1)
				body := aws.ToString(msg.Body)
				if err := c.handle(ctx, body); err != nil {
					// Not deleted: SQS redelivers up to the queue's
					// maxReceiveCount.
					entry.WithError(err).WithField("body", body).Warn("message failed; left for redelivery")
					return
				}
				if _, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
					QueueUrl:      aws.String(c.queueURL),
					ReceiptHandle: msg.ReceiptHandle,
				}); err != nil {
					entry.WithError(err).Warn("delete failed; message may redeliver")
				}
			}()
		}
	}
}
