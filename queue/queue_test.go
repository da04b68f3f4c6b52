package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docyard/docyard/common"
)

// fakeAPI records sends/deletes and serves scripted receive batches.
type fakeAPI struct {
	mu       sync.Mutex
	sent     []*sqs.SendMessageInput
	deleted  []*sqs.DeleteMessageInput
	purged   int
	sendErr  error
	receives []*sqs.ReceiveMessageOutput
	onDelete func()
}

func (f *fakeAPI) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeAPI) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.receives) == 0 {
		// Block like long polling would until the consumer shuts down.
		f.mu.Unlock()
		<-ctx.Done()
		f.mu.Lock()
		return nil, ctx.Err()
	}
	out := f.receives[0]
	f.receives = f.receives[1:]
	return out, nil
}

func (f *fakeAPI) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	f.deleted = append(f.deleted, in)
	hook := f.onDelete
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeAPI) PurgeQueue(_ context.Context, _ *sqs.PurgeQueueInput, _ ...func(*sqs.Options)) (*sqs.PurgeQueueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged++
	return &sqs.PurgeQueueOutput{}, nil
}

func TestSenderSend(t *testing.T) {
	api := &fakeAPI{}
	s := NewSender(api, "file", "https://sqs/file.fifo")

	err := s.Send(context.Background(), "bucket-7", "bucket-7-abc123", FileMessage{FileMasterID: 42})
	require.NoError(t, err)
	require.Len(t, api.sent, 1)

	in := api.sent[0]
	assert.Equal(t, "https://sqs/file.fifo", aws.ToString(in.QueueUrl))
	assert.Equal(t, "bucket-7", aws.ToString(in.MessageGroupId))
	assert.Equal(t, "bucket-7-abc123", aws.ToString(in.MessageDeduplicationId))

	var msg FileMessage
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &msg))
	assert.Equal(t, int64(42), msg.FileMasterID)
}

func TestSenderSendError(t *testing.T) {
	api := &fakeAPI{sendErr: errors.New("throttled")}
	s := NewSender(api, "zip", "https://sqs/zip.fifo")
	err := s.Send(context.Background(), "g", "d", ZipMessage{ZipMasterID: 1})
	assert.Error(t, err)
}

func TestSenderPurge(t *testing.T) {
	api := &fakeAPI{}
	s := NewSender(api, "zip", "https://sqs/zip.fifo")
	require.NoError(t, s.Purge(context.Background()))
	assert.Equal(t, 1, api.purged)
}

func receiveBatch(bodies ...string) *sqs.ReceiveMessageOutput {
	out := &sqs.ReceiveMessageOutput{}
	for i, b := range bodies {
		out.Messages = append(out.Messages, types.Message{
			Body:          aws.String(b),
			ReceiptHandle: aws.String("rh-" + b + "-" + string(rune('a'+i))),
		})
	}
	return out
}

func consumerConfigForTest() common.ConsumerConfig {
	return common.ConsumerConfig{MaxConcurrentMessages: 2, MaxMessagesPerPoll: 2, PollTimeoutSeconds: 1}
}

func TestConsumerDeletesOnSuccess(t *testing.T) {
	api := &fakeAPI{receives: []*sqs.ReceiveMessageOutput{receiveBatch(`{"fileMasterId":1}`)}}

	var handled []string
	var mu sync.Mutex
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Shut down only after the acknowledge went out.
	api.onDelete = cancel

	c := NewConsumer(api, "https://sqs/file.fifo", "file",
		consumerConfigForTest(), func(_ context.Context, body string) error {
			mu.Lock()
			handled = append(handled, body)
			mu.Unlock()
			return nil
		})
	require.NoError(t, c.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{`{"fileMasterId":1}`}, handled)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Len(t, api.deleted, 1)
}

func TestConsumerKeepsFailedMessages(t *testing.T) {
	api := &fakeAPI{receives: []*sqs.ReceiveMessageOutput{receiveBatch(`{"fileMasterId":2}`)}}

	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewConsumer(api, "https://sqs/file.fifo", "file",
		consumerConfigForTest(), func(context.Context, string) error {
			close(done)
			return errors.New("transient failure")
		})

	go func() {
		<-done
		cancel()
	}()
	require.NoError(t, c.Run(ctx))

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Empty(t, api.deleted, "failed messages stay for redelivery")
}
