// Package queue publishes dropped invocation records to SQS when
// internal/recorder's channel is full, so an external process can
// reconcile what was lost. Grounded on the teacher's
// internal/queue/sqs.go (SendMessage/SendMessageInput shape); the
// teacher's tenant-scoped async request/response queue has no equivalent
// concept here (this gateway does not process calls asynchronously) and
// is replaced outright by this narrower overflow-only queue.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/llmgateway/gateway/internal/domain"
)

// DroppedRecord carries only the fields useful for reconciliation, never
// request/response bodies — the overflow path is best-effort and has no
// redaction story of its own.
type DroppedRecord struct {
	ID           string    `json:"id"`
	ProviderName string    `json:"provider_name"`
	ModelName    string    `json:"model_name"`
	Status       string    `json:"status"`
	DroppedAt    time.Time `json:"dropped_at"`
}

// OverflowQueue is implemented by recorder.OverflowPublisher adapters.
type OverflowQueue interface {
	PublishDropped(ctx context.Context, rec domain.InvocationRecord) error
}

type SQSOverflowQueue struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSOverflowQueue(ctx context.Context, region, queueURL string) (*SQSOverflowQueue, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SQSOverflowQueue{client: sqs.NewFromConfig(cfg), queueURL: queueURL}, nil
}

func NewSQSOverflowQueueWithConfig(cfg aws.Config, queueURL string) *SQSOverflowQueue {
	return &SQSOverflowQueue{client: sqs.NewFromConfig(cfg), queueURL: queueURL}
}

func (q *SQSOverflowQueue) PublishDropped(ctx context.Context, rec domain.InvocationRecord) error {
	dropped := DroppedRecord{
		ID:           rec.ID,
		ProviderName: rec.ProviderName,
		ModelName:    rec.ModelName,
		Status:       string(rec.Status),
		DroppedAt:    time.Now(),
	}
	body, err := json.Marshal(dropped)
	if err != nil {
		return fmt.Errorf("marshal dropped record: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"ProviderName": {
				DataType:    aws.String("String"),
				StringValue: aws.String(rec.ProviderName),
			},
		},
	}

	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// InMemoryOverflowQueue collects dropped records for tests.
type InMemoryOverflowQueue struct {
	mu      sync.Mutex
	dropped []DroppedRecord
}

func NewInMemoryOverflowQueue() *InMemoryOverflowQueue {
	return &InMemoryOverflowQueue{}
}

func (q *InMemoryOverflowQueue) PublishDropped(ctx context.Context, rec domain.InvocationRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dropped = append(q.dropped, DroppedRecord{
		ID: rec.ID, ProviderName: rec.ProviderName, ModelName: rec.ModelName,
		Status: string(rec.Status), DroppedAt: time.Now(),
	})
	return nil
}

func (q *InMemoryOverflowQueue) Dropped() []DroppedRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DroppedRecord, len(q.dropped))
	copy(out, q.dropped)
	return out
}
