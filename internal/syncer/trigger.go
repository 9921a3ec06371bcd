package syncer

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/ignite/engagement-tracker/internal/notify"
)

// QueueAPI is the subset of the SQS client the trigger consumer needs.
type QueueAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Triggerer is anything that can be asked for an early sync.
type Triggerer interface {
	Trigger()
}

// QueueTrigger long-polls the first-open queue the aggregator publishes to
// and asks the engine for a sync whenever a first open arrives, so the
// agent learns of opens without waiting for the next interval.
type QueueTrigger struct {
	client     QueueAPI
	queueURL   string
	target     Triggerer
	errBackoff time.Duration
	done       chan struct{}
	stopOnce   sync.Once
}

func NewQueueTrigger(client QueueAPI, queueURL string, target Triggerer) *QueueTrigger {
	return &QueueTrigger{
		client:     client,
		queueURL:   queueURL,
		target:     target,
		errBackoff: 5 * time.Second,
		done:       make(chan struct{}),
	}
}

func (q *QueueTrigger) Start(ctx context.Context) {
	log.Printf("[syncer] queue trigger started (queue=%s)", q.queueURL)
	go q.poll(ctx)
}

func (q *QueueTrigger) Stop() {
	q.stopOnce.Do(func() { close(q.done) })
}

func (q *QueueTrigger) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		default:
		}

		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[syncer] queue receive error: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			case <-time.After(q.errBackoff):
			}
			continue
		}
		q.handle(ctx, out.Messages)
	}
}

// handle deletes every message it sees and triggers at most once per batch.
func (q *QueueTrigger) handle(ctx context.Context, msgs []sqstypes.Message) {
	fire := false
	for _, msg := range msgs {
		var evt notify.FirstOpenEvent
		if msg.Body == nil || json.Unmarshal([]byte(*msg.Body), &evt) != nil {
			log.Printf("[syncer] queue: dropping undecodable message")
		} else if evt.EventType == notify.EventFirstOpen {
			fire = true
		}
		q.deleteMessage(ctx, msg.ReceiptHandle)
	}
	if fire {
		q.target.Trigger()
	}
}

func (q *QueueTrigger) deleteMessage(ctx context.Context, handle *string) {
	if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: handle,
	}); err != nil {
		log.Printf("[syncer] queue delete error: %v", err)
	}
}
