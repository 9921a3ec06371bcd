package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/engagement-tracker/internal/domain"
)

// EventFirstOpen is the EventType of a FirstOpenEvent.
const EventFirstOpen = "first_open"

// FirstOpenEvent is the queue message published for a first open.
type FirstOpenEvent struct {
	EventType    string `json:"event_type"`
	TrackingID   string `json:"tracking_id"`
	EmailSubject string `json:"email_subject"`
	Title        string `json:"title"`
	Message      string `json:"message"`
	OpenedAt     int64  `json:"opened_at"`
}

// SQSAPI is the subset of *sqs.Client used for publishing.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSNotifier publishes FirstOpenEvents to a queue.
type SQSNotifier struct {
	client   SQSAPI
	queueURL string
	r        *Renderer
	timeout  time.Duration
}

// NewSQSNotifier creates a notifier publishing to queueURL.
func NewSQSNotifier(client SQSAPI, queueURL string, r *Renderer) *SQSNotifier {
	return &SQSNotifier{client: client, queueURL: queueURL, r: r, timeout: 5 * time.Second}
}

func (n *SQSNotifier) NotifyFirstOpen(ctx context.Context, s *domain.TrackingSession) error {
	msg, err := n.r.Render(s)
	if err != nil {
		return err
	}
	evt := FirstOpenEvent{
		EventType:    EventFirstOpen,
		TrackingID:   s.ID,
		EmailSubject: s.EmailSubject,
		Title:        msg.Title,
		Message:      msg.Body,
	}
	if len(s.PixelLoads) > 0 {
		evt.OpenedAt = s.PixelLoads[0].Timestamp
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal first-open event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	_, err = n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("publish first-open %s: %w", s.ID, err)
	}
	return nil
}
