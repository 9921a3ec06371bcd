package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
)

// SESAPI is the subset of *sesv2.Client used for sending.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESNotifier emails the notification to the sender's own address.
type SESNotifier struct {
	client SESAPI
	from   string
	to     string
	r      *Renderer
}

// NewSESNotifier creates an email notifier.
func NewSESNotifier(client SESAPI, from, to string, r *Renderer) *SESNotifier {
	return &SESNotifier{client: client, from: from, to: to, r: r}
}

func (n *SESNotifier) NotifyFirstOpen(ctx context.Context, s *domain.TrackingSession) error {
	msg, err := n.r.Render(s)
	if err != nil {
		return err
	}
	out, err := n.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.from),
		Destination:      &types.Destination{ToAddresses: []string{n.to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Title), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("tracking_id"), Value: aws.String(s.ID)},
		},
	})
	if err != nil {
		return fmt.Errorf("send first-open email for %s: %w", s.ID, err)
	}
	log.Printf("[notify] emailed %s about %s (id: %s)", logger.RedactEmail(n.to), s.ID, aws.ToString(out.MessageId))
	return nil
}
