package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/engagement-tracker/internal/config"
)

// FromConfig builds the notifier chain named by cfg.Notify.Type. Every
// chain logs; sqs and ses additionally deliver remotely.
func FromConfig(ctx context.Context, cfg *config.Config) (Notifier, error) {
	nc := cfg.Notify
	r, err := NewRenderer(nc.Title, nc.Template)
	if err != nil {
		return nil, err
	}
	logN := NewLogNotifier(r)

	switch nc.Type {
	case "", config.NotifyLog:
		return logN, nil
	case config.NotifySQS:
		if nc.QueueURL == "" {
			return nil, errors.New("sqs notifier requires notify.queue_url")
		}
		awsCfg, err := cfg.AWS.Load(ctx)
		if err != nil {
			return nil, err
		}
		return Multi{logN, NewSQSNotifier(sqs.NewFromConfig(awsCfg), nc.QueueURL, r)}, nil
	case config.NotifySES:
		if nc.From == "" || nc.To == "" {
			return nil, errors.New("ses notifier requires notify.from and notify.to")
		}
		awsCfg, err := cfg.AWS.Load(ctx)
		if err != nil {
			return nil, err
		}
		return Multi{logN, NewSESNotifier(sesv2.NewFromConfig(awsCfg), nc.From, nc.To, r)}, nil
	default:
		return nil, fmt.Errorf("unknown notify type %q", nc.Type)
	}
}
