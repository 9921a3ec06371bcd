package notify

import (
	"context"
	"log"
	"strings"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
)

// LogNotifier writes the notification to the process log. The agent uses
// it where a desktop notification would be shown.
type LogNotifier struct {
	r *Renderer
}

// NewLogNotifier creates a log notifier.
func NewLogNotifier(r *Renderer) *LogNotifier {
	return &LogNotifier{r: r}
}

func (n *LogNotifier) NotifyFirstOpen(_ context.Context, s *domain.TrackingSession) error {
	msg, err := n.r.Render(s)
	if err != nil {
		return err
	}
	log.Printf("[notify] %s %s", msg.Title, msg.Body)
	logger.Info("first open", "id", s.ID, "recipients", strings.Join(s.Recipients, ","))
	return nil
}
