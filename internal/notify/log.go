// Package notify delivers decision events to chat-bot senders.
package notify

import (
	"context"
	"log/slog"

	"github.com/Veraticus/payproof/internal/service"
)

// LogNotifier writes events to the log. It is the fallback when no webhook is
// configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs each event.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements service.Notifier.
func (n *LogNotifier) Notify(ctx context.Context, event service.Event) {
	n.logger.InfoContext(ctx, "payment decision",
		"event", event.Type,
		"decision_id", event.DecisionID,
		"submission_id", event.SubmissionID,
		"outcome", event.Outcome,
		"reason", event.Reason,
		"ticket_id", event.TicketID,
		"confidence", event.Confidence)
}

// Multi fans an event out to every notifier.
type Multi []service.Notifier

// Notify implements service.Notifier.
func (m Multi) Notify(ctx context.Context, event service.Event) {
	for _, n := range m {
		n.Notify(ctx, event)
	}
}
