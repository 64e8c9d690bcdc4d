// Package notify delivers approval notifications to requesters and reviewers.
package notify

import (
	"context"

	"github.com/rs/zerolog"

	"approvaldesk/internal/approval"
)

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) LogNotifier {
	return LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

func (n LogNotifier) Notify(_ context.Context, note approval.Notification) {
	event := n.log.Info()
	if note.Severity == approval.SeverityWarning || note.Severity == approval.SeverityDanger {
		event = n.log.Warn()
	}
	event.
		Str("title", note.Title).
		Str("severity", string(note.Severity)).
		Str("recipient_id", note.RecipientID).
		Str("request_id", note.RequestID).
		Msg(note.Body)
}

// Multi fans a notification out to every notifier in order.
type Multi []approval.Notifier

func (m Multi) Notify(ctx context.Context, note approval.Notification) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, note)
		}
	}
}
