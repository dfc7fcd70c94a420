package nats

import (
	"context"
	"log/slog"

	"github.com/brojonat/homepass/service/shares"
)

// Notifier adapts a Publisher to the tracker and executor notification hooks.
type Notifier struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewNotifier wraps publisher.
func NewNotifier(publisher Publisher, logger *slog.Logger) *Notifier {
	return &Notifier{publisher: publisher, logger: logger}
}

// SnapshotPublished publishes one event per property. A failing property
// does not stop the others; the first error is returned.
func (n *Notifier) SnapshotPublished(ctx context.Context, snap shares.Snapshot) error {
	var firstErr error
	for _, event := range FromSnapshot(snap) {
		if err := n.publisher.PublishProperty(ctx, event); err != nil {
			n.logger.ErrorContext(ctx, "failed to publish property event",
				"property_id", event.PropertyID,
				"generation", event.Generation,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ActionCompleted publishes the outcome of an action.
func (n *Notifier) ActionCompleted(ctx context.Context, outcome shares.ActionOutcome) error {
	return n.publisher.PublishAction(ctx, FromActionOutcome(outcome))
}
