package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the storage side of the outbox.
type Repository interface {
	// ListPending returns up to limit events due for delivery at now, oldest first.
	ListPending(ctx context.Context, now time.Time, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkFailed records a failed attempt. An exhausted event moves to FAILED
	// and is not returned by ListPending again.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, nextAttemptAt time.Time, exhausted bool) error
}

// Publisher delivers an event to the broker.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
