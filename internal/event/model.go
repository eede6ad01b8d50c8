package event

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// QueuedEvent is an analytics event captured before the session was ready.
// It is never mutated after creation.
type QueuedEvent struct {
	ID        uuid.UUID
	EventName string
	Params    map[string]any
	CreatedAt time.Time
}

// NewQueuedEvent copies params so later changes by the caller do not leak
// into the queued value. A zero createdAt means now.
func NewQueuedEvent(eventName string, params map[string]any, createdAt time.Time) QueuedEvent {
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return QueuedEvent{
		ID:        uuid.New(),
		EventName: eventName,
		Params:    maps.Clone(params),
		CreatedAt: createdAt.UTC(),
	}
}
