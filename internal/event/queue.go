package event

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Sender delivers one event to the collector.
type Sender func(ctx context.Context, ev QueuedEvent) error

type FlushResult struct {
	Sent    int
	Failed  int
	Dropped int
}

// Queue buffers events in insertion order. It has no upper bound.
type Queue struct {
	mu      sync.Mutex
	pending []QueuedEvent
	logger  *zap.Logger
}

func NewQueue(logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{logger: logger}
}

// Enqueue appends ev to the tail and returns the new depth.
func (q *Queue) Enqueue(ev QueuedEvent) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, ev)
	q.logger.Debug("event queued until initialization completes",
		zap.String("event_id", ev.ID.String()),
		zap.String("event_name", ev.EventName),
		zap.Int("pending", len(q.pending)),
	)
	return len(q.pending)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain swaps out the whole buffer. Later Enqueue calls go to a fresh one.
func (q *Queue) Drain() []QueuedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch := q.pending
	q.pending = nil
	return batch
}

// Clear discards everything pending and reports how many events were lost.
func (q *Queue) Clear() int {
	dropped := len(q.Drain())
	if dropped > 0 {
		q.logger.Warn("discarded pending events", zap.Int("dropped", dropped))
	}
	return dropped
}

// Flush drains the buffer and hands each event to send, one at a time, in
// insertion order. A failed send is logged and the flush moves on.
func (q *Queue) Flush(ctx context.Context, send Sender) FlushResult {
	batch := q.Drain()

	var result FlushResult
	if len(batch) == 0 {
		return result
	}

	q.logger.Info("flushing pending events", zap.Int("count", len(batch)))

	for i, ev := range batch {
		err := send(ctx, ev)
		if err == nil {
			result.Sent++
			q.logger.Debug("pending event sent",
				zap.String("event_id", ev.ID.String()),
				zap.String("event_name", ev.EventName),
				zap.Int("position", i+1),
				zap.Int("total", len(batch)),
			)
			continue
		}

		if errors.Is(err, ErrStopFlush) {
			result.Dropped = len(batch) - i
			q.logger.Warn("flush stopped, dropping the rest of the batch",
				zap.Int("dropped", result.Dropped),
			)
			break
		}

		result.Failed++
		q.logger.Warn("pending event dropped after send failure",
			zap.String("event_id", ev.ID.String()),
			zap.String("event_name", ev.EventName),
			zap.Int("position", i+1),
			zap.Int("total", len(batch)),
			zap.Error(err),
		)
	}

	q.logger.Info("pending events flushed",
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("dropped", result.Dropped),
	)

	return result
}
