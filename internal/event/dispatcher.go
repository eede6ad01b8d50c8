package event

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// dispatch is one pending delivery, or a barrier when barrier is set.
type dispatch struct {
	ctx     context.Context
	event   QueuedEvent
	send    Sender
	barrier chan struct{}
}

// Dispatcher delivers events one at a time in submission order on a
// background goroutine. The goroutine exits whenever the backlog is empty
// and is restarted by the next Submit.
type Dispatcher struct {
	mu      sync.Mutex
	backlog []dispatch
	running bool
	idle    chan struct{}
	logger  *zap.Logger
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	idle := make(chan struct{})
	close(idle)
	return &Dispatcher{idle: idle, logger: logger}
}

// Submit schedules ev for delivery behind everything submitted earlier.
// ctx keeps its values but not its cancellation. A failed send is logged
// and the event dropped.
func (d *Dispatcher) Submit(ctx context.Context, ev QueuedEvent, send Sender) {
	d.push(dispatch{ctx: context.WithoutCancel(ctx), event: ev, send: send})
}

// SubmitAll schedules a batch in order.
func (d *Dispatcher) SubmitAll(ctx context.Context, events []QueuedEvent, send Sender) {
	for _, ev := range events {
		d.Submit(ctx, ev, send)
	}
}

// Barrier returns a channel closed once everything submitted before it
// has been handled. Later submissions do not delay it.
func (d *Dispatcher) Barrier() <-chan struct{} {
	ch := make(chan struct{})
	d.push(dispatch{barrier: ch})
	return ch
}

// Wait blocks until the backlog is empty or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	idle := d.idle
	d.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.backlog)
}

func (d *Dispatcher) push(item dispatch) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.backlog = append(d.backlog, item)
	if !d.running {
		d.running = true
		d.idle = make(chan struct{})
		go d.run()
	}
}

func (d *Dispatcher) run() {
	for {
		d.mu.Lock()
		if len(d.backlog) == 0 {
			d.running = false
			close(d.idle)
			d.backlog = nil
			d.mu.Unlock()
			return
		}
		item := d.backlog[0]
		d.backlog[0] = dispatch{}
		d.backlog = d.backlog[1:]
		d.mu.Unlock()

		if item.barrier != nil {
			close(item.barrier)
			continue
		}

		if err := item.send(item.ctx, item.event); err != nil {
			d.logger.Warn("event dropped after send failure",
				zap.String("event_id", item.event.ID.String()),
				zap.String("event_name", item.event.EventName),
				zap.Error(err),
			)
			continue
		}
		d.logger.Debug("event sent",
			zap.String("event_id", item.event.ID.String()),
			zap.String("event_name", item.event.EventName),
		)
	}
}
