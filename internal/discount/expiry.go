package discount

import (
	"context"
	"time"

	"github.com/Wuchinator/monetai-go/internal/remote"
	"go.uber.org/zap"
)

const DefaultExpiryCheckInterval = time.Second

// ExpiryWatcher polls the cached discount and fires once per window when it ends.
type ExpiryWatcher struct {
	coordinator *Coordinator
	interval    time.Duration
	onExpire    func(d *remote.Discount)
	logger      *zap.Logger

	lastFired *remote.Discount
}

func (c *Coordinator) NewExpiryWatcher(interval time.Duration, onExpire func(d *remote.Discount)) *ExpiryWatcher {
	if interval <= 0 {
		interval = DefaultExpiryCheckInterval
	}
	return &ExpiryWatcher{
		coordinator: c,
		interval:    interval,
		onExpire:    onExpire,
		logger:      c.logger,
	}
}

// Check fires onExpire if the cached discount has ended and has not been
// reported yet. It is not safe to call Check from several goroutines.
func (w *ExpiryWatcher) Check() bool {
	d := w.coordinator.Current()
	if d == nil || d.ActiveAt(w.coordinator.Now()) {
		return false
	}

	if w.lastFired != nil &&
		w.lastFired.AppUserID == d.AppUserID &&
		w.lastFired.EndedAt.Equal(d.EndedAt.Time) {
		return false
	}

	w.lastFired = d
	w.logger.Info("discount expired",
		zap.String("user_id", d.AppUserID),
		zap.Time("ended_at", d.EndedAt.Time),
	)
	if w.onExpire != nil {
		w.onExpire(d)
	}
	return true
}

// Run checks on every tick until ctx is done.
func (w *ExpiryWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Check()
	for {
		select {
		case <-ticker.C:
			w.Check()
		case <-ctx.Done():
			return
		}
	}
}
