// Package discount caches the current user's discount window and decides
// when a new one has to be created.
package discount

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Wuchinator/monetai-go/internal/remote"
	"github.com/Wuchinator/monetai-go/internal/session"
	"go.uber.org/zap"
)

type Client interface {
	GetLatestDiscount(ctx context.Context, sdkKey, userID string) (*remote.Discount, error)
	CreateDiscount(ctx context.Context, sdkKey, userID string, startedAt, endedAt time.Time) (*remote.Discount, error)
}

type Option func(*Coordinator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// Coordinator owns the discount cache. Concurrent refreshes are last-write-wins.
type Coordinator struct {
	client   Client
	notifier *Notifier
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	scope   *session.Identity
	current *remote.Discount
}

func NewCoordinator(client Client, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Coordinator{
		client:   client,
		notifier: NewNotifier(logger),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) Subscribe(h Handler) (cancel func()) {
	return c.notifier.Subscribe(h)
}

// Now is the coordinator's clock.
func (c *Coordinator) Now() time.Time {
	return c.now()
}

// Current returns the cached discount, or nil.
func (c *Coordinator) Current() *remote.Discount {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Active reports whether the cached discount is still running.
func (c *Coordinator) Active() bool {
	return c.Current().ActiveAt(c.now())
}

// SetScope binds the cache to id. Results of refreshes started for any
// other identity are discarded from now on.
func (c *Coordinator) SetScope(id session.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.scope = &id
	if c.current != nil && c.current.AppUserID != id.UserID {
		c.current = nil
	}
}

// ClearScope drops the cache and the scope and reports whether a discount
// was cached. It does not notify, so callers may hold their own locks;
// follow up with NotifyNone when it returns true.
func (c *Coordinator) ClearScope() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	had := c.current != nil
	c.scope = nil
	c.current = nil
	return had
}

// NotifyNone tells the subscriber the cache is empty.
func (c *Coordinator) NotifyNone() {
	c.notifier.Notify(nil)
}

// Refresh replaces the cache with the backend's latest discount for id and
// notifies subscribers, even when nothing changed. A failed fetch clears the cache.
func (c *Coordinator) Refresh(ctx context.Context, id session.Identity) {
	d, err := c.client.GetLatestDiscount(ctx, id.SDKKey, id.UserID)

	c.mu.Lock()
	if c.scope == nil || *c.scope != id {
		c.mu.Unlock()
		c.logger.Debug("discarding discount refresh for a session that is gone",
			zap.String("user_id", id.UserID),
		)
		return
	}

	switch {
	case err != nil:
		c.current = nil
		c.logger.Warn("discount refresh failed, clearing cache",
			zap.String("user_id", id.UserID),
			zap.Error(err),
		)
	case d != nil && d.AppUserID != id.UserID:
		c.current = nil
		c.logger.Warn("ignoring discount that belongs to another user",
			zap.String("user_id", id.UserID),
			zap.String("discount_user_id", d.AppUserID),
		)
	default:
		c.current = d
		c.logger.Info("discount refreshed",
			zap.String("user_id", id.UserID),
			zap.Bool("has_discount", d != nil),
			zap.Bool("active", d.ActiveAt(c.now())),
		)
	}
	snapshot := c.current
	c.mu.Unlock()

	c.notifier.Notify(snapshot)
}

// Fetch returns the backend's latest discount for id without touching the cache.
// A discount that belongs to another user is reported as none.
func (c *Coordinator) Fetch(ctx context.Context, id session.Identity) (*remote.Discount, error) {
	d, err := c.client.GetLatestDiscount(ctx, id.SDKKey, id.UserID)
	if err != nil {
		return nil, err
	}
	if d != nil && d.AppUserID != id.UserID {
		return nil, nil
	}
	return d, nil
}

// OnPredictionNonPurchaser creates a discount window of exposureTimeSec
// seconds unless one is already active, then refreshes from the backend's
// record. It reports whether a discount was created.
func (c *Coordinator) OnPredictionNonPurchaser(ctx context.Context, id session.Identity, exposureTimeSec int) (bool, error) {
	existing, err := c.Fetch(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to check existing discount: %w", err)
	}

	now := c.now()
	if existing.ActiveAt(now) {
		c.logger.Debug("active discount already exists, skipping creation",
			zap.String("user_id", id.UserID),
			zap.Time("ended_at", existing.EndedAt.Time),
		)
		return false, nil
	}

	startedAt := now
	endedAt := now.Add(time.Duration(exposureTimeSec) * time.Second)

	if _, err := c.client.CreateDiscount(ctx, id.SDKKey, id.UserID, startedAt, endedAt); err != nil {
		return false, fmt.Errorf("failed to create discount: %w", err)
	}

	c.logger.Info("discount created",
		zap.String("user_id", id.UserID),
		zap.Time("started_at", startedAt),
		zap.Time("ended_at", endedAt),
	)

	c.Refresh(ctx, id)
	return true, nil
}
