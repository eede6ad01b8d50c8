// Package monetai is the client SDK: it initializes a session against the
// Monetai backend, buffers analytics events until the session is ready, runs
// purchase predictions and keeps the user's discount window cached.
//
// An SDK value is safe for concurrent use. Construct one per app user
// session with New; there is no shared instance.
package monetai

import (
	"context"
	"sync"
	"time"

	"github.com/Wuchinator/monetai-go/internal/billing"
	"github.com/Wuchinator/monetai-go/internal/discount"
	"github.com/Wuchinator/monetai-go/internal/event"
	"github.com/Wuchinator/monetai-go/internal/remote"
	"github.com/Wuchinator/monetai-go/internal/session"
	"github.com/Wuchinator/monetai-go/pkg/logger"
	"go.uber.org/zap"
)

type SDK struct {
	remote    remote.Client
	queue     *event.Queue
	outbox    *event.Dispatcher
	discounts *discount.Coordinator
	billing   *billing.Bridge
	logger    *zap.Logger
	now       func() time.Time
	platform  string

	bundleID string
	observer TransactionObserver
	receipts ReceiptSource

	// mu guards session and inflight, and makes the "queue or submit"
	// decision in LogEvent atomic with the switch to Ready.
	mu       sync.Mutex
	session  session.Session
	inflight *attempt
}

// attempt is one running Initialize; concurrent callers with the same
// identity wait on done and share its outcome.
type attempt struct {
	session.Attempt
	done   chan struct{}
	result *InitializeResult
	err    error
}

func New(client Client, opts ...Option) *SDK {
	s := &SDK{
		remote:   client,
		logger:   zap.NewNop(),
		now:      time.Now,
		platform: remote.PlatformIOS,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.queue = event.NewQueue(s.logger)
	s.outbox = event.NewDispatcher(s.logger)
	s.discounts = discount.NewCoordinator(client, s.logger, discount.WithClock(s.now))
	s.billing = billing.NewBridge(client, s.observer, s.receipts, s.bundleID, s.billingIdentity, s.logger)

	return s
}

// Initialize registers the integration and fetches the user's test group.
// Once the session is ready, events logged earlier are delivered in order
// and the discount cache is refreshed. Calling it again on a ready SDK
// returns the current session without touching the network.
func (s *SDK) Initialize(ctx context.Context, sdkKey, userID string) (*InitializeResult, error) {
	id := session.Identity{SDKKey: sdkKey, UserID: userID}
	if err := id.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.session.Initialized() {
		result := s.currentResultLocked()
		s.mu.Unlock()
		if result.UserID != userID {
			s.logger.Warn("initialize called with another user on a ready sdk, keeping current session",
				zap.String("current_user_id", result.UserID),
				zap.String("requested_user_id", userID),
			)
		}
		return result, nil
	}

	if a := s.inflight; a != nil {
		s.mu.Unlock()
		if a.Identity != id {
			return nil, ErrInitializationInProgress
		}
		select {
		case <-a.done:
			return a.result, a.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	att, err := s.session.Begin(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	a := &attempt{Attempt: att, done: make(chan struct{})}
	s.inflight = a
	s.mu.Unlock()

	a.result, a.err = s.run(ctx, att)

	s.mu.Lock()
	if s.inflight == a {
		s.inflight = nil
	}
	s.mu.Unlock()
	close(a.done)

	return a.result, a.err
}

func (s *SDK) run(ctx context.Context, att session.Attempt) (*InitializeResult, error) {
	id := att.Identity
	log := logger.WithUser(s.logger, id.SDKKey, id.UserID)

	s.billing.StartObserving()
	go s.billing.UploadReceipt(context.WithoutCancel(ctx))

	reg, err := s.remote.RegisterIntegration(ctx, id.SDKKey, s.platform, Version)
	if err != nil {
		log.Error("sdk integration registration failed", zap.Error(err))
		s.abandon(att)
		return nil, err
	}

	assignment, err := s.remote.AssignTestGroup(ctx, id.SDKKey, id.UserID, s.platform)
	if err != nil {
		log.Error("test group assignment failed", zap.Error(err))
		s.abandon(att)
		return nil, err
	}

	s.mu.Lock()
	err = s.session.Established(att, reg.OrganizationID, assignment.Group, assignment.Campaign)
	s.mu.Unlock()
	if err != nil {
		log.Info("discarding initialization result, session was reset")
		return nil, ErrSessionReset
	}

	if err := s.drain(ctx, att); err != nil {
		log.Info("initialization superseded while flushing pending events")
		return nil, err
	}

	exposure, _ := s.ExposureTimeSec()
	log.Info("sdk initialized",
		zap.Int("organization_id", reg.OrganizationID),
		zap.Stringer("group", groupOrUnknown(assignment.Group)),
		zap.Int("exposure_time_sec", exposure),
	)

	s.discounts.Refresh(ctx, id)

	return &InitializeResult{
		OrganizationID: reg.OrganizationID,
		Platform:       reg.Platform,
		Version:        reg.Version,
		UserID:         id.UserID,
		Group:          assignment.Group,
	}, nil
}

// drain sends the pending events in one pass, then marks the session ready.
// Events logged during that pass are handed to the outbox in the same
// critical section, so anything logged after Ready is delivered behind
// them. drain returns once those leftovers have been handled.
func (s *SDK) drain(ctx context.Context, att session.Attempt) error {
	send := func(ctx context.Context, ev event.QueuedEvent) error {
		s.mu.Lock()
		owns := s.session.Owns(att)
		s.mu.Unlock()
		if !owns {
			return event.ErrStopFlush
		}
		return s.send(ctx, att.Identity, ev)
	}

	s.queue.Flush(ctx, send)

	s.mu.Lock()
	if !s.session.Owns(att) {
		s.mu.Unlock()
		return ErrSessionReset
	}
	s.session.MarkReady(att)
	s.discounts.SetScope(att.Identity)

	var flushed <-chan struct{}
	if leftovers := s.queue.Drain(); len(leftovers) > 0 {
		s.outbox.SubmitAll(ctx, leftovers, s.sender(att.Identity))
		flushed = s.outbox.Barrier()
	}
	s.mu.Unlock()

	if flushed == nil {
		return nil
	}
	select {
	case <-flushed:
	case <-ctx.Done():
		// the session is ready; the leftovers still go out in the background
	}
	return nil
}

func (s *SDK) abandon(att session.Attempt) {
	s.mu.Lock()
	owned := s.session.Owns(att)
	s.session.Abandon(att)
	s.mu.Unlock()

	if owned {
		s.billing.StopObserving()
	}
}

func (s *SDK) currentResultLocked() *InitializeResult {
	return &InitializeResult{
		OrganizationID: s.session.OrganizationID(),
		Platform:       s.platform,
		Version:        Version,
		UserID:         s.session.Identity().UserID,
		Group:          s.session.Group(),
	}
}

// LogEvent records an analytics event. Before initialization completes the
// event is queued; afterwards it is handed to a single ordered sender and
// dropped if the send fails. It never blocks on the network and never
// returns an error.
func (s *SDK) LogEvent(ctx context.Context, eventName string, params map[string]any) {
	s.LogEventWith(ctx, LogEventOptions{EventName: eventName, Params: params})
}

func (s *SDK) LogEventWith(ctx context.Context, opts LogEventOptions) {
	createdAt := opts.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	ev := event.NewQueuedEvent(opts.EventName, opts.Params, createdAt)

	s.mu.Lock()
	if !s.session.Initialized() {
		s.queue.Enqueue(ev)
		s.mu.Unlock()
		return
	}
	s.outbox.Submit(ctx, ev, s.sender(s.session.Identity()))
	s.mu.Unlock()
}

// Flush waits until every event logged after initialization has been
// handed to the backend. Events still queued before initialization are not
// waited for.
func (s *SDK) Flush(ctx context.Context) error {
	return s.outbox.Wait(ctx)
}

func (s *SDK) sender(id session.Identity) event.Sender {
	return func(ctx context.Context, ev event.QueuedEvent) error {
		return s.send(ctx, id, ev)
	}
}

func (s *SDK) send(ctx context.Context, id session.Identity, ev event.QueuedEvent) error {
	return s.remote.LogEvent(ctx, remote.EventRequest{
		SDKKey:    id.SDKKey,
		UserID:    id.UserID,
		EventName: ev.EventName,
		Params:    ev.Params,
		CreatedAt: ev.CreatedAt,
		Platform:  s.platform,
	})
}

// Predict asks the backend whether the user is likely to purchase. A
// non-purchaser verdict creates a discount window unless one is active.
// Backend errors are returned unchanged and have no side effects.
func (s *SDK) Predict(ctx context.Context) (*PredictResult, error) {
	id, exposure, err := s.readySession()
	if err != nil {
		return nil, err
	}

	resp, err := s.remote.Predict(ctx, id.SDKKey, id.UserID)
	if err != nil {
		s.logger.Warn("prediction failed", zap.String("user_id", id.UserID), zap.Error(err))
		return nil, err
	}

	if resp.Prediction != nil && *resp.Prediction == PredictionNonPurchaser {
		if current, _, err := s.readySession(); err == nil && current == id {
			if _, err := s.discounts.OnPredictionNonPurchaser(ctx, id, exposure); err != nil {
				s.logger.Warn("discount creation failed", zap.String("user_id", id.UserID), zap.Error(err))
			}
		}
	}

	return &PredictResult{Prediction: resp.Prediction, TestGroup: resp.TestGroup}, nil
}

func (s *SDK) readySession() (session.Identity, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.session.Initialized() {
		return session.Identity{}, 0, ErrNotInitialized
	}
	exposure, ok := s.session.ExposureTimeSec()
	if !ok {
		return session.Identity{}, 0, ErrNotInitialized
	}
	return s.session.Identity(), exposure, nil
}

func (s *SDK) readyIdentity() (session.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.session.Initialized() {
		return session.Identity{}, ErrNotInitialized
	}
	return s.session.Identity(), nil
}

// GetCurrentDiscount fetches the user's latest discount from the backend.
// It does not change the cached value.
func (s *SDK) GetCurrentDiscount(ctx context.Context) (*Discount, error) {
	id, err := s.readyIdentity()
	if err != nil {
		return nil, err
	}
	return s.discounts.Fetch(ctx, id)
}

func (s *SDK) HasActiveDiscount(ctx context.Context) (bool, error) {
	d, err := s.GetCurrentDiscount(ctx)
	if err != nil {
		return false, err
	}
	return d.ActiveAt(s.now()), nil
}

// RefreshDiscount reloads the cache and notifies the subscriber.
// Fetch failures leave the cache empty rather than returning an error.
func (s *SDK) RefreshDiscount(ctx context.Context) error {
	id, err := s.readyIdentity()
	if err != nil {
		return err
	}
	s.discounts.Refresh(ctx, id)
	return nil
}

// CurrentDiscount is the cached discount, nil when there is none.
func (s *SDK) CurrentDiscount() *Discount {
	return s.discounts.Current()
}

// Subscribe registers the single discount-change handler, replacing any
// previous one. h runs on the SDK's goroutine and must not block.
func (s *SDK) Subscribe(h func(d *Discount)) (cancel func()) {
	return s.discounts.Subscribe(h)
}

// WatchExpiry calls onExpire once for every cached discount window that
// ends, checking every interval. It blocks until ctx is done.
func (s *SDK) WatchExpiry(ctx context.Context, interval time.Duration, onExpire func(d *Discount)) {
	s.discounts.NewExpiryWatcher(interval, onExpire).Run(ctx)
}

// OnTransactionCompleted is called by the platform's transaction observer.
// Failures are logged only.
func (s *SDK) OnTransactionCompleted(ctx context.Context, transactionID string) {
	s.billing.OnTransactionCompleted(ctx, transactionID)
}

// Reset wipes the session, discards events that were never sent and stops
// the transaction observer. An Initialize still in flight will not apply its result.
func (s *SDK) Reset() {
	s.mu.Lock()
	s.session.Reset()
	s.inflight = nil
	dropped := s.queue.Clear()
	hadDiscount := s.discounts.ClearScope()
	s.mu.Unlock()

	if hadDiscount {
		s.discounts.NotifyNone()
	}
	s.billing.StopObserving()

	s.logger.Info("sdk reset", zap.Int("dropped_events", dropped))
}

func (s *SDK) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Initialized()
}

func (s *SDK) ExposureTimeSec() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.ExposureTimeSec()
}

func (s *SDK) Campaign() *Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Campaign()
}

func (s *SDK) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Identity().UserID
}

func (s *SDK) SDKKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Identity().SDKKey
}

func (s *SDK) billingIdentity() (session.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.session.HasIdentity() {
		return session.Identity{}, false
	}
	return s.session.Identity(), true
}

func groupOrUnknown(g *TestGroup) TestGroup {
	if g == nil {
		return TestGroupUnknown
	}
	return *g
}
