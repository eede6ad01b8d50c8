package discount

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Wuchinator/monetai-go/internal/remote"
	"github.com/Wuchinator/monetai-go/internal/session"
)

type mockClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newMockClock() *mockClock {
	return &mockClock{t: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
}

// fakeClient behaves like the backend: CreateDiscount stores the window and
// GetLatestDiscount returns it.
type fakeClient struct {
	mu       sync.Mutex
	latest   *remote.Discount
	getErr   error
	creates  int
	lastSpan time.Duration
}

func (f *fakeClient) GetLatestDiscount(ctx context.Context, sdkKey, userID string) (*remote.Discount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.latest, nil
}

func (f *fakeClient) CreateDiscount(ctx context.Context, sdkKey, userID string, startedAt, endedAt time.Time) (*remote.Discount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.lastSpan = endedAt.Sub(startedAt)
	f.latest = &remote.Discount{
		StartedAt: remote.Timestamp{Time: startedAt},
		EndedAt:   remote.Timestamp{Time: endedAt},
		AppUserID: userID,
		SDKKey:    sdkKey,
	}
	return f.latest, nil
}

var u1 = session.Identity{SDKKey: "k1", UserID: "u1"}

func window(user string, start time.Time, d time.Duration) *remote.Discount {
	return &remote.Discount{
		StartedAt: remote.Timestamp{Time: start},
		EndedAt:   remote.Timestamp{Time: start.Add(d)},
		AppUserID: user,
		SDKKey:    "k1",
	}
}

func TestNonPurchaserCreatesDiscountOnce(t *testing.T) {
	clock := newMockClock()
	client := &fakeClient{}
	c := NewCoordinator(client, nil, WithClock(clock.Now))
	c.SetScope(u1)

	var notified []*remote.Discount
	c.Subscribe(func(d *remote.Discount) { notified = append(notified, d) })

	created, err := c.OnPredictionNonPurchaser(context.Background(), u1, 3600)
	if err != nil || !created {
		t.Fatalf("first call: created=%v err=%v", created, err)
	}

	clock.Advance(10 * time.Minute)
	created, err = c.OnPredictionNonPurchaser(context.Background(), u1, 3600)
	if err != nil || created {
		t.Fatalf("second call: created=%v err=%v", created, err)
	}

	if client.creates != 1 {
		t.Errorf("CreateDiscount calls = %d, want 1", client.creates)
	}
	if client.lastSpan != 3600*time.Second {
		t.Errorf("window = %v, want 1h", client.lastSpan)
	}
	if len(notified) != 1 || notified[0] == nil || notified[0].AppUserID != "u1" {
		t.Errorf("notifications = %v", notified)
	}
	if c.Current() == nil {
		t.Error("cache should hold the created discount")
	}
}

func TestNonPurchaserReplacesExpiredDiscount(t *testing.T) {
	clock := newMockClock()
	client := &fakeClient{latest: window("u1", clock.Now().Add(-2*time.Hour), time.Hour)}
	c := NewCoordinator(client, nil, WithClock(clock.Now))
	c.SetScope(u1)

	created, err := c.OnPredictionNonPurchaser(context.Background(), u1, 600)
	if err != nil || !created {
		t.Fatalf("created=%v err=%v", created, err)
	}
	if !c.Active() {
		t.Error("new discount should be active")
	}
}

func TestNonPurchaserIgnoresOtherUsersDiscount(t *testing.T) {
	clock := newMockClock()
	client := &fakeClient{latest: window("someone-else", clock.Now(), time.Hour)}
	c := NewCoordinator(client, nil, WithClock(clock.Now))
	c.SetScope(u1)

	created, _ := c.OnPredictionNonPurchaser(context.Background(), u1, 600)
	if !created {
		t.Error("a discount of another user must not count as active")
	}
}

func TestNonPurchaserFetchFailure(t *testing.T) {
	client := &fakeClient{getErr: &remote.NetworkError{Op: "get latest discount", Err: errors.New("timeout")}}
	c := NewCoordinator(client, nil)
	c.SetScope(u1)

	created, err := c.OnPredictionNonPurchaser(context.Background(), u1, 600)
	if err == nil || created {
		t.Fatalf("created=%v err=%v", created, err)
	}
	var netErr *remote.NetworkError
	if !errors.As(err, &netErr) {
		t.Errorf("expected wrapped NetworkError, got %v", err)
	}
	if client.creates != 0 {
		t.Error("no discount may be created when the check fails")
	}
}

func TestRefreshRejectsOtherUser(t *testing.T) {
	clock := newMockClock()
	client := &fakeClient{latest: window("u2", clock.Now(), time.Hour)}
	c := NewCoordinator(client, nil, WithClock(clock.Now))
	c.SetScope(u1)

	calls := 0
	var last *remote.Discount = &remote.Discount{}
	c.Subscribe(func(d *remote.Discount) { calls++; last = d })

	c.Refresh(context.Background(), u1)

	if c.Current() != nil {
		t.Error("foreign discount exposed as current")
	}
	if calls != 1 || last != nil {
		t.Errorf("calls=%d last=%v", calls, last)
	}
}

func TestRefreshFailureClearsCache(t *testing.T) {
	clock := newMockClock()
	client := &fakeClient{latest: window("u1", clock.Now(), time.Hour)}
	c := NewCoordinator(client, nil, WithClock(clock.Now))
	c.SetScope(u1)
	c.Refresh(context.Background(), u1)
	if c.Current() == nil {
		t.Fatal("expected cached discount")
	}

	client.getErr = errors.New("boom")
	notified := false
	c.Subscribe(func(d *remote.Discount) { notified = d == nil })
	c.Refresh(context.Background(), u1)

	if c.Current() != nil || !notified {
		t.Error("failed refresh must clear the cache and notify nil")
	}
}

func TestRefreshNotifiesEvenWhenUnchanged(t *testing.T) {
	clock := newMockClock()
	client := &fakeClient{}
	c := NewCoordinator(client, nil, WithClock(clock.Now))
	c.SetScope(u1)

	calls := 0
	c.Subscribe(func(d *remote.Discount) { calls++ })
	c.Refresh(context.Background(), u1)
	c.Refresh(context.Background(), u1)

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRefreshAfterClearScopeIsDiscarded(t *testing.T) {
	clock := newMockClock()
	client := &fakeClient{latest: window("u1", clock.Now(), time.Hour)}
	c := NewCoordinator(client, nil, WithClock(clock.Now))
	c.SetScope(u1)
	c.ClearScope()

	calls := 0
	c.Subscribe(func(d *remote.Discount) { calls++ })
	c.Refresh(context.Background(), u1)

	if c.Current() != nil || calls != 0 {
		t.Errorf("stale refresh applied: current=%v calls=%d", c.Current(), calls)
	}
}

func TestClearScopeReportsDroppedDiscount(t *testing.T) {
	clock := newMockClock()
	client := &fakeClient{latest: window("u1", clock.Now(), time.Hour)}
	c := NewCoordinator(client, nil, WithClock(clock.Now))
	c.SetScope(u1)
	c.Refresh(context.Background(), u1)

	var got []*remote.Discount
	c.Subscribe(func(d *remote.Discount) { got = append(got, d) })
	if !c.ClearScope() {
		t.Fatal("ClearScope should report the dropped discount")
	}
	if len(got) != 0 {
		t.Fatal("ClearScope must not notify by itself")
	}
	c.NotifyNone()

	if len(got) != 1 || got[0] != nil {
		t.Errorf("notifications = %v", got)
	}
}

func TestActiveBoundary(t *testing.T) {
	clock := newMockClock()
	client := &fakeClient{latest: window("u1", clock.Now(), 3600*time.Second)}
	c := NewCoordinator(client, nil, WithClock(clock.Now))
	c.SetScope(u1)
	c.Refresh(context.Background(), u1)

	clock.Advance(3600*time.Second - time.Nanosecond)
	if !c.Active() {
		t.Error("should be active just before endedAt")
	}
	clock.Advance(time.Nanosecond)
	if c.Active() {
		t.Error("should be inactive at endedAt")
	}
}

func TestSubscribeIsLastWriteWins(t *testing.T) {
	client := &fakeClient{}
	c := NewCoordinator(client, nil)
	c.SetScope(u1)

	first, second := 0, 0
	cancelFirst := c.Subscribe(func(d *remote.Discount) { first++ })
	c.Subscribe(func(d *remote.Discount) { second++ })
	cancelFirst() // must not remove the second handler

	c.Refresh(context.Background(), u1)

	if first != 0 || second != 1 {
		t.Errorf("first=%d second=%d", first, second)
	}
}

func TestPanickingSubscriberDoesNotBreakRefresh(t *testing.T) {
	client := &fakeClient{}
	c := NewCoordinator(client, nil)
	c.SetScope(u1)
	c.Subscribe(func(d *remote.Discount) { panic("ui bug") })

	c.Refresh(context.Background(), u1)
}
