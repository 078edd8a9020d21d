package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/routewatch/routewatch/internal/events"
	"github.com/routewatch/routewatch/internal/metrics"
	"github.com/routewatch/routewatch/internal/store"
	"github.com/routewatch/routewatch/internal/worker"
	"github.com/routewatch/routewatch/pkg/geo"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeSubs struct {
	subs []store.Subscription
	err  error
}

func (f *fakeSubs) FetchActiveSubscriptions(context.Context, string) ([]store.Subscription, error) {
	return f.subs, f.err
}

type fakeStops struct {
	stops []geo.Stop
	err   error
}

func (f *fakeStops) FetchOrderedStops(context.Context, string) ([]geo.Stop, error) {
	return f.stops, f.err
}

type fakeNotifier struct {
	sent chan string // riderID per send
	err  error
}

func (f *fakeNotifier) SendPushNotification(_ context.Context, riderID, _, _ string) error {
	f.sent <- riderID
	return f.err
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	topics []string
	events []string
	loads  []any
}

func (r *recordingBroadcaster) Broadcast(topic, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.events = append(r.events, event)
	r.loads = append(r.loads, payload)
}

func (r *recordingBroadcaster) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.topics)
}

func lineStops(n int) []geo.Stop {
	stops := make([]geo.Stop, n)
	for i := range stops {
		stops[i] = geo.Stop{ID: fmt.Sprintf("s%d", i), Name: fmt.Sprintf("Stop %d", i), Lng: float64(i), Index: i}
	}
	return stops
}

type engineFixture struct {
	engine   *Engine
	emit     *recordingBroadcaster
	notifier *fakeNotifier
	cancel   context.CancelFunc
	pool     *worker.Pool
}

func newFixture(t *testing.T, subs *fakeSubs, stops *fakeStops) *engineFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	pool := worker.NewPool(1, 16, nil, newTestLogger())
	pool.Run(ctx)

	emit := &recordingBroadcaster{}
	notifier := &fakeNotifier{sent: make(chan string, 16)}
	engine := NewEngine(subs, stops, notifier, pool, emit,
		Config{LeadStops: 2, MinutesPerStop: 5}, metrics.NewCollector(), newTestLogger())

	t.Cleanup(func() {
		cancel()
		pool.Wait()
	})
	return &engineFixture{engine: engine, emit: emit, notifier: notifier, cancel: cancel, pool: pool}
}

func waitForPush(t *testing.T, f *fakeNotifier) string {
	t.Helper()
	select {
	case riderID := <-f.sent:
		return riderID
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for push notification")
		return ""
	}
}

func TestEvaluateFiresExactlyAtLeadGap(t *testing.T) {
	subs := &fakeSubs{subs: []store.Subscription{{
		ID: "sub1", RiderID: "rider-1", RouteID: "R1", StopID: "s4", StopIndex: 4,
		IsActive: true, NotificationsEnabled: true,
	}}}
	fx := newFixture(t, subs, &fakeStops{stops: lineStops(5)})

	// Stop index sequence 1,2,3,4: the alert fires exactly once, at index 2.
	for _, idx := range []int{1, 2, 3, 4} {
		fx.engine.Evaluate(context.Background(), "R1", "V1", idx)
	}

	if got := fx.emit.count(); got != 1 {
		t.Fatalf("expected exactly 1 alert broadcast, got %d", got)
	}
	if fx.emit.topics[0] != "rider:rider-1" {
		t.Errorf("alert sent to wrong topic %q", fx.emit.topics[0])
	}
	if fx.emit.events[0] != events.ProximityAlertEvent {
		t.Errorf("wrong event name %q", fx.emit.events[0])
	}

	alert, ok := fx.emit.loads[0].(events.ProximityAlert)
	if !ok {
		t.Fatalf("unexpected payload type %T", fx.emit.loads[0])
	}
	if alert.StopID != "s4" || alert.StopIndex != 4 || alert.StopName != "Stop 4" {
		t.Errorf("unexpected alert payload: %+v", alert)
	}
	if alert.EtaMinutes != 10 {
		t.Errorf("expected eta 10 minutes (2 stops x 5 min), got %d", alert.EtaMinutes)
	}

	if riderID := waitForPush(t, fx.notifier); riderID != "rider-1" {
		t.Errorf("push sent to wrong rider %q", riderID)
	}
}

func TestEvaluateSkipsWhenGapJumped(t *testing.T) {
	subs := &fakeSubs{subs: []store.Subscription{{
		ID: "sub1", RiderID: "rider-1", RouteID: "R1", StopID: "s4", StopIndex: 4,
		IsActive: true, NotificationsEnabled: true,
	}}}
	fx := newFixture(t, subs, &fakeStops{stops: lineStops(5)})

	// Index jumps 1 -> 3, skipping the exact trigger gap. Level-triggered
	// equality means no alert fires.
	fx.engine.Evaluate(context.Background(), "R1", "V1", 1)
	fx.engine.Evaluate(context.Background(), "R1", "V1", 3)

	if got := fx.emit.count(); got != 0 {
		t.Errorf("expected no alerts for skipped gap, got %d", got)
	}
}

func TestEvaluateMultipleSubscriptions(t *testing.T) {
	subs := &fakeSubs{subs: []store.Subscription{
		{ID: "a", RiderID: "rider-a", RouteID: "R1", StopID: "s4", StopIndex: 4, IsActive: true, NotificationsEnabled: true},
		{ID: "b", RiderID: "rider-b", RouteID: "R1", StopID: "s4", StopIndex: 4, IsActive: true, NotificationsEnabled: true},
		{ID: "c", RiderID: "rider-c", RouteID: "R1", StopID: "s3", StopIndex: 3, IsActive: true, NotificationsEnabled: true},
	}}
	fx := newFixture(t, subs, &fakeStops{stops: lineStops(5)})

	fx.engine.Evaluate(context.Background(), "R1", "V1", 2)

	// Riders a and b are exactly 2 stops ahead; rider c is only 1.
	if got := fx.emit.count(); got != 2 {
		t.Fatalf("expected 2 alerts, got %d", got)
	}
	waitForPush(t, fx.notifier)
	waitForPush(t, fx.notifier)
}

func TestEvaluateToleratesSubscriptionFetchFailure(t *testing.T) {
	subs := &fakeSubs{err: errors.New("db down")}
	fx := newFixture(t, subs, &fakeStops{stops: lineStops(5)})

	fx.engine.Evaluate(context.Background(), "R1", "V1", 2)

	if got := fx.emit.count(); got != 0 {
		t.Errorf("expected no alerts when subscription fetch fails, got %d", got)
	}
}

func TestEvaluatePushFailureIsSwallowed(t *testing.T) {
	subs := &fakeSubs{subs: []store.Subscription{{
		ID: "sub1", RiderID: "rider-1", RouteID: "R1", StopID: "s4", StopIndex: 4,
		IsActive: true, NotificationsEnabled: true,
	}}}
	fx := newFixture(t, subs, &fakeStops{stops: lineStops(5)})
	fx.notifier.err = errors.New("fcm unreachable")

	fx.engine.Evaluate(context.Background(), "R1", "V1", 2)

	// The broadcast still happens and the failing push never surfaces.
	if got := fx.emit.count(); got != 1 {
		t.Errorf("expected alert broadcast despite push failure, got %d", got)
	}
	waitForPush(t, fx.notifier)
}
