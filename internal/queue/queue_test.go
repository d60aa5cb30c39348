package queue

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-arndt/schaufenster/internal/metrics"
	"github.com/p-arndt/schaufenster/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestQueue(capacity *fakeCapacity, sessions *fakeSessions) *Queue {
	return New(capacity, sessions, metrics.New(), Config{
		Tick:      time.Hour, // tests drive step directly
		PrepDelay: time.Millisecond,
	}, testLogger())
}

// recorder collects callback snapshots in order.
type recorder struct {
	mu     sync.Mutex
	events []Entry
}

func (r *recorder) callback(e Entry) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, len(r.events))
	for i, e := range r.events {
		out[i] = e.Status
	}
	return out
}

func TestEnqueue_PositionsAreContiguous(t *testing.T) {
	q := newTestQueue(&fakeCapacity{}, &fakeSessions{})

	e1 := q.Enqueue("https://a.com", "10.0.0.1")
	e2 := q.Enqueue("https://b.com", "10.0.0.2")
	e3 := q.Enqueue("https://c.com", "10.0.0.3")

	assert.Equal(t, 1, e1.Position)
	assert.Equal(t, 2, e2.Position)
	assert.Equal(t, 3, e3.Position)
	assert.Equal(t, 3, q.Length())
}

func TestEnqueue_CoalescesSameIP(t *testing.T) {
	q := newTestQueue(&fakeCapacity{}, &fakeSessions{})

	q.Enqueue("https://first.com", "10.0.0.9")
	e1 := q.Enqueue("https://a.com", "10.0.0.1")
	e2 := q.Enqueue("https://b.com", "10.0.0.1")

	assert.Equal(t, e1.ID, e2.ID, "same queue id")
	assert.Equal(t, e1.Position, e2.Position, "position unchanged")
	assert.Equal(t, "https://b.com", e2.URL, "later url wins")
	assert.Equal(t, 2, q.Length())
}

func TestGet_ReflectsPosition(t *testing.T) {
	q := newTestQueue(&fakeCapacity{}, &fakeSessions{})

	e1 := q.Enqueue("https://a.com", "10.0.0.1")
	e2 := q.Enqueue("https://b.com", "10.0.0.2")

	q.Leave(e1.ID)

	got := q.Get(e2.ID)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.Position, "reindexed after leave")

	assert.Nil(t, q.Get(e1.ID))
	assert.Nil(t, q.Get("unknown"))
}

func TestStep_NoWarmCapacity(t *testing.T) {
	capacity := &fakeCapacity{}
	q := newTestQueue(capacity, &fakeSessions{})

	q.Enqueue("https://a.com", "10.0.0.1")
	q.step(context.Background())

	// entry untouched while nothing is warm
	assert.Equal(t, 1, q.Length())
}

func TestStep_WalksEntryToReady(t *testing.T) {
	capacity := &fakeCapacity{}
	capacity.warm.Store(1)
	sessions := &fakeSessions{
		createFunc: func(url, rawIP string) (*session.Session, error) {
			return &session.Session{ID: "sess-42", Port: 4003, URL: url}, nil
		},
	}
	q := newTestQueue(capacity, sessions)

	e := q.Enqueue("https://a.com", "10.0.0.1")
	rec := &recorder{}
	require.True(t, q.Subscribe(e.ID, rec.callback))

	q.step(context.Background())

	assert.Equal(t, []Status{StatusPreparing, StatusConnecting, StatusReady}, rec.statuses())

	got := q.Get(e.ID)
	require.NotNil(t, got)
	assert.Equal(t, StatusReady, got.Status)
	assert.Equal(t, "sess-42", got.SessionID)
	assert.Equal(t, 4003, got.Port)
	assert.Equal(t, 0, got.Position)
	assert.Equal(t, 0, q.Length())
}

func TestStep_RateLimitedTerminal(t *testing.T) {
	capacity := &fakeCapacity{}
	capacity.warm.Store(1)
	sessions := &fakeSessions{
		checkFunc: func(rawIP string) session.RateLimitStatus {
			return session.RateLimitStatus{Allowed: false}
		},
	}
	q := newTestQueue(capacity, sessions)

	e := q.Enqueue("https://a.com", "10.0.0.1")
	rec := &recorder{}
	require.True(t, q.Subscribe(e.ID, rec.callback))

	q.step(context.Background())

	require.Equal(t, []Status{StatusRateLimited}, rec.statuses())
	assert.NotEmpty(t, rec.events[0].Error)
	assert.Nil(t, q.Get(e.ID), "terminal entry is forgotten")
}

func TestStep_RequeuesOnNoCapacity(t *testing.T) {
	capacity := &fakeCapacity{}
	capacity.warm.Store(1) // warm according to the pool, but acquire races to nil
	sessions := &fakeSessions{
		createFunc: func(url, rawIP string) (*session.Session, error) {
			return nil, session.ErrNoCapacity
		},
	}
	q := newTestQueue(capacity, sessions)

	e1 := q.Enqueue("https://a.com", "10.0.0.1")
	q.Enqueue("https://b.com", "10.0.0.2")

	q.step(context.Background())

	// bounced back to the front
	got := q.Get(e1.ID)
	require.NotNil(t, got)
	assert.Equal(t, StatusWaiting, got.Status)
	assert.Equal(t, 1, got.Position)
	assert.Equal(t, 2, q.Length())
}

func TestStep_HardErrorDropsEntry(t *testing.T) {
	capacity := &fakeCapacity{}
	capacity.warm.Store(1)
	sessions := &fakeSessions{
		createFunc: func(url, rawIP string) (*session.Session, error) {
			return nil, assert.AnError
		},
	}
	q := newTestQueue(capacity, sessions)

	e := q.Enqueue("https://a.com", "10.0.0.1")
	rec := &recorder{}
	require.True(t, q.Subscribe(e.ID, rec.callback))

	q.step(context.Background())

	assert.Nil(t, q.Get(e.ID))
	assert.Equal(t, 0, q.Length())
}

func TestStep_SameIPCanReenqueueAfterPop(t *testing.T) {
	capacity := &fakeCapacity{}
	capacity.warm.Store(1)
	q := newTestQueue(capacity, &fakeSessions{})

	e1 := q.Enqueue("https://a.com", "10.0.0.1")
	q.step(context.Background())
	require.Equal(t, StatusReady, q.Get(e1.ID).Status)

	e2 := q.Enqueue("https://b.com", "10.0.0.1")
	assert.NotEqual(t, e1.ID, e2.ID, "no coalescing once the first entry left waiting")
}

func TestEstimatedWaitSeconds(t *testing.T) {
	capacity := &fakeCapacity{}
	sessions := &fakeSessions{avg: 100}
	q := newTestQueue(capacity, sessions)

	// warm capacity means no wait
	capacity.warm.Store(1)
	q.Enqueue("https://a.com", "10.0.0.1")
	assert.Equal(t, 0, q.EstimatedWaitSeconds())

	capacity.warm.Store(0)
	assert.Equal(t, 100, q.EstimatedWaitSeconds(), "ceil(1/3)=1 round")

	q.Enqueue("https://b.com", "10.0.0.2")
	q.Enqueue("https://c.com", "10.0.0.3")
	q.Enqueue("https://d.com", "10.0.0.4")
	assert.Equal(t, 200, q.EstimatedWaitSeconds(), "ceil(4/3)=2 rounds")
}

func TestDrain(t *testing.T) {
	q := newTestQueue(&fakeCapacity{}, &fakeSessions{})

	e1 := q.Enqueue("https://a.com", "10.0.0.1")
	q.Enqueue("https://b.com", "10.0.0.2")
	rec := &recorder{}
	require.True(t, q.Subscribe(e1.ID, rec.callback))

	count := q.Drain()
	assert.Equal(t, 2, count)
	assert.Equal(t, 0, q.Length())
	assert.Nil(t, q.Get(e1.ID))
	require.Equal(t, []Status{StatusRateLimited}, rec.statuses())

	// registries purged: same IP enqueues fresh
	e3 := q.Enqueue("https://c.com", "10.0.0.1")
	assert.NotEqual(t, e1.ID, e3.ID)
	assert.Equal(t, 1, e3.Position)
}

func TestLeave_UnknownIsNoop(t *testing.T) {
	q := newTestQueue(&fakeCapacity{}, &fakeSessions{})
	q.Leave("unknown")
	assert.Equal(t, 0, q.Length())
}

func TestWaiting_SnapshotOrder(t *testing.T) {
	q := newTestQueue(&fakeCapacity{}, &fakeSessions{})

	q.Enqueue("https://a.com", "10.0.0.1")
	q.Enqueue("https://b.com", "10.0.0.2")

	waiting := q.Waiting()
	require.Len(t, waiting, 2)
	assert.Equal(t, "https://a.com", waiting[0].URL)
	assert.Equal(t, 1, waiting[0].Position)
	assert.Equal(t, 2, waiting[1].Position)
}

func TestRun_SignaledByEnqueue(t *testing.T) {
	capacity := &fakeCapacity{}
	capacity.warm.Store(1)
	q := newTestQueue(capacity, &fakeSessions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	e := q.Enqueue("https://a.com", "10.0.0.1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := q.Get(e.ID); got != nil && got.Status == StatusReady {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("entry never became ready despite enqueue signal")
}
